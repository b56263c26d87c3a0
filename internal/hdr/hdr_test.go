package hdr

import "testing"

func TestCanonicalKey(t *testing.T) {
	cases := map[string]string{
		"content-length": "Content-Length",
		"CONTENT-TYPE":   "Content-Type",
		"x-forwarded-for": "X-Forwarded-For",
	}
	for in, want := range cases {
		if got := CanonicalKey(in); got != want {
			t.Errorf("CanonicalKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetJoinsDuplicates(t *testing.T) {
	h := make(Header)
	h.Add("X-Thing", "a")
	h.Add("x-thing", "b")
	if got := h.Get("X-Thing"); got != "a, b" {
		t.Errorf("Get = %q, want %q", got, "a, b")
	}
}

func TestGetSetCookieNotJoined(t *testing.T) {
	h := make(Header)
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	if got := h.Get("Set-Cookie"); got != "a=1" {
		t.Errorf("Get(Set-Cookie) = %q, want first value only", got)
	}
}

func TestValidFieldName(t *testing.T) {
	if !ValidFieldName("Content-Type") {
		t.Error("expected valid")
	}
	if ValidFieldName("") {
		t.Error("empty should be invalid")
	}
	if ValidFieldName("bad header") {
		t.Error("space should be invalid")
	}
}

func TestTrimOWS(t *testing.T) {
	if got := TrimOWS("  \t hi \t"); got != "hi" {
		t.Errorf("TrimOWS = %q", got)
	}
}
