package httpmsg

import "testing"

func TestParseHeadComplete(t *testing.T) {
	raw := "GET /a%20b?x=1 HTTP/1.1\r\nHost: example.com\r\nX-A: one\r\nX-A: two\r\n\r\n"
	req, n, status, reason := ParseHead([]byte(raw))
	if status != Complete {
		t.Fatalf("status = %v, reason = %q", status, reason)
	}
	if n != len(raw) {
		t.Fatalf("headLen = %d, want %d", n, len(raw))
	}
	if req.Path != "/a b" {
		t.Fatalf("Path = %q", req.Path)
	}
	if req.Query != "x=1" {
		t.Fatalf("Query = %q", req.Query)
	}
	if got := req.Header.Get("X-A"); got != "one, two" {
		t.Fatalf("Header = %q", got)
	}
}

func TestParseHeadNeedMore(t *testing.T) {
	_, _, status, _ := ParseHead([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	if status != NeedMore {
		t.Fatalf("status = %v, want NeedMore", status)
	}
}

func TestParseHeadBareLF(t *testing.T) {
	raw := "GET / HTTP/1.1\nHost: x\n\n"
	_, _, status, reason := ParseHead([]byte(raw))
	if status != Complete {
		t.Fatalf("status = %v reason=%q, want Complete", status, reason)
	}
}

func TestParseHeadMalformedMethod(t *testing.T) {
	raw := "G ET / HTTP/1.1\r\n\r\n"
	_, _, status, _ := ParseHead([]byte(raw))
	if status != Malformed {
		t.Fatalf("status = %v, want Malformed", status)
	}
}

func TestParseHeadMalformedVersion(t *testing.T) {
	raw := "GET / HTTP/x\r\n\r\n"
	_, _, status, _ := ParseHead([]byte(raw))
	if status != Malformed {
		t.Fatalf("status = %v, want Malformed", status)
	}
}

func TestParseHeadHeaderWithoutColon(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nBadHeader\r\n\r\n"
	_, _, status, _ := ParseHead([]byte(raw))
	if status != Malformed {
		t.Fatalf("status = %v, want Malformed", status)
	}
}

func TestSplitTargetRejectsNUL(t *testing.T) {
	_, _, err := splitTarget("/a%00b")
	if err == nil {
		t.Fatal("expected error for NUL byte")
	}
}

func TestSplitTargetPlusNotDecoded(t *testing.T) {
	path, _, err := splitTarget("/a+b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/a+b" {
		t.Fatalf("path = %q, want literal '+'", path)
	}
}

func TestParseContentTypeBoundary(t *testing.T) {
	mt, params := parseContentType(`multipart/form-data; boundary="aaaa"`)
	if mt != "multipart/form-data" {
		t.Fatalf("mediaType = %q", mt)
	}
	if params["boundary"] != "aaaa" {
		t.Fatalf("boundary = %q", params["boundary"])
	}
}
