package mime

import "testing"

func TestByExtensionAndSniffExtension(t *testing.T) {
	if got := ByExtensionAndSniff("a.html", nil); got != "text/html; charset=utf-8" {
		t.Fatalf("got %q", got)
	}
}

func TestByExtensionAndSniffFallsBackToSniff(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nrest")
	if got := ByExtensionAndSniff("noext", png); got != "image/png" {
		t.Fatalf("got %q", got)
	}
}

func TestByExtensionAndSniffDefault(t *testing.T) {
	if got := ByExtensionAndSniff("noext", []byte{0, 1, 2, 3}); got != "application/octet-stream" {
		t.Fatalf("got %q", got)
	}
}
