package httpmsg

import "testing"

const testBoundary = "aaaaaaaaaaaaaaaaaaaa"

func fullBody() []byte {
	return []byte("--" + testBoundary + "\r\n" +
		`Content-Disposition: form-data; filename="dest.img"` + "\r\n\r\n" +
		":)\n\r\n--" + testBoundary + "--\r\n")
}

func TestMultipartScannerHappyPath(t *testing.T) {
	s := NewMultipartScanner(testBoundary)
	buf := fullBody()
	off := 0

	// first boundary: entering headers
	r := s.Scan(buf[off:])
	if r.Event != MPEnteredHeaders {
		t.Fatalf("event = %v, want MPEnteredHeaders", r.Event)
	}
	off += r.Advance

	// part headers
	r = s.Scan(buf[off:])
	if r.Event != MPPartHeaders {
		t.Fatalf("event = %v, want MPPartHeaders", r.Event)
	}
	if r.Headers.Filename != "dest.img" {
		t.Fatalf("filename = %q", r.Headers.Filename)
	}
	off += r.Advance

	// body bytes ":)\n" then final boundary
	var collected []byte
	for {
		r = s.Scan(buf[off:])
		if r.Event == MPConsumeBody {
			collected = append(collected, r.BodyChunk...)
			off += r.Advance
			continue
		}
		break
	}
	if r.Event != MPFinalBoundary {
		t.Fatalf("event = %v, want MPFinalBoundary", r.Event)
	}
	collected = append(collected, r.BodyChunk...)
	if string(collected) != ":)\n" {
		t.Fatalf("collected body = %q, want %q", collected, ":)\n")
	}
}

func TestMultipartScannerCrossChunk(t *testing.T) {
	// Split the final boundary across two feeds to exercise the tail window:
	// the scanner must not misfire on a partial match.
	full := fullBody()
	splitAt := len(full) - 5 // cut mid "--aaaa...--\r\n"

	s := NewMultipartScanner(testBoundary)
	var buffered []byte
	buffered = append(buffered, full[:splitAt]...)

	off := 0
	var sawFinal bool
	for !sawFinal {
		r := s.Scan(buffered[off:])
		switch r.Event {
		case MPNeedMore:
			if len(buffered) < len(full) {
				// simulate next read arriving; the scanner may hold back a
				// tail that could still be the start of the boundary
				buffered = append(buffered, full[splitAt:]...)
				continue
			}
			t.Fatalf("unexpected NeedMore with the whole body buffered")
		case MPFinalBoundary:
			sawFinal = true
			off += r.Advance
		default:
			off += r.Advance
		}
	}
}

func TestMultipartScannerMalformed(t *testing.T) {
	s := NewMultipartScanner(testBoundary)
	r := s.Scan([]byte("--" + testBoundary + "\r\nBadHeaderLine\r\n\r\n"))
	if r.Event != MPEnteredHeaders {
		t.Fatalf("event = %v", r.Event)
	}
	r = s.Scan([]byte("BadHeaderLine\r\n\r\n"))
	if r.Event != MPMalformed {
		t.Fatalf("event = %v, want MPMalformed", r.Event)
	}
}
