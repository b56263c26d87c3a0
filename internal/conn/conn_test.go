package conn

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/badu/wireshare/internal/control"
	"github.com/badu/wireshare/internal/hdr"
	"github.com/badu/wireshare/internal/registry"
	"github.com/badu/wireshare/internal/resolve"
	"github.com/badu/wireshare/internal/respond"
	"github.com/badu/wireshare/internal/wire"
)

func socketPair(t *testing.T) (client, server int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestConn(t *testing.T, root string, uploadEnabled bool) (*Conn, *registry.Registry, int) {
	return newTestConnWithCeiling(t, root, uploadEnabled, 0)
}

func newTestConnWithCeiling(t *testing.T, root string, uploadEnabled bool, maxUploadBytes int64) (*Conn, *registry.Registry, int) {
	client, server := socketPair(t)
	reg := registry.New()
	resolver, err := resolve.New(root)
	require.NoError(t, err)
	c := New(1, server, "127.0.0.1:1234", reg, resolver, control.NewQueue(), uploadEnabled, maxUploadBytes, time.Now())
	return c, reg, client
}

func writeAll(t *testing.T, fd int, p []byte) {
	t.Helper()
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			require.NoError(t, err)
		}
		p = p[n:]
	}
}

func readAll(t *testing.T, fd int, maxIter int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for i := 0; i < maxIter; i++ {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	return out
}

func TestGetZeroByteFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0o644))

	c, _, client := newTestConn(t, root, false)
	writeAll(t, client, []byte("GET /empty.txt HTTP/1.1\r\nHost: x\r\n\r\n"))

	var intent Intent
	for i := 0; i < 10 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}

	resp := readAll(t, client, 10)
	assert.Contains(t, string(resp), "HTTP/1.1 200 OK")
	assert.Contains(t, string(resp), "Content-Length: 0")
}

func TestGetNonexistentIs404(t *testing.T) {
	root := t.TempDir()
	c, _, client := newTestConn(t, root, false)
	writeAll(t, client, []byte("GET /nonexistent HTTP/1.1\r\nHost: x\r\n\r\n"))

	var intent Intent
	for i := 0; i < 10 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}

	resp := string(readAll(t, client, 10))
	assert.Contains(t, resp, "HTTP/1.1 404 Not Found")
	assert.Contains(t, resp, "text/html")
}

func TestGetEscapingRootIsRejected(t *testing.T) {
	root := t.TempDir()
	c, _, client := newTestConn(t, root, false)
	writeAll(t, client, []byte("GET /../etc/passwd HTTP/1.1\r\nHost: x\r\n\r\n"))

	var intent Intent
	for i := 0; i < 10 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}

	resp := string(readAll(t, client, 10))
	ok := false
	for _, code := range []string{"HTTP/1.1 400", "HTTP/1.1 403"} {
		if len(resp) >= len(code) && resp[:len(code)] == code {
			ok = true
		}
	}
	assert.True(t, ok, "resp = %q", resp)
	assert.NotContains(t, resp, "root:")
}

func TestPostWhenUploadsDisabledIs405(t *testing.T) {
	root := t.TempDir()
	c, _, client := newTestConn(t, root, false)
	writeAll(t, client, []byte("POST /x HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"))

	var intent Intent
	for i := 0; i < 10 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}

	resp := string(readAll(t, client, 10))
	assert.Contains(t, resp, "HTTP/1.1 405 Method Not Allowed")
	assert.Contains(t, resp, "Allow: GET, HEAD")
}

func TestPausedServerReturns503AfterHeadComplete(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))

	client, server := socketPair(t)
	reg := registry.New()
	resolver, err := resolve.New(root)
	require.NoError(t, err)
	q := control.NewQueue()
	q.Post(control.IntentPause)
	q.Drain()
	c := New(1, server, "peer", reg, resolver, q, false, 0, time.Now())

	writeAll(t, client, []byte("GET /a.txt HTTP/1.1\r\nHost: x\r\n\r\n"))

	var intent Intent
	for i := 0; i < 10 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}

	resp := string(readAll(t, client, 10))
	assert.Contains(t, resp, "HTTP/1.1 503 Service Unavailable")
}

// A client that understates Content-Length but keeps streaming past the
// configured ceiling must still be cut off, not just one whose declared
// Content-Length alone exceeds it.
func TestPostStreamingPastCeilingIsCutOffRegardlessOfDeclaredLength(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "up"), 0o755))

	const boundary = "bbbbbbbbbbbbbbbb"
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = 'x'
	}
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"f.txt\"\r\n" +
		"Content-Type: application/octet-stream\r\n\r\n" +
		string(payload) +
		"\r\n--" + boundary + "--\r\n"

	// Declared Content-Length (5) passes the upfront ceiling check, but the
	// actual body streamed is far larger than the ceiling (20 bytes).
	req := "POST /up/ HTTP/1.1\r\nHost: x\r\n" +
		"Content-Type: multipart/form-data; boundary=" + boundary + "\r\n" +
		"Content-Length: 5\r\n\r\n" + body

	c, _, client := newTestConnWithCeiling(t, root, true, 20)
	writeAll(t, client, []byte(req))

	var intent Intent
	for i := 0; i < 20 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}

	resp := string(readAll(t, client, 20))
	assert.Contains(t, resp, "HTTP/1.1 413 Payload Too Large")
}

// A BodyBytes plan larger than the write queue's capacity must be staged
// across several writable ticks instead of being silently dropped by one
// failed Enqueue call.
func TestLargeBodyBytesPlanStreamsAcrossMultipleTicks(t *testing.T) {
	client, server := socketPair(t)
	reg := registry.New()
	resolver, err := resolve.New(t.TempDir())
	require.NoError(t, err)

	c := New(1, server, "peer", reg, resolver, control.NewQueue(), false, 0, time.Now())
	c.write = wire.NewWriteQueue(server, 64) // far smaller than the body below

	body := bytes.Repeat([]byte("A"), 500)
	plan := &respond.Plan{
		Status: 200,
		Reason: "OK",
		Header: hdr.Header{},
		Source: respond.BodyBytes,
		Bytes:  body,
	}

	intent := c.beginResponse(plan, time.Now())
	require.Equal(t, IntentWantWrite, intent)

	for i := 0; i < 50 && intent != IntentClose; i++ {
		intent = c.Step(time.Now(), true, true)
	}
	assert.Equal(t, IntentClose, intent)

	resp := readAll(t, client, 50)
	assert.Contains(t, string(resp), "HTTP/1.1 200 OK")
	assert.True(t, bytes.HasSuffix(resp, body), "response should end with the full body")
}
