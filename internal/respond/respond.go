/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package respond builds a Response plan (status line, ordered header
// sequence, body source) and serializes its head; the Connection FSM
// streams the body in buffer-sized chunks.
package respond

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/badu/wireshare/internal/hdr"
	"github.com/badu/wireshare/internal/mime"
	"github.com/badu/wireshare/internal/resolve"
)

// BodySource tags what Write streams after the headers: none, inline
// bytes, a file stream, or a directory-listing generator, as a tagged
// struct rather than an interface since only one of the four fields is
// ever live at a time.
type BodySource int

const (
	BodyNone BodySource = iota
	BodyBytes
	BodyFile
	BodyDirListing
)

// Plan is the producer's output: status, headers in emission order, and
// exactly one populated body source. The zero value is not meaningful;
// always build one via the constructors below (File, Directory, SeeOther
// and the error-page builders).
type Plan struct {
	Status     int
	Reason     string
	Header     hdr.Header
	HeaderKeys []string // emission order; Header alone doesn't preserve it
	Source     BodySource
	Bytes      []byte
	FilePath   string
	FileSize   int64
	DirHTML    []byte
	SuppressBody bool // HEAD: headers as GET would produce, no body written
}

const serverToken = "wireshare"

func newPlan(status int, reason string) *Plan {
	return &Plan{
		Status: status,
		Reason: reason,
		Header: hdr.Header{},
	}
}

func (p *Plan) set(key, value string) {
	ck := hdr.CanonicalKey(key)
	if _, exists := p.Header[ck]; !exists {
		p.HeaderKeys = append(p.HeaderKeys, ck)
	}
	p.Header[ck] = []string{value}
}

// finalize stamps the mandatory Server/Date/Connection headers on every
// response. It does not set Content-Length; each constructor sets that
// itself before calling finalize.
func (p *Plan) finalize(now time.Time) {
	if _, ok := p.Header[hdr.Server]; !ok {
		p.set(hdr.Server, serverToken)
	}
	p.set(hdr.Date, now.UTC().Format(http11Date))
	p.set(hdr.Connection, "close")
}

const http11Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// File builds the 200 OK plan for a resolved file. head reports whether
// this is a HEAD request (body suppressed, headers unchanged). sniffHead
// is the file's leading bytes (or nil), consulted only when the
// extension table has no match.
func File(res resolve.Result, head bool, sniffHead []byte, now time.Time) *Plan {
	p := newPlan(200, "OK")
	ct := mime.ByExtensionAndSniff(res.AbsPath, sniffHead)
	p.set(hdr.ContentType, ct)
	p.set(hdr.ContentLength, strconv.FormatInt(res.Size, 10))
	p.set(hdr.LastModified, res.ModTime.UTC().Format(http11Date))
	p.Source = BodyFile
	p.FilePath = res.AbsPath
	p.FileSize = res.Size
	p.SuppressBody = head
	p.finalize(now)
	return p
}

// Directory builds the 200 OK plan for a resolved directory: breadcrumbs,
// an entry table, and (when uploadsEnabled) a multipart upload form.
func Directory(urlPath string, res resolve.Result, uploadsEnabled, head bool, now time.Time) *Plan {
	p := newPlan(200, "OK")
	p.set(hdr.ContentType, "text/html; charset=utf-8")
	html := renderDirListing(urlPath, res.Entries, uploadsEnabled)
	p.set(hdr.ContentLength, strconv.Itoa(len(html)))
	p.Source = BodyDirListing
	p.DirHTML = html
	p.SuppressBody = head
	p.finalize(now)
	return p
}

// MethodNotAllowed builds the 405 plan returned when uploads are
// disabled and a POST arrives.
func MethodNotAllowed(now time.Time) *Plan {
	p := newPlan(405, "Method Not Allowed")
	p.set(hdr.Allow, "GET, HEAD")
	return errorBody(p, now)
}

// NotFound, Forbidden, BadRequest, Unavailable, NotImplemented and
// PayloadTooLarge build the short HTML error pages for the remaining
// branches: 404, 403, 400, 503 (server paused), 501 (unrecognised
// method), 413 (upload exceeded the configured size ceiling).
func NotFound(now time.Time) *Plan      { return errorBody(newPlan(404, "Not Found"), now) }
func Forbidden(now time.Time) *Plan     { return errorBody(newPlan(403, "Forbidden"), now) }
func BadRequest(now time.Time) *Plan    { return errorBody(newPlan(400, "Bad Request"), now) }
func Unavailable(now time.Time) *Plan   { return errorBody(newPlan(503, "Service Unavailable"), now) }
func NotImplemented(now time.Time) *Plan { return errorBody(newPlan(501, "Not Implemented"), now) }
func PayloadTooLarge(now time.Time) *Plan { return errorBody(newPlan(413, "Payload Too Large"), now) }

// InternalServerError builds the 500 plan returned when an upload's file
// write fails before the final boundary arrives.
func InternalServerError(now time.Time) *Plan { return errorBody(newPlan(500, "Internal Server Error"), now) }

func errorBody(p *Plan, now time.Time) *Plan {
	body := []byte(fmt.Sprintf("<!doctype html>\n<title>%d %s</title>\n<h1>%d %s</h1>\n", p.Status, p.Reason, p.Status, p.Reason))
	p.set(hdr.ContentType, "text/html; charset=utf-8")
	p.set(hdr.ContentLength, strconv.Itoa(len(body)))
	p.Source = BodyBytes
	p.Bytes = body
	p.finalize(now)
	return p
}

// SeeOther builds the 303 redirect a successful upload completes with,
// sending the client back to dir.
func SeeOther(location string, now time.Time) *Plan {
	p := newPlan(303, "See Other")
	p.set(hdr.Location, location)
	p.set(hdr.ContentLength, "0")
	p.Source = BodyNone
	p.finalize(now)
	return p
}

// WriteHead serializes the status line and header block into w. Callers
// drain the body separately via Bytes/FilePath/DirHTML depending on
// Source, matching the Connection FSM's "flush headers, then stream body
// chunks" split.
func WriteHead(w io.Writer, p *Plan) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", p.Status, p.Reason); err != nil {
		return err
	}
	for _, k := range p.HeaderKeys {
		for _, v := range p.Header[k] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

func renderDirListing(urlPath string, entries []resolve.Entry, uploadsEnabled bool) []byte {
	var b strings.Builder
	b.WriteString("<!doctype html>\n<meta charset=\"utf-8\">\n<title>Index of ")
	b.WriteString(htmlReplacer.Replace(urlPath))
	b.WriteString("</title>\n<h1>Index of ")
	b.WriteString(breadcrumbs(urlPath))
	b.WriteString("</h1>\n<table>\n<tr><th>Name</th><th>Size</th><th>Modified</th></tr>\n")

	if urlPath != "/" {
		b.WriteString("<tr><td><a href=\"../\">../</a></td><td>-</td><td></td></tr>\n")
	}

	sorted := make([]resolve.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsDir != sorted[j].IsDir {
			return sorted[i].IsDir
		}
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	for _, e := range sorted {
		name := e.Name
		href := (&url{}).escape(name)
		display := htmlReplacer.Replace(name)
		size := "-"
		if e.IsDir {
			href += "/"
			display += "/"
		} else {
			size = strconv.FormatInt(e.Size, 10)
		}
		fmt.Fprintf(&b, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			href, display, size, e.ModTime.UTC().Format(http11Date))
	}
	b.WriteString("</table>\n")

	if uploadsEnabled {
		fmt.Fprintf(&b, "<form method=POST action=\"%s\" enctype=\"multipart/form-data\">\n", htmlReplacer.Replace(urlPath))
		b.WriteString("<input type=file name=fileupload>\n")
		b.WriteString("<input type=submit value=Upload>\n")
		b.WriteString("</form>\n")
	}
	return []byte(b.String())
}

// breadcrumbs renders urlPath as a chain of links back to root, e.g.
// "/a/b/" -> `<a href="/">/</a><a href="/a/">a/</a><a href="/a/b/">b/</a>`.
func breadcrumbs(urlPath string) string {
	if urlPath == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(urlPath, "/"), "/")
	var b strings.Builder
	b.WriteString(`<a href="/">/</a>`)
	cum := ""
	for _, part := range parts {
		cum += part + "/"
		fmt.Fprintf(&b, `<a href="/%s">%s/</a>`, cum, htmlReplacer.Replace(part))
	}
	return b.String()
}

// url is a tiny local helper so renderDirListing doesn't need to import
// net/url just for path escaping of a single path segment.
type url struct{}

func (url) escape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		}
	}
	return b.String()
}
