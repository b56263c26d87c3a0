/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpmsg

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/badu/wireshare/internal/hdr"
)

// Status is the outcome of one ParseHead attempt over the bytes currently
// buffered for a connection.
type Status int

const (
	// NeedMore means the head (request-line + headers) is not yet
	// complete in the supplied buffer; feed it more bytes and retry.
	NeedMore Status = iota
	// Complete means a full head was parsed; HeadLen bytes may be
	// consumed from the buffer and Req is ready to use.
	Complete
	// Malformed means the bytes seen so far can never form a valid
	// head; the connection must answer 400 and close.
	Malformed
)

// ParseHead scans data for a complete request-line + header block
// terminated by a blank line, tolerating bare '\n' in place of "\r\n".
// It never blocks and never retains data: callers own data's backing
// array for the duration of the call only.
func ParseHead(data []byte) (req *Request, headLen int, status Status, reason string) {
	lines, consumed, complete := splitLines(data)
	if !complete {
		return nil, 0, NeedMore, ""
	}

	if len(lines) == 0 {
		return nil, 0, Malformed, "empty request"
	}

	r, reason := parseRequestLine(lines[0])
	if reason != "" {
		return nil, 0, Malformed, reason
	}

	r.Header = make(hdr.Header)
	for _, line := range lines[1:] {
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, 0, Malformed, "header line missing colon"
		}
		if !hdr.ValidFieldName(name) {
			return nil, 0, Malformed, "invalid header field name"
		}
		if !hdr.ValidFieldValue(value) {
			return nil, 0, Malformed, "invalid header field value"
		}
		r.Header.Add(name, hdr.TrimOWS(value))
	}

	if cl := r.Header.Get(hdr.ContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, 0, Malformed, "bad Content-Length"
		}
		r.HasLength = true
		r.ContentLength = n
	}

	ct := r.Header.Get(hdr.ContentType)
	r.ContentType, r.ContentTypeParams = parseContentType(ct)
	r.ExpectContinue = strings.EqualFold(r.Header.Get(hdr.Expect), "100-continue")
	r.WantsClose = shouldClose(r)

	return r, consumed, Complete, ""
}

func shouldClose(r *Request) bool {
	for _, v := range r.Header.Values(hdr.Connection) {
		if strings.EqualFold(hdr.TrimOWS(v), "close") {
			return true
		}
	}
	// The core never keeps a connection alive, but we still record the
	// client's own intent for logging/diagnostics.
	return !r.ProtoAtLeast(1, 1)
}

// splitLines splits data on bare '\n', trimming one optional preceding
// '\r' from each line, stopping at the first empty line. consumed is the
// number of bytes through and including that blank line's terminator.
func splitLines(data []byte) (lines [][]byte, consumed int, complete bool) {
	i := 0
	for {
		nl := bytes.IndexByte(data[i:], '\n')
		if nl < 0 {
			return lines, 0, false
		}
		nl += i
		end := nl
		if end > i && data[end-1] == '\r' {
			end--
		}
		line := data[i:end]
		if len(line) == 0 {
			return lines, nl + 1, true
		}
		lines = append(lines, line)
		i = nl + 1
	}
}

func parseRequestLine(line []byte) (*Request, string) {
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return nil, "malformed request line"
	}
	method, target, proto := parts[0], parts[1], parts[2]
	// The method token follows the same tchar grammar as a header field
	// name (RFC 7230 section 3.2.6 / RFC 7231 section 4).
	if !hdr.ValidFieldName(method) {
		return nil, "invalid method token"
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return nil, "malformed HTTP version"
	}

	path, query, err := splitTarget(target)
	if err != nil {
		return nil, err.Error()
	}

	return &Request{
		Method:    classifyMethod(method),
		RawMethod: method,
		RawTarget: target,
		Path:      path,
		Query:     query,
		Major:     major,
		Minor:     minor,
	}, ""
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	rest := proto[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:dot])
	min, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil || maj < 0 || min < 0 {
		return 0, 0, false
	}
	return maj, min, true
}

func splitHeaderLine(line []byte) (name, value string, ok bool) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", false
	}
	return string(line[:colon]), string(line[colon+1:]), true
}

// parseContentType splits a Content-Type header into its bare media type
// and its ";"-separated parameters (e.g. "boundary", "charset").
func parseContentType(ct string) (mediaType string, params map[string]string) {
	params = make(map[string]string)
	if ct == "" {
		return "", params
	}
	segs := strings.Split(ct, ";")
	mediaType = strings.ToLower(strings.TrimSpace(segs[0]))
	for _, seg := range segs[1:] {
		seg = strings.TrimSpace(seg)
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(seg[:eq]))
		val := strings.TrimSpace(seg[eq+1:])
		val = strings.Trim(val, `"`)
		params[key] = val
	}
	return mediaType, params
}
