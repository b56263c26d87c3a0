/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpmsg

import (
	"bytes"
	"strings"

	"github.com/badu/wireshare/internal/hdr"
)

// MultipartEvent is the outcome of one MultipartScanner.Scan call: need
// more data, preamble to discard, a body byte range to act on, a part's
// header block, the final boundary, or a malformed stream.
type MultipartEvent int

const (
	MPNeedMore MultipartEvent = iota
	MPConsumePreamble
	MPConsumeBody
	MPEnteredHeaders
	MPPartHeaders
	MPFinalBoundary
	MPMalformed
)

type multipartState int

const (
	mpPreamble multipartState = iota
	mpHeaders
	mpBody
	mpDone
)

// PartHeaders is the parsed head of one multipart part: its raw header
// block plus the filename extracted (and percent-decoded) from its
// Content-Disposition.
type PartHeaders struct {
	Header   hdr.Header
	Filename string
}

// MultipartScanner is a feed-driven multipart/form-data boundary scanner.
// It never buffers the whole body: each Scan call reports how many of the
// bytes fronting its argument are now safe to act on (write to disk,
// discard as preamble, or treat as a part's header block) and how many
// must stay buffered because they might still be an in-progress match of
// the boundary delimiter -- a sliding tail window over the trailing bytes.
type MultipartScanner struct {
	short []byte // "--" + boundary
	full  []byte // "\r\n--" + boundary
	state multipartState
}

// NewMultipartScanner builds a scanner for the given boundary parameter
// value (without the leading "--").
func NewMultipartScanner(boundary string) *MultipartScanner {
	short := append([]byte("--"), boundary...)
	full := append([]byte("\r\n"), short...)
	return &MultipartScanner{short: short, full: full, state: mpPreamble}
}

// ScanResult reports what a Scan call found. Advance bytes may always be
// consumed from the caller's buffer regardless of Event (it is 0 when
// nothing could be decided yet).
type ScanResult struct {
	Event     MultipartEvent
	Advance   int
	BodyChunk []byte
	Headers   *PartHeaders
	Reason    string
}

// Scan inspects buf (the connection's currently buffered, not-yet-consumed
// request body bytes) and returns the next decidable event.
func (s *MultipartScanner) Scan(buf []byte) ScanResult {
	switch s.state {
	case mpPreamble:
		return s.scanToBoundary(buf, true)
	case mpBody:
		return s.scanToBoundary(buf, false)
	case mpHeaders:
		return s.scanHeaders(buf)
	default: // mpDone: any further bytes are epilogue, discard as they arrive
		return ScanResult{Event: MPFinalBoundary, Advance: len(buf)}
	}
}

func (s *MultipartScanner) scanToBoundary(buf []byte, preamble bool) ScanResult {
	idx, matchLen := -1, 0
	if preamble && bytes.HasPrefix(buf, s.short) {
		idx, matchLen = 0, len(s.short)
	} else if i := bytes.Index(buf, s.full); i >= 0 {
		idx, matchLen = i, len(s.full)
	}

	if idx < 0 {
		// No boundary visible yet. Everything except a tail long enough to
		// hide a partial match is safe to flush now.
		safe := len(buf) - (len(s.full) - 1)
		if safe <= 0 {
			return ScanResult{Event: MPNeedMore}
		}
		if preamble {
			return ScanResult{Event: MPConsumePreamble, Advance: safe}
		}
		return ScanResult{Event: MPConsumeBody, Advance: safe, BodyChunk: buf[:safe]}
	}

	need := idx + matchLen + 2
	if len(buf) < need {
		if idx == 0 {
			return ScanResult{Event: MPNeedMore}
		}
		if preamble {
			return ScanResult{Event: MPConsumePreamble, Advance: idx}
		}
		return ScanResult{Event: MPConsumeBody, Advance: idx, BodyChunk: buf[:idx]}
	}

	after := buf[idx+matchLen : idx+matchLen+2]
	switch {
	case after[0] == '-' && after[1] == '-':
		s.state = mpDone
		total := idx + matchLen + 2
		return ScanResult{Event: MPFinalBoundary, Advance: total, BodyChunk: buf[:idx]}
	case after[0] == '\r' && after[1] == '\n':
		s.state = mpHeaders
		return ScanResult{Event: MPEnteredHeaders, Advance: idx + matchLen + 2, BodyChunk: buf[:idx]}
	case after[0] == '\n':
		s.state = mpHeaders
		return ScanResult{Event: MPEnteredHeaders, Advance: idx + matchLen + 1, BodyChunk: buf[:idx]}
	default:
		return ScanResult{Event: MPMalformed, Reason: "malformed boundary line"}
	}
}

func (s *MultipartScanner) scanHeaders(buf []byte) ScanResult {
	lines, consumed, complete := splitLines(buf)
	if !complete {
		return ScanResult{Event: MPNeedMore}
	}

	ph := &PartHeaders{Header: make(hdr.Header)}
	for _, line := range lines {
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return ScanResult{Event: MPMalformed, Reason: "part header missing colon"}
		}
		ph.Header.Add(name, hdr.TrimOWS(value))
	}

	if cd := ph.Header.Get("Content-Disposition"); cd != "" {
		if fn, ok := dispositionParam(cd, "filename"); ok {
			decoded, err := PercentDecode(fn)
			if err != nil {
				return ScanResult{Event: MPMalformed, Reason: "bad filename encoding"}
			}
			ph.Filename = decoded
		}
	}

	s.state = mpBody
	return ScanResult{Event: MPPartHeaders, Advance: consumed, Headers: ph}
}

// dispositionParam extracts a quoted-or-bare parameter value from a
// Content-Disposition header, e.g. filename="a b.txt" -> "a b.txt".
func dispositionParam(header, key string) (string, bool) {
	for _, seg := range strings.Split(header, ";") {
		seg = strings.TrimSpace(seg)
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(seg[:eq]), key) {
			continue
		}
		return strings.Trim(strings.TrimSpace(seg[eq+1:]), `"`), true
	}
	return "", false
}
