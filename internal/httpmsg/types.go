/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package httpmsg implements the incremental HTTP/1.1 request-line and
// header parser, the path percent-decoder, and the multipart/form-data
// boundary scanner: the hand-rolled slice of RFC 7230/7231/7578 the
// connection FSM needs to interoperate with wget, curl and mainstream
// browsers without ever blocking on a read.
package httpmsg

import "github.com/badu/wireshare/internal/hdr"

// Method mirrors spec's {GET, HEAD, POST, other} classification; the raw
// token is preserved alongside it in Request.RawMethod.
type Method int

const (
	MethodGET Method = iota
	MethodHEAD
	MethodPOST
	MethodOther
)

func classifyMethod(token string) Method {
	switch token {
	case "GET":
		return MethodGET
	case "HEAD":
		return MethodHEAD
	case "POST":
		return MethodPOST
	default:
		return MethodOther
	}
}

// Request is the parsed head of one HTTP message. It is immutable once
// returned by ParseHead.
type Request struct {
	Method        Method
	RawMethod     string
	RawTarget     string
	Path          string // percent-decoded, '+' left literal
	Query         string
	Major, Minor  int
	Header        hdr.Header
	HasLength     bool
	ContentLength int64
	ContentType   string
	ContentTypeParams map[string]string
	ExpectContinue bool
	WantsClose     bool
}

// ProtoAtLeast reports whether the request's declared version is >= major.minor.
func (r *Request) ProtoAtLeast(major, minor int) bool {
	return r.Major > major || (r.Major == major && r.Minor >= minor)
}
