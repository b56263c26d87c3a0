/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package upload drives an httpmsg.MultipartScanner over a POST body and
// writes each part's content to a file under the serve root.
package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/badu/wireshare/internal/httpmsg"
)

// Outcome is what one Feed call decided, consumed by the Connection FSM
// to pick its next intent.
type Outcome int

const (
	OutcomeNeedMore Outcome = iota
	OutcomeWroteChunk
	OutcomeDone
	OutcomeBadRequest // malformed multipart stream or unusable filename
	OutcomeWriteError // filesystem write failed mid-upload
)

// Sink drives one POST body to completion. It is single-use: construct a
// new Sink per upload, attached to one Connection for the lifetime of
// one request.
type Sink struct {
	dir       string
	ceiling   int64 // 0 = unbounded
	received  int64
	scanner   *httpmsg.MultipartScanner
	file      *os.File
	destPath  string
}

// NewSink validates the request's Content-Type and Content-Length,
// returning a nil Sink, a reason and false on any violation instead of
// constructing a Sink.
func NewSink(dir string, contentType string, params map[string]string, hasLength bool, contentLength, ceiling int64) (*Sink, string, bool) {
	if !strings.EqualFold(contentType, "multipart/form-data") {
		return nil, "Content-Type is not multipart/form-data", false
	}
	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		return nil, "missing multipart boundary parameter", false
	}
	if !hasLength {
		return nil, "missing Content-Length", false
	}
	if ceiling > 0 && contentLength > ceiling {
		return nil, "upload exceeds configured size ceiling", false
	}
	return &Sink{
		dir:     dir,
		ceiling: ceiling,
		scanner: httpmsg.NewMultipartScanner(boundary),
	}, "", true
}

// ShouldContinue reports whether a "100 Continue" interim response should
// be emitted before reading the body of a request that NewSink has
// already accepted: that is, whether the client sent Expect: 100-continue.
func ShouldContinue(expectContinue bool) bool { return expectContinue }

// Feed advances the scanner with newly available bytes and returns how
// many bytes were consumed from buf plus the resulting Outcome. Callers
// loop Feed until Advance stops growing within one readiness event, same
// as the parser's incremental contract.
func (s *Sink) Feed(buf []byte) (advance int, outcome Outcome, reason string) {
	res := s.scanner.Scan(buf)
	switch res.Event {
	case httpmsg.MPNeedMore:
		return 0, OutcomeNeedMore, ""

	case httpmsg.MPConsumePreamble:
		return res.Advance, OutcomeNeedMore, ""

	case httpmsg.MPEnteredHeaders:
		// Trailing bytes of the previous part's body, if any.
		if len(res.BodyChunk) > 0 && s.file != nil {
			if _, err := s.file.Write(res.BodyChunk); err != nil {
				return res.Advance, OutcomeWriteError, err.Error()
			}
		}
		s.closeCurrentFile()
		return res.Advance, OutcomeNeedMore, ""

	case httpmsg.MPPartHeaders:
		if err := s.openDestination(res.Headers); err != nil {
			if errors.Is(err, errEmptyFilename) || errors.Is(err, errPathSeparator) {
				return res.Advance, OutcomeBadRequest, err.Error()
			}
			return res.Advance, OutcomeWriteError, err.Error()
		}
		return res.Advance, OutcomeNeedMore, ""

	case httpmsg.MPConsumeBody:
		if s.file != nil && len(res.BodyChunk) > 0 {
			if _, err := s.file.Write(res.BodyChunk); err != nil {
				return res.Advance, OutcomeWriteError, err.Error()
			}
		}
		return res.Advance, OutcomeWroteChunk, ""

	case httpmsg.MPFinalBoundary:
		if len(res.BodyChunk) > 0 && s.file != nil {
			if _, err := s.file.Write(res.BodyChunk); err != nil {
				return res.Advance, OutcomeWriteError, err.Error()
			}
		}
		s.closeCurrentFile()
		return res.Advance, OutcomeDone, ""

	default: // httpmsg.MPMalformed
		s.closeCurrentFile()
		return res.Advance, OutcomeBadRequest, res.Reason
	}
}

// Track records bytes consumed off the wire against the configured
// ceiling, independent of the scanner's own bookkeeping, so a client that
// understates Content-Length but keeps streaming is still cut off.
func (s *Sink) Track(n int) bool {
	s.received += int64(n)
	return s.ceiling <= 0 || s.received <= s.ceiling
}

func (s *Sink) openDestination(ph *httpmsg.PartHeaders) error {
	name, err := sanitizeFilename(ph.Filename)
	if err != nil {
		return err
	}
	s.destPath = filepath.Join(s.dir, name)
	f, err := os.OpenFile(s.destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

func (s *Sink) closeCurrentFile() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// Abort releases any open file handle without completing the upload, for
// the connection-reset / error paths.
func (s *Sink) Abort() { s.closeCurrentFile() }

var (
	errEmptyFilename = errors.New("empty upload filename")
	errPathSeparator = errors.New("upload filename has no usable base name")
)

// sanitizeFilename strips any directory components from a
// Content-Disposition filename and rejects empty or ".."-only results,
// so an upload can never escape dir via its filename.
func sanitizeFilename(raw string) (string, error) {
	if raw == "" {
		return "", errEmptyFilename
	}
	base := filepath.Base(filepath.FromSlash(raw))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", errPathSeparator
	}
	return base, nil
}

// DestinationDir resolves and validates the POST target directory: it
// must already exist as a directory under root.
func DestinationDir(absPath string, isDir bool) (string, error) {
	if !isDir {
		return "", fmt.Errorf("upload target %q is not a directory", absPath)
	}
	return absPath, nil
}
