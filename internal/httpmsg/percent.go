/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpmsg

import (
	"errors"
	"strings"
)

var errNulByte = errors.New("path contains NUL byte")

// splitTarget splits a request target on its first '?' into path and
// query, then percent-decodes the path. '+' is left literal -- that
// encoding only applies inside a query string, not a path segment.
func splitTarget(target string) (path, query string, err error) {
	raw := target
	if i := strings.IndexByte(target, '?'); i >= 0 {
		raw, query = target[:i], target[i+1:]
	}
	path, err = percentDecode(raw)
	if err != nil {
		return "", "", err
	}
	if strings.IndexByte(path, 0) >= 0 {
		return "", "", errNulByte
	}
	return path, query, nil
}

// PercentDecode decodes "%HH" escapes in s, leaving '+' untouched. It is
// exported for the upload sink's Content-Disposition filename decoding,
// which reuses the same escaping rules as a path segment.
func PercentDecode(s string) (string, error) { return percentDecode(s) }

func percentDecode(s string) (string, error) {
	if strings.IndexByte(s, '%') < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", errors.New("truncated percent-encoding")
		}
		hi, ok1 := hexVal(s[i+1])
		lo, ok2 := hexVal(s[i+2])
		if !ok1 || !ok2 {
			return "", errors.New("invalid percent-encoding")
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
