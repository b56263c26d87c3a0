/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package mime implements the MIME-type lookup the response producer
// consults for every served file: an extension table plus a small
// content-sniffing fallback for extensionless files, reachable through
// the Lookup interface so a caller can swap in a different table.
package mime

import (
	"path/filepath"
	"strings"
)

// Lookup resolves a content type for name, first by extension, then (if
// unknown) by sniffing the leading bytes of its content. It never returns
// an empty string: the final fallback is application/octet-stream.
type Lookup func(name string, head []byte) string

// ByExtensionAndSniff is the default Lookup implementation.
func ByExtensionAndSniff(name string, head []byte) string {
	if ct, ok := byExtension(filepath.Ext(name)); ok {
		return ct
	}
	if ct, ok := sniff(head); ok {
		return ct
	}
	return "application/octet-stream"
}

var extensionTable = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".bin":  "application/octet-stream",
}

func byExtension(ext string) (string, bool) {
	ct, ok := extensionTable[strings.ToLower(ext)]
	return ct, ok
}

// sniff applies a handful of exact magic-number signatures and a
// plain-text fallback based on a control-byte scan. It is intentionally
// a small subset of the full WHATWG MIME sniffing table -- just enough
// signatures to cover the common cases.
func sniff(head []byte) (string, bool) {
	for _, sig := range exactSignatures {
		if len(head) >= len(sig.prefix) && string(head[:len(sig.prefix)]) == sig.prefix {
			return sig.contentType, true
		}
	}
	if looksLikeText(head) {
		return "text/plain; charset=utf-8", true
	}
	return "", false
}

type exactSignature struct {
	prefix      string
	contentType string
}

var exactSignatures = []exactSignature{
	{"\x89PNG\r\n\x1a\n", "image/png"},
	{"GIF87a", "image/gif"},
	{"GIF89a", "image/gif"},
	{"%PDF-", "application/pdf"},
	{"PK\x03\x04", "application/zip"},
	{"\xff\xd8\xff", "image/jpeg"},
}

// looksLikeText reports whether head contains no bytes that would be
// unusual in plain text (a loose version of the sniff package's text
// signature check: no NUL, no other C0 control codes besides common
// whitespace).
func looksLikeText(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	for _, b := range head {
		if b == 0 {
			return false
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}
