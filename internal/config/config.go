/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package config parses the server's CLI flags into an immutable Server
// config, using spf13/pflag for GNU-style flag parsing.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Config holds the server's settings, immutable for the server's
// lifetime once Parse returns.
type Config struct {
	ServeRoot      string
	BindHost       string
	BindPort       int
	UploadEnabled  bool
	Headless       bool
	MaxUploadBytes int64 // 0 means unbounded
}

// ErrBadArguments wraps a pflag parse failure; cmd/wireshare maps it to
// exit code 2.
type ErrBadArguments struct{ Err error }

func (e *ErrBadArguments) Error() string { return e.Err.Error() }
func (e *ErrBadArguments) Unwrap() error { return e.Err }

// Parse builds a Config from args (excluding argv[0]). Both -h and -m are
// accepted as aliases for the bind address flag, since deployment
// tooling and documentation disagree on which name to use.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("wireshare", pflag.ContinueOnError)

	dir := fs.StringP("dir", "d", ".", "directory to serve")
	port := fs.IntP("port", "p", 80, "port to bind")
	host := fs.StringP("host", "h", "localhost", "address to bind")
	hostAlt := fs.StringP("mhost", "m", "", "alias of -h/--host")
	upload := fs.BoolP("upload", "u", false, "enable upload handling")
	headless := fs.Bool("headless", false, "suppress the TUI; log one line per connection state change")
	maxUpload := fs.Int64("max-upload-bytes", 0, "reject uploads whose Content-Length exceeds this many bytes (0 = unbounded)")

	if err := fs.Parse(args); err != nil {
		return nil, &ErrBadArguments{Err: err}
	}

	bindHost := *host
	if *hostAlt != "" {
		bindHost = *hostAlt
	}
	if *port < 0 || *port > 65535 {
		return nil, &ErrBadArguments{Err: fmt.Errorf("port %d out of range", *port)}
	}

	return &Config{
		ServeRoot:      *dir,
		BindHost:       bindHost,
		BindPort:       *port,
		UploadEnabled:  *upload,
		Headless:       *headless,
		MaxUploadBytes: *maxUpload,
	}, nil
}
