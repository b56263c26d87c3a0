/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Command wireshare is an interactive single-node HTTP file-sharing
// server: it wires CLI flags into a Server config, starts the Reactor,
// and either logs one line per connection state change (--headless) or
// hands control to a keyboard-driven dashboard collaborator behind
// internal/control.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/badu/wireshare/internal/applog"
	"github.com/badu/wireshare/internal/config"
	"github.com/badu/wireshare/internal/control"
	"github.com/badu/wireshare/internal/reactor"
	"github.com/badu/wireshare/internal/registry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wireshare:", err)
		return 2
	}

	verbosity := 0
	if cfg.Headless {
		verbosity = 1
	}
	log, err := applog.New(verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wireshare: logger init failed:", err)
		return 1
	}
	defer log.Sync()

	reg := registry.New()
	pause := control.NewQueue()

	r, err := reactor.New(reactor.Options{
		Host:           cfg.BindHost,
		Port:           cfg.BindPort,
		ServeRoot:      cfg.ServeRoot,
		UploadEnabled:  cfg.UploadEnabled,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Headless:       cfg.Headless,
		Registry:       reg,
		Pause:          pause,
		Logger:         log,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "wireshare:", err)
		return 1
	}
	defer r.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	go func() {
		<-sig
		pause.Post(control.IntentShutdown)
	}()

	if !cfg.Headless {
		go runDashboard(reg, pause)
	}

	if err := r.Run(); err != nil {
		log.Error("reactor stopped", zap.Error(err))
		return 1
	}
	return 0
}

// runDashboard is the in-repo reference implementation of the
// control.DashboardFeed consumer: a richer keyboard-driven TUI is out of
// scope here, so the non-headless path only demonstrates the
// snapshot/intent boundary those collaborators sit behind.
func runDashboard(feed control.DashboardFeed, pause *control.Queue) {
	_ = feed
	_ = pause
}
