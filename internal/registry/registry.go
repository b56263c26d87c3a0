/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package registry implements the shared, observable list of live
// connections the dashboard reads from. The Reactor owns every
// Connection by value; Registry holds only copied scalar snapshots plus
// an id, so the cross-thread surface to the (optional) dashboard
// goroutine stays trivial -- a single mutex guarding a map.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConnState mirrors the Connection FSM states a snapshot can report.
type ConnState int

const (
	StateAccepted ConnState = iota
	StateReadingRequest
	StateReadingBody
	StateWritingResponse
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateReadingRequest:
		return "reading-request"
	case StateReadingBody:
		return "reading-body"
	case StateWritingResponse:
		return "writing-response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable, copyable view of one connection's observable
// counters: peer, state, bytes read, bytes written, expected length,
// started-at.
type Snapshot struct {
	ID             uint64
	Peer           string
	State          ConnState
	BytesRead      uint64
	BytesWritten   uint64
	ExpectedLength int64 // -1 if unknown
	StartedAt      time.Time
}

// Registry is the dashboard-facing connection table.
type Registry struct {
	mu   sync.Mutex
	live map[uint64]Snapshot

	promReg        *prometheus.Registry
	activeGauge    prometheus.Gauge
	acceptedTotal  prometheus.Counter
	bytesReadCtr   prometheus.Counter
	bytesWriteCtr  prometheus.Counter
}

// New builds an empty Registry with its own private Prometheus registry
// (not the global DefaultRegisterer) so multiple Registries -- e.g. one
// per test -- never collide on metric name registration.
func New() *Registry {
	promReg := prometheus.NewRegistry()
	r := &Registry{
		live:    make(map[uint64]Snapshot),
		promReg: promReg,
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wireshare_active_connections",
			Help: "Number of connections currently tracked by the registry.",
		}),
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wireshare_connections_accepted_total",
			Help: "Total connections ever registered.",
		}),
		bytesReadCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wireshare_bytes_read_total",
			Help: "Total bytes read from clients across all connections.",
		}),
		bytesWriteCtr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wireshare_bytes_written_total",
			Help: "Total bytes written to clients across all connections.",
		}),
	}
	promReg.MustRegister(r.activeGauge, r.acceptedTotal, r.bytesReadCtr, r.bytesWriteCtr)
	return r
}

// Metrics returns the private Prometheus registry backing this Registry's
// counters, for a caller that wants to expose them (e.g. a future
// /metrics endpoint); wireshare itself never serves one.
func (r *Registry) Metrics() *prometheus.Registry { return r.promReg }

// Register adds a newly accepted connection to the table.
func (r *Registry) Register(id uint64, peer string, startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[id] = Snapshot{
		ID:             id,
		Peer:           peer,
		State:          StateAccepted,
		ExpectedLength: -1,
		StartedAt:      startedAt,
	}
	r.activeGauge.Inc()
	r.acceptedTotal.Inc()
}

// Update applies mutate to the connection's snapshot, if still present.
// Called by the Connection FSM after each work slice.
func (r *Registry) Update(id uint64, mutate func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.live[id]
	if !ok {
		return
	}
	before := snap.BytesRead
	beforeW := snap.BytesWritten
	mutate(&snap)
	if snap.BytesRead > before {
		r.bytesReadCtr.Add(float64(snap.BytesRead - before))
	}
	if snap.BytesWritten > beforeW {
		r.bytesWriteCtr.Add(float64(snap.BytesWritten - beforeW))
	}
	r.live[id] = snap
}

// Remove drops a connection from the table once its FSM reaches Closed.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; !ok {
		return
	}
	delete(r.live, id)
	r.activeGauge.Dec()
}

// Snapshot returns one connection's current snapshot.
func (r *Registry) Snapshot(id uint64) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	return s, ok
}

// Snapshots returns every live connection's snapshot, sorted by id so the
// dashboard's rendering is stable between ticks.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.live))
	for _, s := range r.live {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports how many connections the registry is currently tracking --
// always a subset of the Reactor's own owned connections, since each
// Connection calls Register when it is created and Remove when it
// reaches Closed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
