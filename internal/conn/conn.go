/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package conn implements the per-connection state machine driving the
// parser, resolver, response producer and upload sink over one accepted
// socket: one non-recursive Step call per reactor tick, returning an
// Intent instead of calling back into its owner. The Connection never
// references the Reactor.
package conn

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/badu/wireshare/internal/control"
	"github.com/badu/wireshare/internal/httpmsg"
	"github.com/badu/wireshare/internal/registry"
	"github.com/badu/wireshare/internal/resolve"
	"github.com/badu/wireshare/internal/respond"
	"github.com/badu/wireshare/internal/upload"
	"github.com/badu/wireshare/internal/wire"
)

// Intent is what the Reactor must do with this connection next: the
// Connection returns a value instead of calling back into its owner.
type Intent int

const (
	IntentStay Intent = iota
	IntentWantRead
	IntentWantWrite
	IntentClose
)

// bodyChunkSize bounds how much of a file body one stepWritingResponse
// call reads and stages per tick, keeping per-connection work bounded
// so no single connection can stall the reactor loop.
const bodyChunkSize = 32 << 10

// Conn is one accepted connection's full state: its buffers, its parsed
// request, and whichever of {download file, upload sink} it currently
// owns -- never both at once.
type Conn struct {
	id   uint64
	peer string

	read  *wire.Ring
	write *wire.WriteQueue

	reg      *registry.Registry
	resolver *resolve.Resolver
	pause    *control.Queue

	uploadEnabled  bool
	maxUploadBytes int64

	state        registry.ConnState
	startedAt    time.Time
	lastActivity time.Time

	req *httpmsg.Request

	sink      *upload.Sink
	uploadDir string

	plan      *respond.Plan
	bodyFile  readCloser
	bodyBytes []byte // remaining un-staged bytes for BodyBytes/BodyDirListing sources
}

// readCloser narrows *os.File to what the body-streaming path needs,
// letting tests substitute an in-memory reader without touching disk.
type readCloser interface {
	io.Reader
	io.Closer
}

// New wraps a freshly accepted, non-blocking fd into a Conn and registers
// it with reg as StateAccepted.
func New(id uint64, fd int, peer string, reg *registry.Registry, resolver *resolve.Resolver, pause *control.Queue, uploadEnabled bool, maxUploadBytes int64, now time.Time) *Conn {
	reg.Register(id, peer, now)
	return &Conn{
		id:             id,
		peer:           peer,
		read:           wire.NewRing(fd, wire.DefaultCapacity),
		write:          wire.NewWriteQueue(fd, wire.DefaultCapacity),
		reg:            reg,
		resolver:       resolver,
		pause:          pause,
		uploadEnabled:  uploadEnabled,
		maxUploadBytes: maxUploadBytes,
		state:          registry.StateAccepted,
		startedAt:      now,
		lastActivity:   now,
	}
}

func (c *Conn) ID() uint64               { return c.id }
func (c *Conn) Peer() string             { return c.peer }
func (c *Conn) State() registry.ConnState { return c.state }
func (c *Conn) IdleFor(now time.Time) time.Duration { return now.Sub(c.lastActivity) }

// Step advances the connection by at most one bounded unit of work and
// reports what the Reactor should do next. canRead/canWrite reflect the
// socket's readiness this tick; now is the tick's timestamp.
func (c *Conn) Step(now time.Time, canRead, canWrite bool) Intent {
	if canWrite && c.write.Len() > 0 {
		n, err := c.write.DrainToSocket()
		if n > 0 {
			c.lastActivity = now
			c.addBytesWritten(uint64(n))
		}
		if err != nil && !errors.Is(err, wire.ErrWouldBlock) {
			return c.closeNow()
		}
	}

	switch c.state {
	case registry.StateAccepted:
		c.setState(registry.StateReadingRequest)
		return c.stepReadingRequest(now, canRead)
	case registry.StateReadingRequest:
		return c.stepReadingRequest(now, canRead)
	case registry.StateReadingBody:
		return c.stepReadingBody(now, canRead)
	case registry.StateWritingResponse:
		return c.stepWritingResponse(now, canWrite)
	default: // StateClosed
		return IntentClose
	}
}

func (c *Conn) stepReadingRequest(now time.Time, canRead bool) Intent {
	if canRead {
		n, err := c.read.FillFromSocket()
		if n > 0 {
			c.lastActivity = now
			c.addBytesRead(uint64(n))
		}
		if err != nil && !errors.Is(err, wire.ErrWouldBlock) {
			return c.closeNow()
		}
	}

	req, headLen, status, _ := httpmsg.ParseHead(c.read.Bytes())
	switch status {
	case httpmsg.NeedMore:
		if c.read.Full() {
			return c.beginResponse(respond.BadRequest(now), now)
		}
		return IntentWantRead
	case httpmsg.Malformed:
		return c.beginResponse(respond.BadRequest(now), now)
	}

	c.read.Consume(headLen)
	c.req = req

	if c.pause.Paused() {
		return c.beginResponse(respond.Unavailable(now), now)
	}
	return c.dispatch(now)
}

func (c *Conn) dispatch(now time.Time) Intent {
	switch c.req.Method {
	case httpmsg.MethodGET, httpmsg.MethodHEAD:
		return c.dispatchGet(now)
	case httpmsg.MethodPOST:
		return c.dispatchPost(now)
	default:
		return c.beginResponse(respond.NotImplemented(now), now)
	}
}

func (c *Conn) dispatchGet(now time.Time) Intent {
	res := c.resolver.Resolve(c.req.Path)
	head := c.req.Method == httpmsg.MethodHEAD
	switch res.Kind {
	case resolve.KindFile:
		f, err := os.Open(res.AbsPath)
		if err != nil {
			return c.beginResponse(respond.NotFound(now), now)
		}
		var sniffHead [512]byte
		n, _ := f.Read(sniffHead[:])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return c.beginResponse(respond.NotFound(now), now)
		}

		plan := respond.File(res, head, sniffHead[:n], now)
		if head {
			f.Close()
		} else {
			c.bodyFile = f
		}
		return c.beginResponse(plan, now)
	case resolve.KindDir:
		plan := respond.Directory(c.req.Path, res, c.uploadEnabled, head, now)
		return c.beginResponse(plan, now)
	case resolve.KindNotFound:
		return c.beginResponse(respond.NotFound(now), now)
	default: // KindForbidden
		return c.beginResponse(respond.Forbidden(now), now)
	}
}

func (c *Conn) dispatchPost(now time.Time) Intent {
	if !c.uploadEnabled {
		return c.beginResponse(respond.MethodNotAllowed(now), now)
	}

	res := c.resolver.Resolve(c.req.Path)
	if res.Kind == resolve.KindForbidden {
		return c.beginResponse(respond.Forbidden(now), now)
	}
	dir, err := upload.DestinationDir(res.AbsPath, res.Kind == resolve.KindDir)
	if err != nil {
		return c.beginResponse(respond.BadRequest(now), now)
	}

	sink, _, ok := upload.NewSink(dir, c.req.ContentType, c.req.ContentTypeParams, c.req.HasLength, c.req.ContentLength, c.maxUploadBytes)
	if !ok {
		return c.beginResponse(respond.BadRequest(now), now)
	}
	// Body bytes that arrived in the same reads as the head count against
	// the ceiling too.
	if !sink.Track(c.read.Len()) {
		sink.Abort()
		return c.beginResponse(respond.PayloadTooLarge(now), now)
	}
	c.sink = sink

	location := c.req.Path
	if !strings.HasSuffix(location, "/") {
		location += "/"
	}
	c.uploadDir = location

	if c.req.ExpectContinue {
		if !c.write.Enqueue([]byte("HTTP/1.1 100 Continue\r\n\r\n")) {
			return c.closeNow()
		}
	}

	c.setState(registry.StateReadingBody)
	c.reg.Update(c.id, func(s *registry.Snapshot) { s.ExpectedLength = c.req.ContentLength })
	return IntentWantRead
}

func (c *Conn) stepReadingBody(now time.Time, canRead bool) Intent {
	if canRead {
		n, err := c.read.FillFromSocket()
		if n > 0 {
			c.lastActivity = now
			c.addBytesRead(uint64(n))
			if !c.sink.Track(n) {
				c.sink.Abort()
				return c.beginResponse(respond.PayloadTooLarge(now), now)
			}
		}
		if err != nil && !errors.Is(err, wire.ErrWouldBlock) {
			// Premature close: partially written files stay on disk.
			c.sink.Abort()
			return c.closeNow()
		}
	}

	for {
		data := c.read.Bytes()
		if len(data) == 0 {
			return IntentWantRead
		}
		adv, outcome, _ := c.sink.Feed(data)
		if adv > 0 {
			c.read.Consume(adv)
		}
		switch outcome {
		case upload.OutcomeNeedMore:
			if adv == 0 {
				return IntentWantRead
			}
		case upload.OutcomeWroteChunk:
			// loop: keep draining whatever's already buffered
		case upload.OutcomeDone:
			return c.beginResponse(respond.SeeOther(c.uploadDir, now), now)
		case upload.OutcomeBadRequest:
			c.sink.Abort()
			return c.beginResponse(respond.BadRequest(now), now)
		case upload.OutcomeWriteError:
			c.sink.Abort()
			return c.beginResponse(respond.InternalServerError(now), now)
		}
	}
}

// beginResponse stages a plan's headers onto the write queue and moves to
// WritingResponse. The body itself (bytes, directory HTML, or file
// content) is staged incrementally by stepWritingResponse as write-queue
// room frees up, since a large directory listing or in-memory body can
// easily exceed the queue's fixed capacity. The core never keeps a
// connection alive, so every plan here ends in Closed once drained.
func (c *Conn) beginResponse(plan *respond.Plan, now time.Time) Intent {
	var hb bytes.Buffer
	_ = respond.WriteHead(&hb, plan)
	if !c.write.Enqueue(hb.Bytes()) {
		return c.closeNow()
	}

	c.plan = plan
	if !plan.SuppressBody {
		switch plan.Source {
		case respond.BodyBytes:
			c.bodyBytes = plan.Bytes
		case respond.BodyDirListing:
			c.bodyBytes = plan.DirHTML
		case respond.BodyFile:
			// streamed lazily by stepWritingResponse
		}
	}

	c.setState(registry.StateWritingResponse)
	return IntentWantWrite
}

func (c *Conn) stepWritingResponse(now time.Time, canWrite bool) Intent {
	if !c.plan.SuppressBody {
		switch c.plan.Source {
		case respond.BodyFile:
			c.stageFileChunk()
		case respond.BodyBytes, respond.BodyDirListing:
			c.stageBufferedChunk()
		}
	}

	if c.state == registry.StateClosed {
		return IntentClose
	}

	if canWrite && c.write.Len() > 0 {
		n, err := c.write.DrainToSocket()
		if n > 0 {
			c.lastActivity = now
			c.addBytesWritten(uint64(n))
		}
		if err != nil && !errors.Is(err, wire.ErrWouldBlock) {
			return c.closeNow()
		}
	}

	bodyDone := (c.plan.Source != respond.BodyFile || c.bodyFile == nil) && len(c.bodyBytes) == 0
	if c.write.Len() == 0 && bodyDone {
		return c.closeNow()
	}
	return IntentWantWrite
}

// stageFileChunk reads up to one bounded chunk of the open body file into
// the write queue, respecting however much room is currently free.
func (c *Conn) stageFileChunk() {
	if c.bodyFile == nil {
		return
	}
	room := c.write.Room()
	if room <= 0 {
		return
	}
	n := room
	if n > bodyChunkSize {
		n = bodyChunkSize
	}
	buf := make([]byte, n)
	rn, err := c.bodyFile.Read(buf)
	if rn > 0 {
		// rn <= n <= room, so this always fits.
		c.write.Enqueue(buf[:rn])
	}
	if err != nil {
		c.bodyFile.Close()
		c.bodyFile = nil
		if err != io.EOF {
			// Filesystem I/O failure mid-stream: the only honest signal
			// left is truncating the connection.
			c.closeNow()
		}
	}
}

// stageBufferedChunk moves as much of the remaining in-memory body as
// currently fits into the write queue, leaving the rest for the next
// writable tick.
func (c *Conn) stageBufferedChunk() {
	if len(c.bodyBytes) == 0 {
		return
	}
	room := c.write.Room()
	if room <= 0 {
		return
	}
	n := room
	if n > len(c.bodyBytes) {
		n = len(c.bodyBytes)
	}
	if c.write.Enqueue(c.bodyBytes[:n]) {
		c.bodyBytes = c.bodyBytes[n:]
	}
}

// ForceClose implements the operator's "kill all" control intent:
// transition straight to Closed regardless of current state.
func (c *Conn) ForceClose() Intent { return c.closeNow() }

func (c *Conn) closeNow() Intent {
	if c.bodyFile != nil {
		c.bodyFile.Close()
		c.bodyFile = nil
	}
	if c.sink != nil {
		c.sink.Abort()
		c.sink = nil
	}
	c.setState(registry.StateClosed)
	c.reg.Remove(c.id)
	return IntentClose
}

func (c *Conn) setState(s registry.ConnState) {
	c.state = s
	c.reg.Update(c.id, func(snap *registry.Snapshot) { snap.State = s })
}

func (c *Conn) addBytesRead(n uint64) {
	c.reg.Update(c.id, func(s *registry.Snapshot) { s.BytesRead += n })
}

func (c *Conn) addBytesWritten(n uint64) {
	c.reg.Update(c.id, func(s *registry.Snapshot) { s.BytesWritten += n })
}
