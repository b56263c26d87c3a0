/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package wire implements the fixed-capacity byte buffers bound to a
// non-blocking socket file descriptor that every Connection owns: one for
// reading, one for writing. Neither buffer ever blocks; a short read or
// write is reported back to the caller as WouldBlock so the reactor can
// move on to the next ready connection.
package wire

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// DefaultCapacity is the per-direction buffer size used when a Connection
// does not request a different one. 64 KiB comfortably holds a request
// head and lets file chunks move in large strides without growing the
// heap per connection.
const DefaultCapacity = 64 << 10

// ErrWouldBlock is returned by FillFromSocket/DrainToSocket when the
// socket has no more data to offer, or no more room to accept, right now.
// It is not a failure; the caller should wait for the next readiness event.
var ErrWouldBlock = errors.New("wire: would block")

// Ring is a fixed-capacity byte buffer over a non-blocking fd. Despite the
// name it is implemented as a flat slice compacted at the start of each
// FillFromSocket rather than true wraparound indices -- simpler, and the compaction cost is
// bounded by the same capacity that bounds everything else about a
// connection.
type Ring struct {
	fd   int
	buf  []byte
	r, w int // buf[r:w] holds the unread bytes
}

// NewRing allocates a Ring with capacity bytes of backing storage, bound
// to fd. fd must already be in non-blocking mode (see reactor.acceptAll).
func NewRing(fd int, capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{fd: fd, buf: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Ring) Cap() int { return len(b.buf) }

// Len returns the number of unread bytes currently buffered.
func (b *Ring) Len() int { return b.w - b.r }

// Full reports whether the buffer has no room left for FillFromSocket.
// The parser must make progress before this happens again, or the
// connection is failed.
func (b *Ring) Full() bool { return b.w == len(b.buf) && b.r == 0 }

func (b *Ring) compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r = 0
	b.w = n
}

// FillFromSocket reads as many bytes as the socket currently offers, up to
// remaining capacity, looping until EAGAIN. It returns the number of bytes
// newly buffered. err is io.EOF on orderly peer shutdown, ErrWouldBlock if
// nothing at all was ready to read (once some bytes arrived, a socket that
// then goes dry yields n > 0 and a nil error), or another error for a
// genuine I/O fault.
func (b *Ring) FillFromSocket() (int, error) {
	b.compact()
	total := 0
	for b.w < len(b.buf) {
		n, err := unix.Read(b.fd, b.buf[b.w:])
		switch {
		case n > 0:
			b.w += n
			total += n
			continue
		case n == 0 && err == nil:
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			if total > 0 {
				return total, nil
			}
			return 0, ErrWouldBlock
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return total, err
		}
	}
	return total, nil
}

// Peek returns the next n unread bytes without consuming them. ok is false
// if fewer than n bytes are currently buffered.
func (b *Ring) Peek(n int) (p []byte, ok bool) {
	if b.w-b.r < n {
		return nil, false
	}
	return b.buf[b.r : b.r+n], true
}

// Bytes returns all currently unread bytes without consuming them.
func (b *Ring) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// Consume advances the read cursor past n already-peeked bytes.
func (b *Ring) Consume(n int) {
	b.r += n
	if b.r > b.w {
		b.r = b.w
	}
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// WriteQueue is the mirror of Ring for the outbound direction: a bounded
// staging area for bytes waiting to be drained to the socket.
type WriteQueue struct {
	fd   int
	buf  []byte
	r, w int
}

// NewWriteQueue allocates a WriteQueue with capacity bytes of staging room.
func NewWriteQueue(fd int, capacity int) *WriteQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &WriteQueue{fd: fd, buf: make([]byte, capacity)}
}

// Len returns the number of bytes still staged for the socket.
func (q *WriteQueue) Len() int { return q.w - q.r }

// Room returns the number of bytes that can still be Enqueued.
func (q *WriteQueue) Room() int { return len(q.buf) - (q.w - q.r) }

func (q *WriteQueue) compact() {
	if q.r == 0 {
		return
	}
	n := copy(q.buf, q.buf[q.r:q.w])
	q.r = 0
	q.w = n
}

// Enqueue stages p for writing. ok is false if p does not fit in the
// remaining room; the caller (response producer) must chunk its output to
// the WriteQueue's capacity instead of handing it all of a large body at
// once.
func (q *WriteQueue) Enqueue(p []byte) (ok bool) {
	q.compact()
	if len(p) > len(q.buf)-q.w {
		return false
	}
	q.w += copy(q.buf[q.w:], p)
	return true
}

// DrainToSocket writes as many staged bytes as the socket currently
// accepts, looping until EAGAIN. err is ErrWouldBlock if the socket took
// nothing (full staged content remains queued), or a genuine I/O error.
func (q *WriteQueue) DrainToSocket() (int, error) {
	total := 0
	for q.r < q.w {
		n, err := unix.Write(q.fd, q.buf[q.r:q.w])
		switch {
		case n > 0:
			q.r += n
			total += n
			continue
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			if total > 0 {
				return total, nil
			}
			return 0, ErrWouldBlock
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return total, err
		default:
			// Write returned (0, nil); treat as no progress to avoid spinning.
			return total, ErrWouldBlock
		}
	}
	q.r, q.w = 0, 0
	return total, nil
}
