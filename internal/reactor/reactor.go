/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package reactor implements a single-threaded, non-blocking readiness
// loop: one epoll_wait-driven accept/step loop owning every Connection,
// with no other thread ever touching a socket or a file handle. Built
// directly on golang.org/x/sys/unix's epoll primitives, with connections
// returning an explicit Intent after each step rather than the loop
// handing ownership of buffering to a callback (see DESIGN.md).
package reactor

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/badu/wireshare/internal/applog"
	"github.com/badu/wireshare/internal/conn"
	"github.com/badu/wireshare/internal/control"
	"github.com/badu/wireshare/internal/registry"
	"github.com/badu/wireshare/internal/resolve"
)

// refreshTick bounds how long epoll_wait may block even with no deadline
// pending, so the dashboard's counters keep moving.
const refreshTick = 100 * time.Millisecond

// DefaultIdleTimeout is the per-connection inactivity ceiling.
const DefaultIdleTimeout = 30 * time.Second

const maxEpollEvents = 256
const acceptBacklog = 128

// Reactor owns the listening socket, the epoll instance, and every
// accepted Connection, for the lifetime of one Run call.
type Reactor struct {
	epfd     int
	listenFd int

	conns  map[int]*conn.Conn // keyed by connection fd
	nextID uint64

	reg      *registry.Registry
	resolver *resolve.Resolver
	pause    *control.Queue

	uploadEnabled  bool
	maxUploadBytes int64
	idleTimeout    time.Duration

	headless bool
	log      *zap.Logger

	stopped bool
}

// Options configures a Reactor; fields mirror internal/config.Config plus
// the collaborators the core can have injected (registry, pause queue,
// logger). The resolver is always built by New from ServeRoot.
type Options struct {
	Host           string
	Port           int
	ServeRoot      string
	UploadEnabled  bool
	MaxUploadBytes int64
	Headless       bool
	IdleTimeout    time.Duration
	Registry       *registry.Registry
	Pause          *control.Queue
	Logger         *zap.Logger
}

// ErrBind wraps a listening-socket setup failure; cmd/wireshare maps it to
// exit code 1.
type ErrBind struct{ Err error }

func (e *ErrBind) Error() string { return "reactor: bind failed: " + e.Err.Error() }
func (e *ErrBind) Unwrap() error { return e.Err }

// New resolves Host:Port, creates a non-blocking listening socket and an
// epoll instance, and registers the listener for readability.
func New(opts Options) (*Reactor, error) {
	resolver, err := resolve.New(opts.ServeRoot)
	if err != nil {
		return nil, &ErrBind{Err: err}
	}

	listenFd, err := listenSocket(opts.Host, opts.Port)
	if err != nil {
		return nil, &ErrBind{Err: err}
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(listenFd)
		return nil, &ErrBind{Err: err}
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFd)}); err != nil {
		unix.Close(listenFd)
		unix.Close(epfd)
		return nil, &ErrBind{Err: err}
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	pause := opts.Pause
	if pause == nil {
		pause = control.NewQueue()
	}
	log := opts.Logger
	if log == nil {
		log = applog.Nop()
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &Reactor{
		epfd:           epfd,
		listenFd:       listenFd,
		conns:          make(map[int]*conn.Conn),
		reg:            reg,
		resolver:       resolver,
		pause:          pause,
		uploadEnabled:  opts.UploadEnabled,
		maxUploadBytes: opts.MaxUploadBytes,
		idleTimeout:    idleTimeout,
		headless:       opts.Headless,
		log:            log,
	}, nil
}

func listenSocket(host string, port int) (int, error) {
	ip, err := resolveIPv4(host)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	addr := &unix.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ip)
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, acceptBacklog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func resolveIPv4(host string) ([]byte, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, errors.New("reactor: no IPv4 address for " + host)
}

// Run drives the readiness loop until a Shutdown intent is processed or a
// fatal poll error occurs. Only Reactor-level I/O failures are fatal;
// per-connection errors never reach here.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, maxEpollEvents)
	for !r.stopped {
		timeout := r.nextTimeoutMillis(time.Now())
		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		now := time.Now()
		for i := 0; i < n; i++ {
			r.handleEvent(events[i], now)
		}

		r.drainControl()
		r.sweepIdle(now)
	}
	return nil
}

func (r *Reactor) nextTimeoutMillis(now time.Time) int {
	deadline := now.Add(refreshTick)
	for _, c := range r.conns {
		d := c.IdleFor(now)
		remaining := r.idleTimeout - d
		if candidate := now.Add(remaining); candidate.Before(deadline) {
			deadline = candidate
		}
	}
	ms := int(deadline.Sub(now) / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	if ms > int(refreshTick/time.Millisecond) {
		ms = int(refreshTick / time.Millisecond)
	}
	return ms
}

func (r *Reactor) handleEvent(ev unix.EpollEvent, now time.Time) {
	fd := int(ev.Fd)
	if fd == r.listenFd {
		r.acceptAll(now)
		return
	}
	c, ok := r.conns[fd]
	if !ok {
		return
	}
	canRead := ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
	canWrite := ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0
	r.step(fd, c, now, canRead, canWrite)
}

func (r *Reactor) acceptAll(now time.Time) {
	for {
		nfd, sa, err := unix.Accept(r.listenFd)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, nfd, &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(nfd)}); err != nil {
			unix.Close(nfd)
			continue
		}

		r.nextID++
		id := r.nextID
		peer := peerString(sa)
		c := conn.New(id, nfd, peer, r.reg, r.resolver, r.pause, r.uploadEnabled, r.maxUploadBytes, now)
		r.conns[nfd] = c
		if r.headless {
			applog.ConnEvent(r.log, id, peer, "accepted")
		}
	}
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}

func (r *Reactor) step(fd int, c *conn.Conn, now time.Time, canRead, canWrite bool) {
	before := c.State()
	intent := c.Step(now, canRead, canWrite)
	if r.headless && c.State() != before {
		applog.ConnEvent(r.log, c.ID(), c.Peer(), c.State().String())
	}
	if intent == conn.IntentClose {
		r.closeConn(fd)
	}
}

func (r *Reactor) closeConn(fd int) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	delete(r.conns, fd)
}

// drainControl applies pending operator intents: Pause and Resume flip
// the atomic flag Queue.Drain already maintains;
// KillAll force-closes every live connection; Shutdown stops the loop
// after this tick's sweep.
func (r *Reactor) drainControl() {
	for _, intent := range r.pause.Drain() {
		switch intent {
		case control.IntentKillAll:
			for fd, c := range r.conns {
				c.ForceClose()
				r.closeConn(fd)
			}
		case control.IntentShutdown:
			r.stopped = true
		}
	}
}

// sweepIdle closes connections that have seen no activity for
// idleTimeout.
func (r *Reactor) sweepIdle(now time.Time) {
	var stale []int
	for fd, c := range r.conns {
		if c.IdleFor(now) >= r.idleTimeout {
			stale = append(stale, fd)
		}
	}
	sort.Ints(stale)
	for _, fd := range stale {
		r.conns[fd].ForceClose()
		r.closeConn(fd)
	}
}

// Close releases the listening socket and epoll instance. Call after Run
// returns.
func (r *Reactor) Close() {
	for fd := range r.conns {
		r.closeConn(fd)
	}
	unix.Close(r.listenFd)
	unix.Close(r.epfd)
}

// ConnCount reports how many connections are currently live, for tests.
func (r *Reactor) ConnCount() int { return len(r.conns) }

// Addr returns the listening socket's bound address, useful when Options.Port
// was 0 and the kernel picked an ephemeral port (as tests do).
func (r *Reactor) Addr() (string, error) {
	sa, err := unix.Getsockname(r.listenFd)
	if err != nil {
		return "", err
	}
	a, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", errors.New("reactor: unexpected sockaddr type")
	}
	ip := net.IP(a.Addr[:])
	return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port)), nil
}
