/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package unixsock implements the AF_UNIX socket family: filesystem and
// abstract naming, a socket hash table, datagram and stream
// send, listen/connect/accept, shutdown/release, and file-descriptor
// passing with inflight bookkeeping for garbage collection.
package unixsock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Type is the socket's wire type, fixed for the socket's lifetime.
type Type int

const (
	Dgram Type = iota
	Stream
)

func (t Type) String() string {
	if t == Stream {
		return "stream"
	}
	return "dgram"
}

// State is the connection-oriented state machine used by Stream sockets
// (Dgram sockets only ever sit in Closed or Bound).
type State int

const (
	Closed State = iota
	Bound
	Listen
	Established
)

func (s State) String() string {
	switch s {
	case Bound:
		return "bound"
	case Listen:
		return "listen"
	case Established:
		return "established"
	}
	return "closed"
}

// Shutdown bit mask.
type ShutdownMask uint8

const (
	ShutRD ShutdownMask = 1 << iota
	ShutWR
)

func (m ShutdownMask) rdShut() bool { return m&ShutRD != 0 }
func (m ShutdownMask) wrShut() bool { return m&ShutWR != 0 }

// Flags accepted by send/recv calls.
type Flags uint8

const (
	DontWait Flags = 1 << iota
	NoSignal
	OOB  // rejected outright if set
	Peek // MSG_PEEK: leave the message (and any fds) queued
)

// Ucred reuses the real kernel credential struct rather than inventing one.
type Ucred = unix.Ucred

// Addr names a socket: either a filesystem path or an abstract name (a
// leading zero byte in AF_UNIX proper; here just a bool flag).
type Addr struct {
	Name     string
	Abstract bool
}

func (a Addr) empty() bool { return a.Name == "" }

func (a Addr) String() string {
	if a.Abstract {
		return "@" + a.Name
	}
	return a.Name
}

var (
	ErrAddrInUse       = errors.New("unixsock: address already in use")
	ErrNotConnected    = errors.New("unixsock: not connected")
	ErrConnRefused     = errors.New("unixsock: connection refused")
	ErrProtoType       = errors.New("unixsock: wrong socket type for address")
	ErrAgain           = errors.New("unixsock: operation would block")
	ErrPipe            = errors.New("unixsock: broken pipe")
	ErrConnReset       = errors.New("unixsock: connection reset by peer")
	ErrInvalidFlags    = errors.New("unixsock: invalid flags")
	ErrAlreadyBound    = errors.New("unixsock: socket is already bound")
	ErrNotBound        = errors.New("unixsock: socket is not bound")
	ErrNotListening    = errors.New("unixsock: socket is not listening")
	ErrBacklogExceeded = errors.New("unixsock: listen backlog exceeded")
	ErrNameTooLong     = errors.New("unixsock: name exceeds 108 bytes")
	ErrClosed          = errors.New("unixsock: socket is closed")
)

// MaxNameLen mirrors sockaddr_un's sun_path size.
const MaxNameLen = 108
