/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package control is the typed command set that replaces ioctl/netlink: a
// small set of Go methods on Plane, each taking and returning a plain
// struct, driven directly as a library or from cmd/netcored's debug
// console.
package control

// Errno is the control-plane's error taxonomy, mirroring ingest/muxer.go's
// package-level Err* sentinel style but collapsed into one comparable type
// so a console or RPC boundary can carry it as a single integer.
type Errno int

const (
	ErrNone Errno = iota
	ErrNoMemory
	ErrAgain
	ErrInterrupted
	ErrAddrInUse
	ErrAddrNotAvail
	ErrConnRefused
	ErrConnReset
	ErrNotConn
	ErrIsConn
	ErrPipe
	ErrInval
	ErrNoDev
	ErrNetDown
	ErrBusy
	ErrNotSupp
	ErrPerm
)

var errnoText = map[Errno]string{
	ErrNone:         "success",
	ErrNoMemory:     "resource exhaustion",
	ErrAgain:        "operation would block",
	ErrInterrupted:  "interrupted, restart or propagate",
	ErrAddrInUse:    "address already in use",
	ErrAddrNotAvail: "address not available",
	ErrConnRefused:  "connection refused",
	ErrConnReset:    "connection reset by peer",
	ErrNotConn:      "socket is not connected",
	ErrIsConn:       "socket is already connected",
	ErrPipe:         "broken pipe",
	ErrInval:        "invalid argument",
	ErrNoDev:        "no such device",
	ErrNetDown:      "device is down",
	ErrBusy:         "resource busy",
	ErrNotSupp:      "operation not supported",
	ErrPerm:         "operation not permitted",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return "unknown error"
}
