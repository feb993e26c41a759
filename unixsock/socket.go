/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/gravwell/netcore/pkt"
)

// defaultMaxAckBacklog bounds a socket's receive queue depth: once full,
// a sender blocks or gets EAGAIN rather than growing it unbounded.
const defaultMaxAckBacklog = 128

// defaultSndbuf sizes the chunking window for Stream sends.
const defaultSndbuf = 212992

// queuedMsg is one entry in a socket's receive queue: either a data message
// (dgram, or one stream chunk) or, for a listener, an accept-skb carrying an
// embryonic connection.
type queuedMsg struct {
	p      *pkt.Pkt
	cred   Ucred
	files  []*InflightFile
	embryo *Socket // non-nil only for a listener's accept queue entries
}

// Socket is one AF_UNIX endpoint.
type Socket struct {
	typ Type

	mu       sync.RWMutex
	state    State
	addr     Addr
	bound    bool
	peer     *Socket
	cred     Ucred // credentials of the process that created this socket
	peerCred Ucred // stamped on Established peers / accepted children
	shutdown ShutdownMask
	dead     bool
	err      error // pending async error (e.g. ECONNRESET) surfaced to the next op

	recvQ         *list.List
	maxAckBacklog int
	sndbuf        int
	backlog       int // listen() backlog limit
	pendingAccept int // number of queued accept-skbs

	waitMu    sync.Mutex
	dataCond  *sync.Cond
	peerCond  *sync.Cond // signalled when this socket's peer-wait queue should wake

	passcred bool

	refcount atomic.Int32

	table *Table
}

// New creates an unbound socket of the given type, owned by cred.
func New(table *Table, typ Type, cred Ucred) *Socket {
	s := &Socket{
		typ:           typ,
		state:         Closed,
		cred:          cred,
		recvQ:         list.New(),
		maxAckBacklog: defaultMaxAckBacklog,
		sndbuf:        defaultSndbuf,
		table:         table,
	}
	s.dataCond = sync.NewCond(&s.waitMu)
	s.peerCond = sync.NewCond(&s.waitMu)
	s.refcount.Store(1)
	return s
}

// Type reports the socket's wire type.
func (s *Socket) Type() Type { return s.typ }

// LocalAddr returns the address the socket is bound to, if any.
func (s *Socket) LocalAddr() Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// State returns the socket's current connection state.
func (s *Socket) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Hold and Drop implement simple reference counting so the garbage
// collector can tell a released-but-still-referenced socket from a
// truly orphaned one.
func (s *Socket) Hold() { s.refcount.Add(1) }
func (s *Socket) Drop() { s.refcount.Add(-1) }

// SetPasscred enables credential auto-bind-on-send.
func (s *Socket) SetPasscred(v bool) {
	s.mu.Lock()
	s.passcred = v
	s.mu.Unlock()
}

func (s *Socket) wakeData() {
	s.waitMu.Lock()
	s.dataCond.Broadcast()
	s.waitMu.Unlock()
}

func (s *Socket) wakePeerWaiters() {
	s.waitMu.Lock()
	s.peerCond.Broadcast()
	s.waitMu.Unlock()
}

// waitForData blocks until the receive queue is non-empty, the socket is
// dead, or RCV shutdown has been signalled; it honours DontWait by
// returning ErrAgain immediately instead of sleeping.
func (s *Socket) waitForData(flags Flags) error {
	for {
		s.mu.RLock()
		ready := s.recvQ.Len() > 0 || s.dead || s.shutdown.rdShut() || s.err != nil
		s.mu.RUnlock()
		if ready {
			return nil
		}
		if flags&DontWait != 0 {
			return ErrAgain
		}
		s.waitMu.Lock()
		s.dataCond.Wait()
		s.waitMu.Unlock()
	}
}

// waitForBacklogRoom blocks until the receive queue has room, the peer is
// dead, or RCV shutdown has been signalled.
func (peer *Socket) waitForBacklogRoom(flags Flags) error {
	for {
		peer.mu.RLock()
		room := peer.recvQ.Len() < peer.maxAckBacklog
		done := peer.dead || peer.shutdown.rdShut()
		peer.mu.RUnlock()
		if room || done {
			return nil
		}
		if flags&DontWait != 0 {
			return ErrAgain
		}
		peer.waitMu.Lock()
		peer.peerCond.Wait()
		peer.waitMu.Unlock()
	}
}

// waitForAcceptRoom blocks until the listener's pending-accept count drops
// below its backlog limit, or the listener dies.
func (s *Socket) waitForAcceptRoom(flags Flags) error {
	for {
		s.mu.RLock()
		room := s.backlog <= 0 || s.pendingAccept < s.backlog
		dead := s.dead
		s.mu.RUnlock()
		if room || dead {
			return nil
		}
		if flags&DontWait != 0 {
			return ErrAgain
		}
		s.waitMu.Lock()
		s.peerCond.Wait()
		s.waitMu.Unlock()
	}
}

// dropQueuedFDMessagesLocked releases every InflightFile referenced by
// queued messages and empties the receive queue. Caller holds s.mu.
func (s *Socket) dropQueuedFDMessagesLocked() {
	for e := s.recvQ.Front(); e != nil; {
		next := e.Next()
		m := e.Value.(*queuedMsg)
		for _, f := range m.files {
			f.Release()
		}
		if m.p != nil {
			m.p.SetDestructor(nil) // the files were released above
			m.p.Free()
		}
		s.recvQ.Remove(e)
		e = next
	}
}
