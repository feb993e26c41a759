/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

import (
	"os"
	"sync"
	"sync/atomic"
)

// InflightFile wraps a duplicated *os.File that has been attached to a
// passed-fd message but not yet released. It stands in for a kernel
// file-table entry, since this module has no real fd table to walk.
type InflightFile struct {
	f    *os.File
	refs int32 // atomic
}

// NewInflightFile dups f (so the caller's handle remains independently
// closeable) and registers it as inflight.
func NewInflightFile(f *os.File) (*InflightFile, error) {
	dupFd, err := unixDup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	inflightCount.Add(1)
	return &InflightFile{f: os.NewFile(uintptr(dupFd), f.Name()), refs: 1}, nil
}

// File returns the underlying duplicated file handle.
func (i *InflightFile) File() *os.File { return i.f }

// Hold increments the reference count, e.g. when the same InflightFile is
// attached to more than one in-flight message.
func (i *InflightFile) Hold() { atomic.AddInt32(&i.refs, 1) }

// Release decrements the reference count and, on reaching zero, closes the
// duplicated descriptor and decrements the global inflight counter. Used
// when a queued message is discarded without ever reaching a receiver.
func (i *InflightFile) Release() {
	if atomic.AddInt32(&i.refs, -1) > 0 {
		return
	}
	inflightCount.Add(-1)
	i.f.Close()
}

// Deliver transfers ownership of the duplicated descriptor to a receiver
// that has just read the message carrying it: the descriptor stays open
// (the receiver now owns it via File()) but it is no longer inflight.
func (i *InflightFile) Deliver() {
	if atomic.AddInt32(&i.refs, -1) > 0 {
		return
	}
	inflightCount.Add(-1)
}

// inflightCount is the global count of currently in-flight passed fds,
// consulted by the garbage collector, which runs opportunistically
// whenever any inflight count is non-zero at socket release.
var inflightCount atomic.Int64

// InflightCount reports the current global inflight fd count.
func InflightCount() int64 { return inflightCount.Load() }

// gcMu serialises garbage-collection passes.
var gcMu sync.Mutex

// CollectGarbage walks t's sockets for the simplest form of a reference
// cycle: a socket that is already dead and has no remaining external
// references, but whose receive queue still holds
// messages carrying inflight fds (e.g. to its own former peer, which is
// also dead). Nothing outside the fd-passing graph can ever drain that
// queue, so those messages are the GC's responsibility to release.
func (t *Table) CollectGarbage() {
	if InflightCount() == 0 {
		return
	}
	gcMu.Lock()
	defer gcMu.Unlock()

	t.mu.RLock()
	socks := make([]*Socket, 0, len(t.byPointer))
	for s := range t.byPointer {
		socks = append(socks, s)
	}
	t.mu.RUnlock()

	for _, s := range socks {
		s.mu.Lock()
		if s.dead && s.refcount.Load() == 0 {
			s.dropQueuedFDMessagesLocked()
		}
		s.mu.Unlock()
	}
}
