/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
)

// hashBuckets is a power of two bucket count for the socket hash table,
// matching device.TypeRegistry's hashed-chain layout.
const hashBuckets = 256

// Table is the AF_UNIX socket namespace: every bound socket is reachable by
// name through a hashed chain, exactly like device.TypeRegistry hashes
// packet-type handlers by protocol.
type Table struct {
	mu        sync.RWMutex
	hashed    [hashBuckets][]*Socket
	byPointer map[*Socket]struct{}

	autoBindSeq uint64
}

// NewTable creates an empty socket namespace.
func NewTable() *Table {
	return &Table{byPointer: make(map[*Socket]struct{})}
}

func foldHash(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

func bucketIndex(addr Addr, typ Type) int {
	h := foldHash(addr.Name) ^ uint32(typ)
	return int(h & (hashBuckets - 1))
}

// Bind attaches addr to s. A zero-value Addr requests auto-bind: a
// sequential 5-digit abstract name, retried on collision.
func (t *Table) Bind(s *Socket, addr Addr) error {
	s.mu.Lock()
	if s.bound {
		s.mu.Unlock()
		return ErrAlreadyBound
	}
	s.mu.Unlock()

	if len(addr.Name) > MaxNameLen {
		return ErrNameTooLong
	}

	if addr.empty() {
		return t.autoBind(s)
	}
	if addr.Abstract {
		return t.bindAbstract(s, addr)
	}
	return t.bindFilesystem(s, addr)
}

func (t *Table) autoBind(s *Socket) error {
	for attempt := 0; attempt < 100000; attempt++ {
		t.mu.Lock()
		seq := t.autoBindSeq
		t.autoBindSeq++
		t.mu.Unlock()
		addr := Addr{Name: fmt.Sprintf("%05d", seq%100000), Abstract: true}
		if err := t.bindAbstract(s, addr); err == nil {
			return nil
		} else if err != ErrAddrInUse {
			return err
		}
	}
	return ErrAddrInUse
}

func (t *Table) bindAbstract(s *Socket, addr Addr) error {
	idx := bucketIndex(addr, s.typ)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.hashed[idx] {
		ea := existing.LocalAddr()
		if ea.Abstract && ea.Name == addr.Name && existing.typ == s.typ {
			return ErrAddrInUse
		}
	}
	s.mu.Lock()
	s.addr = addr
	s.bound = true
	s.state = Bound
	s.mu.Unlock()
	t.hashed[idx] = append(t.hashed[idx], s)
	t.byPointer[s] = struct{}{}
	return nil
}

// bindFilesystem creates a socket-typed filesystem object at addr.Name:
// a zero-length file created atomically with
// renameio, under a flock-serialised critical section so concurrent
// binders behave like the kernel's atomic directory-entry creation.
func (t *Table) bindFilesystem(s *Socket, addr Addr) error {
	lock := flock.New(addr.Name + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	if _, err := os.Lstat(addr.Name); err == nil {
		return ErrAddrInUse
	}
	if err := renameio.WriteFile(addr.Name, nil, 0o755); err != nil {
		return err
	}

	idx := bucketIndex(addr, s.typ)
	t.mu.Lock()
	defer t.mu.Unlock()
	s.mu.Lock()
	s.addr = addr
	s.bound = true
	s.state = Bound
	s.mu.Unlock()
	t.hashed[idx] = append(t.hashed[idx], s)
	t.byPointer[s] = struct{}{}
	return nil
}

// FindOther resolves addr to its bound socket, requiring it to have type
// typ, and returns it holding an extra reference.
func (t *Table) FindOther(addr Addr, typ Type) (*Socket, error) {
	idx := bucketIndex(addr, typ)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.hashed[idx] {
		ea := s.LocalAddr()
		if ea.Abstract != addr.Abstract || ea.Name != addr.Name || s.typ != typ {
			continue
		}
		s.Hold()
		return s, nil
	}
	return nil, ErrConnRefused
}

// Remove unlinks s from the hash table, deleting its filesystem marker
// if it had one.
func (t *Table) Remove(s *Socket) {
	addr := s.LocalAddr()
	if addr.empty() {
		return
	}
	idx := bucketIndex(addr, s.typ)

	t.mu.Lock()
	chain := t.hashed[idx]
	for i, e := range chain {
		if e == s {
			t.hashed[idx] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	delete(t.byPointer, s)
	t.mu.Unlock()

	if !addr.Abstract {
		os.Remove(addr.Name)
		os.Remove(addr.Name + ".lock")
	}
}
