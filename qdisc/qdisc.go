/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package qdisc defines the pluggable queueing-discipline contract attached
// per device, along with the two default disciplines, noop and pfifo.
// The CBQ discipline in package cbq implements this same
// interface; device.Device only ever talks to a Qdisc through it.
package qdisc

import (
	"container/list"
	"errors"
	"sync"

	"github.com/gravwell/netcore/pkt"
)

// EnqueueResult reports what Enqueue did with a packet.
type EnqueueResult int

const (
	Ok EnqueueResult = iota
	Dropped
	Congested
)

func (r EnqueueResult) String() string {
	switch r {
	case Ok:
		return "ok"
	case Dropped:
		return "dropped"
	case Congested:
		return "congested"
	}
	return "unknown"
}

// Flag bits for a discipline's Flags().
type Flag uint32

const (
	Throttled Flag = 1 << iota
)

// Kicker is the minimal view of the owning device a discipline needs: a
// way to ask it to pump packets again, used by CBQ's watchdog timer
// after it clears Throttled.
type Kicker interface {
	Kick()
}

// Qdisc is the vtable-like contract every queueing discipline implements.
// Disciplines are not safe to use from multiple goroutines concurrently
// except through the device's queue lock, which device.Device holds for
// every call into a Qdisc.
type Qdisc interface {
	// Enqueue admits a packet into the discipline's internal queue(s).
	Enqueue(p *pkt.Pkt) (EnqueueResult, error)
	// Dequeue removes and returns the next packet to transmit, or false if
	// nothing is eligible right now.
	Dequeue() (*pkt.Pkt, bool)
	// Requeue returns a dequeued packet to the head of the discipline,
	// used when the driver refuses a packet it was just handed.
	Requeue(p *pkt.Pkt) error
	// Drop discards one packet from within the discipline under memory
	// pressure, reporting 1 if a packet was actually released.
	Drop() int
	// Reset clears all queued packets and discipline-internal state.
	Reset()
	// Init prepares the discipline for use; Destroy tears it down.
	Init() error
	Destroy()

	Len() int
	Handle() uint32
	Flags() Flag
	SetKicker(k Kicker)
}

// ErrQueueFull is returned by Enqueue on a bounded FIFO that has reached
// its configured length.
var ErrQueueFull = errors.New("qdisc: queue full")

// noopDisc drops everything. control.Plane.QdiscDelete grafts one in place
// of a deleted discipline; a device with no discipline at all holds nil,
// not a noopDisc.
type noopDisc struct {
	handle uint32
}

// NewNoop returns the "drop everything" discipline.
func NewNoop(handle uint32) Qdisc { return &noopDisc{handle: handle} }

func (n *noopDisc) Enqueue(p *pkt.Pkt) (EnqueueResult, error) {
	p.Free()
	return Dropped, nil
}
func (n *noopDisc) Dequeue() (*pkt.Pkt, bool) { return nil, false }
func (n *noopDisc) Requeue(p *pkt.Pkt) error  { p.Free(); return nil }
func (n *noopDisc) Drop() int                 { return 0 }
func (n *noopDisc) Reset()                    {}
func (n *noopDisc) Init() error               { return nil }
func (n *noopDisc) Destroy()                  {}
func (n *noopDisc) Len() int                  { return 0 }
func (n *noopDisc) Handle() uint32            { return n.handle }
func (n *noopDisc) Flags() Flag               { return 0 }
func (n *noopDisc) SetKicker(Kicker)          {}

// pfifoDisc is a single FIFO bounded by a configured queue length (the
// analogue of the kernel's pfifo_fast with a single band).
type pfifoDisc struct {
	mu      sync.Mutex
	handle  uint32
	limit   int
	q       *list.List
	kicker  Kicker
}

// NewPFIFO returns a bounded first-in-first-out discipline.
func NewPFIFO(handle uint32, limit int) Qdisc {
	return &pfifoDisc{handle: handle, limit: limit, q: list.New()}
}

func (d *pfifoDisc) Enqueue(p *pkt.Pkt) (EnqueueResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.q.Len() >= d.limit {
		p.Free()
		return Dropped, ErrQueueFull
	}
	d.q.PushBack(p)
	return Ok, nil
}

func (d *pfifoDisc) Dequeue() (*pkt.Pkt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.q.Front()
	if e == nil {
		return nil, false
	}
	d.q.Remove(e)
	return e.Value.(*pkt.Pkt), true
}

func (d *pfifoDisc) Requeue(p *pkt.Pkt) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.q.PushFront(p)
	return nil
}

func (d *pfifoDisc) Drop() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.q.Back()
	if e == nil {
		return 0
	}
	d.q.Remove(e)
	e.Value.(*pkt.Pkt).Free()
	return 1
}

func (d *pfifoDisc) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for e := d.q.Front(); e != nil; e = e.Next() {
		e.Value.(*pkt.Pkt).Free()
	}
	d.q.Init()
}

func (d *pfifoDisc) Init() error      { return nil }
func (d *pfifoDisc) Destroy()         { d.Reset() }
func (d *pfifoDisc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Len()
}
func (d *pfifoDisc) Handle() uint32   { return d.handle }
func (d *pfifoDisc) Flags() Flag      { return 0 }
func (d *pfifoDisc) SetKicker(k Kicker) {
	d.mu.Lock()
	d.kicker = k
	d.mu.Unlock()
}
