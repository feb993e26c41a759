/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gravwell/netcore/pkt"
)

// Softirq is the receive-side bottom half: a bounded backlog fed by
// NetifRx and drained by Run, with congestion
// admission control (dropping once the backlog saturates, until it empties
// again) and an xoff notification for producers once it clears.
type Softirq struct {
	mu         sync.Mutex
	backlog    *list.List
	maxBacklog int
	dropping   bool

	budget time.Duration
	sem    *semaphore.Weighted

	xoffMu  sync.Mutex
	xoffCbs []func()

	dropped uint64 // atomic
	handled uint64 // atomic
}

// NewSoftirq returns a Softirq admitting up to maxBacklog packets and
// bounding concurrent Run calls to runtime.GOMAXPROCS(0), one
// per simulated CPU, each processing for at most budget before yielding.
func NewSoftirq(maxBacklog int, budget time.Duration) *Softirq {
	return &Softirq{
		backlog:    list.New(),
		maxBacklog: maxBacklog,
		budget:     budget,
		sem:        semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// AddXoffCallback registers fn to run once the backlog transitions from
// congested back to accepting, the analogue of clearing a device's xoff.
func (s *Softirq) AddXoffCallback(fn func()) {
	s.xoffMu.Lock()
	s.xoffCbs = append(s.xoffCbs, fn)
	s.xoffMu.Unlock()
}

// Dropped and Handled report cumulative softirq-level counters.
func (s *Softirq) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }
func (s *Softirq) Handled() uint64 { return atomic.LoadUint64(&s.handled) }

// NetifRx admits p to the backlog, or drops it under congestion rules:
// an empty backlog always accepts and clears congestion; otherwise a
// packet is accepted only while under maxBacklog and not already dropping.
func (s *Softirq) NetifRx(p *pkt.Pkt) {
	s.mu.Lock()
	n := s.backlog.Len()
	wasDropping := s.dropping
	switch {
	case n == 0:
		s.dropping = false
		s.backlog.PushBack(p)
	case n < s.maxBacklog && !s.dropping:
		s.backlog.PushBack(p)
	default:
		s.dropping = true
		s.mu.Unlock()
		atomic.AddUint64(&s.dropped, 1)
		p.Free()
		return
	}
	clearedCongestion := wasDropping && !s.dropping
	s.mu.Unlock()
	if clearedCongestion {
		s.fireXoff()
	}
}

func (s *Softirq) fireXoff() {
	s.xoffMu.Lock()
	cbs := make([]func(), len(s.xoffCbs))
	copy(cbs, s.xoffCbs)
	s.xoffMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (s *Softirq) pop() (*pkt.Pkt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.backlog.Front()
	if e == nil {
		return nil, false
	}
	s.backlog.Remove(e)
	if s.backlog.Len() == 0 && s.dropping {
		s.dropping = false
		defer s.fireXoff()
	}
	return e.Value.(*pkt.Pkt), true
}

func (s *Softirq) requeueFront(p *pkt.Pkt) {
	s.mu.Lock()
	s.backlog.PushFront(p)
	s.mu.Unlock()
}

// Run acquires one of the per-CPU permits and processes the backlog via
// each registered dispatch function until either the backlog empties or the
// time budget for this pass is exhausted, in which case the remaining work
// is left in place for the next Run. Dispatch receives the packet and the
// device it arrived on (recovered from p.Device()).
func (s *Softirq) Run(ctx context.Context, dispatch func(p *pkt.Pkt, dev *Device)) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	deadline := time.Now().Add(s.budget)
	for {
		p, ok := s.pop()
		if !ok {
			return
		}
		if !time.Now().Before(deadline) {
			s.requeueFront(p)
			return
		}
		dev, _ := p.Device().(*Device)
		dispatch(p, dev)
		atomic.AddUint64(&s.handled, 1)
	}
}

// Backlog reports the number of packets currently queued for dispatch.
func (s *Softirq) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog.Len()
}
