/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package cbq

import (
	"errors"
	"sync"
	"time"

	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/qdisc"
	"github.com/gravwell/netcore/timer"
)

// ErrClassBusy is returned by Delete for a class with a non-empty inner
// queue or an attached classifier.
var ErrClassBusy = errors.New("cbq: class busy (non-empty queue or filters attached)")

const assumedMTU = 1500
const maxClassifyDepth = 32

// Stats are the discipline-wide counters.
type Stats struct {
	Packets    uint64
	Bytes      uint64
	Dropped    uint64
	Overlimits uint64
	Requeues   uint64
}

// CBQ is a Class-Based Queueing discipline: a tree of Classes scheduled by
// priority-banded weighted round robin with per-class rate enforcement.
// CBQ implements qdisc.Qdisc.
type CBQ struct {
	mu sync.Mutex

	handle uint32
	clock  *timer.Service

	root *Class
	byID map[uint32]*Class

	classesByPriority [MaxPrio][]*Class
	quanta            [MaxPrio]uint32
	nclasses          [MaxPrio]int

	activeTail [MaxPrio]*Class
	ringLen    [MaxPrio]int
	activeMask uint32

	toplevel int

	nowVirtual int64
	lastReal   int64

	watchdog         timer.Handle
	delayTimerHandle timer.Handle
	throttled        bool

	kicker qdisc.Kicker

	txClass    *Class
	txBorrowed *Class
	txLen      int

	stats Stats
}

// New constructs a CBQ discipline identified by handle, with rootParams
// describing the root link class, which always exists while the
// discipline exists.
func New(handle uint32, rootParams ClassParams, clock *timer.Service) (*CBQ, error) {
	root := &Class{id: rootParams.ID}
	if err := applyParams(root, rootParams); err != nil {
		return nil, err
	}
	root.inner = qdisc.NewPFIFO(handle, 1000)

	d := &CBQ{
		handle: handle,
		clock:  clock,
		root:   root,
		byID:   map[uint32]*Class{root.id: root},
	}
	d.toplevel = root.level
	d.registerInBand(root)
	return d, nil
}

func (d *CBQ) registerInBand(c *Class) {
	p := c.priority
	d.classesByPriority[p] = append(d.classesByPriority[p], c)
	d.quanta[p] += c.weight
	d.nclasses[p]++
	d.renormalizeBand(p)
}

func (d *CBQ) unregisterFromBand(c *Class, p int) {
	list := d.classesByPriority[p]
	for i, cc := range list {
		if cc == c {
			d.classesByPriority[p] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if d.quanta[p] >= c.weight {
		d.quanta[p] -= c.weight
	}
	if d.nclasses[p] > 0 {
		d.nclasses[p]--
	}
	d.renormalizeBand(p)
}

// renormalizeBand recomputes every class's quantum within band p so that
// quanta[p] == sum(weight) and quantum == weight*allot*nclasses[p]/quanta[p]
// clamping pathological results.
func (d *CBQ) renormalizeBand(p int) {
	if d.quanta[p] == 0 {
		return
	}
	for _, c := range d.classesByPriority[p] {
		q := int64(c.weight) * int64(c.allot) * int64(d.nclasses[p]) / int64(d.quanta[p])
		if q <= 0 || q > 32*assumedMTU {
			q = assumedMTU/2 + 1
		}
		c.quantum = int32(q)
	}
}

// Create adds a new class as a child of params.ParentID.
func (d *CBQ) Create(params ClassParams) (*Class, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byID[params.ID]; exists {
		return nil, ErrClassExists
	}
	parent, ok := d.byID[params.ParentID]
	if !ok && params.ParentID == 0 {
		parent, ok = d.root, true
	}
	if !ok {
		return nil, ErrClassNotFound
	}
	c := &Class{id: params.ID, parent: parent}
	if err := applyParams(c, params); err != nil {
		return nil, err
	}
	c.inner = qdisc.NewPFIFO(d.handle, 1000)
	c.share = parent
	if !params.Bounded {
		c.borrow = parent
	}
	parent.children = append(parent.children, c)
	c.recomputeLevel()
	d.byID[c.id] = c
	d.registerInBand(c)

	if params.SplitID != 0 {
		if split, ok := d.byID[params.SplitID]; ok {
			c.split = split
			for _, pr := range params.DefaultForMap {
				if pr >= 0 && pr < DefMapSize {
					split.defmap[pr] = c
				}
			}
		}
	}
	return c, nil
}

// Modify updates an existing class's configuration in place: the class
// is deactivated for the duration of the swap and
// reactivated afterward if it still has backlog.
func (d *CBQ) Modify(id uint32, params ClassParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[id]
	if !ok {
		return ErrClassNotFound
	}
	oldPriority := c.priority
	d.deactivate(c)
	if err := applyParams(c, params); err != nil {
		return err
	}
	c.effPriority = c.priority
	if oldPriority != c.priority {
		d.unregisterFromBand(c, oldPriority)
		d.registerInBand(c)
	} else {
		d.renormalizeBand(c.priority)
	}
	if c.Len() > 0 {
		d.activate(c)
	}
	return nil
}

// Delete removes a class. It is rejected with
// ErrClassHasChildren if the class still has children, or ErrClassBusy if
// its inner queue is non-empty or it still has bound classifiers.
func (d *CBQ) Delete(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[id]
	if !ok {
		return ErrClassNotFound
	}
	if c == d.root {
		return ErrClassBusy
	}
	if len(c.children) > 0 {
		return ErrClassHasChildren
	}
	if c.Len() > 0 || len(c.classifiers) > 0 {
		return ErrClassBusy
	}

	d.deactivate(c)

	for anc := c.parent; anc != nil; anc = anc.parent {
		for i, dc := range anc.defmap {
			if dc == c {
				anc.defmap[i] = nil
			}
		}
	}

	if c.parent != nil {
		for i, ch := range c.parent.children {
			if ch == c {
				c.parent.children = append(c.parent.children[:i], c.parent.children[i+1:]...)
				break
			}
		}
		c.parent.recomputeLevel()
	}

	d.unregisterFromBand(c, c.priority)
	delete(d.byID, id)
	if c.inner != nil {
		c.inner.Destroy()
	}
	if d.txClass == c {
		d.txClass = nil
	}
	if d.txBorrowed == c {
		d.txBorrowed = nil
	}
	return nil
}

// Class returns the class registered under id, if any.
func (d *CBQ) Class(id uint32) (*Class, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[id]
	return c, ok
}

// Classes returns every class currently registered, in no particular order.
func (d *CBQ) Classes() []*Class {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Class, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, c)
	}
	return out
}

// classify resolves a packet to a leaf class. It reports
// shot=true if a classifier fired a Shot verdict, meaning the caller should
// drop the packet rather than enqueue it anywhere.
func (d *CBQ) classify(p *pkt.Pkt) (leaf *Class, shot bool) {
	if uint32(p.Priority()>>16) == d.handle {
		if c, ok := d.byID[uint32(p.Priority()&0xFFFF)]; ok {
			return c, false
		}
	}

	cur := d.root
	for depth := 0; depth < maxClassifyDepth; depth++ {
		var resolved *Class
		reclass := false

		for _, cl := range cur.classifiers {
			id, v := cl(p)
			switch v {
			case MatchOk:
				if c, ok := d.byID[id]; ok {
					resolved = c
				}
			case MatchShot:
				return nil, true
			case MatchReclassify:
				reclass = true
			}
			if resolved != nil || reclass {
				break
			}
		}

		if reclass {
			for anc := cur; anc != nil; anc = anc.parent {
				if dc := anc.defmap[BestEffort]; dc != nil {
					resolved = dc
					break
				}
			}
		}
		if resolved == nil {
			band := int(p.Priority()) % DefMapSize
			if band < 0 {
				band += DefMapSize
			}
			resolved = cur.defmap[band]
		}
		if resolved == nil {
			break
		}
		if resolved.level == 0 {
			return resolved, false
		}
		if cur != d.root && resolved.level >= cur.level {
			break
		}
		cur = resolved
	}
	if dc := d.root.defmap[BestEffort]; dc != nil {
		return dc, false
	}
	return d.root, false
}

// markToplevel narrows the discipline's toplevel watermark to the smallest
// level, among c and its borrow ancestors, whose undertime has already
// elapsed.
func (d *CBQ) markToplevel(c *Class) {
	level := d.toplevel
	for b := c; b != nil; b = b.borrow {
		if b.undertime <= d.nowVirtual && b.level < level {
			level = b.level
		}
	}
	d.toplevel = level
}

// Enqueue implements qdisc.Qdisc: classify the packet, hand it to the leaf
// class's inner queue, and activate that class's band if it wasn't already
// in its ring.
func (d *CBQ) Enqueue(p *pkt.Pkt) (qdisc.EnqueueResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, shot := d.classify(p)
	if shot || c == nil {
		p.Free()
		d.stats.Dropped++
		return qdisc.Dropped, nil
	}

	plen := uint64(p.Len())
	res, err := c.inner.Enqueue(p)
	if res != qdisc.Ok {
		c.stats.Dropped++
		d.stats.Dropped++
		return res, err
	}
	c.stats.Packets++
	c.stats.Bytes += plen
	d.stats.Packets++
	d.stats.Bytes += plen

	d.markToplevel(c)
	if c.nextAlive == nil {
		d.activate(c)
	}
	return qdisc.Ok, nil
}

// Requeue pushes p back to the head of the class it was last dequeued
// from, as if it had never been sent.
func (d *CBQ) Requeue(p *pkt.Pkt) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.txClass
	if c == nil {
		p.Free()
		return ErrClassNotFound
	}
	pl := p.Len()
	if err := c.inner.Requeue(p); err != nil {
		return err
	}
	c.deficit += int32(pl)
	d.stats.Requeues++
	if c.nextAlive == nil {
		d.activate(c)
	}
	return nil
}

// Drop discards one packet from the least important (lowest-priority)
// non-empty class, used under memory pressure.
func (d *CBQ) Drop() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for band := MaxPrio - 1; band >= 0; band-- {
		tail := d.activeTail[band]
		if tail == nil {
			continue
		}
		cur := tail.nextAlive
		for {
			if cur.Len() > 0 {
				if n := cur.inner.Drop(); n > 0 {
					cur.stats.Dropped += uint64(n)
					d.stats.Dropped += uint64(n)
					if cur.Len() == 0 {
						d.deactivateBand(cur, band)
					}
					return n
				}
			}
			if cur == tail {
				break
			}
			cur = cur.nextAlive
		}
	}
	return 0
}

// Reset clears every class's queue and all scheduling state, leaving the
// class tree and its configuration intact.
func (d *CBQ) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.byID {
		if c.inner != nil {
			c.inner.Reset()
		}
		c.nextAlive = nil
		c.effPriority = c.priority
		c.delayed = false
		c.penaltyActive = false
		c.deficit = 0
		c.undertime = neverEligible
		c.avgIdle = 0
	}
	for i := range d.activeTail {
		d.activeTail[i] = nil
		d.ringLen[i] = 0
	}
	d.activeMask = 0
	d.toplevel = d.root.level
	d.txClass, d.txBorrowed, d.txLen = nil, nil, 0
}

func (d *CBQ) Init() error { return nil }

func (d *CBQ) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock.Cancel(d.watchdog)
	d.clock.Cancel(d.delayTimerHandle)
	for _, c := range d.byID {
		if c.inner != nil {
			c.inner.Destroy()
		}
	}
}

// Len reports the total number of packets queued across every class.
func (d *CBQ) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, c := range d.byID {
		total += c.Len()
	}
	return total
}

func (d *CBQ) Handle() uint32 { return d.handle }

func (d *CBQ) Flags() qdisc.Flag {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.throttled {
		return qdisc.Throttled
	}
	return 0
}

func (d *CBQ) SetKicker(k qdisc.Kicker) {
	d.mu.Lock()
	d.kicker = k
	d.mu.Unlock()
}

// Stats returns a snapshot of the discipline-wide counters.
func (d *CBQ) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func vtimeDelay(units int64) time.Duration {
	d := time.Duration(units)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
