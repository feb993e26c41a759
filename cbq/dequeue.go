/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package cbq

import (
	"github.com/gravwell/netcore/pkt"
)

// activate inserts c at the tail of its effective-priority band's active
// ring: the set of active classes at priority p forms a circular
// singly-linked list through next_alive.
func (d *CBQ) activate(c *Class) {
	p := c.effPriority
	tail := d.activeTail[p]
	if tail == nil {
		c.nextAlive = c
	} else {
		c.nextAlive = tail.nextAlive
		tail.nextAlive = c
	}
	d.activeTail[p] = c
	d.ringLen[p]++
	d.activeMask |= 1 << uint(p)
}

// deactivateBand unlinks c from band p's active ring, walking from the tail
// to find c's predecessor since the ring is singly linked.
func (d *CBQ) deactivateBand(c *Class, p int) {
	tail := d.activeTail[p]
	if tail == nil || c.nextAlive == nil {
		c.nextAlive = nil
		return
	}
	if tail == c && c.nextAlive == c {
		d.activeTail[p] = nil
		d.activeMask &^= 1 << uint(p)
		d.ringLen[p] = 0
		c.nextAlive = nil
		return
	}
	prev := tail
	for prev.nextAlive != c {
		prev = prev.nextAlive
		if prev == tail {
			c.nextAlive = nil
			return
		}
	}
	prev.nextAlive = c.nextAlive
	if tail == c {
		d.activeTail[p] = prev
	}
	if d.ringLen[p] > 0 {
		d.ringLen[p]--
	}
	c.nextAlive = nil
}

func (d *CBQ) deactivate(c *Class) {
	if c.nextAlive == nil {
		return
	}
	d.deactivateBand(c, c.effPriority)
}

// underLimit reports whether c may send now, either directly or by
// borrowing from an ancestor under the toplevel cap.
func (d *CBQ) underLimit(c *Class) (eligible *Class, borrowed *Class) {
	if c.undertime <= d.nowVirtual {
		return c, nil
	}
	for b := c.borrow; b != nil; b = b.borrow {
		if b.undertime <= d.nowVirtual && b.level <= d.toplevel {
			return c, b
		}
	}
	return nil, nil
}

// dequeueBand runs one bounded pass of weighted round robin over band's
// active ring, returning the first packet it is able to
// send. It gives up after visiting every currently-active class in the
// band once without producing a packet, leaving the ring state as-is for
// the next call (the watchdog timer will retry once a class's undertime
// elapses).
func (d *CBQ) dequeueBand(band int) (*pkt.Pkt, bool) {
	attempts := d.ringLen[band]
	for attempts > 0 {
		tail := d.activeTail[band]
		if tail == nil {
			return nil, false
		}
		head := tail.nextAlive

		if head.Len() == 0 {
			d.deactivateBand(head, band)
			attempts = d.ringLen[band]
			continue
		}

		if elig, borrowed := d.underLimit(head); elig != nil {
			if head.deficit <= 0 {
				head.deficit += int32(head.quantum)
				d.activeTail[band] = head
				attempts--
				continue
			}
			p, ok := head.inner.Dequeue()
			if !ok {
				d.deactivateBand(head, band)
				attempts = d.ringLen[band]
				continue
			}
			head.deficit -= int32(p.Len())
			d.recordTx(elig, borrowed, p.Len())
			return p, true
		}

		d.overlimit(head)
		if d.activeTail[band] == head || (d.activeTail[band] != nil && d.activeTail[band].nextAlive == head) {
			d.activeTail[band] = head
		}
		attempts--
	}
	return nil, false
}

func (d *CBQ) dequeueLocked() (*pkt.Pkt, bool) {
	for band := 0; band < MaxPrio; band++ {
		if d.activeMask&(1<<uint(band)) == 0 {
			continue
		}
		if p, ok := d.dequeueBand(band); ok {
			return p, true
		}
	}
	return nil, false
}

// Dequeue implements qdisc.Qdisc. Every call advances the discipline's
// virtual/real time integrator regardless of whether a
// packet was produced, and rearms the watchdog timer when nothing was.
func (d *CBQ) Dequeue() (*pkt.Pkt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.dequeueLocked()
	if !ok {
		d.advanceClock(false, nil, 0)
		d.rearmWatchdog()
		return nil, false
	}
	d.advanceClock(true, d.txClass, d.txLen)
	d.updateToplevelAfterAccounting()
	return p, true
}

// recordTx stashes which class (and, if borrowing, which ancestor) served
// the packet about to be returned from Dequeue, so advanceClock/Requeue can
// use it without threading it through dequeueBand's return value.
func (d *CBQ) recordTx(c, borrowed *Class, length int) {
	d.txClass = c
	d.txBorrowed = borrowed
	d.txLen = length
	if borrowed != nil {
		c.stats.Borrows++
	}
}

// advanceClock implements the discipline's time integrator: virtual
// time always advances by at least the elapsed real time, and by the rate
// table's transmission cost when a packet was actually sent.
func (d *CBQ) advanceClock(sent bool, c *Class, length int) {
	nowReal := int64(d.clock.Now())
	incrReal := nowReal - d.lastReal
	d.lastReal = nowReal
	if incrReal < 0 {
		incrReal = 0
	}
	if sent && c != nil {
		work := int64(d.root.rate.Cost(length))
		d.nowVirtual += work
		d.updateIdle(c, length)
		incrReal -= work
		if incrReal < 0 {
			incrReal = 0
		}
	}
	d.nowVirtual += incrReal
}

// updateIdle walks c's share chain, updating each ancestor's idle-time
// EWMA and undertime.
func (d *CBQ) updateIdle(c *Class, length int) {
	rootCost := int64(d.root.rate.Cost(length))
	for anc := c; anc != nil; anc = anc.share {
		ownCost := int64(anc.rate.Cost(length))
		idle := d.nowVirtual - anc.last - ownCost
		anc.avgIdle += idle - (anc.avgIdle >> anc.ewmaLog)
		if anc.avgIdle > anc.maxIdle {
			anc.avgIdle = anc.maxIdle
		}
		if anc.avgIdle < anc.minIdle {
			anc.avgIdle = anc.minIdle
		}
		if anc.avgIdle <= 0 {
			wait := -anc.avgIdle - ((-anc.avgIdle) >> anc.ewmaLog)
			wait -= rootCost
			wait += ownCost
			anc.undertime = d.nowVirtual + wait
		} else {
			anc.undertime = neverEligible
		}
		anc.last = d.nowVirtual
	}
}

// updateToplevelAfterAccounting widens toplevel back out to the level
// of the topmost backlogged,
// in-limit ancestor.
func (d *CBQ) updateToplevelAfterAccounting() {
	best := d.toplevel
	found := false
	var walk func(c *Class)
	walk = func(c *Class) {
		if c.Len() > 0 && c.undertime <= d.nowVirtual {
			if !found || c.level > best {
				best = c.level
				found = true
			}
		}
		for _, ch := range c.children {
			walk(ch)
		}
	}
	walk(d.root)
	if found {
		d.toplevel = best
	}
}
