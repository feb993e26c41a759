/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package cbq

// overlimit fires when under_limit found no eligible ancestor for c.
// Called with d.mu held.
func (d *CBQ) overlimit(c *Class) {
	c.stats.Overactions++
	d.stats.Overlimits++

	switch c.strategy {
	case Classic:
		d.classicPenalty(c)
	case RClassic:
		target := c
		for b := c.borrow; b != nil; b = b.borrow {
			if b.level <= d.toplevel {
				target = b
				break
			}
		}
		d.classicPenalty(target)
	case Delay:
		d.classicPenalty(c)
		d.deactivate(c)
		d.enterPenalty(c, c.penalty)
	case LowPrio:
		d.deactivate(c)
		c.effPriority = c.priority2
		d.activate(c)
		d.enterPenalty(c, c.penalty)
	case Drop:
		if n := c.inner.Drop(); n > 0 {
			c.stats.Dropped += uint64(n)
			d.stats.Dropped += uint64(n)
		}
		d.classicPenalty(c)
	}
}

// classicPenalty implements the Classic overlimit action: push c.undertime
// out by offtime from wherever it currently sits (or from now, if it has
// never been set), decaying avgidle once.
func (d *CBQ) classicPenalty(c *Class) {
	base := c.undertime
	if base == neverEligible {
		base = d.nowVirtual
	}
	delay := base - d.nowVirtual + c.offtime

	c.avgIdle -= c.avgIdle >> c.ewmaLog
	if c.avgIdle < c.minIdle {
		c.avgIdle = c.minIdle
	}
	if delay < 1 {
		delay = 1
	}
	c.undertime = d.nowVirtual + delay
	c.delayed = true
}

// enterPenalty starts c's Delay/LowPrio penalty, ending wait nanoseconds of
// virtual time from now. One delay timer per discipline serves every
// penalised class: scheduleDelayTimer scans all classes for the earliest
// pending penalty deadline.
func (d *CBQ) enterPenalty(c *Class, wait int64) {
	c.penaltyActive = true
	c.penalized = d.nowVirtual + wait
	d.scheduleDelayTimer()
}

// scheduleDelayTimer (re)arms the discipline's single delay timer to the
// earliest pending penalty deadline, if any.
func (d *CBQ) scheduleDelayTimer() {
	earliest := int64(-1)
	for _, c := range d.byID {
		if c.penaltyActive && (earliest == -1 || c.penalized < earliest) {
			earliest = c.penalized
		}
	}
	if earliest == -1 {
		return
	}
	d.delayTimerHandle = d.clock.Rearm(d.delayTimerHandle, vtimeDelay(earliest-d.nowVirtual), d.onDelayTimerFire)
}

// onDelayTimerFire scans every class with a pending penalty, restoring
// those whose deadline has passed and rearming for the rest.
func (d *CBQ) onDelayTimerFire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.byID {
		if !c.penaltyActive || c.penalized > d.nowVirtual {
			continue
		}
		c.penaltyActive = false
		c.delayed = false
		if c.effPriority != c.priority {
			d.deactivate(c)
			c.effPriority = c.priority
		}
		if c.nextAlive == nil && c.Len() > 0 {
			d.activate(c)
		}
	}
	d.scheduleDelayTimer()
}

// rearmWatchdog arms the discipline's watchdog timer: when Dequeue
// produces nothing, rearm to the nearest future undertime among backlogged
// classes so the device is kicked as soon as one becomes eligible again.
func (d *CBQ) rearmWatchdog() {
	best := int64(-1)
	var walk func(c *Class)
	walk = func(c *Class) {
		if c.Len() > 0 && c.undertime > d.nowVirtual {
			if best == -1 || c.undertime < best {
				best = c.undertime
			}
		}
		for _, ch := range c.children {
			walk(ch)
		}
	}
	walk(d.root)
	if best == -1 {
		return
	}
	d.throttled = true
	d.watchdog = d.clock.Rearm(d.watchdog, vtimeDelay(best-d.nowVirtual), d.onWatchdogFire)
}

func (d *CBQ) onWatchdogFire() {
	d.mu.Lock()
	d.throttled = false
	k := d.kicker
	d.mu.Unlock()
	if k != nil {
		k.Kick()
	}
}
