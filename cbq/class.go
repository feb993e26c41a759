/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package cbq implements Class-Based Queueing: a tree of classes
// scheduled by priority-banded weighted round robin, with per-class
// rate enforcement via idle-time estimation and a choice of overlimit
// strategies. CBQ implements qdisc.Qdisc so it can be grafted onto a
// device.Device exactly like the noop and pfifo disciplines in package
// qdisc.
package cbq

import (
	"errors"
	"math"

	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/qdisc"
)

// MaxPrio is the number of scheduling bands; 0 is the highest priority.
const MaxPrio = 8

// BestEffort is the default priority band a Reclassify verdict falls back to.
const BestEffort = MaxPrio - 1

// DefMapSize is the number of TOS-priority slots a split node's default map
// covers.
const DefMapSize = 33

// neverEligible is the undertime of a class that is not over its rate: it is
// set when a class is created and again whenever the rate accounting pass
// finds the class's average idle time positive, and it compares as already
// passed, so such a class is always under its limit.
const neverEligible = math.MinInt64

// OverlimitStrategy selects what happens when a class's under_limit check
// fails.
type OverlimitStrategy int

const (
	Classic OverlimitStrategy = iota
	RClassic
	Delay
	LowPrio
	Drop
)

func (s OverlimitStrategy) String() string {
	switch s {
	case Classic:
		return "classic"
	case RClassic:
		return "rclassic"
	case Delay:
		return "delay"
	case LowPrio:
		return "lowprio"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// Verdict is what a Classifier returns for a packet.
type Verdict int

const (
	NoMatch Verdict = iota
	MatchOk
	MatchReclassify
	MatchShot
)

// Classifier inspects a packet and optionally names a class id for it. A
// classifier that cannot decide returns NoMatch; classification then falls
// through to the current split node's default map.
type Classifier func(p *pkt.Pkt) (classID uint32, v Verdict)

var (
	ErrClassExists     = errors.New("cbq: class id already exists")
	ErrClassNotFound   = errors.New("cbq: class not found")
	ErrClassHasChildren = errors.New("cbq: class has children")
	ErrClassHasFilters = errors.New("cbq: class has bound classifiers")
	ErrInvalidWeight   = errors.New("cbq: weight must be > 0")
	ErrInvalidPriority = errors.New("cbq: priority out of range")
	ErrInvalidPriority2 = errors.New("cbq: priority2 must be strictly lower priority than priority")
)

// ClassParams is the full configuration of one class, as accepted by
// Create and Modify.
type ClassParams struct {
	ID       uint32
	ParentID uint32 // 0 means attach directly under the root

	Rate pkt.RateConfig

	EwmaLog uint8
	Avpkt   uint32
	MaxIdle int64
	MinIdle int64
	Offtime int64
	Bounded bool
	Isolated bool

	Priority  int
	Priority2 int
	Weight    uint32
	Allot     uint32

	Strategy  OverlimitStrategy
	PenaltyMS int64

	SplitID       uint32
	DefMapMask    uint32
	DefaultForMap []int // priorities (0..DefMapSize-1) this class becomes the default for
}

// Class is one node of the CBQ class tree.
type Class struct {
	id       uint32
	parent   *Class
	children []*Class
	level    int

	share  *Class
	borrow *Class

	priority    int
	priority2   int
	effPriority int
	weight      uint32
	allot       uint32
	quantum     int32
	deficit     int32

	rate    *pkt.RateTable
	ewmaLog uint8
	avpkt   uint32
	maxIdle int64
	minIdle int64
	offtime int64
	penalty int64
	avgIdle int64
	undertime int64
	last      int64

	bounded  bool
	isolated bool

	strategy OverlimitStrategy

	classifiers []Classifier

	inner qdisc.Qdisc

	defmap [DefMapSize]*Class
	split  *Class

	refcount      int32
	nextAlive     *Class
	delayed       bool
	penaltyActive bool
	penalized     int64

	stats ClassStats
}

// ClassStats are the per-class counters exposed for monitoring.
type ClassStats struct {
	Packets    uint64
	Bytes      uint64
	Dropped    uint64
	Overactions uint64
	Borrows    uint64
}

// ID returns the class's 32-bit identifier.
func (c *Class) ID() uint32 { return c.id }

// Level returns the class's tree level (0 = leaf).
func (c *Class) Level() int { return c.level }

// Len reports how many packets are queued in this class's own inner queue,
// not including descendants.
func (c *Class) Len() int {
	if c.inner == nil {
		return 0
	}
	return c.inner.Len()
}

// Stats returns a snapshot of this class's counters.
func (c *Class) Stats() ClassStats { return c.stats }

func (c *Class) isLeaf() bool { return len(c.children) == 0 }

// recomputeLevel recalculates level as max(child.level)+1, bubbling the
// change up to every ancestor, recomputing parent levels as it goes.
func (c *Class) recomputeLevel() {
	for cur := c; cur != nil; cur = cur.parent {
		maxChild := -1
		for _, ch := range cur.children {
			if ch.level > maxChild {
				maxChild = ch.level
			}
		}
		newLevel := maxChild + 1
		if len(cur.children) == 0 {
			newLevel = 0
		}
		if newLevel == cur.level {
			return
		}
		cur.level = newLevel
	}
}

// AddClassifier appends a classifier to this class's chain, consulted in
// registration order during classification.
func (c *Class) AddClassifier(cl Classifier) {
	c.classifiers = append(c.classifiers, cl)
}

// applyParams sets the non-tree-structural fields of a class from params;
// shared by create and modify.
func applyParams(c *Class, params ClassParams) error {
	if params.Weight == 0 {
		return ErrInvalidWeight
	}
	if params.Priority < 0 || params.Priority >= MaxPrio {
		return ErrInvalidPriority
	}
	if params.Strategy == LowPrio {
		if params.Priority2 <= params.Priority || params.Priority2 >= MaxPrio {
			return ErrInvalidPriority2
		}
	}
	rt, err := pkt.NewRateTable(params.Rate)
	if err != nil {
		return err
	}
	c.rate = rt
	c.ewmaLog = params.EwmaLog
	c.avpkt = params.Avpkt
	c.maxIdle = params.MaxIdle
	c.minIdle = params.MinIdle
	c.offtime = params.Offtime
	c.penalty = params.PenaltyMS * 1_000_000 // milliseconds to virtual-time nanoseconds
	c.bounded = params.Bounded
	c.isolated = params.Isolated
	c.priority = params.Priority
	c.priority2 = params.Priority2
	c.effPriority = params.Priority
	c.weight = params.Weight
	c.allot = params.Allot
	c.strategy = params.Strategy
	c.undertime = neverEligible
	return nil
}
