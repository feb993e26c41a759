/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package netconf

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gravwell/netcore/cbq"
	"github.com/gravwell/netcore/device"
	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/qdisc"
	"github.com/gravwell/netcore/timer"
)

// softirqBudget bounds how long a single Softirq.Run pass processes backlog
// before yielding, the per-CPU tick budget net_bh cooperatively respects.
const softirqBudget = 50 * time.Millisecond

// Built is the live result of applying a Config: every device registered,
// with its qdisc grafted on, and every CBQ discipline keyed by the [qdisc
// "..."] section name that produced it.
type Built struct {
	Devices map[string]*device.Device
	CBQs    map[string]*cbq.CBQ
}

// Apply registers every [device] section against reg, builds the qdisc
// each one names (pfifo/noop/cbq, the latter populated from every [class]
// section scoped to it), and grafts it on.
func Apply(cfg *Config, reg *device.Registry, clock *timer.Service) (*Built, error) {
	built := &Built{Devices: make(map[string]*device.Device), CBQs: make(map[string]*cbq.CBQ)}

	cbqQdiscs := make(map[string]bool)
	for name, qs := range cfg.Qdisc {
		if qs.Kind == "cbq" {
			cbqQdiscs[name] = true
		}
	}

	for name, qs := range cfg.Qdisc {
		if qs.Kind != "cbq" {
			continue
		}
		disc, err := buildCBQ(name, qs, cfg.Class, clock)
		if err != nil {
			return nil, fmt.Errorf("netconf: qdisc %q: %w", name, err)
		}
		built.CBQs[name] = disc
	}

	for name, ds := range cfg.Device {
		sirq := device.NewSoftirq(1024, softirqBudget)
		drv := device.NewLoopbackDriver(sirq)
		dev, err := device.NewDevice(name, ds.Hard_Header_Len, drv)
		if err != nil {
			return nil, fmt.Errorf("netconf: device %q: %w", name, err)
		}
		drv.SetDevice(dev)
		dev.SetSoftirq(sirq)
		if ds.MTU > 0 {
			if err := dev.SetMTU(ds.MTU); err != nil {
				return nil, fmt.Errorf("netconf: device %q: %w", name, err)
			}
		}
		if err := reg.Register(dev); err != nil {
			return nil, fmt.Errorf("netconf: device %q: %w", name, err)
		}

		q, err := resolveDeviceQdisc(ds, cfg.Qdisc, built.CBQs)
		if err != nil {
			return nil, fmt.Errorf("netconf: device %q: %w", name, err)
		}
		if q != nil {
			if _, err := dev.Graft(q); err != nil {
				return nil, fmt.Errorf("netconf: device %q: %w", name, err)
			}
		}
		built.Devices[name] = dev
	}
	return built, nil
}

func resolveDeviceQdisc(ds *DeviceSection, qdiscs map[string]*QdiscSection, built map[string]*cbq.CBQ) (qdisc.Qdisc, error) {
	switch ds.Qdisc {
	case "":
		return nil, nil
	case "noop":
		return qdisc.NewNoop(1), nil
	case "pfifo":
		return qdisc.NewPFIFO(1, 1000), nil
	default:
		if disc, ok := built[ds.Qdisc]; ok {
			return disc, nil
		}
		qs, ok := qdiscs[ds.Qdisc]
		if !ok {
			return nil, ErrUnknownQdisc
		}
		if qs.Kind == "pfifo" {
			handle, err := parseHandle(qs.Handle)
			if err != nil {
				return nil, err
			}
			limit := qs.Limit
			if limit == 0 {
				limit = 1000
			}
			return qdisc.NewPFIFO(handle, limit), nil
		}
		if qs.Kind == "noop" {
			handle, err := parseHandle(qs.Handle)
			if err != nil {
				return nil, err
			}
			return qdisc.NewNoop(handle), nil
		}
		return nil, ErrUnknownQdisc
	}
}

func buildCBQ(name string, qs *QdiscSection, classes map[string]*ClassSection, clock *timer.Service) (*cbq.CBQ, error) {
	handle, err := parseHandle(qs.Handle)
	if err != nil {
		return nil, err
	}
	rootRate, err := ParseRate(qs.Root_Rate)
	if err != nil {
		return nil, err
	}
	if rootRate == 0 {
		rootRate = 1_000_000_000 // 1gbit, a sane default link speed
	}

	rootParams := cbq.ClassParams{
		ID:      handle,
		Rate:    pkt.RateConfig{RateBps: uint64(rootRate), MPU: 0, Overhead: 0, CellLog: 3},
		EwmaLog: 5,
		Avpkt:   1000,
		MaxIdle: 1_000_000_000,
		MinIdle: -1_000_000_000,
		Priority: 0,
		Weight:   1,
		Allot:    1514,
		Strategy: cbq.Classic,
	}
	disc, err := cbq.New(handle, rootParams, clock)
	if err != nil {
		return nil, err
	}

	// Each [class "<qdisc>:<minor>"] section belongs to this tree if its
	// prefix matches; Parent is a bare minor id ("0", or empty, means the
	// qdisc's root class). Classes are created breadth-first so a child's
	// parent always already exists.
	prefix := name + ":"
	pending := make(map[string]*ClassSection) // minor id -> section
	for cname, cs := range classes {
		if strings.HasPrefix(cname, prefix) {
			pending[cname[len(prefix):]] = cs
		}
	}
	created := map[string]bool{"0": true}
	for len(pending) > 0 {
		progressed := false
		for minorHex, cs := range pending {
			parentMinor := cs.Parent
			if parentMinor == "" {
				parentMinor = "0"
			}
			if !created[parentMinor] {
				continue // parent not created yet, retry next round
			}
			parentMinorVal, err := strconv.ParseUint(parentMinor, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid parent id %q: %w", parentMinor, err)
			}
			parentID := (handle &^ 0xffff) | uint32(parentMinorVal)

			params, err := classParams(handle, minorHex, cs, parentID)
			if err != nil {
				return nil, err
			}
			if _, err := disc.Create(params); err != nil {
				return nil, fmt.Errorf("class %q:%s: %w", name, minorHex, err)
			}
			created[minorHex] = true
			delete(pending, minorHex)
			progressed = true
		}
		if !progressed {
			return nil, ErrUnknownParent
		}
	}
	return disc, nil
}

func classParams(qdiscHandle uint32, minorHex string, cs *ClassSection, parentID uint32) (cbq.ClassParams, error) {
	minor, err := strconv.ParseUint(minorHex, 16, 32)
	if err != nil {
		return cbq.ClassParams{}, fmt.Errorf("invalid class id %q: %w", minorHex, err)
	}
	rate, err := ParseRate(cs.Rate)
	if err != nil {
		return cbq.ClassParams{}, err
	}
	strategy, err := parseStrategy(cs.Strategy)
	if err != nil {
		return cbq.ClassParams{}, err
	}
	ewmaLog := cs.Ewma_Log
	if ewmaLog == 0 {
		ewmaLog = 5
	}
	avpkt := cs.Avpkt
	if avpkt == 0 {
		avpkt = 1000
	}
	weight := cs.Weight
	if weight == 0 {
		weight = 1
	}
	allot := cs.Allot
	if allot == 0 {
		allot = 1514
	}
	maxIdle, minIdle := cs.Max_Idle, cs.Min_Idle
	if maxIdle == 0 && minIdle == 0 {
		maxIdle, minIdle = 1_000_000_000, -1_000_000_000
	}

	return cbq.ClassParams{
		ID:        (qdiscHandle &^ 0xffff) | uint32(minor),
		ParentID:  parentID,
		Rate:      pkt.RateConfig{RateBps: uint64(rate), CellLog: 3},
		EwmaLog:   ewmaLog,
		Avpkt:     avpkt,
		MaxIdle:   maxIdle,
		MinIdle:   minIdle,
		Offtime:   cs.Offtime,
		Bounded:   cs.Bounded,
		Isolated:  cs.Isolated,
		Priority:  cs.Priority,
		Weight:    weight,
		Allot:     allot,
		Strategy:  strategy,
		PenaltyMS: cs.Penalty_MS,
	}, nil
}

func parseStrategy(s string) (cbq.OverlimitStrategy, error) {
	switch strings.ToLower(s) {
	case "", "classic":
		return cbq.Classic, nil
	case "rclassic":
		return cbq.RClassic, nil
	case "delay":
		return cbq.Delay, nil
	case "lowprio":
		return cbq.LowPrio, nil
	case "drop":
		return cbq.Drop, nil
	}
	return 0, ErrUnknownStrategy
}

// parseHandle accepts tc-style "major:minor" hex handles (e.g. "1:0"), or a
// bare major ("1") meaning minor 0.
func parseHandle(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("netconf: empty handle")
	}
	major, minor := s, "0"
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		major, minor = s[:idx], s[idx+1:]
		if minor == "" {
			minor = "0"
		}
	}
	maj, err := strconv.ParseUint(major, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("netconf: invalid handle %q: %w", s, err)
	}
	min, err := strconv.ParseUint(minor, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("netconf: invalid handle %q: %w", s, err)
	}
	return uint32(maj)<<16 | uint32(min), nil
}
