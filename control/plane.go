/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package control

import (
	"errors"
	"net"
	"sync"

	"github.com/gravwell/netcore/cbq"
	"github.com/gravwell/netcore/device"
	"github.com/gravwell/netcore/qdisc"
	"github.com/gravwell/netcore/timer"
)

// Plane is the control-plane surface: a thin, typed wrapper over a
// device.Registry and the CBQ disciplines grafted onto its devices,
// translating package-specific errors into the Errno taxonomy above.
type Plane struct {
	reg   *device.Registry
	clock *timer.Service

	mu    sync.RWMutex
	discs map[uint32]*cbq.CBQ // keyed by qdisc handle
}

// NewPlane wraps an existing registry and clock.
func NewPlane(reg *device.Registry, clock *timer.Service) *Plane {
	return &Plane{reg: reg, clock: clock, discs: make(map[uint32]*cbq.CBQ)}
}

// DeviceInfo is DeviceList's per-device result row.
type DeviceInfo struct {
	Name    string
	Index   int
	MTU     int
	Flags   device.Flags
	HWAddr  net.HardwareAddr
	Stats   device.Stats
	Qdisc   uint32
	QdiscOn bool
}

// DeviceList returns a snapshot of every registered device.
func (p *Plane) DeviceList() []DeviceInfo {
	devs := p.reg.List()
	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := DeviceInfo{
			Name:   d.Name(),
			Index:  d.Index(),
			MTU:    d.MTU(),
			Flags:  d.Flags(),
			HWAddr: d.HardwareAddr(),
			Stats:  d.StatsSnapshot(),
		}
		if q := d.Qdisc(); q != nil {
			info.Qdisc = q.Handle()
			info.QdiscOn = true
		}
		out = append(out, info)
	}
	return out
}

// DeviceSet is a sparse update to a device: only the non-nil fields are
// applied.
type DeviceSet struct {
	Name   string
	MTU    *int
	HWAddr net.HardwareAddr
	Up     *bool
}

// DeviceSet applies a sparse update to a registered device.
func (p *Plane) DeviceSet(cmd DeviceSet) Errno {
	dev, ok := p.reg.Lookup(cmd.Name)
	if !ok {
		return ErrNoDev
	}
	if cmd.MTU != nil {
		if err := dev.SetMTU(*cmd.MTU); err != nil {
			return toErrno(err)
		}
	}
	if cmd.HWAddr != nil {
		if err := dev.SetHardwareAddr(cmd.HWAddr); err != nil {
			return toErrno(err)
		}
	}
	if cmd.Up != nil {
		var err error
		if *cmd.Up {
			err = p.reg.Up(dev)
		} else {
			err = p.reg.Down(dev)
		}
		if err != nil {
			return toErrno(err)
		}
	}
	return ErrNone
}

// QdiscCreate builds and grafts a new qdisc of Kind onto Device.
type QdiscCreate struct {
	Device string
	Handle uint32
	Kind   string // "pfifo", "noop", "cbq"
	Limit  int    // pfifo only
	Root   cbq.ClassParams
}

func (p *Plane) QdiscCreate(cmd QdiscCreate) Errno {
	dev, ok := p.reg.Lookup(cmd.Device)
	if !ok {
		return ErrNoDev
	}
	var q qdisc.Qdisc
	switch cmd.Kind {
	case "noop":
		q = qdisc.NewNoop(cmd.Handle)
	case "pfifo":
		limit := cmd.Limit
		if limit == 0 {
			limit = 1000
		}
		q = qdisc.NewPFIFO(cmd.Handle, limit)
	case "cbq":
		cmd.Root.ID = cmd.Handle
		disc, err := cbq.New(cmd.Handle, cmd.Root, p.clock)
		if err != nil {
			return toErrno(err)
		}
		p.mu.Lock()
		p.discs[cmd.Handle] = disc
		p.mu.Unlock()
		q = disc
	default:
		return ErrInval
	}
	if _, err := dev.Graft(q); err != nil {
		return toErrno(err)
	}
	return ErrNone
}

// QdiscDelete grafts a noop qdisc in place of whatever device currently
// runs, discarding the old one.
func (p *Plane) QdiscDelete(deviceName string) Errno {
	dev, ok := p.reg.Lookup(deviceName)
	if !ok {
		return ErrNoDev
	}
	old, err := dev.Graft(qdisc.NewNoop(1))
	if err != nil {
		return toErrno(err)
	}
	if old != nil {
		p.mu.Lock()
		delete(p.discs, old.Handle())
		p.mu.Unlock()
		old.Destroy()
	}
	return ErrNone
}

// QdiscGraft replaces the qdisc on Device with New, returning the discipline
// it replaced (already destroyed by Device.Graft). "Device" stands in for a parent handle here,
// since this core has no nested qdisc parents beyond CBQ's own class tree.
type QdiscGraft struct {
	Device string
	New    qdisc.Qdisc
}

func (p *Plane) QdiscGraft(cmd QdiscGraft) (old qdisc.Qdisc, errno Errno) {
	dev, ok := p.reg.Lookup(cmd.Device)
	if !ok {
		return nil, ErrNoDev
	}
	old, err := dev.Graft(cmd.New)
	if err != nil {
		return nil, toErrno(err)
	}
	return old, ErrNone
}

// ClassCreate creates a CBQ class on an existing discipline.
type ClassCreate struct {
	Disc   uint32 // qdisc handle
	Params cbq.ClassParams
}

func (p *Plane) ClassCreate(cmd ClassCreate) Errno {
	disc, ok := p.disc(cmd.Disc)
	if !ok {
		return ErrNoDev
	}
	if _, err := disc.Create(cmd.Params); err != nil {
		return toErrno(err)
	}
	return ErrNone
}

// ClassModify updates an existing class's parameters in place.
func (p *Plane) ClassModify(discHandle, classID uint32, params cbq.ClassParams) Errno {
	disc, ok := p.disc(discHandle)
	if !ok {
		return ErrNoDev
	}
	if err := disc.Modify(classID, params); err != nil {
		return toErrno(err)
	}
	return ErrNone
}

// ClassDelete removes a leaf class.
func (p *Plane) ClassDelete(discHandle, classID uint32) Errno {
	disc, ok := p.disc(discHandle)
	if !ok {
		return ErrNoDev
	}
	if err := disc.Delete(classID); err != nil {
		return toErrno(err)
	}
	return ErrNone
}

// ClassList enumerates every class on a discipline (the `control.ClassList`
// command).
func (p *Plane) ClassList(discHandle uint32) ([]*cbq.Class, Errno) {
	disc, ok := p.disc(discHandle)
	if !ok {
		return nil, ErrNoDev
	}
	return disc.Classes(), ErrNone
}

func (p *Plane) disc(handle uint32) (*cbq.CBQ, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.discs[handle]
	return d, ok
}

func toErrno(err error) Errno {
	switch {
	case err == nil:
		return ErrNone
	case errors.Is(err, device.ErrNameTooLong), errors.Is(err, cbq.ErrInvalidWeight),
		errors.Is(err, cbq.ErrInvalidPriority), errors.Is(err, cbq.ErrInvalidPriority2):
		return ErrInval
	case errors.Is(err, device.ErrDown):
		return ErrNetDown
	case errors.Is(err, device.ErrNoDriver), errors.Is(err, device.ErrReentrantXmit):
		return ErrPerm
	case errors.Is(err, device.ErrBusy), errors.Is(err, qdisc.ErrQueueFull), errors.Is(err, cbq.ErrClassBusy):
		return ErrBusy
	case errors.Is(err, device.ErrNotRegistered):
		return ErrNoDev
	case errors.Is(err, cbq.ErrClassExists):
		return ErrAddrInUse
	case errors.Is(err, cbq.ErrClassNotFound), errors.Is(err, cbq.ErrClassHasChildren),
		errors.Is(err, cbq.ErrClassHasFilters):
		return ErrInval
	}
	return ErrInval
}
