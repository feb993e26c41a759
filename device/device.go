/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package device implements the network-device abstraction, the packet-type
// dispatch table, the receive softirq, and the transmit path. A Device
// is the thing a queueing discipline (package qdisc) is attached to; the
// AF_UNIX family (package unixsock) does not go through it.
package device

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/qdisc"
)

// Flags mirrors the subset of device flags this core tracks.
type Flags uint32

const (
	Up Flags = 1 << iota
	Running
	Promisc
	AllMulti
	Loopback
	NoArp
	Broadcast
	Multicast
)

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{Up, "UP"}, {Running, "RUNNING"}, {Promisc, "PROMISC"},
		{AllMulti, "ALLMULTI"}, {Loopback, "LOOPBACK"}, {NoArp, "NOARP"},
		{Broadcast, "BROADCAST"}, {Multicast, "MULTICAST"},
	}
	out := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if out != "" {
				out += ","
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// XmitResult is what a Driver reports after HardStartXmit.
type XmitResult int

const (
	XmitOk XmitResult = iota
	XmitBusy
)

// Driver is the device-specific half of the transmit path: the code that
// actually puts bytes on a wire (or, for the loopback driver, hands them
// straight back to the receive softirq).
type Driver interface {
	HardStartXmit(ctx context.Context, p *pkt.Pkt) (XmitResult, error)
	ChangeMTU(mtu int) error
	SetMACAddress(addr net.HardwareAddr) error
	SetMulticastList(addrs []net.HardwareAddr) error
}

// HeaderBuilder is implemented by drivers that need a link-layer header
// pushed onto outgoing packets before HardStartXmit; devices without one
// (loopback, a raw tap) simply omit it.
type HeaderBuilder interface {
	HardHeader(p *pkt.Pkt, dst net.HardwareAddr, protocol uint16) (int, error)
}

var (
	ErrNameTooLong  = errors.New("device: name exceeds 15 bytes")
	ErrDown         = errors.New("device: device is down")
	ErrNoDriver     = errors.New("device: no driver attached")
	ErrBusy         = errors.New("device: driver reported busy")
	ErrReentrantXmit = errors.New("device: recursive dev_queue_xmit detected on same device")
)

// Device is a single network interface: its driver, its attached queueing
// discipline, and the locks that order access to both per this core's
// seven-level locking hierarchy (levels 5 and 6 live here; levels 1-4 live in
// Registry and the unixsock socket table).
type Device struct {
	name    string
	ifindex int

	mu     sync.RWMutex // guards mtu, flags, hwaddr, mcast
	mtu    int
	flags  Flags
	hwaddr net.HardwareAddr
	mcast  []net.HardwareAddr

	driver        Driver
	hdrBuilder    HeaderBuilder
	hardHeaderLen int

	qlock sync.Mutex // level 5: guards qd
	qd    qdisc.Qdisc

	txlock sync.Mutex // level 6: guards the driver call itself

	// types starts out as a private table so a Device can be built and
	// exercised standalone (as the device package's own tests do); Registry
	// overwrites it with its shared, process-wide table on Register, the way
	// every device in a running kernel shares the one ptype_base.
	types *TypeRegistry

	softirq *Softirq

	refcount int32 // atomic; 1 while registered, additional holds from in-flight work

	stats Stats
}

// Stats are the per-device counters, exposed over the control plane in
// DeviceList's results.
type Stats struct {
	RxPackets  uint64
	RxDropped  uint64
	TxPackets  uint64
	TxDropped  uint64
	TxRequeued uint64
}

// NewDevice constructs a Device bound to driver, not yet registered.
func NewDevice(name string, hardHeaderLen int, driver Driver) (*Device, error) {
	if len(name) == 0 || len(name) > 15 {
		return nil, ErrNameTooLong
	}
	return &Device{
		name:          name,
		driver:        driver,
		hardHeaderLen: hardHeaderLen,
		mtu:           1500,
		types:         NewTypeRegistry(),
		refcount:      1,
	}, nil
}

// Name and Index satisfy pkt.DeviceRef.
func (d *Device) Name() string { return d.name }
func (d *Device) Index() int   { return d.ifindex }

func (d *Device) setIndex(i int) { d.ifindex = i }

// SetHeaderBuilder attaches the optional HardHeader implementation.
func (d *Device) SetHeaderBuilder(hb HeaderBuilder) { d.hdrBuilder = hb }

// Hold and Release implement the extra-reference counting Registry.Unregister
// drains on before tearing a Device down: anything that keeps a *Device
// around across a goroutine boundary (a pending softirq dispatch, a CBQ
// class holding a backreference) should Hold it first.
func (d *Device) Hold()    { atomic.AddInt32(&d.refcount, 1) }
func (d *Device) Release() { atomic.AddInt32(&d.refcount, -1) }

func (d *Device) refs() int32 { return atomic.LoadInt32(&d.refcount) }

// Flags returns the current flag set.
func (d *Device) Flags() Flags {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.flags
}

func (d *Device) setFlag(f Flags, on bool) {
	d.mu.Lock()
	if on {
		d.flags |= f
	} else {
		d.flags &^= f
	}
	d.mu.Unlock()
}

// IsUp reports whether the device is administratively and operationally up.
func (d *Device) IsUp() bool {
	f := d.Flags()
	return f&Up != 0 && f&Running != 0
}

// MTU returns the current maximum transmission unit.
func (d *Device) MTU() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mtu
}

// SetMTU validates and applies a new MTU via the driver.
func (d *Device) SetMTU(mtu int) error {
	if d.driver == nil {
		return ErrNoDriver
	}
	if err := d.driver.ChangeMTU(mtu); err != nil {
		return err
	}
	d.mu.Lock()
	d.mtu = mtu
	d.mu.Unlock()
	return nil
}

// HardwareAddr returns the device's link-layer address.
func (d *Device) HardwareAddr() net.HardwareAddr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hwaddr
}

// SetHardwareAddr validates and applies a new link-layer address.
func (d *Device) SetHardwareAddr(addr net.HardwareAddr) error {
	if d.driver == nil {
		return ErrNoDriver
	}
	if err := d.driver.SetMACAddress(addr); err != nil {
		return err
	}
	d.mu.Lock()
	d.hwaddr = addr
	d.mu.Unlock()
	return nil
}

// SetMulticastList replaces the joined multicast group list.
func (d *Device) SetMulticastList(addrs []net.HardwareAddr) error {
	if d.driver == nil {
		return ErrNoDriver
	}
	if err := d.driver.SetMulticastList(addrs); err != nil {
		return err
	}
	d.mu.Lock()
	d.mcast = addrs
	d.mu.Unlock()
	return nil
}

// Qdisc returns the currently attached discipline, or nil.
func (d *Device) Qdisc() qdisc.Qdisc {
	d.qlock.Lock()
	defer d.qlock.Unlock()
	return d.qd
}

// Graft replaces the attached discipline, tearing down the old one and
// wiring the new one's Kicker to this Device. The old discipline is
// returned after its Destroy has already run.
func (d *Device) Graft(nq qdisc.Qdisc) (old qdisc.Qdisc, err error) {
	d.qlock.Lock()
	defer d.qlock.Unlock()
	old = d.qd
	if nq != nil {
		if err = nq.Init(); err != nil {
			return old, err
		}
		nq.SetKicker(d)
	}
	d.qd = nq
	if old != nil {
		old.Destroy()
	}
	return old, nil
}

// Types exposes the packet-type / taps registry this device dispatches
// through: its own private table until Registry.Register binds it to the
// registry's shared one.
func (d *Device) Types() *TypeRegistry { return d.types }

// bindTypes is called by Registry.Register to switch the device over to the
// registry-wide TypeRegistry every other registered device shares.
func (d *Device) bindTypes(tr *TypeRegistry) { d.types = tr }

// SetSoftirq attaches the receive-side backlog drainer this device's driver
// feeds via NetifRx. A driver with no receive path of its own (none yet
// besides LoopbackDriver) leaves this unset, and Softirq returns nil.
func (d *Device) SetSoftirq(s *Softirq) { d.softirq = s }

// Softirq returns the backlog drainer registered via SetSoftirq, or nil.
func (d *Device) Softirq() *Softirq { return d.softirq }

// HardHeaderLen returns the link-layer header length drivers must leave
// headroom for.
func (d *Device) HardHeaderLen() int { return d.hardHeaderLen }
