/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"context"
	"net"

	"github.com/gravwell/netcore/pkt"
)

// LoopbackDriver hands every transmitted packet straight back to a
// Softirq's NetifRx, the minimal driver needed to exercise the full
// transmit-then-receive round trip without a real link.
type LoopbackDriver struct {
	softirq *Softirq
	dev     *Device
}

// NewLoopbackDriver returns a driver that feeds softirq on every transmit.
// SetDevice must be called once the owning Device exists, since the
// loopback needs to stamp the delivered packet's Type as Loopback and its
// Device backreference before handing it to the softirq.
func NewLoopbackDriver(softirq *Softirq) *LoopbackDriver {
	return &LoopbackDriver{softirq: softirq}
}

// SetDevice wires the driver to the Device it backs. Called once, after
// NewDevice, before the device is registered.
func (l *LoopbackDriver) SetDevice(d *Device) { l.dev = d }

func (l *LoopbackDriver) HardStartXmit(ctx context.Context, p *pkt.Pkt) (XmitResult, error) {
	p.SetType(pkt.Loopback)
	p.SetDevice(l.dev)
	l.softirq.NetifRx(p)
	return XmitOk, nil
}

func (l *LoopbackDriver) ChangeMTU(mtu int) error                         { return nil }
func (l *LoopbackDriver) SetMACAddress(addr net.HardwareAddr) error       { return nil }
func (l *LoopbackDriver) SetMulticastList(addrs []net.HardwareAddr) error { return nil }
