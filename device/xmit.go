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
	"sync/atomic"

	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/qdisc"
)

type txGuardKey struct{}

// withTxGuard marks ctx as already inside the transmit path for d, so a
// driver that calls back into QueueXmit synchronously (a loopback driver
// handing a packet straight to the receive softirq which, in the same call
// stack, routes it back out the same device) can be caught before it
// deadlocks on d.txlock, rather than after.
func withTxGuard(ctx context.Context, d *Device) context.Context {
	return context.WithValue(ctx, txGuardKey{}, d)
}

func inTxGuard(ctx context.Context, d *Device) bool {
	v, _ := ctx.Value(txGuardKey{}).(*Device)
	return v == d
}

// QueueXmit is dev_queue_xmit: it hands p to the attached discipline if
// one is grafted, or straight to the driver if not. p.Device()
// is set to d regardless of which path is taken.
func (d *Device) QueueXmit(ctx context.Context, p *pkt.Pkt) error {
	p.SetDevice(d)

	d.qlock.Lock()
	qd := d.qd
	if qd != nil {
		res, err := qd.Enqueue(p)
		d.qlock.Unlock()
		if res == qdisc.Dropped {
			atomic.AddUint64(&d.stats.TxDropped, 1)
			return err
		}
		d.qdiscRun(ctx)
		return nil
	}
	d.qlock.Unlock()

	return d.xmitDirect(ctx, p)
}

// xmitDirect is the no-discipline fast path: straight to the driver under
// the transmit lock, with reentrancy detected via the context guard before
// the lock is ever touched.
func (d *Device) xmitDirect(ctx context.Context, p *pkt.Pkt) error {
	if !d.IsUp() {
		p.Free()
		return ErrDown
	}
	if d.driver == nil {
		p.Free()
		return ErrNoDriver
	}
	if inTxGuard(ctx, d) {
		p.Free()
		return ErrReentrantXmit
	}

	d.types.SendToTaps(p, d, nil)

	guardedCtx := withTxGuard(ctx, d)
	d.txlock.Lock()
	res, err := d.driver.HardStartXmit(guardedCtx, p)
	d.txlock.Unlock()

	if err != nil || res == XmitBusy {
		atomic.AddUint64(&d.stats.TxDropped, 1)
		p.Free()
		return ErrBusy
	}
	atomic.AddUint64(&d.stats.TxPackets, 1)
	return nil
}

// qdiscRun is __qdisc_run/__qdisc_wakeup: it repeatedly dequeues from the
// attached discipline and hands packets to the driver until the driver is
// busy or the discipline empties. On a busy driver the packet is requeued
// and the discipline will be kicked again by its own watchdog or the next
// QueueXmit call.
func (d *Device) qdiscRun(ctx context.Context) {
	for {
		d.qlock.Lock()
		qd := d.qd
		if qd == nil {
			d.qlock.Unlock()
			return
		}
		p, ok := qd.Dequeue()
		d.qlock.Unlock()
		if !ok {
			return
		}

		if !d.IsUp() {
			p.Free()
			continue
		}
		if d.driver == nil {
			p.Free()
			continue
		}

		d.types.SendToTaps(p, d, nil)

		guardedCtx := withTxGuard(ctx, d)
		d.txlock.Lock()
		res, err := d.driver.HardStartXmit(guardedCtx, p)
		d.txlock.Unlock()

		if err != nil || res == XmitBusy {
			d.qlock.Lock()
			qd.Requeue(p)
			d.qlock.Unlock()
			atomic.AddUint64(&d.stats.TxRequeued, 1)
			return
		}
		atomic.AddUint64(&d.stats.TxPackets, 1)
	}
}

// Kick implements qdisc.Kicker: it is called by a discipline's watchdog
// timer (CBQ's watchdog) once it believes packets are eligible
// to flow again, and simply resumes pumping the discipline.
func (d *Device) Kick() {
	d.qdiscRun(context.Background())
}

// StatsSnapshot returns a snapshot of the device's transmit/receive counters.
func (d *Device) StatsSnapshot() Stats {
	return Stats{
		RxPackets:  atomic.LoadUint64(&d.stats.RxPackets),
		RxDropped:  atomic.LoadUint64(&d.stats.RxDropped),
		TxPackets:  atomic.LoadUint64(&d.stats.TxPackets),
		TxDropped:  atomic.LoadUint64(&d.stats.TxDropped),
		TxRequeued: atomic.LoadUint64(&d.stats.TxRequeued),
	}
}
