/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"time"

	"github.com/gravwell/netcore/device"
	"github.com/gravwell/netcore/pkt"
)

// idleBackoff is how long a device's softirq loop sleeps after a Run pass
// that drained nothing, so an idle device doesn't spin its goroutine.
const idleBackoff = 10 * time.Millisecond

// runSoftirqLoop repeatedly drains dev's backlog until ctx is cancelled or
// the device goes down, re-arming the way the original's net_bh is
// re-scheduled by mark_softirq on every new NetifRx rather than running
// once. A device with no receive path (SetSoftirq never called) returns
// immediately.
func runSoftirqLoop(ctx context.Context, dev *device.Device) {
	sirq := dev.Softirq()
	if sirq == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !dev.IsUp() {
			return
		}
		before := sirq.Handled()
		sirq.Run(ctx, dispatchToProtocols)
		if sirq.Handled() == before {
			time.Sleep(idleBackoff)
		}
	}
}

// dispatchToProtocols is the softirq's per-packet callback: hand the frame
// to dev's packet-type registry (the shared, registry-wide table once dev
// is registered), walking taps before the hashed protocol chain.
func dispatchToProtocols(p *pkt.Pkt, dev *device.Device) {
	if dev == nil {
		p.Free()
		return
	}
	dev.Types().Dispatch(p, dev)
}
