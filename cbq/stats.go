/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package cbq

import (
	"fmt"
	"time"

	"github.com/gravwell/netcore/pkt"
)

// Summary renders the discipline-wide counters on one line, with the byte
// count also shown as a human-readable rate over window (pkt.HumanRate).
func (s Stats) Summary(window time.Duration) string {
	return fmt.Sprintf("pkts=%d bytes=%d (%s) dropped=%d overlimits=%d requeues=%d",
		s.Packets, s.Bytes, pkt.HumanRate(s.Bytes, window), s.Dropped, s.Overlimits, s.Requeues)
}

// Summary renders one class's counters the same way.
func (s ClassStats) Summary(window time.Duration) string {
	return fmt.Sprintf("pkts=%d bytes=%d (%s) dropped=%d overactions=%d borrows=%d",
		s.Packets, s.Bytes, pkt.HumanRate(s.Bytes, window), s.Dropped, s.Overactions, s.Borrows)
}
