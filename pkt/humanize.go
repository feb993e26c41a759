/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pkt

import (
	"fmt"
	"time"

	"github.com/inhies/go-bytesize"
)

// HumanRate formats a byte count observed over dur as a human-readable
// throughput; cbq's Stats.Summary and ClassStats.Summary use it so a
// reader of a CBQ class's byte counters doesn't have to do the division.
func HumanRate(b uint64, dur time.Duration) string {
	if dur <= 0 {
		return "0 B/s"
	}
	bps := bytesize.New(float64(b) / dur.Seconds())
	return fmt.Sprintf("%s/s", bps)
}

// HumanSize formats a byte count using the standard binary-prefix units.
func HumanSize(b uint64) string {
	return bytesize.New(float64(b)).String()
}

// HumanLineRate formats a byte count observed over dur in bits per second,
// which is how link rates (RateConfig.RateBps) are normally discussed.
func HumanLineRate(b uint64, dur time.Duration) string {
	if dur <= 0 {
		return "0 bps"
	}
	bits := float64(b) * 8
	v := bits / dur.Seconds()
	units := []string{"bps", "Kbps", "Mbps", "Gbps", "Tbps"}
	i := 0
	for v >= 1000 && i < len(units)-1 {
		v /= 1000
		i++
	}
	return fmt.Sprintf("%.02f %s", v, units[i])
}
