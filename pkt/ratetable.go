/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pkt

import (
	"errors"
	"math"
)

// rateCells is the number of entries in a RateTable, matching the classic
// 256-entry cell table indexed by length>>CellLog.
const rateCells = 256

var (
	ErrInvalidRate     = errors.New("pkt: rate must be > 0")
	ErrInvalidCellLog  = errors.New("pkt: cell_log out of range")
	ErrInvalidMPU      = errors.New("pkt: mpu must be >= 0")
)

// RateConfig describes the parameters used to build a RateTable: a
// configured bit rate, a minimum-packet-unit floor, a fixed per-packet
// overhead (e.g. link-layer framing), and a cell_log granularity that
// controls how finely the length axis is quantized.
type RateConfig struct {
	RateBps  uint64
	MPU      uint32
	Overhead uint32
	CellLog  uint8
}

// RateTable precomputes, for a configured bit-rate, the transmission time
// (in nanoseconds, saturating at math.MaxUint32, about 4.29 s) of a packet
// whose length falls in a given cell. Looking
// up a cost is then a shift and an array index rather than a division on
// the hot dequeue path.
type RateTable struct {
	cellLog uint8
	cells   [rateCells]uint32 // nanoseconds per cell
}

// NewRateTable builds a RateTable from cfg. CellLog must be small enough
// that 256 cells cover any realistic MTU (cell_log <= 8 is plenty; we allow
// up to 16 to match the historical cell-log ranges real implementations
// have shipped, treated here as defined behaviour rather than a bug to fix).
func NewRateTable(cfg RateConfig) (*RateTable, error) {
	if cfg.RateBps == 0 {
		return nil, ErrInvalidRate
	}
	if cfg.CellLog > 16 {
		return nil, ErrInvalidCellLog
	}
	rt := &RateTable{cellLog: cfg.CellLog}
	for i := 0; i < rateCells; i++ {
		length := uint32(i+1) << cfg.CellLog
		if length < cfg.MPU {
			length = cfg.MPU
		}
		length += cfg.Overhead
		// nanoseconds = bits * 1e9 / rate_bps
		ns := (uint64(length) * 8 * 1_000_000_000) / cfg.RateBps
		if ns > math.MaxUint32 {
			ns = math.MaxUint32
		}
		rt.cells[i] = uint32(ns)
	}
	return rt, nil
}

// Cost returns the transmission time in nanoseconds for a packet of the
// given length, clamping to the largest configured cell for oversized
// packets rather than indexing out of range.
func (rt *RateTable) Cost(length int) uint32 {
	if rt == nil || length < 0 {
		return 0
	}
	idx := length >> rt.cellLog
	if idx >= rateCells {
		idx = rateCells - 1
	}
	return rt.cells[idx]
}

// CellLog reports the table's configured granularity.
func (rt *RateTable) CellLog() uint8 { return rt.cellLog }
