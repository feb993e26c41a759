/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"sync"
	"sync/atomic"

	"github.com/gravwell/netcore/pkt"
)

// ProtoAll is the sentinel protocol id meaning "every protocol", used by
// entries registered into the linear taps chain: a packet type registered
// with protocol ALL sees every frame on every device.
const ProtoAll uint16 = 0xFFFF

// Handler processes one delivered packet. Handlers that need to retain p
// past return must Clone it first; ownership of p itself passes to the last
// handler in a dispatch, which is responsible for eventually Free()ing it.
type Handler func(p *pkt.Pkt, dev *Device) error

// PacketTypeEntry is one registration in a TypeRegistry: "deliver frames
// matching Proto (and, if set, only arriving on Dev) to Handler."
type PacketTypeEntry struct {
	Proto   uint16
	Dev     *Device // nil matches every device
	Handler Handler
	// Owner, when non-nil, marks this entry as belonging to a raw socket
	// rather than an in-kernel protocol stack; SendToTaps consults it to
	// avoid looping a packet back to the socket that sent it.
	Owner interface{}

	id uint64
}

// TypeRegistry is level 2 of the locking hierarchy: one process-wide
// packet-type dispatch table, shared by every device registered against the
// same Registry, exactly as the original's file-scope `ptype_base`/`ptype_all`
// statics are shared by every net_bh invocation regardless of which device
// queued the frame. A registration's Dev filter, not a separate table per
// device, is what narrows delivery to one device.
type TypeRegistry struct {
	mu     sync.RWMutex
	hashed [16][]*PacketTypeEntry
	taps   []*PacketTypeEntry
	nextID uint64

	tapCount int32 // atomic, mirrors len(taps) for the transmit fast path
}

// NewTypeRegistry returns an empty packet-type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{}
}

// ntohs swaps the byte order of a 16-bit protocol id, matching the
// network-to-host conversion the protocol hash is keyed on.
func ntohs(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

func hashIndex(proto uint16) int {
	return int(ntohs(proto) & 0xF)
}

// AddPack installs e into the registry, assigning it an id for later
// RemovePack. Entries with Proto == ProtoAll go into the linear taps chain;
// all others go into the hashed chain keyed by the low nibble of ntohs(Proto).
func (r *TypeRegistry) AddPack(e *PacketTypeEntry) *PacketTypeEntry {
	r.mu.Lock()
	r.nextID++
	e.id = r.nextID
	if e.Proto == ProtoAll {
		r.taps = append(r.taps, e)
		atomic.AddInt32(&r.tapCount, 1)
	} else {
		idx := hashIndex(e.Proto)
		r.hashed[idx] = append(r.hashed[idx], e)
	}
	r.mu.Unlock()
	return e
}

// RemovePack removes an entry previously returned by AddPack.
func (r *TypeRegistry) RemovePack(e *PacketTypeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Proto == ProtoAll {
		for i, t := range r.taps {
			if t.id == e.id {
				r.taps = append(r.taps[:i], r.taps[i+1:]...)
				atomic.AddInt32(&r.tapCount, -1)
				return
			}
		}
		return
	}
	idx := hashIndex(e.Proto)
	chain := r.hashed[idx]
	for i, c := range chain {
		if c.id == e.id {
			r.hashed[idx] = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

// HasTaps reports whether any tap is currently registered, letting the
// transmit path skip the clone-and-deliver step entirely when nothing is
// listening.
func (r *TypeRegistry) HasTaps() bool {
	return atomic.LoadInt32(&r.tapCount) > 0
}

// SendToTaps delivers a clone of p to every registered tap interested in
// dev, skipping an entry whose Owner equals origin (so a raw socket does
// not see its own outbound traffic echoed back to it). It never consumes p.
func (r *TypeRegistry) SendToTaps(p *pkt.Pkt, dev *Device, origin interface{}) {
	if !r.HasTaps() {
		return
	}
	r.mu.RLock()
	taps := append([]*PacketTypeEntry(nil), r.taps...)
	r.mu.RUnlock()
	for _, t := range taps {
		if t.Dev != nil && t.Dev != dev {
			continue
		}
		if origin != nil && t.Owner == origin {
			continue
		}
		c := p.Clone()
		if err := t.Handler(c, dev); err != nil {
			c.Free()
		}
	}
}

// Dispatch delivers p to every tap and then to the hashed-chain entries
// matching p's protocol and dev: all but the last matching hashed entry
// receive a clone, and the last receives the
// original (unshared) packet. If nothing in the hashed chain matches, p is
// freed. It reports whether any hashed entry matched.
func (r *TypeRegistry) Dispatch(p *pkt.Pkt, dev *Device) bool {
	r.mu.RLock()
	taps := append([]*PacketTypeEntry(nil), r.taps...)
	chain := append([]*PacketTypeEntry(nil), r.hashed[hashIndex(p.Protocol())]...)
	r.mu.RUnlock()

	for _, t := range taps {
		if t.Dev != nil && t.Dev != dev {
			continue
		}
		c := p.Clone()
		if err := t.Handler(c, dev); err != nil {
			c.Free()
		}
	}

	var pending *PacketTypeEntry
	for _, e := range chain {
		if e.Proto != p.Protocol() {
			continue
		}
		if e.Dev != nil && e.Dev != dev {
			continue
		}
		if pending != nil {
			c := p.Clone()
			if err := pending.Handler(c, dev); err != nil {
				c.Free()
			}
		}
		pending = e
	}
	if pending == nil {
		p.Free()
		return false
	}
	if err := pending.Handler(p, dev); err != nil {
		p.Free()
	}
	return true
}
