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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/qdisc"
)

type recordingDriver struct {
	mu   sync.Mutex
	sent [][]byte
	busy bool
}

func (d *recordingDriver) HardStartXmit(ctx context.Context, p *pkt.Pkt) (XmitResult, error) {
	if d.busy {
		return XmitBusy, nil
	}
	d.mu.Lock()
	d.sent = append(d.sent, append([]byte(nil), p.Bytes()...))
	d.mu.Unlock()
	p.Free()
	return XmitOk, nil
}
func (d *recordingDriver) ChangeMTU(int) error                         { return nil }
func (d *recordingDriver) SetMACAddress(net.HardwareAddr) error        { return nil }
func (d *recordingDriver) SetMulticastList([]net.HardwareAddr) error   { return nil }
func (d *recordingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func mkpkt(n int) *pkt.Pkt {
	p := pkt.New(n, 16)
	b, _ := p.Put(n)
	for i := range b {
		b[i] = byte(i)
	}
	return p
}

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	drv := &recordingDriver{}
	d, err := NewDevice("eth0", 14, drv)
	require.NoError(t, err)
	require.NoError(t, r.Register(d))

	got, ok := r.Lookup("eth0")
	require.True(t, ok)
	require.Same(t, d, got)

	require.NoError(t, r.Up(d))
	require.True(t, d.IsUp())

	require.NoError(t, r.Unregister(d, time.Second))
	_, ok = r.Lookup("eth0")
	require.False(t, ok)
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	d1, _ := NewDevice("eth0", 14, &recordingDriver{})
	d2, _ := NewDevice("eth0", 14, &recordingDriver{})
	require.NoError(t, r.Register(d1))
	require.ErrorIs(t, r.Register(d2), ErrNameTaken)
}

func TestPacketTypeDispatchOrdering(t *testing.T) {
	d, _ := NewDevice("eth0", 14, &recordingDriver{})
	var order []string
	var mu sync.Mutex
	record := func(name string) Handler {
		return func(p *pkt.Pkt, dev *Device) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			p.Free()
			return nil
		}
	}

	d.Types().AddPack(&PacketTypeEntry{Proto: ProtoAll, Handler: record("tap")})
	d.Types().AddPack(&PacketTypeEntry{Proto: 0x0800, Handler: record("first")})
	d.Types().AddPack(&PacketTypeEntry{Proto: 0x0800, Handler: record("second")})

	p := mkpkt(8)
	p.SetProtocol(0x0800)
	matched := d.Types().Dispatch(p, d)
	require.True(t, matched)
	require.Equal(t, []string{"tap", "first", "second"}, order)
}

func TestPacketTypeDispatchNoMatchFreesPacket(t *testing.T) {
	d, _ := NewDevice("eth0", 14, &recordingDriver{})
	p := mkpkt(8)
	p.SetProtocol(0x0806)
	matched := d.Types().Dispatch(p, d)
	require.False(t, matched)
}

func TestQueueXmitNoDiscipline(t *testing.T) {
	r := NewRegistry()
	drv := &recordingDriver{}
	d, _ := NewDevice("eth0", 14, drv)
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Up(d))

	err := d.QueueXmit(context.Background(), mkpkt(20))
	require.NoError(t, err)
	require.Equal(t, 1, drv.count())
}

func TestQueueXmitDownDropsPacket(t *testing.T) {
	drv := &recordingDriver{}
	d, _ := NewDevice("eth0", 14, drv)
	err := d.QueueXmit(context.Background(), mkpkt(20))
	require.ErrorIs(t, err, ErrDown)
	require.Equal(t, 0, drv.count())
}

func TestQueueXmitWithDisciplineDrains(t *testing.T) {
	r := NewRegistry()
	drv := &recordingDriver{}
	d, _ := NewDevice("eth0", 14, drv)
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Up(d))

	q := qdisc.NewPFIFO(1, 8)
	_, err := d.Graft(q)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.QueueXmit(context.Background(), mkpkt(10)))
	}
	require.Equal(t, 3, drv.count())
	require.Equal(t, 0, q.Len())
}

func TestQueueXmitRequeuesOnBusyDriverAndKickResumes(t *testing.T) {
	r := NewRegistry()
	drv := &recordingDriver{busy: true}
	d, _ := NewDevice("eth0", 14, drv)
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Up(d))

	q := qdisc.NewPFIFO(1, 8)
	d.Graft(q)

	require.NoError(t, d.QueueXmit(context.Background(), mkpkt(10)))
	require.Equal(t, 0, drv.count())
	require.Equal(t, 1, q.Len())

	drv.busy = false
	d.Kick()
	require.Equal(t, 1, drv.count())
	require.Equal(t, 0, q.Len())
}

func TestSoftirqBacklogAdmissionAndXoff(t *testing.T) {
	s := NewSoftirq(2, time.Second)
	var cleared bool
	s.AddXoffCallback(func() { cleared = true })

	s.NetifRx(mkpkt(4))
	s.NetifRx(mkpkt(4))
	require.Equal(t, 2, s.Backlog())

	s.NetifRx(mkpkt(4)) // over cap, dropped
	require.Equal(t, uint64(1), s.Dropped())
	require.Equal(t, 2, s.Backlog())

	var seen int
	s.Run(context.Background(), func(p *pkt.Pkt, dev *Device) {
		seen++
		p.Free()
	})
	require.Equal(t, 2, seen)
	require.True(t, cleared)
}

func TestLoopbackRoundTrip(t *testing.T) {
	s := NewSoftirq(16, time.Second)
	lb := NewLoopbackDriver(s)
	d, _ := NewDevice("lo", 0, lb)
	lb.SetDevice(d)
	d.setFlag(Up|Running|Loopback, true)

	var delivered *pkt.Pkt
	d.Types().AddPack(&PacketTypeEntry{
		Proto: 0x0800,
		Handler: func(p *pkt.Pkt, dev *Device) error {
			delivered = p
			return nil
		},
	})

	p := mkpkt(6)
	p.SetProtocol(0x0800)
	require.NoError(t, d.QueueXmit(context.Background(), p))

	s.Run(context.Background(), func(p *pkt.Pkt, dev *Device) {
		dev.Types().Dispatch(p, dev)
	})
	require.NotNil(t, delivered)
	require.Equal(t, pkt.Loopback, delivered.Type())
}

// TestRegistrySharesTypeRegistryAcrossDevices pins down the locking-hierarchy
// requirement that the packet-type registry is level 2, one table for the
// whole registry, not one per device: registering a handler through one
// device's Types() must see frames dispatched on another device registered
// against the same Registry.
func TestRegistrySharesTypeRegistryAcrossDevices(t *testing.T) {
	r := NewRegistry()
	d1, _ := NewDevice("eth0", 14, &recordingDriver{})
	d2, _ := NewDevice("eth1", 14, &recordingDriver{})
	require.NoError(t, r.Register(d1))
	require.NoError(t, r.Register(d2))

	require.Same(t, d1.Types(), d2.Types())
	require.Same(t, r.Types(), d1.Types())

	var seenOn *Device
	d1.Types().AddPack(&PacketTypeEntry{
		Proto: 0x0800,
		Handler: func(p *pkt.Pkt, dev *Device) error {
			seenOn = dev
			p.Free()
			return nil
		},
	})

	p := mkpkt(6)
	p.SetProtocol(0x0800)
	d2.Types().Dispatch(p, d2)
	require.Equal(t, d2, seenOn)
}
