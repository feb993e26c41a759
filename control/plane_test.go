/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/netcore/cbq"
	"github.com/gravwell/netcore/device"
	"github.com/gravwell/netcore/pkt"
	"github.com/gravwell/netcore/timer"
)

func newTestPlane(t *testing.T) (*Plane, *device.Device) {
	t.Helper()
	reg := device.NewRegistry()
	clock := timer.NewService()

	drv := device.NewLoopbackDriver(device.NewSoftirq(1024, 0))
	dev, err := device.NewDevice("lo0", 14, drv)
	require.NoError(t, err)
	drv.SetDevice(dev)
	require.NoError(t, reg.Register(dev))

	return NewPlane(reg, clock), dev
}

func TestDeviceListReflectsRegistry(t *testing.T) {
	p, dev := newTestPlane(t)
	list := p.DeviceList()
	require.Len(t, list, 1)
	require.Equal(t, "lo0", list[0].Name)
	require.Equal(t, dev.Index(), list[0].Index)
}

func TestDeviceSetUpDownTogglesFlags(t *testing.T) {
	p, dev := newTestPlane(t)
	up := true
	require.Equal(t, ErrNone, p.DeviceSet(DeviceSet{Name: "lo0", Up: &up}))
	require.True(t, dev.IsUp())

	down := false
	require.Equal(t, ErrNone, p.DeviceSet(DeviceSet{Name: "lo0", Up: &down}))
	require.False(t, dev.IsUp())
}

func TestDeviceSetUnknownNameReturnsNoDev(t *testing.T) {
	p, _ := newTestPlane(t)
	up := true
	require.Equal(t, ErrNoDev, p.DeviceSet(DeviceSet{Name: "eth9", Up: &up}))
}

func rootCBQParams(handle uint32) cbq.ClassParams {
	return cbq.ClassParams{
		ID:       handle,
		Rate:     pkt.RateConfig{RateBps: 1_000_000_000_000},
		EwmaLog:  5,
		Avpkt:    1000,
		MaxIdle:  1_000_000_000_000,
		MinIdle:  -1_000_000_000_000,
		Priority: 0,
		Weight:   1,
		Allot:    1514,
		Strategy: cbq.Classic,
	}
}

func TestQdiscCreateCBQAndClassRoundTrip(t *testing.T) {
	p, _ := newTestPlane(t)
	const handle uint32 = 1 << 16

	require.Equal(t, ErrNone, p.QdiscCreate(QdiscCreate{
		Device: "lo0",
		Handle: handle,
		Kind:   "cbq",
		Root:   rootCBQParams(handle),
	}))

	childID := handle | 0x10
	require.Equal(t, ErrNone, p.ClassCreate(ClassCreate{
		Disc: handle,
		Params: cbq.ClassParams{
			ID:       childID,
			ParentID: handle,
			Rate:     pkt.RateConfig{RateBps: 500_000_000_000},
			EwmaLog:  5,
			Avpkt:    1000,
			MaxIdle:  1_000_000_000_000,
			MinIdle:  -1_000_000_000_000,
			Priority: 1,
			Weight:   1,
			Allot:    1514,
			Strategy: cbq.Classic,
		},
	}))

	classes, errno := p.ClassList(handle)
	require.Equal(t, ErrNone, errno)
	require.Len(t, classes, 2) // root + child

	require.Equal(t, ErrNone, p.ClassDelete(handle, childID))
	classes, errno = p.ClassList(handle)
	require.Equal(t, ErrNone, errno)
	require.Len(t, classes, 1)
}

func TestClassListUnknownDiscReturnsNoDev(t *testing.T) {
	p, _ := newTestPlane(t)
	_, errno := p.ClassList(0xdead0000)
	require.Equal(t, ErrNoDev, errno)
}

func TestQdiscCreateUnknownDeviceReturnsNoDev(t *testing.T) {
	p, _ := newTestPlane(t)
	errno := p.QdiscCreate(QdiscCreate{Device: "eth9", Handle: 1 << 16, Kind: "noop"})
	require.Equal(t, ErrNoDev, errno)
}
