/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pkt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayeringInvariant(t *testing.T) {
	p := New(64, 16)
	require.NoError(t, p.Validate())
	require.Equal(t, 16, p.Headroom())
	require.Equal(t, 0, p.Len())

	hdr, err := p.Push(14)
	require.NoError(t, err)
	require.Len(t, hdr, 14)
	require.Equal(t, 2, p.Headroom())
	require.Equal(t, 14, p.Len())
	require.NoError(t, p.Validate())

	body, err := p.Put(40)
	require.NoError(t, err)
	require.Len(t, body, 40)
	require.Equal(t, 54, p.Len())
	require.NoError(t, p.Validate())

	old, err := p.Pull(14)
	require.NoError(t, err)
	require.Len(t, old, 14)
	require.Equal(t, 40, p.Len())
	require.NoError(t, p.Validate())
}

func TestPushNoHeadroom(t *testing.T) {
	p := New(8, 0)
	_, err := p.Push(1)
	require.ErrorIs(t, err, ErrNoHeadroom)
}

func TestPullShortPacket(t *testing.T) {
	p := New(8, 0)
	_, err := p.Put(4)
	require.NoError(t, err)
	_, err = p.Pull(5)
	require.ErrorIs(t, err, ErrShortPacket)
}

func TestCloneSharesStorageNotBytes(t *testing.T) {
	p := New(9, 0) // one byte of tailroom left for the Put after CopyOnWrite
	body, _ := p.Put(8)
	for i := range body {
		body[i] = byte(i)
	}
	require.False(t, p.Shared())

	c := p.Clone()
	require.True(t, p.Shared())
	require.True(t, c.Shared())
	require.Equal(t, p.Bytes(), c.Bytes())

	// mutating through the clone without COW is rejected
	_, err := c.Put(1)
	require.ErrorIs(t, err, ErrSharedReadOnly)

	c.CopyOnWrite()
	require.False(t, c.Shared())
	require.False(t, p.Shared())
	require.Equal(t, 1, int(c.s.refs))

	cb, err := c.Put(1)
	require.NoError(t, err)
	cb[0] = 0xAB
	require.NotEqual(t, p.Bytes(), c.Bytes())
}

func TestDestructorFiresOnceOnFree(t *testing.T) {
	p := New(4, 0)
	fired := 0
	p.SetDestructor(func() { fired++ })

	c := p.Clone()
	c.Free()
	require.Equal(t, 0, fired, "clone has no destructor of its own")

	p.Free()
	require.Equal(t, 1, fired)
}

func TestLayerMarkersWithinBounds(t *testing.T) {
	p := New(64, 16)
	p.Push(14)
	p.SetMAC()
	p.Push(0) // no-op, just to show nh/th are independent calls
	p.SetNetworkHeader()
	p.Put(20)
	p.SetTransportHeader()
	require.NoError(t, p.Validate())
}

func TestRateTableMonotonic(t *testing.T) {
	rt, err := NewRateTable(RateConfig{RateBps: 10_000_000, CellLog: 3})
	require.NoError(t, err)
	prev := uint32(0)
	for _, l := range []int{0, 64, 512, 1500, 9000} {
		c := rt.Cost(l)
		require.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestRateTableRejectsZeroRate(t *testing.T) {
	_, err := NewRateTable(RateConfig{RateBps: 0})
	require.ErrorIs(t, err, ErrInvalidRate)
}
