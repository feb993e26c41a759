/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package qdisc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/netcore/pkt"
)

func mkpkt(n int) *pkt.Pkt {
	p := pkt.New(n, 0)
	p.Put(n)
	return p
}

func TestNoopDropsEverything(t *testing.T) {
	n := NewNoop(1)
	res, err := n.Enqueue(mkpkt(10))
	require.NoError(t, err)
	require.Equal(t, Dropped, res)
	_, ok := n.Dequeue()
	require.False(t, ok)
}

func TestPFIFOOrderingAndBound(t *testing.T) {
	q := NewPFIFO(1, 2)
	res, err := q.Enqueue(mkpkt(1))
	require.NoError(t, err)
	require.Equal(t, Ok, res)
	q.Enqueue(mkpkt(2))
	res, err = q.Enqueue(mkpkt(3))
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, Dropped, res)
	require.Equal(t, 2, q.Len())

	p, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, 1, p.Len())
}

func TestPFIFORequeuePutsAtHead(t *testing.T) {
	q := NewPFIFO(1, 4)
	q.Enqueue(mkpkt(1))
	q.Enqueue(mkpkt(2))
	head, _ := q.Dequeue()
	require.Equal(t, 1, head.Len())
	q.Requeue(head)
	again, _ := q.Dequeue()
	require.Equal(t, 1, again.Len())
}

func TestPFIFODrop(t *testing.T) {
	q := NewPFIFO(1, 4)
	q.Enqueue(mkpkt(1))
	q.Enqueue(mkpkt(2))
	require.Equal(t, 1, q.Drop())
	require.Equal(t, 1, q.Len())
}

func TestPFIFOReset(t *testing.T) {
	q := NewPFIFO(1, 4)
	q.Enqueue(mkpkt(1))
	q.Enqueue(mkpkt(2))
	q.Reset()
	require.Equal(t, 0, q.Len())
}
