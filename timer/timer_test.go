/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFires(t *testing.T) {
	s := NewService()
	var fired int32
	done := make(chan struct{})
	s.Schedule(10*time.Millisecond, func() {
		atomic.StoreInt32(&fired, 1)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestCancelPreventsFire(t *testing.T) {
	s := NewService()
	var fired int32
	h := s.Schedule(50*time.Millisecond, func() {
		atomic.StoreInt32(&fired, 1)
	})
	ok := s.Cancel(h)
	require.True(t, ok)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestRearmReplacesDeadline(t *testing.T) {
	s := NewService()
	var count int32
	h := s.Schedule(200*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})
	done := make(chan struct{})
	h = s.Rearm(h, 10*time.Millisecond, func() {
		atomic.AddInt32(&count, 10)
		close(done)
	})
	_ = h
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rearmed timer never fired")
	}
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestNowMonotonic(t *testing.T) {
	s := NewService()
	a := s.Now()
	time.Sleep(5 * time.Millisecond)
	b := s.Now()
	require.Greater(t, b, a)
}
