/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

import (
	"os"
	"testing"

	"github.com/gravwell/netcore/pkt"
	"github.com/stretchr/testify/require"
)

func cred(pid int32) Ucred { return Ucred{Pid: pid, Uid: 1000, Gid: 1000} }

func TestDgramRoundtripAbstractBind(t *testing.T) {
	table := NewTable()
	a := New(table, Dgram, cred(1))
	b := New(table, Dgram, cred(2))

	require.NoError(t, table.Bind(a, Addr{Name: "alpha", Abstract: true}))
	require.NoError(t, table.Bind(b, Addr{Name: "beta", Abstract: true}))

	n, err := a.SendDgram(&Addr{Name: "beta", Abstract: true}, []byte("hello"), 0, nil)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	data, c, files, err := b.RecvDgram(0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, int32(1), c.Pid)
	require.Empty(t, files)
}

func TestBindDuplicateAbstractAddrRejected(t *testing.T) {
	table := NewTable()
	a := New(table, Dgram, cred(1))
	b := New(table, Dgram, cred(2))

	require.NoError(t, table.Bind(a, Addr{Name: "dup", Abstract: true}))
	err := table.Bind(b, Addr{Name: "dup", Abstract: true})
	require.ErrorIs(t, err, ErrAddrInUse)
}

func TestBindDuplicateFilesystemAddrRejected(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sock"

	table := NewTable()
	a := New(table, Dgram, cred(1))
	b := New(table, Dgram, cred(2))

	require.NoError(t, table.Bind(a, Addr{Name: path}))
	err := table.Bind(b, Addr{Name: path})
	require.ErrorIs(t, err, ErrAddrInUse)

	a.Release()
	_, statErr := os.Lstat(path)
	require.True(t, os.IsNotExist(statErr), "release should remove the filesystem marker")
}

// Scenario S5: two sequential auto-binds produce distinct abstract names,
// each independently resolvable via FindOther.
func TestAutoBindSequentialNamesAreDistinct(t *testing.T) {
	table := NewTable()
	a := New(table, Dgram, cred(1))
	b := New(table, Dgram, cred(2))

	require.NoError(t, table.Bind(a, Addr{}))
	require.NoError(t, table.Bind(b, Addr{}))

	addrA := a.LocalAddr()
	addrB := b.LocalAddr()
	require.True(t, addrA.Abstract)
	require.True(t, addrB.Abstract)
	require.Len(t, addrA.Name, 5)
	require.Len(t, addrB.Name, 5)
	require.NotEqual(t, addrA.Name, addrB.Name)

	foundA, err := table.FindOther(addrA, Dgram)
	require.NoError(t, err)
	require.Same(t, a, foundA)

	foundB, err := table.FindOther(addrB, Dgram)
	require.NoError(t, err)
	require.Same(t, b, foundB)
}

func acceptOne(t *testing.T, listener *Socket) *Socket {
	t.Helper()
	s, err := listener.Accept(0)
	require.NoError(t, err)
	return s
}

// Scenario S6: with backlog 2, three simultaneous non-blocking connects see
// exactly two succeed and the third return ErrAgain; after one accept, a
// further non-blocking connect succeeds.
func TestListenBacklogLimitsPendingConnects(t *testing.T) {
	table := NewTable()
	listener := New(table, Stream, cred(100))
	require.NoError(t, table.Bind(listener, Addr{Name: "srv", Abstract: true}))
	require.NoError(t, listener.Listen(2))

	c1 := New(table, Stream, cred(1))
	c2 := New(table, Stream, cred(2))
	c3 := New(table, Stream, cred(3))

	require.NoError(t, c1.Connect(Addr{Name: "srv", Abstract: true}, DontWait))
	require.NoError(t, c2.Connect(Addr{Name: "srv", Abstract: true}, DontWait))

	err := c3.Connect(Addr{Name: "srv", Abstract: true}, DontWait)
	require.ErrorIs(t, err, ErrAgain)

	accepted := acceptOne(t, listener)
	require.NotNil(t, accepted)

	require.NoError(t, c3.Connect(Addr{Name: "srv", Abstract: true}, DontWait))
}

// Property 5: a clean close (peer fully accepted, no queued bytes) surfaces
// as a zero-length read with no error; a close that leaves queued bytes or
// an unaccepted embryo behind surfaces as ECONNRESET.
func TestStreamCleanCloseYieldsEOFNotReset(t *testing.T) {
	table := NewTable()
	listener := New(table, Stream, cred(100))
	require.NoError(t, table.Bind(listener, Addr{Name: "eof", Abstract: true}))
	require.NoError(t, listener.Listen(1))

	client := New(table, Stream, cred(1))
	require.NoError(t, client.Connect(Addr{Name: "eof", Abstract: true}, 0))
	server := acceptOne(t, listener)

	n, err := client.SendStream([]byte("hi"), 0, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	buf := make([]byte, 16)
	got, _, _, err := server.RecvStream(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 2, got)

	client.Release()

	n2, _, _, err := server.RecvStream(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}

// A socket that closes while its own receive queue still holds unread data
// (sent by the peer) resets the peer rather than giving it a clean EOF.
func TestStreamCloseWithQueuedBytesYieldsReset(t *testing.T) {
	table := NewTable()
	listener := New(table, Stream, cred(100))
	require.NoError(t, table.Bind(listener, Addr{Name: "rst", Abstract: true}))
	require.NoError(t, listener.Listen(1))

	client := New(table, Stream, cred(1))
	require.NoError(t, client.Connect(Addr{Name: "rst", Abstract: true}, 0))
	server := acceptOne(t, listener)

	_, err := client.SendStream([]byte("unread"), 0, nil)
	require.NoError(t, err)

	// server never reads "unread" before closing: its own receive queue is
	// non-empty at close time, so the client must see ECONNRESET.
	server.Release()

	buf := make([]byte, 16)
	_, _, _, err = client.RecvStream(buf, 0)
	require.ErrorIs(t, err, ErrConnReset)
}

func TestUnacceptedEmbryoReleaseResetsConnector(t *testing.T) {
	table := NewTable()
	listener := New(table, Stream, cred(100))
	require.NoError(t, table.Bind(listener, Addr{Name: "embryo", Abstract: true}))
	require.NoError(t, listener.Listen(1))

	client := New(table, Stream, cred(1))
	require.NoError(t, client.Connect(Addr{Name: "embryo", Abstract: true}, 0))

	// listener never accepts; releasing it must reset the dangling embryo,
	// which in turn resets the connector.
	listener.Release()

	buf := make([]byte, 16)
	_, _, _, err := client.RecvStream(buf, 0)
	require.ErrorIs(t, err, ErrConnReset)
}

// Property 6: consecutive stream chunks stamped with different credentials
// must not be coalesced into a single Recv.
func TestStreamRecvStopsAtCredentialBoundary(t *testing.T) {
	table := NewTable()
	listener := New(table, Stream, cred(100))
	require.NoError(t, table.Bind(listener, Addr{Name: "cred", Abstract: true}))
	require.NoError(t, listener.Listen(1))

	client := New(table, Stream, cred(7))
	require.NoError(t, client.Connect(Addr{Name: "cred", Abstract: true}, 0))
	server := acceptOne(t, listener)

	_, err := client.SendStream([]byte("AAA"), 0, nil)
	require.NoError(t, err)

	// Forge a second chunk under a different credential directly onto the
	// server's receive queue to simulate a second sender without a second
	// real connection (stream sockets only ever have one peer).
	forged := pkt.New(3, 0)
	fb, _ := forged.Put(3)
	copy(fb, []byte("BBB"))
	server.mu.Lock()
	server.recvQ.PushBack(&queuedMsg{p: forged, cred: cred(9)})
	require.Equal(t, 2, server.recvQ.Len())
	server.mu.Unlock()

	buf := make([]byte, 16)
	n, c, _, err := server.RecvStream(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "AAA", string(buf[:n]))
	require.Equal(t, int32(7), c.Pid)

	n2, c2, _, err := server.RecvStream(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n2)
	require.Equal(t, "BBB", string(buf[:n2]))
	require.Equal(t, int32(9), c2.Pid)
}

// Property 7: a passed fd is counted inflight from send until the receiver
// consumes the message, and the duplicated descriptor survives the original
// file being closed.
func TestFDPassingInflightAccounting(t *testing.T) {
	table := NewTable()
	a := New(table, Dgram, cred(1))
	b := New(table, Dgram, cred(2))
	require.NoError(t, table.Bind(a, Addr{Name: "fda", Abstract: true}))
	require.NoError(t, table.Bind(b, Addr{Name: "fdb", Abstract: true}))

	tmp, err := os.CreateTemp(t.TempDir(), "passed")
	require.NoError(t, err)
	defer tmp.Close()
	_, err = tmp.WriteString("payload")
	require.NoError(t, err)

	before := InflightCount()
	_, err = a.SendDgram(&Addr{Name: "fdb", Abstract: true}, []byte("x"), 0, []*os.File{tmp})
	require.NoError(t, err)
	require.Equal(t, before+1, InflightCount())

	// Closing the sender's original fd must not invalidate the duplicate
	// still sitting in the queue.
	require.NoError(t, tmp.Close())

	_, _, files, err := b.RecvDgram(0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, before, InflightCount())

	buf := make([]byte, 16)
	got, rerr := files[0].File().ReadAt(buf[:7], 0)
	require.NoError(t, rerr)
	require.Equal(t, "payload", string(buf[:got]))
	// Deliver already transferred ownership out of the inflight count; the
	// receiver now owns the duplicated descriptor directly.
	require.NoError(t, files[0].File().Close())
}

func TestDgramSendToDeadPeerReturnsConnRefused(t *testing.T) {
	table := NewTable()
	a := New(table, Dgram, cred(1))
	b := New(table, Dgram, cred(2))
	require.NoError(t, table.Bind(a, Addr{Name: "live", Abstract: true}))
	require.NoError(t, table.Bind(b, Addr{Name: "dead", Abstract: true}))

	b.Release()

	_, err := a.SendDgram(&Addr{Name: "dead", Abstract: true}, []byte("x"), 0, nil)
	require.ErrorIs(t, err, ErrConnRefused)
}

func TestFindOtherUnknownAddrRefused(t *testing.T) {
	table := NewTable()
	_, err := table.FindOther(Addr{Name: "nope", Abstract: true}, Dgram)
	require.ErrorIs(t, err, ErrConnRefused)
}

func TestShutdownWrBlocksFurtherSendAndWakesPeer(t *testing.T) {
	table := NewTable()
	listener := New(table, Stream, cred(100))
	require.NoError(t, table.Bind(listener, Addr{Name: "shut", Abstract: true}))
	require.NoError(t, listener.Listen(1))

	client := New(table, Stream, cred(1))
	require.NoError(t, client.Connect(Addr{Name: "shut", Abstract: true}, 0))
	server := acceptOne(t, listener)

	require.NoError(t, client.Shutdown(1)) // SHUT_WR

	buf := make([]byte, 16)
	n, _, _, err := server.RecvStream(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = client.SendStream([]byte("x"), NoSignal, nil)
	require.ErrorIs(t, err, ErrPipe)
}
