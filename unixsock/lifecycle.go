/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

// Shutdown closes one or both directions of a connected socket: mode
// selects which, converted to the {RCV, SND} bitmask via mode+1 as the
// kernel does.
func (s *Socket) Shutdown(mode int) error {
	mask := ShutdownMask(mode + 1)

	s.mu.Lock()
	s.shutdown |= mask
	peer := s.peer
	s.mu.Unlock()
	s.wakeData()
	s.wakePeerWaiters()

	if s.typ != Stream || peer == nil {
		return nil
	}

	var peerMask ShutdownMask
	if mask.rdShut() {
		peerMask |= ShutWR
	}
	if mask.wrShut() {
		peerMask |= ShutRD
	}
	peer.mu.Lock()
	peer.shutdown |= peerMask
	peer.mu.Unlock()
	peer.wakeData()
	peer.wakePeerWaiters()
	return nil
}

// Release tears the socket down on last-ref or explicit close. It is
// safe to call more than once.
func (s *Socket) Release() { s.release(false) }

func (s *Socket) release(forceReset bool) {
	s.table.Remove(s)

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	hadQueuedBytes := s.typ == Stream && s.recvQ.Len() > 0
	wasEmbryoUnaccepted := forceReset
	s.dead = true
	s.state = Closed
	s.shutdown = ShutRD | ShutWR
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()
	s.wakeData()
	s.wakePeerWaiters()

	if peer != nil {
		peer.mu.Lock()
		if s.typ == Stream {
			// Peer can never receive more: wake its readers into either a
			// clean EOF or, if we still had bytes queued or were an embryo
			// never accepted, an ECONNRESET.
			peer.shutdown |= ShutRD
			if hadQueuedBytes || wasEmbryoUnaccepted {
				peer.err = ErrConnReset
			}
		}
		if peer.peer == s {
			peer.peer = nil
		}
		peer.mu.Unlock()
		peer.wakeData()
		peer.wakePeerWaiters()
	}

	s.mu.Lock()
	for e := s.recvQ.Front(); e != nil; {
		next := e.Next()
		m := e.Value.(*queuedMsg)
		if m.embryo != nil {
			// A queued accept-skb's embryo never got handed to an acceptor:
			// release it too, with ECONNRESET on its connector.
			m.embryo.release(true)
		} else {
			for _, f := range m.files {
				f.Release()
			}
			if m.p != nil {
				m.p.SetDestructor(nil) // the files were released above
				m.p.Free()
			}
		}
		s.recvQ.Remove(e)
		e = next
	}
	s.mu.Unlock()

	if InflightCount() > 0 {
		s.table.CollectGarbage()
	}
}
