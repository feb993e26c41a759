/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

// Listen marks a bound socket as listening with the given backlog.
func (s *Socket) Listen(backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound {
		return ErrNotBound
	}
	if s.typ != Stream {
		return ErrProtoType
	}
	s.state = Listen
	s.backlog = backlog
	s.peerCred = s.cred
	return nil
}

// Connect resolves the listener, builds an embryonic peer socket, and
// hands an accept-skb to the listener.
// DontWait returns ErrAgain immediately instead of blocking for backlog room.
func (s *Socket) Connect(name Addr, flags Flags) error {
	if s.typ != Stream {
		return ErrProtoType
	}
	listener, err := s.table.FindOther(name, Stream)
	if err != nil {
		return err
	}
	defer listener.Drop()

	embryo := New(s.table, Stream, s.cred)

	for attempt := 0; ; attempt++ {
		listener.mu.RLock()
		dead := listener.dead
		state := listener.state
		over := listener.pendingAccept >= listener.backlog && listener.backlog > 0
		listener.mu.RUnlock()

		if dead {
			return ErrConnRefused
		}
		if state != Listen {
			return ErrConnRefused
		}
		if over {
			if flags&DontWait != 0 {
				return ErrAgain
			}
			if err := listener.waitForAcceptRoom(flags); err != nil {
				return err
			}
			if attempt < maxPeerRetries {
				continue
			}
			return ErrAgain
		}
		break
	}

	s.mu.Lock()
	if s.state != Closed {
		s.mu.Unlock()
		return s.Connect(name, flags) // concurrent connect raced us; retry
	}
	s.mu.Unlock()

	embryo.peer = s
	embryo.state = Established
	listener.mu.RLock()
	embryo.peerCred = listener.peerCred
	embryo.addr = listener.addr
	listener.mu.RUnlock()

	s.mu.Lock()
	s.peer = embryo
	s.state = Established
	s.mu.Unlock()

	listener.mu.Lock()
	listener.recvQ.PushBack(&queuedMsg{embryo: embryo})
	listener.pendingAccept++
	listener.mu.Unlock()
	listener.wakeData()
	return nil
}

// Accept dequeues one accept-skb from the listener's receive queue,
// waking a backlogged connector if the queue drops to half.
func (s *Socket) Accept(flags Flags) (*Socket, error) {
	s.mu.RLock()
	if s.state != Listen {
		s.mu.RUnlock()
		return nil, ErrNotListening
	}
	s.mu.RUnlock()

	if err := s.waitForData(flags); err != nil {
		return nil, err
	}

	s.mu.Lock()
	e := s.recvQ.Front()
	if e == nil {
		s.mu.Unlock()
		return nil, ErrAgain
	}
	m := e.Value.(*queuedMsg)
	s.recvQ.Remove(e)
	s.pendingAccept--
	wake := s.backlog > 0 && s.pendingAccept*2 <= s.backlog
	s.mu.Unlock()

	if wake {
		s.wakePeerWaiters()
	}
	return m.embryo, nil
}
