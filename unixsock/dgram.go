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

	"github.com/gravwell/netcore/pkt"
)

const maxPeerRetries = 8

// SendDgram sends one datagram. to is nil to send to the connected
// peer; files are duplicated and marked inflight if non-empty.
func (s *Socket) SendDgram(to *Addr, data []byte, flags Flags, files []*os.File) (int, error) {
	if flags&OOB != 0 {
		return 0, ErrInvalidFlags
	}
	if flags&^(DontWait|NoSignal) != 0 {
		return 0, ErrInvalidFlags
	}

	var peer *Socket
	if to == nil {
		s.mu.RLock()
		peer = s.peer
		s.mu.RUnlock()
		if peer == nil {
			return 0, ErrNotConnected
		}
		peer.Hold()
	} else {
		var err error
		peer, err = s.table.FindOther(*to, Dgram)
		if err != nil {
			return 0, err
		}
	}
	defer peer.Drop()

	s.mu.RLock()
	needAutoBind := s.passcred && !s.bound
	s.mu.RUnlock()
	if needAutoBind {
		if err := s.table.Bind(s, Addr{}); err != nil {
			return 0, err
		}
	}

	p := pkt.New(len(data), 0)
	buf, _ := p.Put(len(data))
	copy(buf, data)

	var cb skbCB
	cb.stamp(p, s.cred)

	inflight, err := attachFiles(files)
	if err != nil {
		p.Free()
		return 0, err
	}
	if len(inflight) > 0 {
		p.SetDestructor(func() {
			for _, f := range inflight {
				f.Release()
			}
		})
	}

	for attempt := 0; ; attempt++ {
		s.mu.RLock()
		cachedPeer := s.peer
		s.mu.RUnlock()

		peer.mu.RLock()
		dead := peer.dead
		peer.mu.RUnlock()
		if dead {
			if to == nil && cachedPeer == peer {
				s.mu.Lock()
				if s.peer == peer {
					s.peer = nil
				}
				s.mu.Unlock()
			}
			p.Free()
			return 0, ErrConnRefused
		}

		if err := peer.waitForBacklogRoom(flags); err != nil {
			p.Free()
			return 0, err
		}

		peer.mu.Lock()
		switch {
		case peer.dead:
			peer.mu.Unlock()
			continue // reconverge through the dead check above
		case peer.recvQ.Len() >= peer.maxAckBacklog:
			peer.mu.Unlock()
			if flags&DontWait != 0 || attempt >= maxPeerRetries {
				p.Free()
				return 0, ErrAgain
			}
			continue
		default:
			peer.recvQ.PushBack(&queuedMsg{p: p, cred: s.cred, files: inflight})
			peer.mu.Unlock()
			peer.wakeData()
			return len(data), nil
		}
	}
}

// RecvDgram dequeues one datagram, blocking per flags.
func (s *Socket) RecvDgram(flags Flags) ([]byte, Ucred, []*InflightFile, error) {
	if err := s.waitForData(flags); err != nil {
		return nil, Ucred{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.recvQ.Front()
	if e == nil {
		if s.err != nil {
			err := s.err
			s.err = nil
			return nil, Ucred{}, nil, err
		}
		return nil, Ucred{}, nil, ErrAgain
	}
	m := e.Value.(*queuedMsg)
	if flags&Peek != 0 {
		data := append([]byte(nil), m.p.Bytes()...)
		return data, m.cred, m.files, nil
	}
	s.recvQ.Remove(e)
	data := append([]byte(nil), m.p.Bytes()...)
	m.p.SetDestructor(nil) // the files are delivered below, not released
	m.p.Free()
	for _, f := range m.files {
		f.Deliver()
	}
	return data, m.cred, m.files, nil
}

func attachFiles(files []*os.File) ([]*InflightFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make([]*InflightFile, 0, len(files))
	for _, f := range files {
		inf, err := NewInflightFile(f)
		if err != nil {
			for _, done := range out {
				done.Release()
			}
			return nil, err
		}
		out = append(out, inf)
	}
	return out, nil
}
