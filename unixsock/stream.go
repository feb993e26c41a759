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

// maxStreamChunk caps a single enqueued stream chunk: keeps two in
// flight and avoids pathological allocations.
const maxStreamChunk = 4080

// SendStream chunks data across the established peer, stopping early on
// a pipe error rather than failing the whole call
// if some bytes were already delivered.
func (s *Socket) SendStream(data []byte, flags Flags, files []*os.File) (int, error) {
	if flags&OOB != 0 {
		return 0, ErrInvalidFlags
	}
	if flags&^(DontWait|NoSignal) != 0 {
		return 0, ErrInvalidFlags
	}

	s.mu.RLock()
	peer := s.peer
	s.mu.RUnlock()
	if peer == nil {
		return 0, ErrNotConnected
	}

	inflight, err := attachFiles(files)
	if err != nil {
		return 0, err
	}
	firstChunk := true

	sent := 0
	for sent < len(data) {
		chunkMax := s.sndbuf/2 - 16
		if chunkMax > maxStreamChunk {
			chunkMax = maxStreamChunk
		}
		if chunkMax < 1 {
			chunkMax = 1
		}
		remaining := len(data) - sent
		n := remaining
		if n > chunkMax {
			n = chunkMax
		}

		peer.mu.RLock()
		pipeErr := peer.dead || peer.shutdown.rdShut()
		peer.mu.RUnlock()
		if pipeErr {
			for _, f := range inflight {
				f.Release()
			}
			if sent > 0 {
				return sent, nil
			}
			if flags&NoSignal == 0 {
				return 0, ErrPipe
			}
			return 0, ErrPipe
		}

		p := pkt.New(n, 0)
		buf, _ := p.Put(n)
		copy(buf, data[sent:sent+n])
		var cb skbCB
		cb.stamp(p, s.cred)

		var chunkFiles []*InflightFile
		if firstChunk {
			chunkFiles = inflight
			firstChunk = false
		}
		if len(chunkFiles) > 0 {
			fs := chunkFiles
			p.SetDestructor(func() {
				for _, f := range fs {
					f.Release()
				}
			})
		}

		if err := peer.waitForBacklogRoom(flags); err != nil {
			p.Free()
			if sent > 0 {
				return sent, nil
			}
			return 0, err
		}

		peer.mu.Lock()
		if peer.dead || peer.shutdown.rdShut() {
			peer.mu.Unlock()
			p.Free()
			if sent > 0 {
				return sent, nil
			}
			return 0, ErrPipe
		}
		peer.recvQ.PushBack(&queuedMsg{p: p, cred: s.cred, files: chunkFiles})
		peer.mu.Unlock()
		peer.wakeData()

		sent += n
	}
	return sent, nil
}

// RecvStream dequeues up to len(buf) bytes, coalescing consecutive chunks
// from the same credentials; mixed credentials force a boundary.
func (s *Socket) RecvStream(buf []byte, flags Flags) (int, Ucred, []*InflightFile, error) {
	if err := s.waitForData(flags); err != nil {
		return 0, Ucred{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.recvQ.Front()
	if e == nil {
		if s.err != nil {
			err := s.err
			s.err = nil
			return 0, Ucred{}, nil, err
		}
		return 0, Ucred{}, nil, nil
	}
	first := e.Value.(*queuedMsg)
	cred := first.cred
	n := 0
	var outFiles []*InflightFile

	for n < len(buf) {
		e = s.recvQ.Front()
		if e == nil {
			break
		}
		m := e.Value.(*queuedMsg)
		if m.cred != cred {
			break
		}
		avail := m.p.Bytes()
		take := len(buf) - n
		if take > len(avail) {
			take = len(avail)
		}
		copy(buf[n:n+take], avail[:take])
		n += take
		if take == len(avail) {
			s.recvQ.Remove(e)
			for _, f := range m.files {
				f.Deliver()
			}
			outFiles = append(outFiles, m.files...)
			m.p.SetDestructor(nil) // the files were delivered above
			m.p.Free()
		} else {
			m.p.Pull(take)
		}
	}
	return n, cred, outFiles, nil
}
