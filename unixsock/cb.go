/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package unixsock

import (
	"encoding/binary"

	"github.com/gravwell/netcore/pkt"
)

// skbCB reinterprets a Pkt's scratch control block as UNIXCREDS(pkt): the
// sender's {pid,uid,gid} stamped at send time.
// Passed file descriptors travel alongside in queuedMsg.files instead,
// mirroring the real kernel's split between skb->cb (fixed-size) and the
// separate scm_fp_list for fds.
type skbCB struct{}

func (skbCB) stamp(p *pkt.Pkt, cred Ucred) {
	b := p.CB()
	binary.LittleEndian.PutUint32(b[0:4], uint32(cred.Pid))
	binary.LittleEndian.PutUint32(b[4:8], cred.Uid)
	binary.LittleEndian.PutUint32(b[8:12], cred.Gid)
}

func (skbCB) read(p *pkt.Pkt) Ucred {
	b := p.CB()
	return Ucred{
		Pid: int32(binary.LittleEndian.Uint32(b[0:4])),
		Uid: binary.LittleEndian.Uint32(b[4:8]),
		Gid: binary.LittleEndian.Uint32(b[8:12]),
	}
}
