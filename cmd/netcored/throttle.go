/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/gravwell/netcore/unixsock"
)

const defaultBurstMultiplier = 1

// outputLimiter rate-limits console replies written back over a session's
// unixsock stream, so a chatty "class list" or "device list" command can't
// starve the softirq and CBQ watchdog goroutines it shares a process with.
type outputLimiter struct {
	burst int
	lm    *rate.Limiter
}

// newOutputLimiter builds a limiter good for bps bytes/sec, bursting up to
// burstMult seconds worth of traffic.
func newOutputLimiter(bps int64, burstMult int) *outputLimiter {
	if burstMult <= 0 {
		burstMult = defaultBurstMultiplier
	}
	burst := int(bps) * burstMult
	return &outputLimiter{
		burst: burst,
		lm:    rate.NewLimiter(rate.Limit(bps), burst),
	}
}

// Write sends b to sock's stream side, chunked to burst and paced by the
// limiter.
func (o *outputLimiter) Write(ctx context.Context, sock *unixsock.Socket, b []byte) (n int, err error) {
	for n < len(b) {
		sz := len(b) - n
		if sz > o.burst {
			sz = o.burst
		}
		var r int
		if r, err = sock.SendStream(b[n:n+sz], 0, nil); err != nil {
			return
		}
		if err = o.lm.WaitN(ctx, r); err != nil {
			return
		}
		n += r
	}
	return
}

// unthrottled bypasses the limiter entirely, for local/root sessions.
type unthrottled struct{}

func (unthrottled) Write(_ context.Context, sock *unixsock.Socket, b []byte) (int, error) {
	return sock.SendStream(b, 0, nil)
}

// consoleWriter is satisfied by both outputLimiter and unthrottled.
type consoleWriter interface {
	Write(ctx context.Context, sock *unixsock.Socket, b []byte) (int, error)
}

var _ consoleWriter = (*outputLimiter)(nil)
var _ consoleWriter = unthrottled{}

// small helper so callers don't need a context of their own for a
// best-effort console reply.
func writeNow(w consoleWriter, sock *unixsock.Socket, b []byte) error {
	_, err := w.Write(context.Background(), sock, b)
	return err
}

// sleepRetry is used by the console's accept loop to back off briefly on a
// transient accept error instead of spinning.
func sleepRetry(d time.Duration) { time.Sleep(d) }
