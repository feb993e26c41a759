/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gravwell/netcore/control"
	"github.com/gravwell/netcore/nclog"
	"github.com/gravwell/netcore/unixsock"
	"github.com/gravwell/netcore/version"
)

const acceptRetryDelay = 100 * time.Millisecond

const nilString = `nil`

// console is the control plane's line-oriented debug interface: one
// listening stream socket in the process's own unixsock.Table, accepting
// sessions that speak a tiny text protocol ("device list", "class list
// 1:0", "quit") and reply with plain lines, one response terminated per
// command.
type console struct {
	table   *unixsock.Table
	plane   *control.Plane
	lg      *nclog.Logger
	limiter consoleWriter

	mtx      sync.Mutex
	sessions int
}

func newConsole(table *unixsock.Table, plane *control.Plane, lg *nclog.Logger, bps int64) *console {
	var w consoleWriter = unthrottled{}
	if bps > 0 {
		w = newOutputLimiter(bps, 2)
	}
	return &console{table: table, plane: plane, lg: lg, limiter: w}
}

// Serve binds addr, listens, and then accepts sessions for as long as the
// process runs: an Accept error is logged and retried after
// acceptRetryDelay, so Serve returns only on a bind or listen failure.
func (c *console) Serve(addr unixsock.Addr, backlog int) error {
	listener := unixsock.New(c.table, unixsock.Stream, unixsock.Ucred{})
	if err := c.table.Bind(listener, addr); err != nil {
		return fmt.Errorf("console: bind %s: %w", addr, err)
	}
	if err := listener.Listen(backlog); err != nil {
		return fmt.Errorf("console: listen: %w", err)
	}
	c.lg.Info("console listening", nclog.SD("addr", addr.String()))

	for {
		sess, err := listener.Accept(0)
		if err != nil {
			c.lg.Warn("console accept failed", nclog.SD("error", err.Error()))
			sleepRetry(acceptRetryDelay)
			continue
		}
		c.mtx.Lock()
		c.sessions++
		c.mtx.Unlock()
		go c.serveSession(sess)
	}
}

func (c *console) serveSession(sess *unixsock.Socket) {
	defer func() {
		sess.Release()
		c.mtx.Lock()
		c.sessions--
		c.mtx.Unlock()
	}()

	buf := make([]byte, 4096)
	var pending bytes.Buffer
	for {
		n, _, _, err := sess.RecvStream(buf, 0)
		if err != nil {
			return
		}
		if n == 0 {
			return
		}
		pending.Write(buf[:n])
		for {
			line, err := pending.ReadString('\n')
			if err != nil {
				// incomplete line: put it back and wait for more.
				pending.Reset()
				pending.WriteString(line)
				break
			}
			reply := c.dispatch(strings.TrimSpace(line))
			if writeNow(c.limiter, sess, []byte(reply+"\n")) != nil {
				return
			}
			if strings.TrimSpace(line) == "quit" {
				return
			}
		}
	}
}

func (c *console) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "version":
		var b bytes.Buffer
		version.PrintVersion(&b)
		return strings.TrimRight(b.String(), "\n")
	case "device":
		return c.dispatchDevice(fields[1:])
	case "class":
		return c.dispatchClass(fields[1:])
	case "quit":
		return "bye"
	}
	return "ERR unknown command " + fields[0]
}

func (c *console) dispatchDevice(args []string) string {
	if len(args) == 0 {
		return "ERR usage: device list|set"
	}
	switch args[0] {
	case "list":
		var b strings.Builder
		for _, d := range c.plane.DeviceList() {
			fmt.Fprintf(&b, "%-3d %-10s mtu=%-5d flags=%-20s qdisc=", d.Index, d.Name, d.MTU, d.Flags)
			if d.QdiscOn {
				fmt.Fprintf(&b, "%x\n", d.Qdisc)
			} else {
				fmt.Fprintf(&b, "%s\n", nilString)
			}
		}
		return strings.TrimRight(b.String(), "\n")
	case "set":
		if len(args) < 3 {
			return "ERR usage: device set <name> up|down"
		}
		up := args[2] == "up"
		if args[2] != "up" && args[2] != "down" {
			return "ERR usage: device set <name> up|down"
		}
		errno := c.plane.DeviceSet(control.DeviceSet{Name: args[1], Up: &up})
		if errno != control.ErrNone {
			return "ERR " + errno.Error()
		}
		return "OK"
	}
	return "ERR unknown device subcommand " + args[0]
}

func (c *console) dispatchClass(args []string) string {
	if len(args) == 0 {
		return "ERR usage: class list <handle>"
	}
	switch args[0] {
	case "list":
		if len(args) != 2 {
			return "ERR usage: class list <handle>"
		}
		handle, err := parseConsoleHandle(args[1])
		if err != nil {
			return "ERR " + err.Error()
		}
		classes, errno := c.plane.ClassList(handle)
		if errno != control.ErrNone {
			return "ERR " + errno.Error()
		}
		var b strings.Builder
		for _, cl := range classes {
			st := cl.Stats()
			fmt.Fprintf(&b, "%x level=%d packets=%d bytes=%d dropped=%d\n",
				cl.ID(), cl.Level(), st.Packets, st.Bytes, st.Dropped)
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return "ERR unknown class subcommand " + args[0]
}

func parseConsoleHandle(s string) (uint32, error) {
	major, minor := s, "0"
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		major, minor = s[:idx], s[idx+1:]
	}
	maj, err := strconv.ParseUint(major, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", s)
	}
	min, err := strconv.ParseUint(minor, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", s)
	}
	return uint32(maj)<<16 | uint32(min), nil
}
