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
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gravwell/netcore/control"
	"github.com/gravwell/netcore/device"
	"github.com/gravwell/netcore/nclog"
	"github.com/gravwell/netcore/netconf"
	"github.com/gravwell/netcore/timer"
	"github.com/gravwell/netcore/unixsock"
	"github.com/gravwell/netcore/version"
)

const (
	defaultConfigLoc   = `/opt/netcore/etc/netcored.conf`
	defaultConsoleAddr = `netcored`
)

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "Location for the configuration file")
	ver     = flag.Bool("version", false, "Print the version information and exit")
)

func main() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}

	lg := nclog.New(nclog.INFO, os.Stderr)

	cfg, err := netconf.LoadFile(*confLoc)
	if err != nil {
		lg.Critical("failed to load configuration", nclog.SD("path", *confLoc), nclog.SD("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Global.Log_Level != "" {
		if lvl, lerr := nclog.ParseLevel(cfg.Global.Log_Level); lerr == nil {
			lg.SetLevel(lvl)
		}
	}
	if cfg.Global.Log_File != "" {
		fout, ferr := os.OpenFile(cfg.Global.Log_File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if ferr != nil {
			lg.Critical("failed to open log file", nclog.SD("path", cfg.Global.Log_File), nclog.SD("error", ferr.Error()))
			os.Exit(1)
		}
		lg.AddWriter(fout)
	}

	reg := device.NewRegistry()
	clock := timer.NewService()

	built, err := netconf.Apply(cfg, reg, clock)
	if err != nil {
		lg.Critical("failed to apply configuration", nclog.SD("error", err.Error()))
		os.Exit(1)
	}
	lg.Info("configuration applied",
		nclog.SD("devices", strconv.Itoa(len(built.Devices))),
		nclog.SD("cbqs", strconv.Itoa(len(built.CBQs))))

	plane := control.NewPlane(reg, clock)

	table := unixsock.NewTable()
	addr := unixsock.Addr{Name: defaultConsoleAddr, Abstract: true}
	if cfg.Global.Control_Socket != "" {
		addr = unixsock.Addr{Name: cfg.Global.Control_Socket}
	}
	cons := newConsole(table, plane, lg, 0)
	go func() {
		if err := cons.Serve(addr, 16); err != nil {
			lg.Critical("console failed", nclog.SD("error", err.Error()))
			os.Exit(1)
		}
	}()

	softirqCtx, stopSoftirqs := context.WithCancel(context.Background())
	defer stopSoftirqs()

	for _, dev := range reg.List() {
		if err := reg.Up(dev); err != nil {
			lg.Warn("failed to bring device up", nclog.SD("device", dev.Name()), nclog.SD("error", err.Error()))
			continue
		}
		if dev.Softirq() != nil {
			go runSoftirqLoop(softirqCtx, dev)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	stopSoftirqs()
	lg.Info("shutting down")
}
