/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package netconf loads a static ini/gcfg file describing devices, their
// queueing disciplines, and CBQ class trees, in the style of gravwell's
// ingest/config package: a typed struct decoded with gcfg, plus a handful
// of value parsers (ParseRate here) for the non-primitive fields gcfg can't
// decode directly.
package netconf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 4 * 1024 * 1024

var (
	ErrConfigTooLarge  = errors.New("netconf: config file is too large")
	ErrUnknownParent   = errors.New("netconf: class references unknown parent")
	ErrUnknownQdisc    = errors.New("netconf: device references unknown qdisc section")
	ErrUnknownStrategy = errors.New("netconf: unrecognized overlimit strategy")
)

// Global holds process-wide settings.
type Global struct {
	Log_Level       string
	Control_Socket  string
	Log_File        string
}

// DeviceSection declares one network device and the qdisc section that
// governs its egress queue.
type DeviceSection struct {
	Hard_Header_Len int
	MTU             int
	Qdisc           string // name of a [qdisc "..."] section, or "pfifo"/"noop"
}

// QdiscSection picks the queueing discipline kind for a device. Kind "cbq"
// pulls in every [class "<qdisc>:<id>"] section whose first path component
// matches this section's name.
type QdiscSection struct {
	Kind         string // "pfifo", "noop", or "cbq"
	Limit        int    // pfifo packet limit
	Handle       string // e.g. "1:0"
	Root_Rate    string // ClassParams.Rate for the implicit root class, e.g. "1gbit"
}

// ClassSection declares one CBQ class. Name follows "<qdisc>:<id>", and
// Parent is the bare hex minor id of the parent class in the same qdisc
// ("0" or empty for the root class).
type ClassSection struct {
	Parent       string
	Rate         string
	Weight       uint32
	Priority     int
	Allot        uint32
	Bounded      bool
	Isolated     bool
	Strategy     string // "classic", "rclassic", "delay", "lowprio", "drop"; a "lowprio" class is rejected, since this section sets no Priority2
	Penalty_MS   int64
	Ewma_Log     uint8
	Avpkt        uint32
	Max_Idle     int64
	Min_Idle     int64
	Offtime      int64
}

// Config is the root of a netcored config file.
type Config struct {
	Global Global
	Device map[string]*DeviceSection
	Qdisc  map[string]*QdiscSection
	Class  map[string]*ClassSection
}

// LoadFile reads and decodes path, bounding its size the way
// ingest/config.LoadConfigFile does.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigTooLarge
	}

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, f); err != nil {
		return nil, err
	}
	return LoadBytes(buf.Bytes())
}

// LoadBytes decodes raw config text.
func LoadBytes(b []byte) (*Config, error) {
	if int64(len(b)) > maxConfigSize {
		return nil, ErrConfigTooLarge
	}
	var c Config
	if err := gcfg.ReadStringInto(&c, string(b)); err != nil {
		return nil, err
	}
	return &c, nil
}

// rateSuffix mirrors ingest/config's ParseRate suffix table.
var rateSuffix = []struct {
	mult   int64
	suffix string
}{
	{1024, "kbit"}, {1024, "kbps"},
	{1024 * 1024, "mbit"}, {1024 * 1024, "mbps"},
	{1024 * 1024 * 1024, "gbit"}, {1024 * 1024 * 1024, "gbps"},
}

// ParseRate parses a data rate string (plain integer bits/sec, or an
// integer with a kbit/kbps, mbit/mbps or gbit/gbps suffix) into bits per
// second. Both spellings of a suffix count bits, in powers of 1024.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for _, v := range rateSuffix {
		if strings.HasSuffix(s, v.suffix) {
			n, err := strconv.ParseUint(strings.TrimSuffix(s, v.suffix), 10, 64)
			if err != nil {
				return 0, err
			}
			return int64(n) * v.mult, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("netconf: invalid rate %q: %w", s, err)
	}
	return int64(n), nil
}
