/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package nclog provides structured logging for netcored: RFC5424 syslog
// framing over one or more writers, with level gating and key/value
// structured data, in the style of gravwell's ingest/log package.
package nclog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	}
	return "OFF"
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

var ErrInvalidLevel = errors.New("nclog: invalid level")

// ParseLevel maps a config-file level name (case-insensitive) to a Level,
// the way ingest/log.Logger.SetLevelString parses Log_Level from a config
// file's Global section.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL", "CRIT", "FATAL":
		return CRITICAL, nil
	}
	return OFF, ErrInvalidLevel
}

const maxHostname = 255

// Logger writes leveled, RFC5424-framed log lines to one or more
// io.Writers (a file, stderr, a unix control-socket client...).
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.Writer
	lvl      Level
	hostname string
	appname  string
}

// New creates a Logger at the given minimum level, guessing hostname and
// appname from the environment the way ingest/log's metadata does.
func New(lvl Level, wtrs ...io.Writer) *Logger {
	l := &Logger{wtrs: wtrs, lvl: lvl}
	if h, err := os.Hostname(); err == nil {
		if len(h) > maxHostname {
			h = h[:maxHostname]
		}
		l.hostname = h
	}
	if args := os.Args; len(args) > 0 {
		exe := filepath.Base(args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		l.appname = exe
	}
	return l
}

// AddWriter appends another destination for log output.
func (l *Logger) AddWriter(w io.Writer) {
	l.mtx.Lock()
	l.wtrs = append(l.wtrs, w)
	l.mtx.Unlock()
}

// SetLevel adjusts the minimum level that will be emitted.
func (l *Logger) SetLevel(lvl Level) error {
	if lvl < OFF || lvl > CRITICAL {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) error    { return l.output(DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam) error     { return l.output(INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam) error     { return l.output(WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) error    { return l.output(ERROR, msg, sds...) }
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) error { return l.output(CRITICAL, msg, sds...) }

func (l *Logger) output(lvl Level, msg string, sds ...rfc5424.SDParam) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if lvl < l.lvl || l.lvl == OFF {
		return nil
	}
	line, err := genRFCMessage(time.Now(), lvl.priority(), l.hostname, l.appname, lvl.String(), msg, sds...)
	if err != nil {
		return err
	}
	var firstErr error
	for _, w := range l.wtrs {
		if _, err := w.Write(line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msgid, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trimLength(255, hostname),
		AppName:   trimLength(48, appname),
		MessageID: trimLength(32, msgid),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{
			{
				ID:         "netcore@1",
				Parameters: sds,
			},
		}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// SD is a convenience constructor for a structured-data key/value pair.
func SD(name, value string) rfc5424.SDParam { return rfc5424.SDParam{Name: name, Value: value} }

func trimLength(n int, s string) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
