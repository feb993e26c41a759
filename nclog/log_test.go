/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package nclog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf)

	require.NoError(t, l.Info("should not appear"))
	require.Empty(t, buf.String())

	require.NoError(t, l.Warn("device eth0 down"))
	require.True(t, strings.Contains(buf.String(), "device eth0 down"))
}

func TestSetLevelRejectsOutOfRange(t *testing.T) {
	l := New(INFO)
	require.ErrorIs(t, l.SetLevel(Level(99)), ErrInvalidLevel)
}

func TestStructuredDataIncluded(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf)
	require.NoError(t, l.Error("class overlimit", SD("class", "1:10"), SD("strategy", "delay")))
	out := buf.String()
	require.True(t, strings.Contains(out, "class overlimit"))
	require.True(t, strings.Contains(out, "class=\"1:10\""))
}

func TestMultipleWritersAllReceiveLine(t *testing.T) {
	var a, b bytes.Buffer
	l := New(DEBUG, &a)
	l.AddWriter(&b)
	require.NoError(t, l.Info("hello"))
	require.True(t, strings.Contains(a.String(), "hello"))
	require.True(t, strings.Contains(b.String(), "hello"))
}
