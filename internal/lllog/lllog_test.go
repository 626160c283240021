/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package lllog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)

	require.NoError(t, l.Infof("should not appear %d", 1))
	require.Empty(t, buf.String())

	require.NoError(t, l.Warnf("should appear %d", 2))
	require.Contains(t, buf.String(), "should appear 2")
	require.Contains(t, buf.String(), "WARN")
}

func TestLevelFromString(t *testing.T) {
	require.Equal(t, DEBUG, LevelFromString("debug"))
	require.Equal(t, ERROR, LevelFromString("ERROR"))
	require.Equal(t, INFO, LevelFromString("bogus"))
}

func TestStructuredIncludesKV(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)
	require.NoError(t, l.Info("chunk accepted", KV("stream", "abc"), KVErr(nil)))
	out := buf.String()
	require.True(t, strings.Contains(out, "stream") && strings.Contains(out, "abc"))
}

func TestKVLoggerPersistsFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, DEBUG)
	kvl := NewKVLogger(base, KV("collector", "c1"))
	kvl.AddKV(KV("stream", "s1"))
	require.NoError(t, kvl.Info("hello"))
	require.NotEmpty(t, buf.String())
}

func TestDiscardLogger(t *testing.T) {
	l := NewDiscardLogger()
	require.NoError(t, l.Infof("dropped"))
}
