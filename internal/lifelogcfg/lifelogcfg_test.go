/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package lifelogcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const collectorConfExample = `
[global]
	Server-Address=127.0.0.1:9443
	Collector-ID=laptop-01
	WAL-Root=/var/lib/lifelog/wal
	Cache-Mode=always

[driver "screen"]
	Enable=true
	Interval=2s
`

func TestLoadCollectorConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collector.conf")
	require.NoError(t, os.WriteFile(path, []byte(collectorConfExample), 0644))

	var cfg CollectorConfig
	require.NoError(t, LoadConfigFile(&cfg, path))
	require.NoError(t, cfg.Validate())

	require.Equal(t, "127.0.0.1:9443", cfg.Global.Server_Address)
	require.Equal(t, "laptop-01", cfg.Global.Collector_ID)
	require.NotNil(t, cfg.Driver["screen"])
	require.True(t, cfg.Driver["screen"].Enable)
}

func TestCollectorConfigValidateRejectsMissingFields(t *testing.T) {
	var cfg CollectorConfig
	require.Error(t, cfg.Validate())
}

func TestServerConfigValidate(t *testing.T) {
	var cfg ServerConfig
	require.Error(t, cfg.Validate())

	cfg.Global.Listen_Address = "0.0.0.0:9443"
	cfg.Global.Database_Path = "/var/lib/lifelog/db"
	cfg.Global.CAS_Root = "/var/lib/lifelog/cas"
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.conf")
	big := make([]byte, maxConfigSize+1)
	require.NoError(t, os.WriteFile(path, big, 0644))

	var cfg CollectorConfig
	err := LoadConfigFile(&cfg, path)
	require.ErrorIs(t, err, ErrConfigFileTooLarge)
}
