/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lifelogcfg parses collector and server configuration files,
// adapted from ingest/config's gcfg-backed loader. Two file shapes:
// collector config (server address, collector id, per-modality driver
// settings, WAL root) and server config (listen address, bolt path,
// CAS root, policy tunables).
package lifelogcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 4 * 1024 * 1024

var (
	ErrConfigFileTooLarge = errors.New("lifelogcfg: config file too large")
	ErrFailedFileRead     = errors.New("lifelogcfg: failed to read entire config file")
)

// LoadConfigFile reads p and unmarshals it into v via gcfg's ini-style
// parser, mirroring ingest/config's LoadConfigFile/LoadConfigBytes split.
func LoadConfigFile(v interface{}, p string) error {
	fin, err := os.Open(p)
	if err != nil {
		return err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return err
	}
	if fi.Size() > maxConfigSize {
		return ErrConfigFileTooLarge
	}

	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, fin)
	if err != nil {
		return err
	}
	if n != fi.Size() {
		return ErrFailedFileRead
	}
	return LoadConfigBytes(v, bb.Bytes())
}

// LoadConfigBytes unmarshals raw ini-style config bytes into v.
func LoadConfigBytes(v interface{}, b []byte) error {
	if int64(len(b)) > maxConfigSize {
		return ErrConfigFileTooLarge
	}
	return gcfg.ReadStringInto(v, string(b))
}

// ModalityDriverConfig enables one capture driver at a given interval.
type ModalityDriverConfig struct {
	Enable   bool
	Interval string // parsed with time.ParseDuration by the collector runtime
}

// CollectorConfig is the [global] + [driver "name"] shape for a collector.
type CollectorConfig struct {
	Global struct {
		Server_Address string
		Collector_ID   string
		WAL_Root       string
		Cache_Mode     string
		Log_Level      string
		Log_File       string
	}
	Driver map[string]*ModalityDriverConfig
}

// Validate checks the required CollectorConfig fields: server address,
// collector id, and WAL root must be non-empty.
func (c *CollectorConfig) Validate() error {
	if c.Global.Server_Address == `` {
		return fmt.Errorf("lifelogcfg: collector config missing Server-Address")
	}
	if c.Global.Collector_ID == `` {
		return fmt.Errorf("lifelogcfg: collector config missing Collector-ID")
	}
	if c.Global.WAL_Root == `` {
		return fmt.Errorf("lifelogcfg: collector config missing WAL-Root")
	}
	return nil
}

// ServerPolicyConfig tunes the periodic policy loop's resource ceilings
// and cadence.
type ServerPolicyConfig struct {
	Max_CPU                 int
	Max_Memory              int
	Max_Threads             int
	Collector_Sync_Interval string
}

// ServerConfig is the [global] shape for the server process.
type ServerConfig struct {
	Global struct {
		Listen_Address  string
		Database_Path   string
		CAS_Root        string
		TLS_Cert        string
		TLS_Key         string
		Log_Level       string
		Log_File        string
		Database_Name   string
		Server_Name     string
	}
	Policy ServerPolicyConfig
}

// Validate checks the required ServerConfig fields: listen address,
// database path, and CAS root must be non-empty.
func (c *ServerConfig) Validate() error {
	if c.Global.Listen_Address == `` {
		return fmt.Errorf("lifelogcfg: server config missing Listen-Address")
	}
	if c.Global.Database_Path == `` {
		return fmt.Errorf("lifelogcfg: server config missing Database-Path")
	}
	if c.Global.CAS_Root == `` {
		return fmt.Errorf("lifelogcfg: server config missing CAS-Root")
	}
	return nil
}
