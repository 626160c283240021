/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package schema is the centralized per-modality table descriptor
// registry plus an idempotent ensure-table path, grounded on
// original_source's schema.rs (static SCHEMAS table, CREATED_TABLES
// cache, run_startup_migrations) translated from SurrealDB DDL strings
// to bolt bucket descriptors since internal/store is bbolt-backed.
package schema

import (
	"fmt"
	"sync"

	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/store"
)

// TableSchema documents the fields a modality's records are expected
// to carry. Bolt itself is schemaless, so this is not enforced by the
// store; EnsureTableSchema only checks that a modality has an entry.
type TableSchema struct {
	Modality model.Modality
	Fields   []string
}

var registry = map[model.Modality]TableSchema{
	model.ModalityScreen: {
		Modality: model.ModalityScreen,
		Fields:   []string{"timestamp", "width", "height", "image_bytes", "mime_type"},
	},
	model.ModalityOcr: {
		Modality: model.ModalityOcr,
		Fields:   []string{"timestamp", "text"},
	},
	model.ModalityBrowser: {
		Modality: model.ModalityBrowser,
		Fields:   []string{"timestamp", "url", "title", "visit_count"},
	},
	model.ModalityClipboard: {
		Modality: model.ModalityClipboard,
		Fields:   []string{"timestamp", "text", "mime_type"},
	},
	model.ModalityKeystrokes: {
		Modality: model.ModalityKeystrokes,
		Fields:   []string{"timestamp", "key_identity", "application", "window_title"},
	},
	model.ModalityMouse: {
		Modality: model.ModalityMouse,
		Fields:   []string{"timestamp", "x", "y", "button", "pressed"},
	},
	model.ModalityWindowActivity: {
		Modality: model.ModalityWindowActivity,
		Fields:   []string{"timestamp", "application", "title", "monitor"},
	},
	model.ModalityShellHistory: {
		Modality: model.ModalityShellHistory,
		Fields:   []string{"timestamp", "command", "shell_type"},
	},
	model.ModalityWeather: {
		Modality: model.ModalityWeather,
		Fields:   []string{"timestamp", "temperature", "humidity", "pressure", "conditions"},
	},
	model.ModalityProcesses: {
		Modality: model.ModalityProcesses,
		Fields:   []string{"timestamp", "entries"},
	},
	model.ModalityAudio: {
		Modality: model.ModalityAudio,
		Fields:   []string{"timestamp", "sample_rate", "channels", "bits", "data"},
	},
}

// SchemaFor looks up the schema definition for a given modality.
func SchemaFor(m model.Modality) (TableSchema, bool) {
	s, ok := registry[m]
	return s, ok
}

// Registry ensures modality tables exist idempotently, caching which
// tables have already been created this process to skip the bolt
// transaction on the hot path, mirroring ingest's CREATED_TABLES
// in-memory set idiom.
type Registry struct {
	store        *store.Store
	createdTables sync.Map // map[string]struct{}
}

func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// EnsureTableSchema ensures the bucket backing origin's table exists,
// validating that the origin's modality is a known schema first.
func (r *Registry) EnsureTableSchema(origin model.DataOrigin) error {
	table := origin.TableName()
	if _, ok := r.createdTables.Load(table); ok {
		return nil
	}

	if _, ok := SchemaFor(origin.Modality); !ok {
		return fmt.Errorf("schema: no schema defined for modality %s", origin.Modality)
	}

	if err := r.store.EnsureTable(table); err != nil {
		return err
	}
	r.createdTables.Store(table, struct{}{})
	return nil
}

// RunStartupMigrations ensures tables exist for every origin already
// present in the store, mirroring run_startup_migrations.
func (r *Registry) RunStartupMigrations() error {
	origins, err := r.store.KnownOrigins()
	if err != nil {
		return err
	}
	for _, o := range origins {
		if err := r.EnsureTableSchema(o); err != nil {
			return fmt.Errorf("schema: migrating table for %s: %w", o.TableName(), err)
		}
	}
	return nil
}
