/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package transform implements the watermark-driven derived-stream
// engine: a Transform reads from a source origin and upserts into a
// destination origin, keyed by the input frame's uuid so derived
// records inherit provenance. Grounded on original_source's
// server/src/transform.rs transform_data_single loop (source/dest
// origin pair, apply, upsert-by-uuid-at-destination, watermark
// advance), translated from its single-shot batch shape into this
// repo's idiom of a resumable engine polling store-backed watermarks.
package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/schema"
	"github.com/MattHandzel/lifelog/internal/store"
)

// Transform derives one modality's records from another's. Apply must
// be deterministic for a given input: re-running the engine over
// already-processed inputs must produce the same output frame.
type Transform interface {
	SourceOrigin() model.DataOrigin
	DestinationOrigin() model.DataOrigin
	Apply(input model.Frame) (model.DataModality, error)
	Priority() int
}

// Engine applies a set of transforms in priority order (highest
// first), each tracked by its own store-backed watermark.
type Engine struct {
	store      *store.Store
	schema     *schema.Registry
	log        *lllog.Logger
	transforms []Transform
}

func NewEngine(st *store.Store, sch *schema.Registry, log *lllog.Logger, transforms ...Transform) *Engine {
	if log == nil {
		log = lllog.NewDiscardLogger()
	}
	sorted := make([]Transform, len(transforms))
	copy(sorted, transforms)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	return &Engine{store: st, schema: sch, log: log, transforms: sorted}
}

// RunOnce advances every registered transform by one watermark step,
// returning the total number of derived frames written.
func (e *Engine) RunOnce() (int, error) {
	total := 0
	for _, tr := range e.transforms {
		n, err := e.runTransform(tr)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) runTransform(tr Transform) (int, error) {
	src := tr.SourceOrigin()
	dst := tr.DestinationOrigin()
	srcTable := src.TableName()
	dstTable := dst.TableName()

	last, err := e.store.GetWatermark(srcTable, dstTable)
	if err != nil {
		return 0, fmt.Errorf("transform: reading watermark %s->%s: %w", srcTable, dstTable, err)
	}
	since := time.Time{} // beginning of time: never processed
	if last != "" {
		since, err = time.Parse(time.RFC3339Nano, last)
		if err != nil {
			return 0, fmt.Errorf("transform: parsing watermark %s->%s: %w", srcTable, dstTable, err)
		}
	}

	// A watermark is exclusive: frames strictly newer than the last
	// processed TCanonical are pending. The far-future end keeps this a
	// single QueryTimeRange call, which scans the whole source table.
	pending, err := e.store.QueryTimeRange(src, since.Add(time.Nanosecond), farFuture)
	if err != nil {
		return 0, fmt.Errorf("transform: scanning %s: %w", srcTable, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	frames := make([]model.Frame, 0, len(pending))
	for _, key := range pending {
		f, err := e.store.GetFrame(key)
		if err != nil {
			e.log.Warn("transform: source frame vanished", lllog.KV("uuid", key.UUID.String()), lllog.KVErr(err))
			continue
		}
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].TCanonical.Before(frames[j].TCanonical) })

	if err := e.schema.EnsureTableSchema(dst); err != nil {
		return 0, fmt.Errorf("transform: ensure destination table: %w", err)
	}

	written := 0
	var newWatermark time.Time
	for _, f := range frames {
		out, err := tr.Apply(f)
		if err != nil {
			e.log.Warn("transform apply failed", lllog.KV("uuid", f.UUID.String()), lllog.KVErr(err))
			continue
		}
		derived := model.Frame{
			UUID:       f.UUID, // inherit provenance: same id as the input frame
			Origin:     dst,
			TDevice:    f.TDevice,
			TCanonical: f.TCanonical,
			TEnd:       f.TEnd,
			RecordType: f.RecordType,
			Payload:    out,
		}
		if err := e.store.PutFrame(derived); err != nil {
			return written, fmt.Errorf("transform: upserting derived frame: %w", err)
		}
		written++
		if f.TCanonical.After(newWatermark) {
			newWatermark = f.TCanonical
		}
	}

	if !newWatermark.IsZero() {
		if err := e.store.PutWatermark(srcTable, dstTable, newWatermark.Format(time.RFC3339Nano)); err != nil {
			return written, fmt.Errorf("transform: advancing watermark: %w", err)
		}
	}
	return written, nil
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
