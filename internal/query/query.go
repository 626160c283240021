/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package query implements the llql subform parser, planner, and
// executor: Query(text[]) compiles a small declarative form down to a
// table + time-range scan over internal/store, returning
// LifelogFrameKeys. Grounded in idiom on gravwell's own query
// language layering (a restricted surface over a richer backend),
// though the concrete grammar here is its own llql:{...} form.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/store"
)

var (
	ErrNotLLQL       = errors.New("query: not an llql form")
	ErrUnknownFilter = errors.New("query: unknown filter operator")
)

const llqlPrefix = "llql:"

// Target names which table(s) a query restricts to.
type Target struct {
	Type     string `json:"type"`
	Modality string `json:"modality"`
}

// Filter is the declarative predicate; today only time_range is defined.
type Filter struct {
	Op    string    `json:"op"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Form is the parsed shape of one llql:{...} query string.
type Form struct {
	Target Target `json:"target"`
	Filter Filter `json:"filter"`
}

// Parse parses a raw query string of the form llql:{...}. A string
// without the llql: prefix is treated as free text and returns
// ErrNotLLQL, so callers can tell it apart from a malformed llql form;
// this package has no free-text search path.
func Parse(text string) (Form, error) {
	if !strings.HasPrefix(text, llqlPrefix) {
		return Form{}, ErrNotLLQL
	}
	raw := strings.TrimPrefix(text, llqlPrefix)
	var f Form
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Form{}, fmt.Errorf("query: parsing llql form: %w", err)
	}
	if f.Filter.Op != "" && f.Filter.Op != "time_range" {
		return Form{}, fmt.Errorf("%w: %s", ErrUnknownFilter, f.Filter.Op)
	}
	return f, nil
}

// Plan is a parsed Form reduced to a modality tag and a time range.
// The Executor matches the tag against every known origin, device-rooted
// or derived, so derived (transformed) origins are addressed by their
// own distinct modality tag (e.g. "ocr") rather than by parentage.
type Plan struct {
	Modality model.Modality
	Start    time.Time
	End      time.Time
}

func (f Form) Plan() (Plan, error) {
	if f.Target.Type != "modality" {
		return Plan{}, fmt.Errorf("query: unsupported target type %q", f.Target.Type)
	}
	return Plan{
		Modality: model.Modality(f.Target.Modality),
		Start:    f.Filter.Start,
		End:      f.Filter.End,
	}, nil
}

// Executor runs a Plan against the store, restricting to every known
// origin whose modality matches and whose records fall in range.
type Executor struct {
	store *store.Store
}

func NewExecutor(s *store.Store) *Executor {
	return &Executor{store: s}
}

// Execute runs the query end to end: parse, plan, restrict to
// matching origins, filter by time range, project id.
func (e *Executor) Execute(text string) ([]model.LifelogFrameKey, error) {
	form, err := Parse(text)
	if err != nil {
		return nil, err
	}
	plan, err := form.Plan()
	if err != nil {
		return nil, err
	}

	origins, err := e.store.KnownOrigins()
	if err != nil {
		return nil, err
	}

	var keys []model.LifelogFrameKey
	for _, o := range origins {
		if o.Modality != plan.Modality {
			continue
		}
		got, err := e.store.QueryTimeRange(o, plan.Start, plan.End)
		if err != nil {
			return nil, fmt.Errorf("query: scanning %s: %w", o.TableName(), err)
		}
		keys = append(keys, got...)
	}
	return keys, nil
}

// GetDataResult pairs a requested key with either its data or an
// error, since a missing record is a per-key failure, not a batch one.
type GetDataResult struct {
	Key  model.LifelogFrameKey
	Data model.DataModality
	Err  error
}

// GetData fetches each key's record independently.
func (e *Executor) GetData(keys []model.LifelogFrameKey) []GetDataResult {
	out := make([]GetDataResult, len(keys))
	for i, k := range keys {
		f, err := e.store.GetFrame(k)
		if err != nil {
			out[i] = GetDataResult{Key: k, Err: err}
			continue
		}
		out[i] = GetDataResult{Key: k, Data: f.Payload}
	}
	return out
}
