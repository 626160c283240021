/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package policy implements the single server-side policy task: a
// fixed-tick loop choosing between syncing collectors and advancing
// derived-stream transforms. Grounded in idiom on muxer.go's central
// dispatch loop (one goroutine owns shared state, reacts to timers
// and outstanding work) and on chancacher's use of errgroup for
// fanning out a bounded set of concurrent operations.
package policy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MattHandzel/lifelog/internal/lifelogcfg"
	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/transform"
)

const (
	tickInterval        = 100 * time.Millisecond
	defaultSyncInterval = 30 * time.Second
)

// CollectorHandle is the server's view of one registered collector's
// control stream, narrowed to what the policy loop needs to send.
type CollectorHandle interface {
	BeginUploadSession() error
}

// Registry supplies the set of currently registered collectors.
type Registry interface {
	Collectors() map[string]CollectorHandle
}

// Loop is the server policy task described by ServerPolicyConfig: on
// every tick it examines state and emits at most one action.
type Loop struct {
	cfg        lifelogcfg.ServerPolicyConfig
	registry   Registry
	transforms *transform.Engine
	log        *lllog.Logger
	now        func() time.Time

	syncInterval time.Duration

	mtx              sync.Mutex
	lastSync         time.Time
	syncPending      bool
	transformPending bool
}

func New(cfg lifelogcfg.ServerPolicyConfig, reg Registry, eng *transform.Engine, log *lllog.Logger) *Loop {
	if log == nil {
		log = lllog.NewDiscardLogger()
	}
	interval := defaultSyncInterval
	if cfg.Collector_Sync_Interval != "" {
		if d, err := time.ParseDuration(cfg.Collector_Sync_Interval); err == nil {
			interval = d
		} else {
			log.Warn("invalid Collector-Sync-Interval, using default", lllog.KV("value", cfg.Collector_Sync_Interval), lllog.KVErr(err))
		}
	}
	return &Loop{
		cfg:          cfg,
		registry:     reg,
		transforms:   eng,
		log:          log,
		now:          time.Now,
		syncInterval: interval,
	}
}

// Run blocks, ticking the policy loop until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick runs exactly one iteration of the decision procedure described
// in the policy loop's spec: examine state, emit at most one action,
// apply it synchronously, and return so the next tick reads the
// updated state.
func (l *Loop) Tick() {
	action := l.decide()
	switch action {
	case actionSync:
		l.runSync()
	case actionTransform:
		l.runTransform()
	case actionNone:
		// nothing eligible this tick; caller already slept tickInterval.
	}
}

type action int

const (
	actionNone action = iota
	actionSync
	actionTransform
)

func (l *Loop) decide() action {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	syncDue := l.now().Sub(l.lastSync) >= l.syncInterval
	switch {
	case syncDue && !l.syncPending:
		l.syncPending = true
		return actionSync
	case !l.transformPending:
		l.transformPending = true
		return actionTransform
	default:
		return actionNone
	}
}

// runSync expands the SyncData action: send BeginUploadSession to
// every registered collector concurrently, bounded by errgroup so one
// slow collector cannot stall the others past the tick.
func (l *Loop) runSync() {
	defer func() {
		l.mtx.Lock()
		l.lastSync = l.now()
		l.syncPending = false
		l.mtx.Unlock()
	}()

	if l.registry == nil {
		return
	}
	collectors := l.registry.Collectors()
	var g errgroup.Group
	for id, h := range collectors {
		id, h := id, h
		g.Go(func() error {
			if err := h.BeginUploadSession(); err != nil {
				l.log.Warn("begin upload session failed", lllog.KV("collector", id), lllog.KVErr(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// runTransform expands the TransformData action: advance every
// registered transform by one watermark step.
func (l *Loop) runTransform() {
	defer func() {
		l.mtx.Lock()
		l.transformPending = false
		l.mtx.Unlock()
	}()

	if l.transforms == nil {
		return
	}
	if _, err := l.transforms.RunOnce(); err != nil {
		l.log.Warn("transform pass failed", lllog.KVErr(err))
	}
}
