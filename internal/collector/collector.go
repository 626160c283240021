/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package collector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MattHandzel/lifelog/internal/buffer"
	"github.com/MattHandzel/lifelog/internal/lifelogcfg"
	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/skew"
)

// driverSource pairs one enabled driver with the WAL-backed source it
// appends into, and the interval it's ticked at.
type driverSource struct {
	driver   Driver
	source   *buffer.Source
	interval time.Duration
}

// Collector owns capture: one goroutine per enabled driver, each
// appending encoded frames to its own buffered WAL. The upload side
// (internal/upload) drains those buffers independently.
type Collector struct {
	cfg lifelogcfg.CollectorConfig
	log *lllog.Logger

	mtx         sync.Mutex
	skewOffset  time.Duration
	drivers     map[model.Modality]*driverSource

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg lifelogcfg.CollectorConfig, log *lllog.Logger) *Collector {
	if log == nil {
		log = lllog.NewDiscardLogger()
	}
	return &Collector{cfg: cfg, log: log, drivers: make(map[model.Modality]*driverSource)}
}

// Register binds driver to its WAL directory under the configured
// WAL root, reading the enable/interval settings for driver.Modality()
// from the loaded config. A driver named in code but absent or
// disabled in config is simply never started.
func (c *Collector) Register(driver Driver) error {
	name := string(driver.Modality())
	dcfg, ok := c.cfg.Driver[name]
	if !ok || !dcfg.Enable {
		return nil
	}
	interval, err := time.ParseDuration(dcfg.Interval)
	if err != nil {
		return fmt.Errorf("collector: driver %s has invalid interval %q: %w", name, dcfg.Interval, err)
	}

	dir := filepath.Join(c.cfg.Global.WAL_Root, name)
	src, err := buffer.Open(name, dir)
	if err != nil {
		return fmt.Errorf("collector: opening buffer for %s: %w", name, err)
	}

	c.mtx.Lock()
	c.drivers[driver.Modality()] = &driverSource{driver: driver, source: src, interval: interval}
	c.mtx.Unlock()
	return nil
}

// SetSkewOffset updates the device->server clock offset applied to
// every frame captured from this point on, per an Estimate the
// collector's time-sync loop periodically refreshes.
func (c *Collector) SetSkewOffset(est skew.Estimate) {
	c.mtx.Lock()
	c.skewOffset = est.Offset
	c.mtx.Unlock()
}

// Source returns the buffered WAL for a registered modality, the
// handle internal/upload drains.
func (c *Collector) Source(m model.Modality) (*buffer.Source, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ds, ok := c.drivers[m]
	if !ok {
		return nil, false
	}
	return ds.source, true
}

// Start launches one capture goroutine per registered driver.
func (c *Collector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.mtx.Lock()
	drivers := make([]*driverSource, 0, len(c.drivers))
	for _, ds := range c.drivers {
		drivers = append(drivers, ds)
	}
	c.mtx.Unlock()

	for _, ds := range drivers {
		ds := ds
		c.wg.Add(1)
		go c.runDriver(ctx, ds)
	}
}

// Stop cancels every capture goroutine and waits for them to exit,
// then closes their WALs.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, ds := range c.drivers {
		ds.source.Close()
	}
}

func (c *Collector) runDriver(ctx context.Context, ds *driverSource) {
	defer c.wg.Done()
	ticker := time.NewTicker(ds.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.captureOnce(ds); err != nil {
				if errors.Is(err, ErrNoChange) {
					continue
				}
				c.log.Warn("driver capture failed",
					lllog.KV("modality", string(ds.driver.Modality())), lllog.KVErr(err))
			}
		}
	}
}

func (c *Collector) captureOnce(ds *driverSource) error {
	payload, err := ds.driver.Capture(context.Background())
	if err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("collector: invalid capture payload: %w", err)
	}

	now := time.Now().UTC()
	c.mtx.Lock()
	offset := c.skewOffset
	c.mtx.Unlock()

	f := model.Frame{
		UUID:       uuid.New(),
		Origin:     model.NewDeviceOrigin(c.cfg.Global.Collector_ID, ds.driver.Modality()),
		TDevice:    now,
		TCanonical: now.Add(offset),
		TEnd:       now,
		RecordType: model.Point,
		Payload:    payload,
	}
	b, err := model.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("collector: encoding frame: %w", err)
	}
	return ds.source.Append(b)
}
