/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MattHandzel/lifelog/internal/buffer"
	"github.com/MattHandzel/lifelog/internal/collector"
	"github.com/MattHandzel/lifelog/internal/lifelogcfg"
	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/skew"
	"github.com/MattHandzel/lifelog/internal/upload"
	"github.com/MattHandzel/lifelog/internal/wire"
	"github.com/MattHandzel/lifelog/version"
)

const defaultConfigLoc = `/opt/lifelog/etc/collector.conf`

var (
	configOverride = flag.String("config-file-override", "", "Override location for configuration file")
	ver            = flag.Bool("version", false, "Print the version information and exit")
)

func main() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}

	confLoc := defaultConfigLoc
	if *configOverride != "" {
		confLoc = *configOverride
	}

	var cfg lifelogcfg.CollectorConfig
	if err := lifelogcfg.LoadConfigFile(&cfg, confLoc); err != nil {
		fmt.Fprintf(os.Stderr, "lifelog-collector: failed to load config %s: %v\n", confLoc, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "lifelog-collector: invalid config: %v\n", err)
		os.Exit(1)
	}

	lg := buildLogger(cfg.Global.Log_Level, cfg.Global.Log_File)

	c := collector.New(cfg, lg)
	if err := c.Register(collector.NewClipboardDriver(collector.NewExecClipboardReader())); err != nil {
		lg.Fatal("registering clipboard driver", lllog.KVErr(err))
	}
	if err := c.Register(collector.NewSyntheticDriver()); err != nil {
		lg.Fatal("registering mouse driver", lllog.KVErr(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Start(ctx)
	defer c.Stop()

	go runControlStream(ctx, cfg, lg)
	go runTimeSync(ctx, cfg, c, lg)
	runUploaders(ctx, c, cfg, lg)
}

// runTimeSync periodically probes the server's clock, keeps a rolling
// window of samples, and feeds the resulting offset estimate into the
// collector so newly captured frames get a canonical timestamp
// corrected for this device's clock skew.
func runTimeSync(ctx context.Context, cfg lifelogcfg.CollectorConfig, c *collector.Collector, lg *lllog.Logger) {
	const (
		probeInterval = 1 * time.Minute
		maxSamples    = 16
	)

	var samples []skew.Sample
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, err := probeTimeSync(cfg.Global.Server_Address)
		if err != nil {
			lg.Warn("time sync probe failed", lllog.KVErr(err))
			continue
		}

		samples = append(samples, sample)
		if len(samples) > maxSamples {
			samples = samples[len(samples)-maxSamples:]
		}

		est := skew.EstimateSkew(samples)
		c.SetSkewOffset(est)
		lg.Debug("time sync estimate", lllog.KV("offset", est.Offset.String()), lllog.KV("quality", est.Quality.String()))
	}
}

func probeTimeSync(addr string) (skew.Sample, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return skew.Sample{}, err
	}
	defer conn.Close()

	wc := wire.NewConn(conn)
	deviceNow := time.Now().UTC()
	if err := wire.SendTimeSyncRequest(wc, wire.TimeSyncRequest{DeviceNow: deviceNow}); err != nil {
		return skew.Sample{}, err
	}
	resp, err := wire.RecvTimeSyncResponse(wc)
	if err != nil {
		return skew.Sample{}, err
	}
	return skew.Sample{DeviceNow: deviceNow, ServerNow: resp.ServerNow}, nil
}

// runControlStream holds one persistent connection registering this
// collector and periodically reporting state; a received
// BeginUploadSession command is a hint the upload goroutines already
// poll for independently, so it is logged rather than acted on
// directly in this release.
func runControlStream(ctx context.Context, cfg lifelogcfg.CollectorConfig, lg *lllog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", cfg.Global.Server_Address, 10*time.Second)
		if err != nil {
			lg.Warn("control stream dial failed", lllog.KVErr(err))
			time.Sleep(5 * time.Second)
			continue
		}
		wc := wire.NewConn(conn)
		if err := wire.SendRegister(wc, wire.RegisterMessage{CollectorID: cfg.Global.Collector_ID}); err != nil {
			wc.Close()
			continue
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				wire.SendReportState(wc, wire.ReportStateMessage{CollectorID: cfg.Global.Collector_ID})
				time.Sleep(30 * time.Second)
			}
		}()

		for {
			cmd, err := wire.RecvServerCommand(wc)
			if err != nil {
				break
			}
			if cmd.BeginUploadSession {
				lg.Info("server requested an upload sync")
			}
		}
		wc.Close()
		<-done
	}
}

func buildLogger(level, file string) *lllog.Logger {
	lvl := lllog.LevelFromString(level)
	if file == "" {
		return lllog.NewStderrLogger(lvl)
	}
	lg, err := lllog.NewFile(file, lvl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lifelog-collector: failed to open log file %s: %v, falling back to stderr\n", file, err)
		return lllog.NewStderrLogger(lvl)
	}
	return lg
}

// runUploaders opens one connection per enabled modality and drains
// its buffer on a fixed cadence until ctx is canceled, mirroring the
// per-stream independence the upload protocol assumes.
func runUploaders(ctx context.Context, c *collector.Collector, cfg lifelogcfg.CollectorConfig, lg *lllog.Logger) {
	for name, dcfg := range cfg.Driver {
		if !dcfg.Enable {
			continue
		}
		m := model.Modality(name)
		src, ok := c.Source(m)
		if !ok {
			continue
		}
		go runUploadLoop(ctx, cfg, src, model.StreamIdentity{
			CollectorID: cfg.Global.Collector_ID,
			StreamID:    name,
			SessionID:   uint64(time.Now().UnixNano()),
		}, lg)
	}
	<-ctx.Done()
}

func runUploadLoop(ctx context.Context, cfg lifelogcfg.CollectorConfig, src *buffer.Source, stream model.StreamIdentity, lg *lllog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", cfg.Global.Server_Address, 10*time.Second)
			if err != nil {
				lg.Warn("dial server failed", lllog.KV("stream", stream.String()), lllog.KVErr(err))
				continue
			}
			wc := wire.NewConn(conn)
			cycle := upload.New(stream, src, wc, 0, 0, 64, lg)
			if _, err := cycle.Run(ctx); err != nil {
				lg.Warn("upload cycle failed", lllog.KV("stream", stream.String()), lllog.KVErr(err))
			}
			wc.Close()
		}
	}
}
