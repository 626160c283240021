/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"bytes"
	"context"
	"encoding/gob"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MattHandzel/lifelog/internal/cas"
	"github.com/MattHandzel/lifelog/internal/ingestpipeline"
	"github.com/MattHandzel/lifelog/internal/lifelogcfg"
	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/policy"
	"github.com/MattHandzel/lifelog/internal/query"
	"github.com/MattHandzel/lifelog/internal/schema"
	"github.com/MattHandzel/lifelog/internal/store"
	"github.com/MattHandzel/lifelog/internal/transform"
	"github.com/MattHandzel/lifelog/internal/wire"
	"github.com/MattHandzel/lifelog/version"
)

const defaultConfigLoc = `/opt/lifelog/etc/server.conf`

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

	var cfg lifelogcfg.ServerConfig
	if err := lifelogcfg.LoadConfigFile(&cfg, confLoc); err != nil {
		fmt.Fprintf(os.Stderr, "lifelog-server: failed to load config %s: %v\n", confLoc, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "lifelog-server: invalid config: %v\n", err)
		os.Exit(1)
	}

	lvl := lllog.LevelFromString(cfg.Global.Log_Level)
	lg := lllog.NewStderrLogger(lvl)
	if cfg.Global.Log_File != "" {
		if f, err := lllog.NewFile(cfg.Global.Log_File, lvl); err == nil {
			lg = f
		} else {
			lg.Warn("failed to open log file, staying on stderr", lllog.KV("path", cfg.Global.Log_File), lllog.KVErr(err))
		}
	}

	st, err := store.Open(cfg.Global.Database_Path)
	if err != nil {
		lg.Fatal("opening store", lllog.KVErr(err))
	}
	defer st.Close()

	casStore, err := cas.Open(cfg.Global.CAS_Root)
	if err != nil {
		lg.Fatal("opening cas", lllog.KVErr(err))
	}

	reg := schema.NewRegistry(st)
	if err := reg.RunStartupMigrations(); err != nil {
		lg.Fatal("running startup migrations", lllog.KVErr(err))
	}

	pipeline := ingestpipeline.New(st, casStore, reg, lg)
	executor := query.NewExecutor(st)
	engine := transform.NewEngine(st, reg, lg)

	collectors := newCollectorRegistry()
	loop := policy.New(cfg.Policy, collectors, engine, lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			lg.Warn("policy loop exited", lllog.KVErr(err))
		}
	}()

	srv := &server{pipeline: pipeline, executor: executor, collectors: collectors, log: lg}
	if err := srv.listenAndServe(ctx, cfg.Global.Listen_Address); err != nil {
		lg.Fatal("server exited", lllog.KVErr(err))
	}
}

// collectorRegistry tracks persistent control-stream connections,
// keyed by collector id, so the policy loop can push BeginUploadSession.
type collectorRegistry struct {
	mtx sync.Mutex
	m   map[string]policy.CollectorHandle
}

func newCollectorRegistry() *collectorRegistry {
	return &collectorRegistry{m: make(map[string]policy.CollectorHandle)}
}

func (r *collectorRegistry) Collectors() map[string]policy.CollectorHandle {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make(map[string]policy.CollectorHandle, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out
}

func (r *collectorRegistry) put(id string, h policy.CollectorHandle) {
	r.mtx.Lock()
	r.m[id] = h
	r.mtx.Unlock()
}

func (r *collectorRegistry) remove(id string) {
	r.mtx.Lock()
	delete(r.m, id)
	r.mtx.Unlock()
}

type connHandle struct{ conn *wire.Conn }

func (h connHandle) BeginUploadSession() error {
	return wire.SendServerCommand(h.conn, wire.ServerCommand{BeginUploadSession: true})
}

type server struct {
	pipeline   *ingestpipeline.Pipeline
	executor   *query.Executor
	collectors *collectorRegistry
	log        *lllog.Logger
}

func (s *server) listenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.log.Info("listening", lllog.KV("address", addr))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(wire.NewConn(conn))
	}
}

// handleConn dispatches on the first frame's magic: a Register opens a
// long-lived control stream, everything else is a one-shot unary or
// client-streaming call that ends when the peer closes the connection.
func (s *server) handleConn(c *wire.Conn) {
	defer c.Close()

	magic, payload, err := c.ReadFrame()
	if err != nil {
		return
	}

	switch magic {
	case wire.RegisterMagic:
		var m wire.RegisterMessage
		if err := decodeInto(payload, &m); err != nil {
			return
		}
		s.handleControlStream(c, m)
	case wire.GetUploadOffsetReqMagic:
		var req wire.GetUploadOffsetRequest
		if err := decodeInto(payload, &req); err != nil {
			return
		}
		s.handleUploadSession(c, req)
	case wire.QueryReqMagic:
		var req wire.QueryRequest
		if err := decodeInto(payload, &req); err != nil {
			return
		}
		s.handleQuery(c, req)
	case wire.GetDataReqMagic:
		var req wire.GetDataRequest
		if err := decodeInto(payload, &req); err != nil {
			return
		}
		s.handleGetData(c, req)
	case wire.TimeSyncReqMagic:
		var req wire.TimeSyncRequest
		if err := decodeInto(payload, &req); err != nil {
			return
		}
		s.handleTimeSync(c, req)
	default:
		s.log.Warn("unexpected first frame", lllog.KV("magic", fmt.Sprintf("%#x", uint32(magic))))
	}
}

func (s *server) handleControlStream(c *wire.Conn, reg wire.RegisterMessage) {
	s.collectors.put(reg.CollectorID, connHandle{conn: c})
	defer s.collectors.remove(reg.CollectorID)
	s.log.Info("collector registered", lllog.KV("collector", reg.CollectorID))

	for {
		magic, payload, err := c.ReadFrame()
		if err != nil {
			return
		}
		if magic != wire.ReportStateMagic {
			continue
		}
		var rs wire.ReportStateMessage
		if err := decodeInto(payload, &rs); err == nil {
			s.log.Debug("report state", lllog.KV("collector", rs.CollectorID))
		}
	}
}

func (s *server) handleUploadSession(c *wire.Conn, first wire.GetUploadOffsetRequest) {
	offset, err := s.pipeline.GetUploadOffset(first.Stream)
	if err != nil {
		s.log.Warn("get upload offset failed", lllog.KVErr(err))
		return
	}
	if err := wire.SendGetUploadOffsetResponse(c, wire.GetUploadOffsetResponse{Offset: offset}); err != nil {
		return
	}

	for {
		ch, ok, err := wire.RecvChunk(c)
		if err != nil || !ok {
			return
		}
		acked, err := s.pipeline.IngestChunk(ch.Stream, ch.Offset, ch.Data, ch.Hash)
		if err != nil {
			s.log.Warn("ingest chunk failed", lllog.KV("stream", ch.Stream.String()), lllog.KVErr(err))
			return
		}
		if err := wire.SendAck(c, wire.Ack{AckedOffset: acked}); err != nil {
			return
		}
	}
}

func (s *server) handleQuery(c *wire.Conn, req wire.QueryRequest) {
	keys, err := s.executor.Execute(req.Text)
	if err != nil {
		_ = wire.SendError(c, wire.ErrorMessage{Message: err.Error()})
		return
	}
	_ = wire.SendQueryResponse(c, wire.QueryResponse{Keys: keys})
}

// handleTimeSync answers a single time-sync probe with the server's
// clock at receipt, giving the collector one sample for its skew
// estimator; the connection closes after one exchange.
func (s *server) handleTimeSync(c *wire.Conn, req wire.TimeSyncRequest) {
	_ = wire.SendTimeSyncResponse(c, wire.TimeSyncResponse{
		DeviceNow: req.DeviceNow,
		ServerNow: time.Now().UTC(),
	})
}

func (s *server) handleGetData(c *wire.Conn, req wire.GetDataRequest) {
	results := s.executor.GetData(req.Keys)
	resp := wire.GetDataResponse{Data: make([][]byte, len(results))}
	for i, r := range results {
		if r.Err != nil {
			continue // per-key failure: leave this slot empty, not a batch error
		}
		b, err := r.Data.Encode()
		if err != nil {
			continue
		}
		resp.Data[i] = b
	}
	_ = wire.SendGetDataResponse(c, resp)
}

func decodeInto(payload []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}
