/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ingestpipeline is the server side of the resumable chunked
// upload: validates a chunk, writes its bytes to CAS, decodes and
// upserts the typed frame, records chunk metadata, and computes the
// acked offset. Grounded in idiom on muxer.go's per-connection
// validator lifecycle management, adapted to a single-chunk
// request/response shape rather than gravwell's always-open
// streaming connection.
package ingestpipeline

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MattHandzel/lifelog/internal/cas"
	"github.com/MattHandzel/lifelog/internal/chunkvalidate"
	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/schema"
	"github.com/MattHandzel/lifelog/internal/store"
)

// Pipeline is the server-side ingest entrypoint, one per server process.
type Pipeline struct {
	store    *store.Store
	cas      *cas.Store
	schema   *schema.Registry
	log      *lllog.Logger

	mtx        sync.Mutex
	validators map[model.StreamIdentity]*chunkvalidate.Validator

	sf singleflight.Group
}

func New(st *store.Store, cs *cas.Store, sch *schema.Registry, log *lllog.Logger) *Pipeline {
	if log == nil {
		log = lllog.NewDiscardLogger()
	}
	return &Pipeline{
		store:      st,
		cas:        cs,
		schema:     sch,
		log:        log,
		validators: make(map[model.StreamIdentity]*chunkvalidate.Validator),
	}
}

// GetUploadOffset returns the offset a collector should resume
// uploading from for the given stream: the contiguous acked offset,
// or 0 for a never-seen stream.
func (p *Pipeline) GetUploadOffset(stream model.StreamIdentity) (uint64, error) {
	return p.store.ContiguousAckedOffset(stream, 0)
}

func (p *Pipeline) validatorFor(stream model.StreamIdentity, startOffset uint64) *chunkvalidate.Validator {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	v, ok := p.validators[stream]
	if !ok {
		v = chunkvalidate.New(startOffset)
		p.validators[stream] = v
	}
	return v
}

// IngestChunk runs the full per-chunk ingest path (validate, CAS put,
// decode+upsert, record chunk metadata, mark indexed) and returns the
// post-ingest acked offset for the stream. Concurrent calls for the
// same stream are collapsed with singleflight so only one of them
// touches the per-stream validator at a time: a call that arrives
// while another for the same stream is in flight does not ingest its
// own chunk, and receives the in-flight call's acked offset or error.
func (p *Pipeline) IngestChunk(stream model.StreamIdentity, offset uint64, data []byte, declaredHash string) (uint64, error) {
	key := stream.String()
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		return p.ingestChunkLocked(stream, offset, data, declaredHash)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (p *Pipeline) ingestChunkLocked(stream model.StreamIdentity, offset uint64, data []byte, declaredHash string) (uint64, error) {
	startOffset, err := p.store.ContiguousAckedOffset(stream, 0)
	if err != nil {
		return 0, fmt.Errorf("ingestpipeline: resolving start offset: %w", err)
	}
	validator := p.validatorFor(stream, startOffset)

	// Step 2: validate with Resume{allow_offset: offset} so a client
	// can re-send an in-flight chunk after a disconnect without
	// surfacing an overlap error. Since allow_offset is the chunk's own
	// offset, every offset passes here and no gap or overlap error is
	// raised; only the empty and hash checks can reject. The acked
	// offset below still covers only a contiguous run of chunks.
	newNext, err := validator.ValidateChunk(offset, data, declaredHash, chunkvalidate.ResumeAt(offset))
	if err != nil {
		p.log.Warn("chunk rejected", lllog.KV("stream", stream.String()), lllog.KV("offset", offset), lllog.KVErr(err))
		return 0, err
	}

	// Step 3: content-address the bytes.
	hash, err := p.cas.Put(data)
	if err != nil {
		return 0, fmt.Errorf("ingestpipeline: cas put: %w", err)
	}
	if hash != declaredHash {
		return 0, fmt.Errorf("ingestpipeline: cas hash %s does not match declared hash %s", hash, declaredHash)
	}

	// Step 4: decode and upsert the typed frame.
	frame, err := model.DecodeFrame(data)
	if err != nil {
		return 0, fmt.Errorf("ingestpipeline: decode frame: %w", err)
	}
	if err := p.schema.EnsureTableSchema(frame.Origin); err != nil {
		return 0, fmt.Errorf("ingestpipeline: ensure table: %w", err)
	}
	if err := p.store.PutFrame(frame); err != nil {
		return 0, fmt.Errorf("ingestpipeline: put frame: %w", err)
	}

	// Step 5: persist chunk metadata, create-if-absent / idempotent.
	cr := model.ChunkRecord{Stream: stream, Offset: offset, Length: uint64(len(data)), Hash: hash}
	if err := p.store.PutChunkRecord(cr); err != nil {
		return 0, fmt.Errorf("ingestpipeline: put chunk record: %w", err)
	}

	// No separate downstream indexer in this deployment: the typed
	// record is searchable the instant it is written, so "indexed"
	// flips immediately after step 4 for modalities whose indexed
	// state is equivalent to written.
	if err := p.store.MarkChunkIndexed(cr); err != nil {
		return 0, fmt.Errorf("ingestpipeline: mark indexed: %w", err)
	}

	_ = newNext

	// Step 6: recompute the true contiguous-indexed watermark.
	acked, err := p.store.ContiguousAckedOffset(stream, startOffset)
	if err != nil {
		return 0, fmt.Errorf("ingestpipeline: computing acked offset: %w", err)
	}
	return acked, nil
}
