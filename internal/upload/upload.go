/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package upload drains a collector's buffered WAL over the wire
// protocol: resolve the resume offset, then loop peek/chunk/send/ack,
// only committing the WAL cursor on an advancing ack. Grounded on
// chancacher's cache-draining goroutine (read a bounded batch, push
// each entry downstream, advance a persisted cursor only after
// confirmation) and on entryWriter.go's rate-limited writer using
// golang.org/x/time/rate.
package upload

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/MattHandzel/lifelog/internal/buffer"
	"github.com/MattHandzel/lifelog/internal/cas"
	"github.com/MattHandzel/lifelog/internal/lllog"
	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/wire"
)

// Cycle drains one stream's buffer against one connection. Each WAL
// record is its own Chunk: the server side decodes one frame per
// chunk, so batching never concatenates record bytes together.
type Cycle struct {
	stream  model.StreamIdentity
	source  *buffer.Source
	conn    *wire.Conn
	limiter *rate.Limiter
	log     *lllog.Logger

	// peekBatch caps how many records are read from the WAL per
	// PeekUploadBatch call, bounding memory rather than wire framing.
	peekBatch int
}

// New builds a drain cycle for one stream. ratePerSec bounds how many
// chunks may be sent per second; burst allows short bursts above that
// steady rate. A non-positive ratePerSec disables limiting.
func New(stream model.StreamIdentity, src *buffer.Source, conn *wire.Conn, ratePerSec float64, burst int, peekBatch int, log *lllog.Logger) *Cycle {
	if log == nil {
		log = lllog.NewDiscardLogger()
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	if peekBatch <= 0 {
		peekBatch = 64
	}
	return &Cycle{stream: stream, source: src, conn: conn, limiter: limiter, peekBatch: peekBatch, log: log}
}

// Run drains every unacknowledged record once, stopping when the WAL
// is caught up, the connection errors, or ctx is canceled. It returns
// the number of chunks successfully sent and acked.
func (c *Cycle) Run(ctx context.Context) (int, error) {
	offset, err := c.resumeOffset()
	if err != nil {
		return 0, fmt.Errorf("upload: resolving resume offset: %w", err)
	}

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		_, batch, walOffsets, err := c.source.PeekUploadBatch(c.peekBatch)
		if err != nil {
			return sent, fmt.Errorf("upload: peeking batch: %w", err)
		}
		if len(batch) == 0 {
			return sent, nil // caught up
		}

		for i, record := range batch {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return sent, err
				}
			}

			hash := cas.Hash(record)
			acked, err := c.sendChunk(offset, record, hash)
			if err != nil {
				// Do not commit the cursor: the next cycle retries this
				// same offset from scratch, matching the documented
				// stop-and-retry-next-cycle behavior on a failed send.
				return sent, fmt.Errorf("upload: sending chunk at offset %d: %w", offset, err)
			}

			nextOffset := offset + uint64(len(record))
			if acked < nextOffset {
				// Server did not fully accept this record (a gap, a
				// rejected hash surfaced as a stalled ack, or a
				// session reset). A partially-acked record has no
				// well-defined WAL byte boundary to commit to, so
				// stop here without advancing the cursor; the next
				// cycle resumes from wherever the server's own
				// offset now stands.
				return sent, nil
			}

			// Commit the WAL byte offset for this record, not the
			// server's logical acked offset: the two diverge by the
			// 4-byte length prefix per record, and the WAL cursor is
			// always a WAL byte position.
			if err := c.source.CommitUpload(walOffsets[i]); err != nil {
				return sent, fmt.Errorf("upload: committing cursor to %d: %w", walOffsets[i], err)
			}
			sent++
			offset = acked
		}
	}
}

func (c *Cycle) resumeOffset() (uint64, error) {
	if err := wire.SendGetUploadOffsetRequest(c.conn, wire.GetUploadOffsetRequest{Stream: c.stream}); err != nil {
		return 0, err
	}
	resp, err := wire.RecvGetUploadOffsetResponse(c.conn)
	if err != nil {
		return 0, err
	}
	return resp.Offset, nil
}

func (c *Cycle) sendChunk(offset uint64, data []byte, hash string) (uint64, error) {
	ch := wire.Chunk{Stream: c.stream, Offset: offset, Data: data, Hash: hash}
	if err := wire.SendChunk(c.conn, ch); err != nil {
		return 0, err
	}
	ack, err := wire.RecvAck(c.conn)
	if err != nil {
		return 0, err
	}
	return ack.AckedOffset, nil
}
