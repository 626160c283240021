/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package buffer is the thin facade the upload manager uses over a
// single modality's WAL directory. It is the only surface
// internal/upload touches; callers never reach into internal/wal
// directly.
package buffer

import (
	"github.com/MattHandzel/lifelog/internal/wal"
)

// Source is one modality's buffered WAL, bound to a stream id.
type Source struct {
	streamID string
	wal      *wal.WAL
}

// Open opens (or creates) the WAL directory at dir for streamID.
func Open(streamID, dir string) (*Source, error) {
	w, err := wal.Open(dir)
	if err != nil {
		return nil, err
	}
	return &Source{streamID: streamID, wal: w}, nil
}

// StreamID returns the modality name this source is bound to.
func (s *Source) StreamID() string { return s.streamID }

// Append writes data to the underlying WAL.
func (s *Source) Append(data []byte) error {
	return s.wal.Append(data)
}

// PeekUploadBatch returns up to maxItems unacknowledged records, the
// WAL byte offset one past the last of them, and walOffsets[i], the
// WAL byte offset immediately after batch[i]; that per-record value is
// what CommitUpload needs to advance the cursor one record at a time.
func (s *Source) PeekUploadBatch(maxItems int) (nextOffset uint64, batch [][]byte, walOffsets []uint64, err error) {
	return s.wal.PeekChunk(maxItems)
}

// CommitUpload advances the WAL's committed cursor to offset, a WAL
// byte offset previously returned by PeekUploadBatch (either
// nextOffset or one of walOffsets), never a logical upload offset.
func (s *Source) CommitUpload(offset uint64) error {
	return s.wal.CommitOffset(offset)
}

// Close releases the underlying WAL's resources.
func (s *Source) Close() error {
	return s.wal.Close()
}
