/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package wal implements the on-device write-ahead log: an append-only
// byte log plus a committed read cursor, one directory per stream.
// Grounded in idiom on chancacher's disk-backed buffering
// (chancacher/chancacher.go) and the length-prefixed record framing
// ingest/entry uses, adapted to a simpler single-reader/single-writer
// shape.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrBufferCorrupt is returned for a decode anomaly that is not a
// plain trailing-partial-record (which is handled silently).
var ErrBufferCorrupt = errors.New("wal: buffer corrupt")

const (
	logFileName    = "log"
	cursorFileName = "cursor"
	lockFileName   = ".lock"
)

// WAL is an append-only record log with a committed read cursor. It is
// safe for concurrent Append calls from multiple goroutines within one
// process; a second process opening the same directory fails fast via
// an advisory flock.
type WAL struct {
	dir    string
	mtx    sync.Mutex
	logF   *os.File
	lock   *flock.Flock
	logLen int64
}

// Open opens (creating if absent) the WAL directory at dir, acquiring
// an advisory lock so a stray second writer fails fast instead of
// corrupting the log.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("wal: lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("wal: directory %s already locked by another writer", dir)
	}

	logF, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("wal: open log: %w", err)
	}

	fi, err := logF.Stat()
	if err != nil {
		logF.Close()
		lock.Unlock()
		return nil, err
	}

	return &WAL{dir: dir, logF: logF, lock: lock, logLen: fi.Size()}, nil
}

// Close releases the file handles and the directory lock.
func (w *WAL) Close() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	err := w.logF.Close()
	if uerr := w.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Append writes [len:u32-LE][data] and flushes to disk. data's length
// must fit in a uint32.
func (w *WAL) Append(data []byte) error {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return fmt.Errorf("wal: record of %d bytes exceeds u32 length prefix", len(data))
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))

	n, err := w.logF.Write(hdr[:])
	if err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	w.logLen += int64(n)

	n, err = w.logF.Write(data)
	if err != nil {
		return fmt.Errorf("wal: write record: %w", err)
	}
	w.logLen += int64(n)

	return w.logF.Sync()
}

// CommittedOffset returns the committed read position, 0 if no cursor
// file exists or it is shorter than 8 bytes.
func (w *WAL) CommittedOffset() (uint64, error) {
	b, err := os.ReadFile(filepath.Join(w.dir, cursorFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(b) < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(b[:8]), nil
}

// UncommittedSize returns max(0, log_len - committed_offset).
func (w *WAL) UncommittedSize() (uint64, error) {
	committed, err := w.CommittedOffset()
	if err != nil {
		return 0, err
	}
	w.mtx.Lock()
	logLen := w.logLen
	w.mtx.Unlock()
	if uint64(logLen) <= committed {
		return 0, nil
	}
	return uint64(logLen) - committed, nil
}

// PeekChunk reads up to maxItems length-prefixed records starting at
// the committed offset. It stops early and cleanly on EOF inside a
// record (a partial trailing record is not an error). nextOffset is
// the byte offset one past the last fully-read record; offsets[i] is
// that same WAL byte offset taken immediately after items[i], so a
// caller committing partway through the batch has the exact WAL byte
// boundary for each record rather than just the batch's end.
func (w *WAL) PeekChunk(maxItems int) (nextOffset uint64, items [][]byte, offsets []uint64, err error) {
	start, err := w.CommittedOffset()
	if err != nil {
		return 0, nil, nil, err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	f, err := os.Open(filepath.Join(w.dir, logFileName))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("wal: reopen log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
		return 0, nil, nil, err
	}

	offset := start
	for len(items) < maxItems || maxItems <= 0 {
		var hdr [4]byte
		n, rerr := io.ReadFull(f, hdr[:])
		if rerr != nil {
			if isCleanEOF(rerr, n) {
				break
			}
			return 0, nil, nil, fmt.Errorf("%w: %v", ErrBufferCorrupt, rerr)
		}

		recLen := binary.LittleEndian.Uint32(hdr[:])
		buf := make([]byte, recLen)
		n, rerr = io.ReadFull(f, buf)
		if rerr != nil {
			if isCleanEOF(rerr, n) {
				// Partial trailing record: header was read but the
				// body is truncated. Treat as "no more complete
				// records", not an error.
				break
			}
			return 0, nil, nil, fmt.Errorf("%w: %v", ErrBufferCorrupt, rerr)
		}

		offset += 4 + uint64(recLen)
		items = append(items, buf)
		offsets = append(offsets, offset)

		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}

	return offset, items, offsets, nil
}

func isCleanEOF(err error, n int) bool {
	return errors.Is(err, io.EOF) || (errors.Is(err, io.ErrUnexpectedEOF) && n >= 0)
}

// CommitOffset atomically truncates and rewrites the cursor file. o
// must be a value previously returned by PeekChunk, either nextOffset
// or one of offsets.
func (w *WAL) CommitOffset(o uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], o)

	tmp, err := os.CreateTemp(w.dir, cursorFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("wal: create temp cursor: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b[:]); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("wal: write temp cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(w.dir, cursorFileName))
}
