/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package store wraps a single bolt database holding one bucket per
// modality table plus the upload_chunks and transform_watermarks
// metadata buckets. Grounded on go.etcd.io/bbolt as the document store
// backend spec.md assumes ("a document store supporting namespaces,
// typed records keyed by (table, id)").
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/MattHandzel/lifelog/internal/model"
)

var (
	ErrNotFound = errors.New("store: record not found")
)

var (
	chunksBucket      = []byte("upload_chunks")
	watermarksBucket  = []byte("transform_watermarks")
)

// Store is the server-side document store: typed per-modality buckets,
// plus chunk metadata and transform watermarks.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bolt database at path and
// ensures the fixed metadata buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(chunksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(watermarksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureTable creates the bolt bucket backing a modality table if
// absent. Bolt's CreateBucketIfNotExists is itself idempotent; the
// schema package layers an in-memory createdTables cache on top, the
// same idiom ingest uses, to avoid a transaction on the hot path once
// a table is known.
func (s *Store) EnsureTable(table string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(table))
		return err
	})
}

// PutFrame writes a frame's payload into its origin's table, keyed by
// the frame's UUID, JSON-encoded for readability and stable ordering.
func (s *Store) PutFrame(f model.Frame) error {
	table := f.Origin.TableName()
	b, err := json.Marshal(frameRecord{
		UUID:       f.UUID.String(),
		TDevice:    f.TDevice,
		TCanonical: f.TCanonical,
		TEnd:       f.TEnd,
		RecordType: f.RecordType,
		Payload:    f.Payload,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(table))
		if bk == nil {
			return fmt.Errorf("store: table %s not initialized", table)
		}
		return bk.Put([]byte(f.UUID.String()), b)
	})
}

type frameRecord struct {
	UUID       string
	TDevice    time.Time
	TCanonical time.Time
	TEnd       time.Time
	RecordType model.RecordType
	Payload    model.DataModality
}

// GetFrame fetches a frame by its LifelogFrameKey.
func (s *Store) GetFrame(key model.LifelogFrameKey) (model.Frame, error) {
	table := key.Origin.TableName()
	var rec frameRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(table))
		if bk == nil {
			return ErrNotFound
		}
		raw := bk.Get([]byte(key.UUID.String()))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return model.Frame{}, err
	}
	return model.Frame{
		UUID:       key.UUID,
		Origin:     key.Origin,
		TDevice:    rec.TDevice,
		TCanonical: rec.TCanonical,
		TEnd:       rec.TEnd,
		RecordType: rec.RecordType,
		Payload:    rec.Payload,
	}, nil
}

// QueryTimeRange returns the keys of every record in table whose
// TCanonical falls in [start, end), the primitive the query planner's
// time_range filter compiles down to.
func (s *Store) QueryTimeRange(origin model.DataOrigin, start, end time.Time) ([]model.LifelogFrameKey, error) {
	table := origin.TableName()
	var keys []model.LifelogFrameKey
	err := s.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(table))
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, v []byte) error {
			var rec frameRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.TCanonical.Before(start) && rec.TCanonical.Before(end) {
				id, err := uuid.Parse(rec.UUID)
				if err != nil {
					return err
				}
				keys = append(keys, model.LifelogFrameKey{UUID: id, Origin: origin})
			}
			return nil
		})
	})
	return keys, err
}

// PutChunkRecord creates the chunk's metadata row if absent. A
// conflicting existing record with a different hash at the same key
// is surfaced as an error rather than silently overwritten; a matching
// duplicate is idempotent success.
func (s *Store) PutChunkRecord(cr model.ChunkRecord) error {
	key := cr.BoltKey()
	return s.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(chunksBucket)
		existing := bk.Get(key)
		if existing != nil {
			var prev model.ChunkRecord
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			if prev.Hash != cr.Hash {
				return fmt.Errorf("store: chunk record hash mismatch at existing key %s: %s != %s", cr.Stream, prev.Hash, cr.Hash)
			}
			return nil // idempotent: identical record already present
		}
		b, err := json.Marshal(cr)
		if err != nil {
			return err
		}
		return bk.Put(key, b)
	})
}

// MarkChunkIndexed flips ChunkRecord.Indexed to true for the given key.
func (s *Store) MarkChunkIndexed(cr model.ChunkRecord) error {
	key := cr.BoltKey()
	return s.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(chunksBucket)
		raw := bk.Get(key)
		if raw == nil {
			return ErrNotFound
		}
		var rec model.ChunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Indexed = true
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bk.Put(key, b)
	})
}

// ContiguousAckedOffset scans the persisted ChunkRecords for a stream,
// in offset order, and returns the end of the longest contiguous
// indexed=true prefix starting at startOffset. This implements the
// spec's true watermark semantics (any ChunkRecord up through some
// contiguous offset indexed) rather than a single-point check.
func (s *Store) ContiguousAckedOffset(stream model.StreamIdentity, startOffset uint64) (uint64, error) {
	recs, err := s.chunkRecordsForStream(stream)
	if err != nil {
		return 0, err
	}

	byOffset := make(map[uint64]model.ChunkRecord, len(recs))
	for _, r := range recs {
		byOffset[r.Offset] = r
	}

	acked := startOffset
	for {
		rec, ok := byOffset[acked]
		if !ok || !rec.Indexed {
			break
		}
		acked += rec.Length
	}
	return acked, nil
}

func (s *Store) chunkRecordsForStream(stream model.StreamIdentity) ([]model.ChunkRecord, error) {
	var out []model.ChunkRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(chunksBucket)
		return bk.ForEach(func(k, v []byte) error {
			var rec model.ChunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Stream == stream {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// PutWatermark records the last-seen source frame uuid processed by a
// transform for (sourceOrigin, destOrigin), used to resume derivation.
func (s *Store) PutWatermark(sourceTable, destTable string, lastUUID string) error {
	key := []byte(sourceTable + "->" + destTable)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(watermarksBucket).Put(key, []byte(lastUUID))
	})
}

// GetWatermark returns the last processed uuid, or "" if none recorded.
func (s *Store) GetWatermark(sourceTable, destTable string) (string, error) {
	key := []byte(sourceTable + "->" + destTable)
	var v string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(watermarksBucket).Get(key)
		v = string(raw)
		return nil
	})
	return v, err
}

// KnownOrigins walks every non-metadata bucket name and parses it back
// into a DataOrigin, mirroring ingest's get_origins_from_db used
// during startup migrations.
func (s *Store) KnownOrigins() ([]model.DataOrigin, error) {
	var origins []model.DataOrigin
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			n := string(name)
			if n == string(chunksBucket) || n == string(watermarksBucket) {
				return nil
			}
			origin, perr := model.ParseTableName(n)
			if perr != nil {
				return nil // not an origin-shaped bucket; skip
			}
			origins = append(origins, origin)
			return nil
		})
	})
	return origins, err
}
