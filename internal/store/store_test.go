/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MattHandzel/lifelog/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lifelog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetFrameRoundTrip(t *testing.T) {
	s := openTestStore(t)
	origin := model.NewDeviceOrigin("dev1", model.ModalityClipboard)
	require.NoError(t, s.EnsureTable(origin.TableName()))

	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	f := model.Frame{
		UUID:       id,
		Origin:     origin,
		TDevice:    now,
		TCanonical: now,
		TEnd:       now,
		RecordType: model.Point,
		Payload:    model.DataModality{Tag: model.ModalityClipboard, Clipboard: &model.ClipboardPayload{Text: "hi", MimeType: "text/plain"}},
	}
	require.NoError(t, s.PutFrame(f))

	got, err := s.GetFrame(model.LifelogFrameKey{UUID: id, Origin: origin})
	require.NoError(t, err)
	require.Equal(t, f.Payload, got.Payload)
	require.True(t, f.TCanonical.Equal(got.TCanonical))
}

func TestGetFrameNotFound(t *testing.T) {
	s := openTestStore(t)
	origin := model.NewDeviceOrigin("dev1", model.ModalityMouse)
	require.NoError(t, s.EnsureTable(origin.TableName()))

	_, err := s.GetFrame(model.LifelogFrameKey{UUID: uuid.New(), Origin: origin})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueryTimeRange(t *testing.T) {
	s := openTestStore(t)
	origin := model.NewDeviceOrigin("dev1", model.ModalityWeather)
	require.NoError(t, s.EnsureTable(origin.TableName()))

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		id := uuid.New()
		ts := base.Add(time.Duration(i) * time.Minute)
		f := model.Frame{
			UUID: id, Origin: origin, TDevice: ts, TCanonical: ts, TEnd: ts, RecordType: model.Point,
			Payload: model.DataModality{Tag: model.ModalityWeather, Weather: &model.WeatherPayload{Temperature: float64(i)}},
		}
		require.NoError(t, s.PutFrame(f))
	}

	keys, err := s.QueryTimeRange(origin, base.Add(1*time.Minute), base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Len(t, keys, 3)
}

func TestChunkRecordIdempotentAndFatalOnMismatch(t *testing.T) {
	s := openTestStore(t)
	stream := model.StreamIdentity{CollectorID: "c1", StreamID: "screen", SessionID: 1}
	cr := model.ChunkRecord{Stream: stream, Offset: 0, Length: 5, Hash: "h1"}

	require.NoError(t, s.PutChunkRecord(cr))
	require.NoError(t, s.PutChunkRecord(cr)) // idempotent replay

	conflicting := cr
	conflicting.Hash = "h2"
	require.Error(t, s.PutChunkRecord(conflicting))
}

func TestContiguousAckedOffset(t *testing.T) {
	s := openTestStore(t)
	stream := model.StreamIdentity{CollectorID: "c1", StreamID: "screen", SessionID: 1}

	cr0 := model.ChunkRecord{Stream: stream, Offset: 0, Length: 5, Hash: "a", Indexed: true}
	cr1 := model.ChunkRecord{Stream: stream, Offset: 5, Length: 5, Hash: "b", Indexed: false}
	require.NoError(t, s.PutChunkRecord(cr0))
	require.NoError(t, s.PutChunkRecord(cr1))

	acked, err := s.ContiguousAckedOffset(stream, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), acked) // stalls at the un-indexed chunk

	require.NoError(t, s.MarkChunkIndexed(cr1))
	acked, err = s.ContiguousAckedOffset(stream, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), acked)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := openTestStore(t)
	v, err := s.GetWatermark("src", "dst")
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, s.PutWatermark("src", "dst", "abc-123"))
	v, err = s.GetWatermark("src", "dst")
	require.NoError(t, err)
	require.Equal(t, "abc-123", v)
}

func TestKnownOrigins(t *testing.T) {
	s := openTestStore(t)
	o1 := model.NewDeviceOrigin("d1", model.ModalityScreen)
	o2 := model.NewDerivedOrigin(o1, model.ModalityOcr)
	require.NoError(t, s.EnsureTable(o1.TableName()))
	require.NoError(t, s.EnsureTable(o2.TableName()))

	origins, err := s.KnownOrigins()
	require.NoError(t, err)
	require.Len(t, origins, 2)
}
