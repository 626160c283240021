/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package query

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func putFrameAt(t *testing.T, st *store.Store, origin model.DataOrigin, ts time.Time) model.LifelogFrameKey {
	t.Helper()
	require.NoError(t, st.EnsureTable(origin.TableName()))
	f := model.Frame{
		UUID:       uuid.New(),
		Origin:     origin,
		TCanonical: ts,
		RecordType: model.Point,
		Payload:    model.DataModality{Tag: model.ModalityClipboard, Clipboard: &model.ClipboardPayload{Text: "x"}},
	}
	require.NoError(t, st.PutFrame(f))
	return model.LifelogFrameKey{UUID: f.UUID, Origin: origin}
}

func TestParseRejectsNonLLQL(t *testing.T) {
	_, err := Parse(`"Rust"`)
	require.ErrorIs(t, err, ErrNotLLQL)
}

func TestParseRoundTripsTimeRangeForm(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	text := fmt.Sprintf(`llql:{"target":{"type":"modality","modality":"clipboard"},"filter":{"op":"time_range","start":%q,"end":%q}}`,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	f, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, "modality", f.Target.Type)
	require.Equal(t, "clipboard", f.Target.Modality)
	require.True(t, start.Equal(f.Filter.Start))
	require.True(t, end.Equal(f.Filter.End))
}

func TestParseRejectsUnknownFilterOp(t *testing.T) {
	_, err := Parse(`llql:{"target":{"type":"modality","modality":"clipboard"},"filter":{"op":"bm25"}}`)
	require.ErrorIs(t, err, ErrUnknownFilter)
}

func TestExecuteRestrictsToModalityAndTimeRange(t *testing.T) {
	st := newTestStore(t)
	ex := NewExecutor(st)

	origin := model.NewDeviceOrigin("laptop-01", model.ModalityClipboard)
	other := model.NewDeviceOrigin("laptop-01", model.ModalityScreen)
	require.NoError(t, st.EnsureTable(other.TableName()))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inRange := putFrameAt(t, st, origin, base.Add(time.Hour))
	_ = putFrameAt(t, st, origin, base.Add(-time.Hour)) // outside window

	text := fmt.Sprintf(`llql:{"target":{"type":"modality","modality":"clipboard"},"filter":{"op":"time_range","start":%q,"end":%q}}`,
		base.Format(time.RFC3339), base.Add(2*time.Hour).Format(time.RFC3339))

	keys, err := ex.Execute(text)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, inRange.UUID, keys[0].UUID)
}

func TestGetDataReturnsPerKeyErrorNotBatchFailure(t *testing.T) {
	st := newTestStore(t)
	ex := NewExecutor(st)

	origin := model.NewDeviceOrigin("laptop-01", model.ModalityClipboard)
	present := putFrameAt(t, st, origin, time.Now())
	missing := model.LifelogFrameKey{UUID: uuid.New(), Origin: origin}

	results := ex.GetData([]model.LifelogFrameKey{present, missing})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Equal(t, "x", results[0].Data.Clipboard.Text)
	require.Error(t, results[1].Err)
}
