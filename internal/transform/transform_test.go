/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transform

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MattHandzel/lifelog/internal/model"
	"github.com/MattHandzel/lifelog/internal/schema"
	"github.com/MattHandzel/lifelog/internal/store"
)

func newTestEngine(t *testing.T, transforms ...Transform) (*store.Store, *Engine) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reg := schema.NewRegistry(st)
	return st, NewEngine(st, reg, nil, transforms...)
}

func putScreenFrame(t *testing.T, st *store.Store, origin model.DataOrigin, ts time.Time) uuid.UUID {
	t.Helper()
	require.NoError(t, st.EnsureTable(origin.TableName()))
	f := model.Frame{
		UUID:       uuid.New(),
		Origin:     origin,
		TCanonical: ts,
		RecordType: model.Point,
		Payload: model.DataModality{Tag: model.ModalityScreen, Screen: &model.ScreenPayload{
			Width: 100, Height: 50, MimeType: "image/png", ImageBytes: []byte("fake"),
		}},
	}
	require.NoError(t, st.PutFrame(f))
	return f.UUID
}

func TestRunOnceDerivesOcrFromScreen(t *testing.T) {
	tr := NewStubOCR("laptop-01")
	st, eng := newTestEngine(t, tr)

	id := putScreenFrame(t, st, tr.SourceOrigin(), time.Now())

	n, err := eng.RunOnce()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	derived, err := st.GetFrame(model.LifelogFrameKey{UUID: id, Origin: tr.DestinationOrigin()})
	require.NoError(t, err)
	require.Equal(t, model.ModalityOcr, derived.Payload.Tag)
	require.NotNil(t, derived.Payload.Ocr)
}

func TestRunOnceIsIdempotentOnReapply(t *testing.T) {
	tr := NewStubOCR("laptop-01")
	st, eng := newTestEngine(t, tr)

	putScreenFrame(t, st, tr.SourceOrigin(), time.Now())

	n1, err := eng.RunOnce()
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := eng.RunOnce()
	require.NoError(t, err)
	require.Zero(t, n2, "watermark must prevent reprocessing already-derived frames")
}

func TestRunOnceSkipsNonMatchingPayload(t *testing.T) {
	tr := NewStubOCR("laptop-01")
	st, eng := newTestEngine(t, tr)

	require.NoError(t, st.EnsureTable(tr.SourceOrigin().TableName()))
	f := model.Frame{
		UUID:       uuid.New(),
		Origin:     tr.SourceOrigin(),
		TCanonical: time.Now(),
		RecordType: model.Point,
		Payload:    model.DataModality{Tag: model.ModalityClipboard, Clipboard: &model.ClipboardPayload{Text: "oops"}},
	}
	require.NoError(t, st.PutFrame(f))

	n, err := eng.RunOnce()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunOnceHonorsPriorityOrder(t *testing.T) {
	a := NewStubOCR("dev-a")
	b := NewStubOCR("dev-b")
	_, eng := newTestEngine(t, a, b)
	require.Equal(t, a.Priority(), eng.transforms[0].Priority())
	require.Len(t, eng.transforms, 2)
}
