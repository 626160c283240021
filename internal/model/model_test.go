/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTableNameRoundTripDevice(t *testing.T) {
	o := NewDeviceOrigin("laptop-01", ModalityScreen)
	name := o.TableName()
	require.True(t, ValidTableName(name))

	got, err := ParseTableName(name)
	require.NoError(t, err)
	require.Equal(t, o, got)
}

func TestTableNameRoundTripDerived(t *testing.T) {
	root := NewDeviceOrigin("laptop-01", ModalityScreen)
	derived := NewDerivedOrigin(root, ModalityOcr)
	name := derived.TableName()

	got, err := ParseTableName(name)
	require.NoError(t, err)
	require.Equal(t, derived, got)
	require.True(t, got.IsDerived())
}

func TestTableNameRoundTripDoublyDerived(t *testing.T) {
	root := NewDeviceOrigin("dev", ModalityScreen)
	mid := NewDerivedOrigin(root, ModalityOcr)
	leaf := NewDerivedOrigin(mid, Modality("summary"))

	got, err := ParseTableName(leaf.TableName())
	require.NoError(t, err)
	require.Equal(t, leaf, got)
}

func TestParseTableNameRejectsGarbage(t *testing.T) {
	_, err := ParseTableName("not-a-valid-prefix")
	require.Error(t, err)
}

func TestChunkRecordBoltKeyDistinguishesHyphenAmbiguity(t *testing.T) {
	a := ChunkRecord{Stream: StreamIdentity{CollectorID: "a-b", StreamID: "c", SessionID: 1}, Offset: 0}
	b := ChunkRecord{Stream: StreamIdentity{CollectorID: "a", StreamID: "b-c", SessionID: 1}, Offset: 0}
	require.NotEqual(t, a.BoltKey(), b.BoltKey())
}

func TestDataModalityValidateExactlyOne(t *testing.T) {
	valid := DataModality{Tag: ModalityOcr, Ocr: &OcrPayload{Text: "hi"}}
	require.NoError(t, valid.Validate())

	empty := DataModality{Tag: ModalityOcr}
	require.Error(t, empty.Validate())

	both := DataModality{Tag: ModalityOcr, Ocr: &OcrPayload{}, Screen: &ScreenPayload{}}
	require.Error(t, both.Validate())
}

func TestDataModalityEncodeDecodeRoundTrip(t *testing.T) {
	orig := DataModality{Tag: ModalityBrowser, Browser: &BrowserPayload{URL: "https://x", Title: "X", VisitCount: 3}}
	b, err := orig.Encode()
	require.NoError(t, err)

	got, err := DecodeDataModality(b)
	require.NoError(t, err)
	require.Equal(t, orig, got)
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	f := Frame{
		UUID:       uuid.New(),
		Origin:     NewDeviceOrigin("dev1", ModalityMouse),
		TDevice:    now,
		TCanonical: now,
		TEnd:       now,
		RecordType: Point,
		Payload:    DataModality{Tag: ModalityMouse, Mouse: &MousePayload{X: 1, Y: 2, Button: "left", Pressed: true}},
	}

	b, err := EncodeFrame(f)
	require.NoError(t, err)

	got, err := DecodeFrame(b)
	require.NoError(t, err)
	require.Equal(t, f.UUID, got.UUID)
	require.Equal(t, f.Origin, got.Origin)
	require.Equal(t, f.Payload, got.Payload)
	require.True(t, f.TDevice.Equal(got.TDevice))
}

func TestLifelogFrameKeyIdentity(t *testing.T) {
	id := uuid.New()
	k := LifelogFrameKey{UUID: id, Origin: NewDeviceOrigin("d", ModalityMouse)}
	require.Equal(t, id, k.UUID)
}
