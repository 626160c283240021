/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transform

import (
	"fmt"

	"github.com/MattHandzel/lifelog/internal/model"
)

// StubOCR derives an ocr record from a screen capture. It does not run
// a real recognizer: it stands in for one the way original_source's
// OcrTransform does in its test fixtures, so the derived-stream path
// (watermark, upsert-by-uuid, provenance) has a concrete, deterministic
// transform to exercise end to end.
type StubOCR struct {
	Source model.DataOrigin
	Dest   model.DataOrigin
}

// NewStubOCR builds the canonical screen->ocr transform for a device,
// matching original_source's fixed "ocr" derivation id.
func NewStubOCR(deviceID string) StubOCR {
	src := model.NewDeviceOrigin(deviceID, model.ModalityScreen)
	return StubOCR{Source: src, Dest: model.NewDerivedOrigin(src, model.ModalityOcr)}
}

func (t StubOCR) SourceOrigin() model.DataOrigin      { return t.Source }
func (t StubOCR) DestinationOrigin() model.DataOrigin { return t.Dest }
func (t StubOCR) Priority() int                       { return 100 }

func (t StubOCR) Apply(input model.Frame) (model.DataModality, error) {
	if input.Payload.Tag != model.ModalityScreen || input.Payload.Screen == nil {
		return model.DataModality{}, fmt.Errorf("transform: stub ocr requires a screen frame, got %s", input.Payload.Tag)
	}
	screen := input.Payload.Screen
	text := fmt.Sprintf("<ocr unavailable: %dx%d %s capture, %d bytes>", screen.Width, screen.Height, screen.MimeType, len(screen.ImageBytes))
	return model.DataModality{Tag: model.ModalityOcr, Ocr: &model.OcrPayload{Text: text}}, nil
}
