/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package collector

import (
	"context"

	"github.com/MattHandzel/lifelog/internal/model"
)

// SyntheticDriver emits a deterministic sequence of mouse-move events;
// useful for exercising the collector loop and upload path without a
// real input backend, and in tests.
type SyntheticDriver struct {
	n int
}

func NewSyntheticDriver() *SyntheticDriver { return &SyntheticDriver{} }

func (d *SyntheticDriver) Modality() model.Modality { return model.ModalityMouse }

func (d *SyntheticDriver) Capture(ctx context.Context) (model.DataModality, error) {
	d.n++
	return model.DataModality{Tag: model.ModalityMouse, Mouse: &model.MousePayload{
		X: d.n, Y: d.n * 2, Button: "none", Pressed: false,
	}}, nil
}
