/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package collector owns the on-device capture side: a set of
// modality drivers, each feeding its own buffered WAL. The control
// stream and the upload loops are run by the lifelog-collector
// command, not by this package. Grounded on
// ingest/entryWriter.go's IngestMuxer (one entry point coordinating
// several independently-ticking sources into a shared connection) and
// on the processors package's narrow single-purpose interfaces.
package collector

import (
	"context"

	"github.com/MattHandzel/lifelog/internal/model"
)

// Driver is the capture seam: one instance per enabled modality.
// Capture is called on the driver's configured interval and returns
// exactly one record's payload, or an error to skip this tick.
type Driver interface {
	Modality() model.Modality
	Capture(ctx context.Context) (model.DataModality, error)
}
