/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package collector

import (
	"context"
	"fmt"

	"github.com/MattHandzel/lifelog/internal/model"
)

// ClipboardReader abstracts the OS clipboard so ClipboardDriver stays
// testable without a display server; a real build wires this to the
// platform clipboard API.
type ClipboardReader interface {
	ReadClipboard() (text, mimeType string, err error)
}

// ClipboardDriver captures the current clipboard contents on each tick.
type ClipboardDriver struct {
	reader ClipboardReader
	lastText string
}

func NewClipboardDriver(r ClipboardReader) *ClipboardDriver {
	return &ClipboardDriver{reader: r}
}

func (d *ClipboardDriver) Modality() model.Modality { return model.ModalityClipboard }

// Capture skips emitting a record when the clipboard is unchanged
// since the last tick, since a fixed-interval poll would otherwise
// flood the WAL with identical entries between genuine copy events.
func (d *ClipboardDriver) Capture(ctx context.Context) (model.DataModality, error) {
	text, mime, err := d.reader.ReadClipboard()
	if err != nil {
		return model.DataModality{}, fmt.Errorf("collector: reading clipboard: %w", err)
	}
	if text == d.lastText {
		return model.DataModality{}, ErrNoChange
	}
	d.lastText = text
	return model.DataModality{Tag: model.ModalityClipboard, Clipboard: &model.ClipboardPayload{Text: text, MimeType: mime}}, nil
}

// ErrNoChange signals a tick with nothing new to capture; the
// collector run loop treats it as a silent skip, not a driver failure.
var ErrNoChange = fmt.Errorf("collector: no change since last capture")
