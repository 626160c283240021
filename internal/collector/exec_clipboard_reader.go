/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package collector

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
)

// ExecClipboardReader shells out to the platform clipboard utility,
// grounded in idiom on gravwell's driver-process ingesters (e.g.
// kafka_consumer, sqsIngester) that wrap an external command/SDK
// behind the ingest pipeline's narrow capture interface.
type ExecClipboardReader struct {
	cmd  string
	args []string
}

// NewExecClipboardReader picks the platform paste command: pbpaste on
// darwin, xclip on linux. Callers on an unsupported
// platform get a reader whose ReadClipboard always errors.
func NewExecClipboardReader() *ExecClipboardReader {
	switch runtime.GOOS {
	case "darwin":
		return &ExecClipboardReader{cmd: "pbpaste"}
	case "linux":
		return &ExecClipboardReader{cmd: "xclip", args: []string{"-selection", "clipboard", "-o"}}
	default:
		return &ExecClipboardReader{}
	}
}

func (r *ExecClipboardReader) ReadClipboard() (string, string, error) {
	if r.cmd == "" {
		return "", "", fmt.Errorf("collector: no clipboard command for %s", runtime.GOOS)
	}
	var out bytes.Buffer
	cmd := exec.Command(r.cmd, r.args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("collector: running %s: %w", r.cmd, err)
	}
	return out.String(), "text/plain", nil
}
