/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package version holds the build-time version stamp, grounded on
// ingesters/version's PrintVersion/GetVersion shape.
package version

import (
	"fmt"
	"io"
	"time"
)

const (
	MajorVersion = 0
	MinorVersion = 1
	PointVersion = 0
)

var BuildDate time.Time = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func PrintVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "Version:\t%d.%d.%d\n", MajorVersion, MinorVersion, PointVersion)
	fmt.Fprintf(wtr, "BuildDate:\t%s\n", BuildDate.Format(`2006-01-02 15:04:05`))
}

func GetVersion() string {
	return fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PointVersion)
}
