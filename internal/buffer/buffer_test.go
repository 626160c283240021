/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceRoundTrip(t *testing.T) {
	s, err := Open("screen", t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, "screen", s.StreamID())
	require.NoError(t, s.Append([]byte("frame-1")))
	require.NoError(t, s.Append([]byte("frame-2")))

	next, batch, walOffsets, err := s.PeekUploadBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Len(t, walOffsets, 2)
	require.Equal(t, walOffsets[len(walOffsets)-1], next)

	require.NoError(t, s.CommitUpload(next))

	_, batch, _, err = s.PeekUploadBatch(10)
	require.NoError(t, err)
	require.Empty(t, batch)
}
