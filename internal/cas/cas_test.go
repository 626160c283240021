/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package cas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	hash, err := s.Put([]byte("hello world"))
	require.NoError(t, err)
	require.Len(t, hash, 64)

	got, err := s.Get(hash)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestPutIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	h1, err := s.Put([]byte("dedup me"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("dedup me"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestContains(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	hash, err := s.Put([]byte("x"))
	require.NoError(t, err)

	ok, err := s.Contains(hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Contains(Hash([]byte("not present")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidHashRejected(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.PathForHash("not-a-hash")
	require.ErrorIs(t, err, ErrInvalidHash)

	_, err = s.Get("deadbeef")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func TestPathLayout(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	hash := Hash([]byte("layout"))
	path, err := s.PathForHash(hash)
	require.NoError(t, err)
	require.Contains(t, path, hash[:2])
	require.Contains(t, path, hash[2:])
}
