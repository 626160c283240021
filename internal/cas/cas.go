/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package cas implements the content-addressed blob store: SHA-256
// keyed, atomic deduplicated writes via rename-into-place. Grounded on
// gravwell's renameio dependency (wired here for its intended use:
// atomic file publish) and on original_source's FsCas semantics.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/renameio"
)

// ErrInvalidHash is returned when a caller supplies a hash that is not
// exactly 64 lowercase hex characters.
var ErrInvalidHash = errors.New("cas: invalid hash")

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is a filesystem-backed content-addressed blob store.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cas: mkdir %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Hash computes the hex-encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PathForHash validates hash and returns its on-disk path, layout
// root/<h[0:2]>/<h[2:]>.
func (s *Store) PathForHash(hash string) (string, error) {
	if !hashPattern.MatchString(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return filepath.Join(s.root, hash[:2], hash[2:]), nil
}

// Put writes data, returning its hash. If the target already exists,
// it returns the hash without writing (deduplication). A rename race
// where another writer wins is treated as success, since content is
// identical by construction (hash-addressed).
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)
	path, err := s.PathForHash(hash)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("cas: mkdir parent: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0644); err != nil {
		// Another writer may have raced us to the same content-addressed
		// path; if the file now exists, the write is moot.
		if _, statErr := os.Stat(path); statErr == nil {
			return hash, nil
		}
		return "", fmt.Errorf("cas: write %s: %w", path, err)
	}

	return hash, nil
}

// Get reads the blob stored under hash.
func (s *Store) Get(hash string) ([]byte, error) {
	path, err := s.PathForHash(hash)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Contains reports whether hash is present in the store.
func (s *Store) Contains(hash string) (bool, error) {
	path, err := s.PathForHash(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
