/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package chunkvalidate enforces sequential chunk offsets with hash
// integrity and resume semantics. Pure and synchronous, no I/O;
// grounded on original_source's ChunkOffsetValidator, translated from
// Rust's enum-based OffsetPolicy/ChunkError into Go error values.
package chunkvalidate

import (
	"errors"
	"fmt"

	"github.com/MattHandzel/lifelog/internal/cas"
)

var (
	ErrEmptyChunk = errors.New("chunkvalidate: empty chunk")
	ErrHashMismatch = errors.New("chunkvalidate: hash mismatch")
	ErrOffsetGap    = errors.New("chunkvalidate: offset gap")
	ErrOffsetOverlap = errors.New("chunkvalidate: offset overlap")
)

// HashMismatchError carries the expected/actual hashes for callers
// that want to log or compare them.
type HashMismatchError struct {
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("chunkvalidate: hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *HashMismatchError) Unwrap() error { return ErrHashMismatch }

// OffsetError carries the expected/actual offsets for gap/overlap errors.
type OffsetError struct {
	Sentinel error
	Expected uint64
	Actual   uint64
}

func (e *OffsetError) Error() string {
	kind := "gap"
	if errors.Is(e.Sentinel, ErrOffsetOverlap) {
		kind = "overlap"
	}
	return fmt.Sprintf("chunkvalidate: offset %s: expected %d, got %d", kind, e.Expected, e.Actual)
}

func (e *OffsetError) Unwrap() error { return e.Sentinel }

// Policy controls how an out-of-sequence offset is handled.
type Policy struct {
	// Resume is false for Strict, true to accept a chunk at
	// AllowOffset without surfacing a gap or overlap error. The
	// validator does not count how often this happens.
	Resume     bool
	AllowOffset uint64
}

// Strict is the default policy: any non-matching offset is an error.
func Strict() Policy { return Policy{} }

// ResumeAt accepts a chunk at offset without a gap or overlap error,
// on every call made with this policy.
func ResumeAt(offset uint64) Policy {
	return Policy{Resume: true, AllowOffset: offset}
}

// Validator holds the next expected offset for one stream.
type Validator struct {
	nextOffset uint64
}

// New creates a Validator starting at startOffset.
func New(startOffset uint64) *Validator {
	return &Validator{nextOffset: startOffset}
}

// NextOffset returns the offset the validator currently expects.
func (v *Validator) NextOffset() uint64 {
	return v.nextOffset
}

// ValidateChunk applies the rules in order: empty check, hash check,
// fast-path on exact match, then policy-gated gap/overlap handling. On
// success it advances and returns the new next offset.
func (v *Validator) ValidateChunk(offset uint64, data []byte, declaredHash string, policy Policy) (uint64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyChunk
	}

	actual := cas.Hash(data)
	if actual != declaredHash {
		return 0, &HashMismatchError{Expected: declaredHash, Actual: actual}
	}

	if offset == v.nextOffset {
		v.nextOffset += uint64(len(data))
		return v.nextOffset, nil
	}

	if policy.Resume && offset == policy.AllowOffset {
		v.nextOffset = offset + uint64(len(data))
		return v.nextOffset, nil
	}

	if offset > v.nextOffset {
		return 0, &OffsetError{Sentinel: ErrOffsetGap, Expected: v.nextOffset, Actual: offset}
	}
	return 0, &OffsetError{Sentinel: ErrOffsetOverlap, Expected: v.nextOffset, Actual: offset}
}
