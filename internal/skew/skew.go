/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package skew estimates per-device clock offset, maps point-in-time
// frames to replay intervals, and joins across modalities at read
// time. Pure functions, heavily unit tested; grounded on
// original_source's time_skew.rs/replay.rs/correlation.rs, translated
// into Go's time.Time/time.Duration.
package skew

import (
	"sort"
	"time"
)

// Quality buckets a confidence score into a human-facing label.
type Quality int

const (
	Unknown Quality = iota
	Good
	Degraded
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "good"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Sample is one (device_now, server_now) observation pair.
type Sample struct {
	DeviceNow time.Time
	ServerNow time.Time
}

// Estimate is a point-in-time clock skew estimate for one device.
type Estimate struct {
	Offset     time.Duration
	Confidence float64
	Quality    Quality
}

// Apply maps a device-local timestamp to canonical (server-aligned) time.
func (e Estimate) Apply(tDevice time.Time) time.Time {
	return tDevice.Add(e.Offset)
}

// EstimateSkew computes the median (server_now - device_now) offset
// across samples, with a median-absolute-deviation-derived confidence.
// Deliberately simple and deterministic: the "median" here is the
// sorted-middle element (not an average of the two middle elements for
// even-length input), matching the reference estimator this is ported
// from so confidence bands line up exactly for identical inputs.
func EstimateSkew(samples []Sample) Estimate {
	if len(samples) == 0 {
		return Estimate{Quality: Unknown}
	}

	offsetsMs := make([]int64, len(samples))
	for i, s := range samples {
		offsetsMs[i] = s.ServerNow.Sub(s.DeviceNow).Milliseconds()
	}
	sort.Slice(offsetsMs, func(i, j int) bool { return offsetsMs[i] < offsetsMs[j] })
	medianMs := medianI64(offsetsMs)

	absDevs := make([]int64, len(offsetsMs))
	for i, v := range offsetsMs {
		d := v - medianMs
		if d < 0 {
			d = -d
		}
		absDevs[i] = d
	}
	sort.Slice(absDevs, func(i, j int) bool { return absDevs[i] < absDevs[j] })
	madMs := medianI64(absDevs)

	confidence := confidenceFromMAD(madMs)

	var q Quality
	switch {
	case confidence >= 0.85:
		q = Good
	case confidence >= 0.40:
		q = Degraded
	default:
		q = Unknown
	}

	return Estimate{
		Offset:     time.Duration(medianMs) * time.Millisecond,
		Confidence: confidence,
		Quality:    q,
	}
}

func confidenceFromMAD(madMs int64) float64 {
	switch {
	case madMs <= 50:
		return 0.95
	case madMs >= 5000:
		return 0.05
	default:
		t := (float64(madMs) - 50.0) / (5000.0 - 50.0)
		c := 0.95 - 0.9*t
		if c < 0.05 {
			c = 0.05
		}
		if c > 0.95 {
			c = 0.95
		}
		return c
	}
}

func medianI64(sorted []int64) int64 {
	return sorted[len(sorted)/2]
}

// ReplayStep is one half-open window [Start, End) a replay consumer
// should treat as belonging to a single observed point frame.
type ReplayStep struct {
	Start time.Time
	End   time.Time
}

// BuildReplaySteps maps point timestamps into replay windows
// [t_i, t_{i+1}), extending the final step to windowEnd when there is
// room left in the window. frameTimes is sorted and deduplicated by
// this function; the input slice is not mutated.
func BuildReplaySteps(frameTimes []time.Time, windowEnd time.Time) []ReplayStep {
	times := dedupSorted(frameTimes)

	switch len(times) {
	case 0:
		return nil
	case 1:
		t0 := times[0]
		if !t0.Before(windowEnd) {
			return nil
		}
		return []ReplayStep{{Start: t0, End: windowEnd}}
	default:
		steps := make([]ReplayStep, 0, len(times))
		for i := 0; i < len(times)-1; i++ {
			start, end := times[i], times[i+1]
			if start.Before(end) {
				steps = append(steps, ReplayStep{Start: start, End: end})
			}
		}

		lastT := times[len(times)-1]
		prev := times[len(times)-2]
		if lastT.After(prev) && lastT.Before(windowEnd) {
			steps = append(steps, ReplayStep{Start: lastT, End: windowEnd})
		}

		return steps
	}
}

func dedupSorted(in []time.Time) []time.Time {
	if len(in) == 0 {
		return nil
	}
	cp := make([]time.Time, len(in))
	copy(cp, in)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Before(cp[j]) })

	out := cp[:1]
	for _, t := range cp[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

// TimeInterval is a half-open [Start, End) window.
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// NewTimeInterval returns (interval, true) iff start < end.
func NewTimeInterval(start, end time.Time) (TimeInterval, bool) {
	if !start.Before(end) {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: start, End: end}, true
}

func (iv TimeInterval) Overlaps(other TimeInterval) bool {
	maxStart := iv.Start
	if other.Start.After(maxStart) {
		maxStart = other.Start
	}
	minEnd := iv.End
	if other.End.Before(minEnd) {
		minEnd = other.End
	}
	return maxStart.Before(minEnd)
}

func (iv TimeInterval) ContainsPoint(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Within reports whether two point times are within delta of each other.
func Within(a, b time.Time, delta time.Duration) bool {
	dt := a.Sub(b)
	if dt < 0 {
		dt = -dt
	}
	return dt <= delta
}

// WithinInterval reports whether t is inside interval, or within delta
// of its start/end boundary.
func WithinInterval(t time.Time, iv TimeInterval, delta time.Duration) bool {
	if iv.ContainsPoint(t) {
		return true
	}
	if t.Before(iv.Start) && iv.Start.Sub(t) <= delta {
		return true
	}
	if !t.Before(iv.End) && t.Sub(iv.End) <= delta {
		return true
	}
	return false
}

// ContextRecord is one record of an interval-keyed stream being joined
// against a set of replay steps. UUID and OriginTable only feed the
// deterministic tie-break order; the package stays free of any
// dependency on the record's actual payload type.
type ContextRecord struct {
	Start       time.Time
	End         time.Time
	UUID        string
	OriginTable string
}

// JoinContext assigns each record to every replay step whose window,
// padded by pad on both sides, overlaps the record's own [Start, End)
// span. A record can land in more than one step; within a step,
// records are ordered by (Start, UUID, OriginTable) and truncated to
// maxPerStep (maxPerStep <= 0 means unbounded).
func JoinContext(steps []ReplayStep, records []ContextRecord, pad time.Duration, maxPerStep int) map[int][]ContextRecord {
	ordered := make([]ContextRecord, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.UUID != b.UUID {
			return a.UUID < b.UUID
		}
		return a.OriginTable < b.OriginTable
	})

	out := make(map[int][]ContextRecord, len(steps))
	for i, step := range steps {
		padStart, padEnd := step.Start.Add(-pad), step.End.Add(pad)
		for _, r := range ordered {
			if maxPerStep > 0 && len(out[i]) >= maxPerStep {
				break
			}
			if intervalsOverlap(padStart, padEnd, r.Start, r.End) {
				out[i] = append(out[i], r)
			}
		}
	}
	return out
}

func intervalsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	maxStart := aStart
	if bStart.After(maxStart) {
		maxStart = bStart
	}
	minEnd := aEnd
	if bEnd.Before(minEnd) {
		minEnd = bEnd
	}
	return maxStart.Before(minEnd)
}
