// Package metrics provides a pluggable collector for pipeline telemetry.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector receives operational metrics from the enrichment pipeline.
// Implement it to integrate with an external monitoring system; the
// implementation is chosen at construction time and absence of a backend
// never affects pipeline correctness.
type Collector interface {
	// RecordEncodeBatch is called after each encode phase.
	// ok and failed count the per-item outcomes; duration covers the
	// whole encoder invocation.
	RecordEncodeBatch(ok, failed int, duration time.Duration)

	// RecordEnrichRun is called after each driver run.
	// err is nil when the run completed without an unrecoverable failure.
	RecordEnrichRun(processed int, duration time.Duration, err error)
}

// Noop is a no-op Collector. Use it when metrics are not needed.
type Noop struct{}

func (Noop) RecordEncodeBatch(int, int, time.Duration) {}
func (Noop) RecordEnrichRun(int, time.Duration, error) {}

// Basic provides simple in-memory metrics collection without external
// dependencies, suitable for a stats endpoint or debugging.
type Basic struct {
	EncodeOK     atomic.Int64
	EncodeFailed atomic.Int64
	EncodeNanos  atomic.Int64
	RunsTotal    atomic.Int64
	RunsFailed   atomic.Int64
	Processed    atomic.Int64
	RunNanos     atomic.Int64
}

func (b *Basic) RecordEncodeBatch(ok, failed int, duration time.Duration) {
	b.EncodeOK.Add(int64(ok))
	b.EncodeFailed.Add(int64(failed))
	b.EncodeNanos.Add(duration.Nanoseconds())
}

func (b *Basic) RecordEnrichRun(processed int, duration time.Duration, err error) {
	b.RunsTotal.Add(1)
	if err != nil {
		b.RunsFailed.Add(1)
	}
	b.Processed.Add(int64(processed))
	b.RunNanos.Add(duration.Nanoseconds())
}

// Snapshot is a point-in-time copy of Basic's counters.
type Snapshot struct {
	EncodeOK     int64   `json:"encode_ok"`
	EncodeFailed int64   `json:"encode_failed"`
	EncodeSecs   float64 `json:"encode_seconds"`
	RunsTotal    int64   `json:"runs_total"`
	RunsFailed   int64   `json:"runs_failed"`
	Processed    int64   `json:"processed"`
	RunSecs      float64 `json:"run_seconds"`
}

// Snapshot returns a consistent-enough copy of the counters.
func (b *Basic) Snapshot() Snapshot {
	return Snapshot{
		EncodeOK:     b.EncodeOK.Load(),
		EncodeFailed: b.EncodeFailed.Load(),
		EncodeSecs:   time.Duration(b.EncodeNanos.Load()).Seconds(),
		RunsTotal:    b.RunsTotal.Load(),
		RunsFailed:   b.RunsFailed.Load(),
		Processed:    b.Processed.Load(),
		RunSecs:      time.Duration(b.RunNanos.Load()).Seconds(),
	}
}
