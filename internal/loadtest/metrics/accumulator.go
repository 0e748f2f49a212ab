// Package metrics collects the raw samples and counters of a load test run.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Live histogram range: 1 microsecond to 1 hour, 3 significant figures.
const (
	histogramMin     = 1
	histogramMax     = 3600000000
	histogramSigFigs = 3
)

// Outcome is the classified result of one dispatched request.
//
// Latency is always present. A failed outcome carries Kind and Err; a
// successful one carries StatusCode and Bytes.
type Outcome struct {
	Latency    time.Duration
	StatusCode int
	Bytes      int64

	Err     error
	Kind    string
	Timeout bool
}

// Success builds a successful outcome.
func Success(latency time.Duration, statusCode int, bytes int64) Outcome {
	return Outcome{Latency: latency, StatusCode: statusCode, Bytes: bytes}
}

// Failure builds a failed outcome.
func Failure(latency time.Duration, kind string, timeout bool, err error) Outcome {
	return Outcome{Latency: latency, Kind: kind, Timeout: timeout, Err: err}
}

// Failed reports whether the request never produced a response.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.Kind != ""
}

// Non2xx reports whether a response arrived with a status outside [200,300).
func (o Outcome) Non2xx() bool {
	return !o.Failed() && (o.StatusCode < 200 || o.StatusCode >= 300)
}

// Accumulator is the concurrently-writable container for one run.
//
// Every completing request appends to it; the report assembler reads it once
// after the run has drained. Sequences are append-only. The per-second counter
// lives in its own lock domain (see PerSecond) and is never locked together
// with the accumulator mutex.
//
// # Thread Safety
//
// Accumulator is safe for concurrent use.
type Accumulator struct {
	mu sync.Mutex

	latencies []float64 // seconds, arrival order
	bytes     []float64 // response body lengths, arrival order

	requests int64
	errors   int64
	timeouts int64
	non2xx   int64
	faults   int64

	// Live view for progress reporting; the exact samples above are what
	// the final report is computed from.
	live *hdrhistogram.Histogram

	perSecond *PerSecond
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		live:      hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
		perSecond: NewPerSecond(),
	}
}

// PerSecond returns the live per-second counter and its history.
func (a *Accumulator) PerSecond() *PerSecond {
	return a.perSecond
}

// Record adds one outcome.
//
// The latency is always appended. A success appends its byte length, counts
// a request and counts non-2xx statuses. A failure counts an error, and a
// timeout as well when the failure was one.
func (a *Accumulator) Record(o Outcome) {
	micros := o.Latency.Microseconds()
	if micros < histogramMin {
		micros = histogramMin
	}
	if micros > histogramMax {
		micros = histogramMax
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.latencies = append(a.latencies, o.Latency.Seconds())
	// HDR RecordValue is not thread-safe; it shares the accumulator lock.
	_ = a.live.RecordValue(micros)

	if o.Failed() {
		a.errors++
		if o.Timeout {
			a.timeouts++
		}
		return
	}

	a.bytes = append(a.bytes, float64(o.Bytes))
	a.requests++
	if o.Non2xx() {
		a.non2xx++
	}
}

// RecordAdmissionFailure counts a request that never obtained a permit.
// No latency is recorded since nothing was sent.
func (a *Accumulator) RecordAdmissionFailure() {
	a.mu.Lock()
	a.errors++
	a.mu.Unlock()
}

// RecordFault counts a task that died outside of outcome classification.
// Faults are tracked apart from requests and errors.
func (a *Accumulator) RecordFault() {
	a.mu.Lock()
	a.faults++
	a.mu.Unlock()
}

// Snapshot is a copy of the accumulated samples and counters.
type Snapshot struct {
	Latencies []float64
	Bytes     []float64
	PerSecond []float64

	Requests int64
	Errors   int64
	Timeouts int64
	Non2xx   int64
	Faults   int64
}

// Snapshot copies the current state. The two lock domains are read one after
// the other, never together.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	s := Snapshot{
		Latencies: append([]float64(nil), a.latencies...),
		Bytes:     append([]float64(nil), a.bytes...),
		Requests:  a.requests,
		Errors:    a.errors,
		Timeouts:  a.timeouts,
		Non2xx:    a.non2xx,
		Faults:    a.faults,
	}
	a.mu.Unlock()

	s.PerSecond = a.perSecond.History()
	return s
}

// LiveStats is a cheap view of the run used for progress display.
type LiveStats struct {
	Requests   int64
	Errors     int64
	Non2xx     int64
	Samples    int64
	LatencyP50 time.Duration
	LatencyP99 time.Duration
	LatencyMax time.Duration
}

// Live returns counters and approximate latency percentiles from the live
// histogram.
func (a *Accumulator) Live() LiveStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return LiveStats{
		Requests:   a.requests,
		Errors:     a.errors,
		Non2xx:     a.non2xx,
		Samples:    a.live.TotalCount(),
		LatencyP50: time.Duration(a.live.ValueAtQuantile(50)) * time.Microsecond,
		LatencyP99: time.Duration(a.live.ValueAtQuantile(99)) * time.Microsecond,
		LatencyMax: time.Duration(a.live.Max()) * time.Microsecond,
	}
}
