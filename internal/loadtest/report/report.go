// Package report assembles and writes the final result of a run.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
	"github.com/wesleyorama2/surge/internal/loadtest/stats"
)

// ErrNoRequests is returned when a run finished without a single latency
// sample, for example when every task failed admission. It wraps
// stats.ErrEmptyDataset.
var ErrNoRequests = fmt.Errorf("no request produced a latency sample: %w", stats.ErrEmptyDataset)

// Report is the final result of a run.
//
// Latency is in seconds. Throughput summarizes response body sizes in bytes.
// RequestsPerSecond and Throughput are nil when their sequence was empty,
// e.g. a run shorter than one sampler tick or one where every request failed.
type Report struct {
	Title  string `json:"title" yaml:"title"`
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method" yaml:"method"`

	RequestsPerSecond *stats.PerformanceStats `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Latency           stats.PerformanceStats  `json:"latency" yaml:"latency"`
	Throughput        *stats.PerformanceStats `json:"throughput,omitempty" yaml:"throughput,omitempty"`

	Requests   int64 `json:"requests" yaml:"requests"`
	Errors     int64 `json:"errors" yaml:"errors"`
	Timeouts   int64 `json:"timeouts" yaml:"timeouts"`
	Non2xx     int64 `json:"non2xx" yaml:"non2xx"`
	TaskFaults int64 `json:"task_faults" yaml:"task_faults"`

	// Duration is the configured run time in seconds
	Duration int64   `json:"duration" yaml:"duration"`
	Elapsed  float64 `json:"elapsed" yaml:"elapsed"`

	Start  time.Time `json:"start" yaml:"start"`
	Finish time.Time `json:"finish" yaml:"finish"`

	Connections int     `json:"connections" yaml:"connections"`
	Workers     int     `json:"workers,omitempty" yaml:"workers,omitempty"`
	RateLimit   float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// Attempts returns every request that produced a latency sample.
func (r *Report) Attempts() int64 {
	return int64(r.Latency.Count)
}

// Input carries everything Assemble needs besides the samples.
type Input struct {
	Title       string
	URL         string
	Method      string
	Concurrency int
	Workers     int
	Rate        float64
	Duration    time.Duration
	Start       time.Time
	Finish      time.Time
}

// Assemble builds the report from a drained accumulator snapshot.
func Assemble(in Input, snap metrics.Snapshot) (*Report, error) {
	latency, err := stats.Compute(snap.Latencies)
	if err != nil {
		if errors.Is(err, stats.ErrEmptyDataset) {
			return nil, ErrNoRequests
		}
		return nil, fmt.Errorf("failed to compute latency stats: %w", err)
	}

	r := &Report{
		Title:       in.Title,
		URL:         in.URL,
		Method:      in.Method,
		Latency:     latency,
		Requests:    snap.Requests,
		Errors:      snap.Errors,
		Timeouts:    snap.Timeouts,
		Non2xx:      snap.Non2xx,
		TaskFaults:  snap.Faults,
		Duration:    int64(in.Duration / time.Second),
		Elapsed:     in.Finish.Sub(in.Start).Seconds(),
		Start:       in.Start,
		Finish:      in.Finish,
		Connections: in.Concurrency,
		Workers:     in.Workers,
		RateLimit:   in.Rate,
	}

	r.RequestsPerSecond, err = optional(snap.PerSecond)
	if err != nil {
		return nil, fmt.Errorf("failed to compute requests per second stats: %w", err)
	}
	r.Throughput, err = optional(snap.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute throughput stats: %w", err)
	}

	return r, nil
}

func optional(data []float64) (*stats.PerformanceStats, error) {
	s, err := stats.Compute(data)
	if errors.Is(err, stats.ErrEmptyDataset) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Format selects the report encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat parses a format name. "yml" is accepted for YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: text, json, yaml)", s)
	}
}

// Write encodes r to w as JSON or YAML.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q cannot be written as a document", format)
	}
}

// WriteFile writes r to path. The format follows the file extension when it
// is .json, .yaml or .yml and falls back to JSON otherwise.
func WriteFile(path string, r *Report) error {
	format := FormatJSON
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		format = FormatYAML
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Write(f, r, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
