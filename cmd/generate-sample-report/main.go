package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
	"github.com/wesleyorama2/surge/internal/loadtest/report"
)

const (
	sampleSeconds = 120
	sampleRate    = 50
)

func main() {
	outputPath := "sample-report.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	r, err := createSampleReport(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := report.WriteFile(outputPath, r); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

func createSampleReport(now time.Time) (*report.Report, error) {
	in := report.Input{
		Title:       "API Load Test",
		URL:         "https://api.example.com/users",
		Method:      "GET",
		Concurrency: 20,
		Rate:        sampleRate,
		Duration:    sampleSeconds * time.Second,
		Start:       now.Add(-sampleSeconds * time.Second),
		Finish:      now,
	}
	return report.Assemble(in, createSampleSnapshot(rand.New(rand.NewPCG(42, 7))))
}

// createSampleSnapshot fakes a drained run: log-normal latencies around 40ms,
// roughly 1% failures and a small share of 404s.
func createSampleSnapshot(rng *rand.Rand) metrics.Snapshot {
	var snap metrics.Snapshot

	for second := 0; second < sampleSeconds; second++ {
		count := sampleRate - rng.IntN(4)
		snap.PerSecond = append(snap.PerSecond, float64(count))

		for i := 0; i < count; i++ {
			latency := math.Exp(math.Log(0.040) + 0.5*rng.NormFloat64())
			snap.Requests++
			snap.Latencies = append(snap.Latencies, latency)

			switch roll := rng.Float64(); {
			case roll < 0.004:
				snap.Errors++
				snap.Timeouts++
			case roll < 0.01:
				snap.Errors++
			case roll < 0.03:
				snap.Non2xx++
				snap.Bytes = append(snap.Bytes, 128)
			default:
				snap.Bytes = append(snap.Bytes, float64(2048+rng.IntN(512)))
			}
		}
	}

	return snap
}
