package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_Record(t *testing.T) {
	acc := NewAccumulator()

	acc.Record(Success(10*time.Millisecond, 200, 1000))
	acc.Record(Success(20*time.Millisecond, 404, 50))
	acc.Record(Failure(30*time.Millisecond, "connection_refused", false, errors.New("refused")))
	acc.Record(Failure(60*time.Second, "timeout", true, errors.New("deadline")))

	s := acc.Snapshot()

	assert.Len(t, s.Latencies, 4)
	assert.ElementsMatch(t, []float64{1000, 50}, s.Bytes)
	assert.Equal(t, int64(2), s.Requests)
	assert.Equal(t, int64(2), s.Errors)
	assert.Equal(t, int64(1), s.Timeouts)
	assert.Equal(t, int64(1), s.Non2xx)
	assert.Equal(t, int64(0), s.Faults)
}

func TestAccumulator_Non2xxVersusError(t *testing.T) {
	tests := []struct {
		name        string
		outcome     Outcome
		wantErrors  int64
		wantNon2xx  int64
		wantRequest int64
	}{
		{"ok", Success(time.Millisecond, 200, 10), 0, 0, 1},
		{"no content", Success(time.Millisecond, 204, 0), 0, 0, 1},
		{"redirect not followed", Success(time.Millisecond, 301, 0), 0, 1, 1},
		{"not found", Success(time.Millisecond, 404, 9), 0, 1, 1},
		{"server error", Success(time.Millisecond, 500, 9), 0, 1, 1},
		{"connection refused", Failure(time.Millisecond, "connection_refused", false, errors.New("refused")), 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			acc.Record(tt.outcome)
			s := acc.Snapshot()

			if s.Errors != tt.wantErrors {
				t.Errorf("Errors = %d, want %d", s.Errors, tt.wantErrors)
			}
			if s.Non2xx != tt.wantNon2xx {
				t.Errorf("Non2xx = %d, want %d", s.Non2xx, tt.wantNon2xx)
			}
			if s.Requests != tt.wantRequest {
				t.Errorf("Requests = %d, want %d", s.Requests, tt.wantRequest)
			}
			if len(s.Latencies) != 1 {
				t.Errorf("len(Latencies) = %d, want 1", len(s.Latencies))
			}
		})
	}
}

func TestAccumulator_AdmissionFailureAndFault(t *testing.T) {
	acc := NewAccumulator()
	acc.RecordAdmissionFailure()
	acc.RecordFault()

	s := acc.Snapshot()
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(1), s.Faults)
	assert.Equal(t, int64(0), s.Requests)
	assert.Empty(t, s.Latencies)
}

func TestAccumulator_ConcurrentRecord(t *testing.T) {
	acc := NewAccumulator()

	const workers = 50
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if i%10 == 0 {
					acc.Record(Failure(time.Duration(i)*time.Microsecond, "other", false, errors.New("x")))
					continue
				}
				acc.PerSecond().Inc()
				acc.Record(Success(time.Duration(i)*time.Microsecond, 200, int64(w)))
			}
		}(w)
	}
	wg.Wait()

	s := acc.Snapshot()
	assert.Len(t, s.Latencies, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker/10), s.Errors)
	assert.Equal(t, int64(workers*perWorker*9/10), s.Requests)
	assert.Len(t, s.Bytes, workers*perWorker*9/10)
	assert.Equal(t, float64(workers*perWorker*9/10), acc.PerSecond().Current())
}

func TestAccumulator_SnapshotIsCopy(t *testing.T) {
	acc := NewAccumulator()
	acc.Record(Success(time.Millisecond, 200, 1))

	s := acc.Snapshot()
	s.Latencies[0] = 99

	assert.Equal(t, time.Millisecond.Seconds(), acc.Snapshot().Latencies[0])
}

func TestAccumulator_Live(t *testing.T) {
	acc := NewAccumulator()
	for i := 1; i <= 100; i++ {
		acc.Record(Success(time.Duration(i)*time.Millisecond, 200, 1))
	}

	live := acc.Live()
	assert.Equal(t, int64(100), live.Requests)
	assert.Equal(t, int64(100), live.Samples)

	if live.LatencyP50 < 45*time.Millisecond || live.LatencyP50 > 55*time.Millisecond {
		t.Errorf("LatencyP50 = %v, want ~50ms", live.LatencyP50)
	}
	if live.LatencyMax < 99*time.Millisecond || live.LatencyMax > 101*time.Millisecond {
		t.Errorf("LatencyMax = %v, want ~100ms", live.LatencyMax)
	}
}

func TestPerSecond_History(t *testing.T) {
	ps := NewPerSecond()

	for i := 0; i < 5; i++ {
		ps.Inc()
	}
	assert.Equal(t, 5.0, ps.Tick())

	for i := 0; i < 3; i++ {
		ps.Inc()
	}
	assert.Equal(t, 3.0, ps.Tick())

	assert.Equal(t, []float64{5, 3}, ps.History())
	assert.Equal(t, 0.0, ps.Current())
}

func TestSampler_TicksInOrder(t *testing.T) {
	ps := NewPerSecond()

	var mu sync.Mutex
	var seen []int
	s := NewSampler(ps, 20*time.Millisecond, func(second int, count float64) {
		mu.Lock()
		seen = append(seen, second)
		mu.Unlock()
	})

	s.Start(context.Background())
	time.Sleep(110 * time.Millisecond)
	s.Stop()
	s.Stop()

	mu.Lock()
	defer mu.Unlock()

	if len(seen) < 3 {
		t.Fatalf("got %d ticks, want at least 3", len(seen))
	}
	for i, second := range seen {
		if second != i+1 {
			t.Errorf("tick %d reported second %d", i, second)
		}
	}
	assert.Len(t, ps.History(), len(seen))
}

func TestSampler_FirstTickAfterInterval(t *testing.T) {
	ps := NewPerSecond()
	ps.Inc()

	s := NewSampler(ps, time.Hour, nil)
	s.Start(context.Background())
	s.Stop()

	assert.Empty(t, ps.History(), "no tick may fire at t=0")
	assert.Equal(t, 1.0, ps.Current())
}
