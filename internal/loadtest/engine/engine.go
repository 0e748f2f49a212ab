// Package engine runs a load test: it dispatches request tasks for a fixed
// duration under a concurrency bound and an optional rate, then drains them
// and assembles the report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"

	"github.com/wesleyorama2/surge/internal/loadtest/admission"
	"github.com/wesleyorama2/surge/internal/loadtest/client"
	"github.com/wesleyorama2/surge/internal/loadtest/config"
	"github.com/wesleyorama2/surge/internal/loadtest/metrics"
	"github.com/wesleyorama2/surge/internal/loadtest/rate"
	"github.com/wesleyorama2/surge/internal/loadtest/report"
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Run on an engine that has already run.
var ErrAlreadyStarted = errors.New("engine has already been started")

// progressBuffer is the capacity of the progress channel. Updates that do not
// fit are dropped.
const progressBuffer = 64

// TaskFaultError is an unexpected panic inside a request task.
type TaskFaultError struct {
	Value interface{}
	Stack []byte
}

func (e *TaskFaultError) Error() string {
	return fmt.Sprintf("request task panicked: %v", e.Value)
}

// Config describes one run.
type Config struct {
	Title       string
	Request     client.Request
	Concurrency int
	Workers     int
	Duration    time.Duration
	Delay       time.Duration
	Rate        float64

	// TickInterval is the per-second sampler period; zero means one second
	TickInterval time.Duration
}

// ConfigFrom converts a validated LoadTestConfig.
func ConfigFrom(c *config.LoadTestConfig) Config {
	return Config{
		Title: c.Title,
		Request: client.Request{
			Method:  c.Method.String(),
			URL:     c.URL,
			Headers: c.Headers,
			Body:    []byte(c.Body),
		},
		Concurrency: c.Concurrency,
		Workers:     c.Workers,
		Duration:    c.Duration.Std(),
		Delay:       c.Delay.Std(),
		Rate:        c.Rate,
	}
}

// Progress is emitted once per closed second.
type Progress struct {
	Second   int
	Count    float64
	Elapsed  time.Duration
	InFlight int
	Live     metrics.LiveStats
}

// Observer is notified of request lifecycle events. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	RequestStarted()
	RequestFinished(o metrics.Outcome)
	AdmissionFailed()
	// TaskFaulted reports a panicked task; started is true when the panic
	// happened after RequestStarted.
	TaskFaulted(started bool)
	SecondClosed(second int, count float64)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RequestStarted()                 {}
func (NopObserver) RequestFinished(metrics.Outcome) {}
func (NopObserver) AdmissionFailed()                {}
func (NopObserver) TaskFaulted(bool)                {}
func (NopObserver) SecondClosed(int, float64)       {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithFailureLogLimit caps how many failure lines per second are logged.
func WithFailureLogLimit(perSecond float64, burst int) Option {
	return func(e *Engine) {
		e.failureLog = xrate.NewLimiter(xrate.Limit(perSecond), burst)
	}
}

// Engine runs one load test. An Engine is single-use.
type Engine struct {
	cfg      Config
	sender   client.Sender
	logger   *zap.Logger
	observer Observer

	acc       *metrics.Accumulator
	admission *admission.Controller
	pacer     *rate.Pacer

	progress chan Progress
	state    atomic.Int32
	start    time.Time

	failureLog *xrate.Limiter
	suppressed atomic.Int64
}

// New creates an engine that sends cfg.Request through sender.
func New(cfg Config, sender client.Sender, opts ...Option) (*Engine, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", cfg.Duration)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	e := &Engine{
		cfg:        cfg,
		sender:     sender,
		logger:     zap.NewNop(),
		observer:   NopObserver{},
		acc:        metrics.NewAccumulator(),
		admission:  admission.New(cfg.Concurrency),
		pacer:      rate.NewPacer(cfg.Rate),
		progress:   make(chan Progress, progressBuffer),
		failureLog: xrate.NewLimiter(xrate.Limit(5), 10),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Progress returns the channel of per-second updates. It is closed when Run
// returns.
func (e *Engine) Progress() <-chan Progress {
	return e.progress
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Accumulator exposes the run's accumulator.
func (e *Engine) Accumulator() *metrics.Accumulator {
	return e.acc
}

// Run dispatches requests until the configured duration elapses or ctx is
// cancelled, waits for every in-flight request, and returns the report.
//
// Cancelling ctx only stops new dispatches; requests already in flight are
// bounded by the client timeout, not by ctx.
func (e *Engine) Run(ctx context.Context) (*report.Report, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	defer close(e.progress)

	if e.cfg.Workers > 0 {
		prev := runtime.GOMAXPROCS(e.cfg.Workers)
		defer runtime.GOMAXPROCS(prev)
	}

	e.logger.Info("Starting load test",
		zap.String("title", e.cfg.Title),
		zap.String("url", e.cfg.Request.URL),
		zap.String("method", e.cfg.Request.Method),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Duration("duration", e.cfg.Duration),
		zap.Float64("rate", e.cfg.Rate),
	)

	e.start = time.Now()
	deadline := e.start.Add(e.cfg.Duration)

	dispatchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	taskCtx := context.WithoutCancel(ctx)

	sampler := metrics.NewSampler(e.acc.PerSecond(), e.cfg.TickInterval, e.onTick)
	sampler.Start(context.Background())

	spawned := e.dispatch(dispatchCtx, taskCtx, deadline)
	finish := time.Now()

	sampler.Stop()
	e.admission.Close()
	e.state.Store(int32(StateDone))

	if n := e.suppressed.Load(); n > 0 {
		e.logger.Warn("Suppressed request failure logs", zap.Int64("count", n))
	}

	snap := e.acc.Snapshot()
	e.logger.Info("Load test finished",
		zap.Int64("spawned", spawned),
		zap.Int64("requests", snap.Requests),
		zap.Int64("errors", snap.Errors),
		zap.Int64("non2xx", snap.Non2xx),
		zap.Int("peak_in_flight", e.admission.Peak()),
		zap.Duration("elapsed", finish.Sub(e.start)),
	)

	return report.Assemble(report.Input{
		Title:       e.cfg.Title,
		URL:         e.cfg.Request.URL,
		Method:      e.cfg.Request.Method,
		Concurrency: e.cfg.Concurrency,
		Workers:     e.cfg.Workers,
		Rate:        e.cfg.Rate,
		Duration:    e.cfg.Duration,
		Start:       e.start,
		Finish:      finish,
	}, snap)
}

// dispatch spawns tasks until the deadline and then joins all of them.
// At most Concurrency tasks are outstanding; when the bound is reached one
// task is joined before the next is spawned.
func (e *Engine) dispatch(dispatchCtx, taskCtx context.Context, deadline time.Time) int64 {
	done := make(chan struct{}, e.cfg.Concurrency)
	outstanding := 0
	var spawned int64

loop:
	for time.Now().Before(deadline) {
		if err := e.pacer.Wait(dispatchCtx); err != nil {
			break
		}
		if dispatchCtx.Err() != nil || !time.Now().Before(deadline) {
			break
		}

		if outstanding >= e.cfg.Concurrency {
			select {
			case <-done:
				outstanding--
			case <-dispatchCtx.Done():
				break loop
			}
			if !time.Now().Before(deadline) {
				break
			}
		}

		outstanding++
		spawned++
		go e.runTask(taskCtx, done)
	}

	e.state.Store(int32(StateDraining))
	for ; outstanding > 0; outstanding-- {
		<-done
	}
	return spawned
}

func (e *Engine) runTask(ctx context.Context, done chan<- struct{}) {
	started := false
	defer func() { done <- struct{}{} }()
	defer func() {
		if r := recover(); r != nil {
			fault := &TaskFaultError{Value: r, Stack: debug.Stack()}
			e.logger.Error("Request task fault",
				zap.Error(fault),
				zap.ByteString("stack", fault.Stack),
			)
			e.acc.RecordFault()
			e.observer.TaskFaulted(started)
		}
	}()

	if e.cfg.Delay > 0 {
		time.Sleep(e.cfg.Delay)
	}

	permit, err := e.admission.Acquire(ctx)
	if err != nil {
		e.logFailure("Failed to acquire permit", err)
		e.acc.RecordAdmissionFailure()
		e.observer.AdmissionFailed()
		return
	}
	defer permit.Release()

	e.acc.PerSecond().Inc()
	e.observer.RequestStarted()
	started = true

	req := e.cfg.Request
	start := time.Now()
	resp, err := e.sender.Send(ctx, &req)
	latency := time.Since(start)
	permit.Release()

	var outcome metrics.Outcome
	if err != nil {
		ne := client.Classify(err)
		outcome = metrics.Failure(latency, ne.Kind, ne.Timeout(), ne)
		e.logFailure("Request failed", ne)
	} else {
		outcome = metrics.Success(latency, resp.StatusCode, resp.Bytes)
	}

	e.acc.Record(outcome)
	e.observer.RequestFinished(outcome)
}

func (e *Engine) logFailure(msg string, err error) {
	if !e.failureLog.Allow() {
		e.suppressed.Add(1)
		return
	}
	var ne *client.NetworkError
	if errors.As(err, &ne) {
		e.logger.Warn(msg, zap.String("kind", ne.Kind), zap.Error(ne.Err))
		return
	}
	e.logger.Warn(msg, zap.Error(err))
}

func (e *Engine) onTick(second int, count float64) {
	e.observer.SecondClosed(second, count)

	p := Progress{
		Second:   second,
		Count:    count,
		Elapsed:  time.Since(e.start),
		InFlight: e.admission.InUse(),
		Live:     e.acc.Live(),
	}
	select {
	case e.progress <- p:
	default:
	}
}
