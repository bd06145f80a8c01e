// Package worker implements the worker pool (C4): it executes batches
// through a pluggable algorithm executor with timeout, retry, and
// backpressure signalling.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Jeffail/shutdown"
	"github.com/OneOfOne/xxhash"
	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"

	"github.com/redpanda-data/edgestream/internal/message"
)

// ErrorKind classifies an execution failure. The executor is solely
// responsible for classification; the worker treats the tag at face
// value (§4.4 "Error classification").
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindResourceExhausted
	KindInvalidInput
	KindExternalService
	KindInternal
)

// ExecutionError is returned by an Executor. Retryable errors trigger a
// retry with backoff (until MaxRetries is exhausted); Fatal errors do not.
type ExecutionError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

// Retryable constructs a retryable ExecutionError.
func Retryable(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Retryable: true, Err: err}
}

// Fatal constructs a non-retryable ExecutionError.
func Fatal(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Retryable: false, Err: err}
}

// ErrTimeout is wrapped into a KindTimeout ExecutionError by
// execWithTimeout when the executor doesn't return before BatchTimeout.
var ErrTimeout = errors.New("worker: execution timed out")

// Status describes the terminal state of a batch's execution, reported
// back to the scheduler and to the completion observer.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusCancelled
)

// Outcome is delivered to the OnComplete callback for every batch the pool
// finishes handling, whether by success, exhausted retries, or
// cancellation.
type Outcome struct {
	Batch  message.WindowBatch
	Status Status
	Output any
	Err    error
}

// Executor is the pluggable algorithm: a function from WindowBatch to
// Result<Output, ExecutionError>, per §6's "Algorithm Executor" interface.
// Implementations must honor ctx promptly once it is cancelled.
type Executor interface {
	Execute(ctx context.Context, batch message.WindowBatch) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, batch message.WindowBatch) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, batch message.WindowBatch) (any, error) {
	return f(ctx, batch)
}

// Config configures a Pool.
type Config struct {
	WorkerCount          int
	WorkerInboxCapacity  int
	BatchTimeout         time.Duration
	MaxRetries           int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:         4,
		WorkerInboxCapacity: 32,
		BatchTimeout:        30 * time.Second,
		MaxRetries:          2,
		InitialDelay:        100 * time.Millisecond,
		MaxDelay:            5 * time.Second,
		BackoffMultiplier:   2.0,
	}
}

// Validate checks every field is within its documented domain.
func (c Config) Validate() error {
	if c.WorkerCount <= 0 {
		return errors.New("worker: worker_count must be positive")
	}
	if c.WorkerInboxCapacity <= 0 {
		return errors.New("worker: worker_inbox_capacity must be positive")
	}
	if c.BatchTimeout <= 0 {
		return errors.New("worker: batch_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("worker: max_retries must not be negative")
	}
	if c.InitialDelay <= 0 || c.MaxDelay <= 0 {
		return errors.New("worker: initial_delay and max_delay must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return errors.New("worker: backoff_multiplier must be >= 1")
	}
	return nil
}

// backoffDelay implements delay(n) = min(initial * multiplier^n, max),
// using cenkalti/backoff's ExponentialBackOff as the calculator so the
// curve (and its jitter-free determinism, which the tests rely on) comes
// from a maintained implementation rather than a hand-rolled one.
func backoffDelay(cfg Config, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialDelay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = cfg.BackoffMultiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := eb.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}

type worker struct {
	index  int
	inbox  chan message.WindowBatch
	pool   *Pool
}

// Pool is the C4 Worker Pool.
type Pool struct {
	cfg      Config
	executor Executor
	workers  []*worker
	wg       conc.WaitGroup
	shutSig  *shutdown.Signaller

	onComplete func(Outcome)

	hardStopCtx context.Context

	processed uint64
	failed    uint64
	statsMu   sync.Mutex
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// OptOnComplete registers the callback invoked for every finished batch.
// This is the one-way channel from worker to scheduler noted in §9
// ("Cyclic back-references"): the pool never holds a reference back into
// the scheduler, it only calls this function.
func OptOnComplete(fn func(Outcome)) Option {
	return func(p *Pool) { p.onComplete = fn }
}

// New constructs a Pool and starts its worker goroutines.
func New(cfg Config, executor Executor, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:      cfg,
		executor: executor,
		shutSig:  shutdown.NewSignaller(),
	}
	p.hardStopCtx, _ = p.shutSig.HardStopCtx(context.Background())
	for _, o := range opts {
		o(p)
	}
	p.workers = make([]*worker, cfg.WorkerCount)
	for i := range p.workers {
		w := &worker{index: i, inbox: make(chan message.WindowBatch, cfg.WorkerInboxCapacity), pool: p}
		p.workers[i] = w
		p.wg.Go(w.loop)
	}
	return p, nil
}

// Outbox returns the schedule.Outbox view of worker i, for wiring into a
// schedule.Scheduler.
func (p *Pool) Outbox(i int) *worker { return p.workers[i] }

// TryEnqueue implements schedule.Outbox.
func (w *worker) TryEnqueue(batch message.WindowBatch) bool {
	select {
	case w.inbox <- batch:
		return true
	default:
		return false
	}
}

// Enqueue implements schedule.Outbox, blocking until there is room.
func (w *worker) Enqueue(batch message.WindowBatch) {
	select {
	case w.inbox <- batch:
	case <-w.pool.hardStopCtx.Done():
	}
}

func (w *worker) loop() {
	for {
		// Checked non-blocking and first so that a soft stop triggered while
		// this worker was mid-execution is honored on the very next
		// iteration, rather than racing against whatever is already queued
		// in the inbox (§4.4 "finish the currently executing batch, then
		// drain no further items").
		select {
		case <-w.pool.shutSig.SoftStopChan():
			w.drain()
			return
		default:
		}

		select {
		case batch := <-w.inbox:
			outcome := w.pool.runBatch(batch)
			w.pool.report(outcome)
		case <-w.pool.shutSig.SoftStopChan():
			w.drain()
			return
		}
	}
}

// drain reports every batch left in the inbox as cancelled once a
// graceful shutdown has been requested (§4.4 "Shutdown").
func (w *worker) drain() {
	for {
		select {
		case batch := <-w.inbox:
			w.pool.report(Outcome{Batch: batch, Status: StatusCancelled, Err: context.Canceled})
		default:
			return
		}
	}
}

func (p *Pool) report(o Outcome) {
	p.statsMu.Lock()
	if o.Status == StatusOK {
		p.processed++
	} else if o.Status == StatusFailed {
		p.failed++
	}
	p.statsMu.Unlock()
	if p.onComplete != nil {
		p.onComplete(o)
	}
}

// runBatch executes a batch, retrying on Retryable errors up to
// MaxRetries, per the worker loop pseudocode in §4.4.
func (p *Pool) runBatch(batch message.WindowBatch) Outcome {
	for {
		output, err := p.execWithTimeout(batch)
		if err == nil {
			return Outcome{Batch: batch, Status: StatusOK, Output: output}
		}

		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			execErr = Fatal(KindInternal, err)
		}

		if execErr.Retryable && batch.Attempt < p.cfg.MaxRetries {
			delay := backoffDelay(p.cfg, batch.Attempt)
			select {
			case <-time.After(delay):
			case <-p.hardStopCtx.Done():
				return Outcome{Batch: batch, Status: StatusCancelled, Err: context.Canceled}
			}
			batch = batch.Clone()
			batch.Attempt++
			continue
		}

		return Outcome{Batch: batch, Status: StatusFailed, Err: execErr}
	}
}

// execWithTimeout calls the executor with a cancellation token that fires
// after BatchTimeout, or earlier when the pool is hard-stopped. A timeout on
// the first attempt is Retryable; once retries are exhausted the caller
// (runBatch) surfaces it as Fatal by way of MaxRetries gating, matching
// §4.4's "execute_with_timeout".
func (p *Pool) execWithTimeout(batch message.WindowBatch) (any, error) {
	ctx, cancel := context.WithTimeout(p.hardStopCtx, p.cfg.BatchTimeout)
	defer cancel()

	type result struct {
		output any
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := p.executor.Execute(ctx, batch)
		done <- result{output: output, err: err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-ctx.Done():
		return nil, Retryable(KindTimeout, ErrTimeout)
	}
}

// ContentDigest returns a stable hash of a batch's payload bytes. It is a
// helper for idempotency checks: when an executor or sink wants to assert
// "this exact content was already published", the digest is a cheap key
// independent of BatchID (a retry's Clone keeps the BatchID, but a
// re-derivation of the same window gets a new one). The pool itself does
// not call it.
func ContentDigest(batch message.WindowBatch) uint64 {
	h := xxhash.New64()
	for _, p := range batch.Payloads {
		_, _ = h.Write(p)
	}
	return h.Sum64()
}

// Shutdown cancels new work and waits up to gracePeriod for in-flight
// batches; any remainder is force-cancelled (§4.4 "Shutdown", §6
// "shutdown(grace_period)").
func (p *Pool) Shutdown(gracePeriod time.Duration) {
	p.shutSig.TriggerSoftStop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gracePeriod):
		p.shutSig.TriggerHardStop()
		<-done
	}
}

// Stats is a point-in-time snapshot of worker-pool counters.
type Stats struct {
	Processed uint64
	Failed    uint64
}

// StatsSnapshot returns the current counters.
func (p *Pool) StatsSnapshot() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Stats{Processed: p.processed, Failed: p.failed}
}
