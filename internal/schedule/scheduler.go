// Package schedule implements the ordering scheduler (C3): it routes
// WindowBatch values to workers such that batches for the same key execute
// strictly in the order they were emitted, while batches for different
// keys may execute in parallel.
package schedule

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/redpanda-data/edgestream/internal/message"
)

// ErrBackpressure is returned by Submit when a key's pending_batches queue
// is already at MaxPendingBatches.
var ErrBackpressure = errors.New("schedule: pending batch queue at capacity")

// ErrStopped is returned by Submit once the scheduler has been shut down.
// Cancel does not check for shutdown and returns no error.
var ErrStopped = errors.New("schedule: scheduler stopped")

// Outbox is the destination a scheduler dispatches batches to: one per
// worker, an ordered, bounded sink. The worker pool (internal/worker)
// implements this.
type Outbox interface {
	// TryEnqueue submits a batch to the worker's inbox without blocking,
	// reporting whether there was room.
	TryEnqueue(batch message.WindowBatch) bool
	// Enqueue submits a batch to the worker's inbox, blocking until there
	// is room. Only ever called from a scheduler-owned dispatch goroutine
	// (never from Submit or OnBatchComplete directly), so blocking here
	// never stalls a caller or the worker whose own completion unblocked
	// the send — the documented suspension point for "C3 submit when a
	// worker inbox is full" (§5) lives off to the side, on a one-way
	// handoff, per §9 ("Cyclic back-references").
	Enqueue(batch message.WindowBatch)
}

// Config configures a Scheduler.
type Config struct {
	WorkerCount       int
	MaxPendingBatches int
	// DedupCacheSize bounds the "recently completed batch id" cache used
	// to satisfy the idempotence law (submitting the same batch id twice
	// must not cause double execution).
	DedupCacheSize int
}

// DefaultConfig returns defaults for a small deployment.
func DefaultConfig() Config {
	return Config{WorkerCount: 4, MaxPendingBatches: 64, DedupCacheSize: 4096}
}

// Validate checks every field is within its documented domain.
func (c Config) Validate() error {
	if c.WorkerCount <= 0 {
		return errors.New("schedule: worker_count must be positive")
	}
	if c.MaxPendingBatches <= 0 {
		return errors.New("schedule: max_pending_batches must be positive")
	}
	if c.DedupCacheSize <= 0 {
		return errors.New("schedule: dedup cache size must be positive")
	}
	return nil
}

// Rebalancer is an optional hook invoked after a worker's in-flight slot
// frees up, given the worker's current load distribution. Returning a
// worker index different from the key's current assignment moves the key
// there for its *next* batch; in-flight work is never disturbed. Disabled
// by default (§4.3 "Fairness", mitigation (b)).
type Rebalancer func(key string, currentWorker int, loadByWorker []int) (newWorker int)

type keyAssignment struct {
	mu             sync.Mutex
	workerIndex    int
	inFlight       *message.BatchID
	pendingBatches []message.WindowBatch
}

// dispatchQueue is the one-way handoff between Submit/OnBatchComplete and a
// worker's outbox. A batch lands here only after its key's in_flight slot is
// already reserved for it but TryEnqueue found the worker's inbox full;
// dispatchLoop is the only goroutine that ever calls the blocking Enqueue,
// so neither the caller of Submit nor the worker goroutine running
// OnBatchComplete ever blocks on inbox capacity (§9 "Cyclic
// back-references").
type dispatchQueue struct {
	mu    sync.Mutex
	items []message.WindowBatch
	wake  chan struct{}
}

// Scheduler is the C3 Ordering Scheduler.
type Scheduler struct {
	cfg     Config
	outbox  []Outbox
	rebal   Rebalancer
	queues  []*dispatchQueue
	stopCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex

	mu          sync.RWMutex
	assignments map[string]*keyAssignment
	loadByIndex []int // count of keys currently assigned to each worker

	dedup *lru.Cache[message.BatchID, struct{}]

	batchesSubmitted uint64
	batchesCompleted uint64
	statsMu          sync.Mutex
}

// New constructs a Scheduler. outbox must contain exactly cfg.WorkerCount
// entries, one per worker.
func New(cfg Config, outbox []Outbox, rebal Rebalancer) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(outbox) != cfg.WorkerCount {
		return nil, errors.New("schedule: len(outbox) must equal worker_count")
	}
	dedup, err := lru.New[message.BatchID, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:         cfg,
		outbox:      outbox,
		rebal:       rebal,
		queues:      make([]*dispatchQueue, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		assignments: make(map[string]*keyAssignment),
		loadByIndex: make([]int, cfg.WorkerCount),
		dedup:       dedup,
	}
	for i := range s.queues {
		s.queues[i] = &dispatchQueue{wake: make(chan struct{}, 1)}
		go s.dispatchLoop(i)
	}
	return s, nil
}

// dispatchLoop is the sole caller of outbox[idx].Enqueue. It wakes whenever
// deliver parks a batch that TryEnqueue couldn't immediately place, and
// drains the queue with blocking sends until empty, off of both the
// Submit caller's goroutine and the worker's own goroutine.
func (s *Scheduler) dispatchLoop(idx int) {
	q := s.queues[idx]
	for {
		select {
		case <-q.wake:
		case <-s.stopCh:
			return
		}
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			next := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			s.outbox[idx].Enqueue(next)
		}
	}
}

// deliver places batch, already reserved as its key's in_flight batch, onto
// worker idx. It never blocks: a successful TryEnqueue finishes the job
// immediately, otherwise the batch is parked on that worker's dispatchQueue
// for dispatchLoop to retry as soon as the worker frees capacity.
func (s *Scheduler) deliver(idx int, batch message.WindowBatch) {
	if s.outbox[idx].TryEnqueue(batch) {
		return
	}
	q := s.queues[idx]
	q.mu.Lock()
	q.items = append(q.items, batch)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func workerForKey(key string, workerCount int) int {
	return int(xxhash.Sum64String(key) % uint64(workerCount))
}

func (s *Scheduler) assignmentFor(key string) *keyAssignment {
	s.mu.RLock()
	ka, ok := s.assignments[key]
	s.mu.RUnlock()
	if ok {
		return ka
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ka, ok = s.assignments[key]; ok {
		return ka
	}
	idx := workerForKey(key, s.cfg.WorkerCount)
	ka = &keyAssignment{workerIndex: idx}
	s.assignments[key] = ka
	s.loadByIndex[idx]++
	return ka
}

// Submit routes a batch to its key's worker, preserving per-key FIFO order
// (§4.3 invariants I5, I6).
func (s *Scheduler) Submit(batch message.WindowBatch) error {
	s.stopMu.Lock()
	stopped := s.stopped
	s.stopMu.Unlock()
	if stopped {
		return ErrStopped
	}

	if _, seen := s.dedup.Get(batch.ID); seen {
		// Idempotence law: a batch id already completed (or in flight and
		// thus tracked by in_flight instead) must not be executed twice.
		return nil
	}

	ka := s.assignmentFor(batch.Key)

	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.inFlight != nil {
		if *ka.inFlight == batch.ID {
			return nil
		}
		for _, pending := range ka.pendingBatches {
			if pending.ID == batch.ID {
				return nil
			}
		}
		if len(ka.pendingBatches) >= s.cfg.MaxPendingBatches {
			return ErrBackpressure
		}
		// Already running (or already queued to run) for this key.
		ka.pendingBatches = append(ka.pendingBatches, batch)
		s.addSubmitted()
		return nil
	}

	id := batch.ID
	ka.inFlight = &id
	s.addSubmitted()
	s.deliver(ka.workerIndex, batch)
	return nil
}

// SubmitBatch is an alias for Submit exposed as a standalone control-surface
// entrypoint for testing the scheduler and worker pool without C1/C2, per
// §6 ("submit_batch(batch) — for testing without C1/C2").
func (s *Scheduler) SubmitBatch(batch message.WindowBatch) error {
	return s.Submit(batch)
}

// OnBatchComplete releases the key's in-flight slot and, if any batches are
// queued for it, dispatches the next one.
func (s *Scheduler) OnBatchComplete(key string, id message.BatchID) {
	s.dedup.Add(id, struct{}{})
	s.addCompleted()

	ka := s.assignmentFor(key)

	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.inFlight == nil || *ka.inFlight != id {
		return
	}
	ka.inFlight = nil

	if s.rebal != nil {
		s.mu.RLock()
		load := append([]int(nil), s.loadByIndex...)
		s.mu.RUnlock()
		if newIdx := s.rebal(key, ka.workerIndex, load); newIdx != ka.workerIndex && newIdx >= 0 && newIdx < s.cfg.WorkerCount {
			s.mu.Lock()
			s.loadByIndex[ka.workerIndex]--
			s.loadByIndex[newIdx]++
			s.mu.Unlock()
			ka.workerIndex = newIdx
		}
	}

	if len(ka.pendingBatches) == 0 {
		return
	}

	next := ka.pendingBatches[0]
	ka.pendingBatches = ka.pendingBatches[1:]
	nextID := next.ID
	ka.inFlight = &nextID
	s.deliver(ka.workerIndex, next)
}

// Cancel clears pending_batches for a key and, if a batch is currently
// in-flight, returns its id so the caller can forward a cancellation token
// to the owning worker.
func (s *Scheduler) Cancel(key string) (inFlight *message.BatchID, cancelledPending []message.WindowBatch) {
	ka := s.assignmentFor(key)
	ka.mu.Lock()
	defer ka.mu.Unlock()
	cancelledPending = ka.pendingBatches
	ka.pendingBatches = nil
	return ka.inFlight, cancelledPending
}

// Stop marks the scheduler as stopped, subsequent Submit calls fail with
// ErrStopped (Cancel keeps working), and tells every dispatchLoop goroutine to exit once its
// queue drains.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

func (s *Scheduler) addSubmitted() {
	s.statsMu.Lock()
	s.batchesSubmitted++
	s.statsMu.Unlock()
}

func (s *Scheduler) addCompleted() {
	s.statsMu.Lock()
	s.batchesCompleted++
	s.statsMu.Unlock()
}

// InFlightKeys returns every key currently holding an in-flight batch.
// Exists to make invariant P3 ("at-most-one-in-flight") directly testable.
func (s *Scheduler) InFlightKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k, ka := range s.assignments {
		ka.mu.Lock()
		if ka.inFlight != nil {
			keys = append(keys, k)
		}
		ka.mu.Unlock()
	}
	return keys
}

// Stats is a point-in-time snapshot of scheduler-level counters.
type Stats struct {
	BatchesSubmitted uint64
	BatchesCompleted uint64
	ActiveKeys       int
}

// StatsSnapshot returns the current counters.
func (s *Scheduler) StatsSnapshot() Stats {
	s.statsMu.Lock()
	st := Stats{BatchesSubmitted: s.batchesSubmitted, BatchesCompleted: s.batchesCompleted}
	s.statsMu.Unlock()
	s.mu.RLock()
	st.ActiveKeys = len(s.assignments)
	s.mu.RUnlock()
	return st
}
