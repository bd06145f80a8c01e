// Package offset implements the per-key offset tracker (C1): it converts a
// stream with per-key monotonic but possibly reordered sequence numbers
// into a stream of contiguous runs per key.
package offset

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/redpanda-data/edgestream/internal/message"
)

// OverflowPolicy selects how the tracker behaves when a key's pending set
// would exceed MaxWaiting.
type OverflowPolicy string

const (
	// PolicyReject refuses the message and returns BackpressureError. This
	// is the default.
	PolicyReject OverflowPolicy = "reject"
	// PolicyDropOldest evicts the smallest pending sequence, emits a
	// GapReport for it, and admits the new message.
	PolicyDropOldest OverflowPolicy = "drop_oldest"
	// PolicyForceCommit advances committed to one below the incoming
	// sequence, discarding every skipped pending entry with a GapReport
	// each.
	PolicyForceCommit OverflowPolicy = "force_commit"
)

// ErrBackpressure is returned by Receive when PolicyReject is in effect and
// the key's pending set is already at capacity.
var ErrBackpressure = errors.New("offset: pending set at capacity")

// ErrStateCorruption indicates invariant I2 (min(pending) > committed + 1)
// was violated. This should be unreachable; it is fatal for the key state
// it was found in.
var ErrStateCorruption = errors.New("offset: state corruption (I2 violated)")

// GapReport is emitted whenever one or more sequences are discarded and
// will never be delivered downstream.
type GapReport struct {
	Key     string
	Dropped uint64
}

// EvictedKey is returned by EvictIdle for every key removed from the
// tracker.
type EvictedKey struct {
	Key            string
	DroppedPending []uint64
}

// Config configures a Tracker. All fields are validated by Validate.
type Config struct {
	MaxWaiting      int
	OverflowPolicy  OverflowPolicy
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	NumShards       int
}

// DefaultConfig returns sane defaults matching the spec's stated default
// (reject policy).
func DefaultConfig() Config {
	return Config{
		MaxWaiting:     1024,
		OverflowPolicy: PolicyReject,
		IdleTTL:        5 * time.Minute,
		SweepInterval:  30 * time.Second,
		NumShards:      32,
	}
}

// Validate checks that every configuration value is within its documented
// domain, per the "all values checkable at startup" requirement.
func (c Config) Validate() error {
	if c.MaxWaiting <= 0 {
		return errors.New("offset: max_waiting must be positive")
	}
	switch c.OverflowPolicy {
	case PolicyReject, PolicyDropOldest, PolicyForceCommit:
	default:
		return errors.New("offset: overflow_policy must be one of reject, drop_oldest, force_commit")
	}
	if c.IdleTTL <= 0 {
		return errors.New("offset: idle_ttl must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("offset: idle_sweep_interval must be positive")
	}
	if c.NumShards <= 0 {
		return errors.New("offset: num_shards must be positive")
	}
	return nil
}

// pendingHeap is a min-heap of pending sequence numbers for one key.
type pendingHeap []uint64

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)         { *h = append(*h, x.(uint64)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// keyState is the per-key state owned by C1, guarded by its own mutex so
// that different keys never contend. This realises a one-actor-per-key
// design as a per-entry lock rather than a full actor/goroutine per key.
type keyState struct {
	mu sync.Mutex

	committed    uint64
	pending      pendingHeap
	pendingByVal map[uint64]message.Entry
	lastActivity time.Time
}

type shard struct {
	mu   sync.RWMutex
	keys map[string]*keyState
}

// Tracker is the C1 Offset Tracker. A Tracker is safe for concurrent use by
// multiple goroutines; distinct keys progress independently via a striped
// lock (one stripe per shard, one mutex per key within a shard).
type Tracker struct {
	cfg    Config
	shards []*shard

	onGapReport func(GapReport)

	receivedTotal uint64
	droppedTotal  uint64
	mu            sync.Mutex // guards the two counters above
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// OptOnGapReport registers a callback invoked synchronously whenever the
// tracker discards a pending sequence. The callback must not block.
func OptOnGapReport(fn func(GapReport)) Option {
	return func(t *Tracker) { t.onGapReport = fn }
}

// New constructs a Tracker from a validated Config.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{cfg: cfg}
	t.shards = make([]*shard, cfg.NumShards)
	for i := range t.shards {
		t.shards[i] = &shard{keys: make(map[string]*keyState)}
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *Tracker) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return t.shards[h%uint64(len(t.shards))]
}

func (t *Tracker) stateFor(key string, now time.Time) *keyState {
	sh := t.shardFor(key)

	sh.mu.RLock()
	ks, ok := sh.keys[key]
	sh.mu.RUnlock()
	if ok {
		return ks
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if ks, ok = sh.keys[key]; ok {
		return ks
	}
	ks = &keyState{
		pendingByVal: make(map[uint64]message.Entry),
		lastActivity: now,
	}
	sh.keys[key] = ks
	return ks
}

func (t *Tracker) emitGap(key string, seq uint64) {
	t.mu.Lock()
	t.droppedTotal++
	t.mu.Unlock()
	if t.onGapReport != nil {
		t.onGapReport(GapReport{Key: key, Dropped: seq})
	}
}

// Receive ingests one message and returns the (possibly empty) run of
// entries newly released for its key, in sequence order.
//
// See §4.1 of the spec for the full case analysis; this implementation
// follows it case for case.
func (t *Tracker) Receive(msg message.Message) ([]message.Entry, error) {
	now := time.Now()
	ks := t.stateFor(msg.Key, now)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	t.mu.Lock()
	t.receivedTotal++
	t.mu.Unlock()

	ks.lastActivity = now

	// Case 1: duplicate or late (also covers sequence == committed, which
	// the spec's §9 open question resolves as a duplicate).
	if msg.Sequence <= ks.committed {
		return nil, nil
	}

	entry := message.Entry{Sequence: msg.Sequence, Timestamp: msg.Timestamp, Payload: msg.Payload}

	// Case 2: exactly the next sequence — append then drain the
	// contiguous prefix already sitting in pending.
	if msg.Sequence == ks.committed+1 {
		released := []message.Entry{entry}
		ks.committed = msg.Sequence
		for len(ks.pending) > 0 && ks.pending[0] == ks.committed+1 {
			seq := heap.Pop(&ks.pending).(uint64)
			pe, ok := ks.pendingByVal[seq]
			if !ok {
				return nil, ErrStateCorruption
			}
			delete(ks.pendingByVal, seq)
			released = append(released, pe)
			ks.committed = seq
		}
		return released, nil
	}

	// Case 3: gap — goes into pending, subject to the capacity policy.
	if len(ks.pending) >= t.cfg.MaxWaiting {
		switch t.cfg.OverflowPolicy {
		case PolicyReject:
			return nil, ErrBackpressure
		case PolicyDropOldest:
			dropped := heap.Pop(&ks.pending).(uint64)
			delete(ks.pendingByVal, dropped)
			t.emitGap(msg.Key, dropped)
		case PolicyForceCommit:
			// Advance committed to just below the incoming sequence,
			// discarding every pending entry at or below that point
			// (they can never become contiguous again).
			newCommitted := msg.Sequence - 1
			for len(ks.pending) > 0 && ks.pending[0] <= newCommitted {
				dropped := heap.Pop(&ks.pending).(uint64)
				delete(ks.pendingByVal, dropped)
				t.emitGap(msg.Key, dropped)
			}
			ks.committed = newCommitted
			// Proceed as case 2: msg.Sequence is now committed+1.
			released := []message.Entry{entry}
			ks.committed = msg.Sequence
			for len(ks.pending) > 0 && ks.pending[0] == ks.committed+1 {
				seq := heap.Pop(&ks.pending).(uint64)
				pe := ks.pendingByVal[seq]
				delete(ks.pendingByVal, seq)
				released = append(released, pe)
				ks.committed = seq
			}
			return released, nil
		}
	}

	if _, exists := ks.pendingByVal[msg.Sequence]; !exists {
		heap.Push(&ks.pending, msg.Sequence)
	}
	ks.pendingByVal[msg.Sequence] = entry

	if ks.pending[0] <= ks.committed {
		return nil, ErrStateCorruption
	}

	return nil, nil
}

// CommittedOffset returns the highest sequence such that every sequence in
// (0, committed] has been released downstream for the given key.
func (t *Tracker) CommittedOffset(key string) uint64 {
	sh := t.shardFor(key)
	sh.mu.RLock()
	ks, ok := sh.keys[key]
	sh.mu.RUnlock()
	if !ok {
		return 0
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.committed
}

// WaitingCount returns the number of sequences currently held in the
// key's pending set.
func (t *Tracker) WaitingCount(key string) int {
	sh := t.shardFor(key)
	sh.mu.RLock()
	ks, ok := sh.keys[key]
	sh.mu.RUnlock()
	if !ok {
		return 0
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.pending)
}

// EvictIdle removes every key whose last activity predates now-IdleTTL. A
// key with a non-empty pending set emits one GapReport per discarded entry
// before being removed.
func (t *Tracker) EvictIdle(now time.Time) []EvictedKey {
	var evicted []EvictedKey
	cutoff := now.Add(-t.cfg.IdleTTL)

	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, ks := range sh.keys {
			ks.mu.Lock()
			if ks.lastActivity.Before(cutoff) {
				var dropped []uint64
				for len(ks.pending) > 0 {
					seq := heap.Pop(&ks.pending).(uint64)
					delete(ks.pendingByVal, seq)
					dropped = append(dropped, seq)
				}
				ks.mu.Unlock()
				delete(sh.keys, key)
				for _, seq := range dropped {
					t.emitGap(key, seq)
				}
				evicted = append(evicted, EvictedKey{Key: key, DroppedPending: dropped})
				continue
			}
			ks.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Stats is a point-in-time snapshot of tracker-level counters, aggregated
// on read per §9's "global mutable statistics" guidance rather than kept
// in a single shared atomic registry.
type Stats struct {
	MessagesReceived uint64
	MessagesDropped  uint64
	ActiveKeys       int
}

// StatsSnapshot returns the current counters.
func (t *Tracker) StatsSnapshot() Stats {
	t.mu.Lock()
	s := Stats{MessagesReceived: t.receivedTotal, MessagesDropped: t.droppedTotal}
	t.mu.Unlock()
	for _, sh := range t.shards {
		sh.mu.RLock()
		s.ActiveKeys += len(sh.keys)
		sh.mu.RUnlock()
	}
	return s
}
