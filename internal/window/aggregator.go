// Package window implements the sliding-window aggregator (C2): it buffers
// contiguous per-key entries released by the offset tracker and emits
// WindowBatch values once a batch reaches its configured size, or once a
// timeout elapses on a non-empty, idle buffer.
package window

import (
	"errors"
	"sync"
	"time"

	"github.com/redpanda-data/edgestream/internal/message"
)

// ErrNonContiguous is returned (and is fatal for the key's buffer) when an
// appended entry would violate invariant I4: buffer entries must be
// strictly contiguous.
var ErrNonContiguous = errors.New("window: entry is not contiguous with buffer tail")

// Config configures an Aggregator.
type Config struct {
	WindowSize       int
	Slide            int
	WindowTimeout    time.Duration
	AllowIncomplete  bool
	StallAlarm       time.Duration
}

// DefaultConfig returns a tumbling (Slide == WindowSize) configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:      100,
		Slide:           100,
		WindowTimeout:   10 * time.Second,
		AllowIncomplete: false,
		StallAlarm:      time.Minute,
	}
}

// Validate checks every field is within its documented domain.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return errors.New("window: window_size must be positive")
	}
	if c.Slide <= 0 || c.Slide > c.WindowSize {
		return errors.New("window: window_slide must be in 1..=window_size")
	}
	if c.WindowTimeout <= 0 {
		return errors.New("window: window_timeout must be positive")
	}
	if c.StallAlarm < 0 {
		return errors.New("window: stall_alarm must not be negative")
	}
	return nil
}

// WindowStalled is emitted when a window has been waiting longer than
// StallAlarm with no progress, under a configuration that refuses to emit
// incomplete windows.
type WindowStalled struct {
	Key          string
	WindowStart  uint64
	BufferedSize int
	Age          time.Duration
}

type keyWindow struct {
	mu sync.Mutex

	buffer      []message.Entry
	createdAt   time.Time
	createdSet  bool
	lastAppend  time.Time
	alarmRaised bool
}

// Aggregator is the C2 Window Aggregator. Safe for concurrent use; distinct
// keys are independent (§5, "WindowAggregator: analogous [to OffsetTracker];
// keys are independent").
type Aggregator struct {
	cfg Config

	mu   sync.RWMutex
	keys map[string]*keyWindow

	onStalled func(WindowStalled)

	batchesEmitted uint64
	statsMu        sync.Mutex
}

// Option configures an Aggregator at construction time.
type Option func(*Aggregator)

// OptOnStalled registers a callback invoked synchronously whenever a
// WindowStalled event fires. Must not block.
func OptOnStalled(fn func(WindowStalled)) Option {
	return func(a *Aggregator) { a.onStalled = fn }
}

// New constructs an Aggregator from a validated Config.
func New(cfg Config, opts ...Option) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{cfg: cfg, keys: make(map[string]*keyWindow)}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Aggregator) windowFor(key string) *keyWindow {
	a.mu.RLock()
	kw, ok := a.keys[key]
	a.mu.RUnlock()
	if ok {
		return kw
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if kw, ok = a.keys[key]; ok {
		return kw
	}
	kw = &keyWindow{}
	a.keys[key] = kw
	return kw
}

// Append appends entries (already confirmed contiguous with each other and
// with the buffer by the caller's offset tracker) and returns every batch
// that has now reached WindowSize.
func (a *Aggregator) Append(key string, entries []message.Entry) ([]message.WindowBatch, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	kw := a.windowFor(key)

	kw.mu.Lock()
	defer kw.mu.Unlock()

	now := time.Now()
	for _, e := range entries {
		if len(kw.buffer) > 0 {
			tail := kw.buffer[len(kw.buffer)-1]
			if e.Sequence != tail.Sequence+1 {
				return nil, ErrNonContiguous
			}
		}
		kw.buffer = append(kw.buffer, e)
	}
	kw.lastAppend = now
	if !kw.createdSet {
		kw.createdAt = now
		kw.createdSet = true
	}
	kw.alarmRaised = false

	var batches []message.WindowBatch
	for len(kw.buffer) >= a.cfg.WindowSize {
		batch := a.detach(key, kw.buffer[:a.cfg.WindowSize])
		batches = append(batches, batch)

		remaining := kw.buffer[a.cfg.Slide:]
		kw.buffer = append([]message.Entry(nil), remaining...)
		if len(kw.buffer) == 0 {
			kw.createdSet = false
		} else {
			// Arrival times of individual buffered entries are not
			// tracked, so the new window's age clock restarts from now
			// rather than from the arrival time of its front entry, which
			// may have arrived in an earlier Append call.
			kw.createdAt = now
			kw.createdSet = true
		}
	}

	if len(batches) > 0 {
		a.statsMu.Lock()
		a.batchesEmitted += uint64(len(batches))
		a.statsMu.Unlock()
	}

	return batches, nil
}

func (a *Aggregator) detach(key string, entries []message.Entry) message.WindowBatch {
	payloads := make([][]byte, len(entries))
	var tMin, tMax uint64
	for i, e := range entries {
		payloads[i] = e.Payload
		if i == 0 || e.Timestamp < tMin {
			tMin = e.Timestamp
		}
		if i == 0 || e.Timestamp > tMax {
			tMax = e.Timestamp
		}
	}
	return message.WindowBatch{
		ID:       message.NewBatchID(),
		Key:      key,
		StartSeq: entries[0].Sequence,
		EndSeq:   entries[len(entries)-1].Sequence,
		Count:    len(entries),
		TimeMin:  tMin,
		TimeMax:  tMax,
		Payloads: payloads,
	}
}

// Tick scans all windows for timeout-triggered flushes and stall alarms.
// It must be called periodically by the embedder (the core pipeline drives
// it from a cron schedule; see internal/core).
func (a *Aggregator) Tick(now time.Time) []message.WindowBatch {
	a.mu.RLock()
	keys := make([]string, 0, len(a.keys))
	windows := make([]*keyWindow, 0, len(a.keys))
	for k, kw := range a.keys {
		keys = append(keys, k)
		windows = append(windows, kw)
	}
	a.mu.RUnlock()

	var batches []message.WindowBatch
	for i, kw := range windows {
		key := keys[i]
		kw.mu.Lock()
		if len(kw.buffer) == 0 || now.Sub(kw.lastAppend) < a.cfg.WindowTimeout {
			kw.mu.Unlock()
			continue
		}
		if a.cfg.AllowIncomplete {
			batch := a.detach(key, kw.buffer)
			kw.buffer = nil
			kw.createdSet = false
			kw.mu.Unlock()
			batches = append(batches, batch)
			a.statsMu.Lock()
			a.batchesEmitted++
			a.statsMu.Unlock()
			continue
		}
		if a.cfg.StallAlarm > 0 && !kw.alarmRaised && now.Sub(kw.createdAt) >= a.cfg.StallAlarm {
			kw.alarmRaised = true
			stalled := WindowStalled{Key: key, WindowStart: kw.buffer[0].Sequence, BufferedSize: len(kw.buffer), Age: now.Sub(kw.createdAt)}
			kw.mu.Unlock()
			if a.onStalled != nil {
				a.onStalled(stalled)
			}
			continue
		}
		kw.mu.Unlock()
	}
	return batches
}

// BufferedCount returns the number of entries currently buffered for a key.
func (a *Aggregator) BufferedCount(key string) int {
	a.mu.RLock()
	kw, ok := a.keys[key]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return len(kw.buffer)
}

// Stats is a point-in-time snapshot of aggregator-level counters.
type Stats struct {
	BatchesEmitted uint64
	ActiveKeys     int
}

// StatsSnapshot returns the current counters.
func (a *Aggregator) StatsSnapshot() Stats {
	a.statsMu.Lock()
	s := Stats{BatchesEmitted: a.batchesEmitted}
	a.statsMu.Unlock()
	a.mu.RLock()
	s.ActiveKeys = len(a.keys)
	a.mu.RUnlock()
	return s
}
