// Package core wires the offset tracker (C1), window aggregator (C2),
// ordering scheduler (C3), and worker pool (C4) into a single embeddable
// pipeline, and exposes the control surface described in §6 of the spec:
// submit_batch, committed_offset, stats, and shutdown.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/Jeffail/shutdown"
	"github.com/robfig/cron/v3"

	"github.com/redpanda-data/edgestream/internal/log"
	"github.com/redpanda-data/edgestream/internal/message"
	"github.com/redpanda-data/edgestream/internal/offset"
	"github.com/redpanda-data/edgestream/internal/schedule"
	"github.com/redpanda-data/edgestream/internal/window"
	"github.com/redpanda-data/edgestream/internal/worker"
)

// IngressSource is the pull interface the core polls for new messages
// (§6 "Ingress Source").
type IngressSource interface {
	// Recv blocks until a message is available, the context is
	// cancelled, or the source is permanently closed (in which case it
	// returns ErrChannelClosed).
	Recv(ctx context.Context) (message.Message, error)
}

// ErrChannelClosed is returned by an IngressSource once it will never
// produce another message.
var ErrChannelClosed = errors.New("core: ingress channel closed")

// Sink receives algorithm output for successfully executed batches. It
// must not reorder outputs for the same key (§6 "Sink"); since the
// scheduler already serializes per-key execution, a Sink that publishes
// synchronously from the worker's completion path automatically inherits
// that ordering.
type Sink interface {
	Publish(ctx context.Context, key string, output any) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, key string, output any) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, key string, output any) error { return f(ctx, key, output) }

// Config aggregates the configuration of every layer, mirroring the
// teacher's stream.Config (one struct per layer, assembled by the
// top-level type).
type Config struct {
	Offset    offset.Config
	Window    window.Config
	Scheduler schedule.Config
	Worker    worker.Config
}

// DefaultConfig returns the default configuration for every layer.
func DefaultConfig() Config {
	return Config{
		Offset:    offset.DefaultConfig(),
		Window:    window.DefaultConfig(),
		Scheduler: schedule.DefaultConfig(),
		Worker:    worker.DefaultConfig(),
	}
}

// Validate checks that every layer's configuration is internally
// consistent, and that the layers agree with each other where they must
// (worker_count is shared between the scheduler and the worker pool).
func (c Config) Validate() error {
	if err := c.Offset.Validate(); err != nil {
		return err
	}
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if c.Scheduler.WorkerCount != c.Worker.WorkerCount {
		return errors.New("core: scheduler.worker_count must equal worker.worker_count")
	}
	return nil
}

// Stats is the snapshot returned by the stats() control surface call.
type Stats struct {
	MessagesReceived uint64
	MessagesDropped  uint64
	BatchesEmitted   uint64
	BatchesExecuted  uint64
	BatchesFailed    uint64
	ActiveKeys       int
}

// Pipeline is the assembled C1 -> C2 -> C3 -> C4 pipeline.
type Pipeline struct {
	cfg Config
	log log.Modular

	tracker    *offset.Tracker
	aggregator *window.Aggregator
	scheduler  *schedule.Scheduler
	pool       *worker.Pool

	sink       Sink
	rebalancer schedule.Rebalancer

	sweeper *cron.Cron

	shutSig *shutdown.Signaller
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// OptLogger overrides the pipeline's logger. Defaults to a no-op logger.
func OptLogger(l log.Modular) Option {
	return func(p *Pipeline) { p.log = l }
}

// OptRebalancer installs the scheduler's optional fairness hook (§4.3,
// mitigation (b)).
func OptRebalancer(r schedule.Rebalancer) Option {
	return func(p *Pipeline) { p.rebalancer = r }
}

// New assembles a Pipeline. executor is the algorithm executor (§6); sink
// receives its output.
func New(cfg Config, executor worker.Executor, sink Sink, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, sink: sink, log: log.Noop(), shutSig: shutdown.NewSignaller()}
	for _, o := range opts {
		o(p)
	}

	tracker, err := offset.New(cfg.Offset, offset.OptOnGapReport(p.handleGapReport))
	if err != nil {
		return nil, err
	}
	p.tracker = tracker

	aggregator, err := window.New(cfg.Window, window.OptOnStalled(p.handleWindowStalled))
	if err != nil {
		return nil, err
	}
	p.aggregator = aggregator

	pool, err := worker.New(cfg.Worker, executor, worker.OptOnComplete(p.handleOutcome))
	if err != nil {
		return nil, err
	}
	p.pool = pool

	outbox := make([]schedule.Outbox, cfg.Scheduler.WorkerCount)
	for i := range outbox {
		outbox[i] = pool.Outbox(i)
	}
	sched, err := schedule.New(cfg.Scheduler, outbox, p.rebalancer)
	if err != nil {
		return nil, err
	}
	p.scheduler = sched

	p.sweeper = cron.New()
	return p, nil
}

func (p *Pipeline) handleGapReport(r offset.GapReport) {
	p.log.With("key", r.Key, "sequence", r.Dropped).Warn("dropping sequence that will never be delivered")
}

func (p *Pipeline) handleWindowStalled(s window.WindowStalled) {
	p.log.With("key", s.Key, "buffered", s.BufferedSize, "age", s.Age.String()).Warn("window has stalled waiting for more data")
}

func (p *Pipeline) handleOutcome(o worker.Outcome) {
	p.scheduler.OnBatchComplete(o.Batch.Key, o.Batch.ID)

	switch o.Status {
	case worker.StatusOK:
		if p.sink != nil {
			if err := p.sink.Publish(context.Background(), o.Batch.Key, o.Output); err != nil {
				p.log.With("key", o.Batch.Key, "batch_id", string(o.Batch.ID)).Error("sink publish failed: %v", err)
			}
		}
	case worker.StatusFailed:
		p.log.With("key", o.Batch.Key, "batch_id", string(o.Batch.ID)).Error("batch execution failed permanently: %v", o.Err)
	case worker.StatusCancelled:
		p.log.With("key", o.Batch.Key, "batch_id", string(o.Batch.ID)).Debug("batch cancelled")
	}
}

// Ingest feeds one message through C1 -> C2 -> C3. It is the core's data-
// plane entrypoint, called once per message accepted from an IngressSource.
func (p *Pipeline) Ingest(msg message.Message) error {
	entries, err := p.tracker.Receive(msg)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	batches, err := p.aggregator.Append(msg.Key, entries)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if err := p.scheduler.Submit(b); err != nil {
			return err
		}
	}
	return nil
}

// SubmitBatch bypasses C1/C2 and submits a batch directly to the
// scheduler, per §6 ("submit_batch(batch) — for testing without C1/C2").
func (p *Pipeline) SubmitBatch(batch message.WindowBatch) error {
	return p.scheduler.Submit(batch)
}

// CommittedOffset returns the highest fully-released sequence for a key.
func (p *Pipeline) CommittedOffset(key string) uint64 {
	return p.tracker.CommittedOffset(key)
}

// Stats returns a point-in-time snapshot of pipeline-wide counters.
func (p *Pipeline) Stats() Stats {
	os := p.tracker.StatsSnapshot()
	ws := p.aggregator.StatsSnapshot()
	ss := p.scheduler.StatsSnapshot()
	ps := p.pool.StatsSnapshot()
	return Stats{
		MessagesReceived: os.MessagesReceived,
		MessagesDropped:  os.MessagesDropped,
		BatchesEmitted:   ws.BatchesEmitted,
		BatchesExecuted:  ps.Processed,
		BatchesFailed:    ps.Failed,
		ActiveKeys:       os.ActiveKeys,
	}
}

// StartBackgroundSweeps starts the cron-scheduled idle eviction (C1) and
// window timeout tick (C2) sweeps. idleSweepInterval and tickInterval are
// expressed as cron "@every" directives (e.g. "@every 30s").
func (p *Pipeline) StartBackgroundSweeps(idleSweepInterval, tickInterval string) error {
	if _, err := p.sweeper.AddFunc(idleSweepInterval, func() {
		p.tracker.EvictIdle(time.Now())
	}); err != nil {
		return err
	}
	if _, err := p.sweeper.AddFunc(tickInterval, func() {
		batches := p.aggregator.Tick(time.Now())
		for _, b := range batches {
			if err := p.scheduler.Submit(b); err != nil {
				p.log.With("key", b.Key).Error("failed to submit timeout-flushed batch: %v", err)
			}
		}
	}); err != nil {
		return err
	}
	p.sweeper.Start()
	return nil
}

// Shutdown cancels new work and waits up to gracePeriod for in-flight
// batches to complete, per §6 ("shutdown(grace_period)").
func (p *Pipeline) Shutdown(gracePeriod time.Duration) {
	p.shutSig.TriggerSoftStop()
	ctx := p.sweeper.Stop()
	<-ctx.Done()
	p.scheduler.Stop()
	p.pool.Shutdown(gracePeriod)
	p.shutSig.TriggerHasStopped()
}

// HasStoppedChan signals once Shutdown has fully completed.
func (p *Pipeline) HasStoppedChan() <-chan struct{} {
	return p.shutSig.HasStoppedChan()
}
