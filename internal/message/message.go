// Package message defines the data model shared by every stage of the
// pipeline: the raw Message accepted from an ingress source, the
// contiguous entries released by the offset tracker, and the window
// batches handed to the scheduler.
package message

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/segmentio/ksuid"
)

// Message is a single unit of telemetry accepted from an ingress source.
// Key identifies an independent ordered stream; Sequence is strictly
// increasing per key at the source but may arrive out of order.
type Message struct {
	Key       string
	Sequence  uint64
	Timestamp uint64
	Payload   []byte
	Metadata  map[string]string
}

// CorrelationID returns the "correlation_id" metadata entry, generating and
// caching a fresh one if the message doesn't carry one already, so repeated
// calls on the same message return the same identifier.
func (m *Message) CorrelationID() string {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	if id, ok := m.Metadata["correlation_id"]; ok && id != "" {
		return id
	}
	id, err := uuid.NewV4()
	if err != nil {
		// Extremely unlikely (would require the OS RNG to fail); fall
		// back to a zero-value UUID rather than panicking mid-ingest.
		m.Metadata["correlation_id"] = uuid.Nil.String()
		return m.Metadata["correlation_id"]
	}
	m.Metadata["correlation_id"] = id.String()
	return m.Metadata["correlation_id"]
}

// Entry is a payload that has been confirmed contiguous by the offset
// tracker: every sequence up to and including this one has already been
// released for the same key.
type Entry struct {
	Sequence  uint64
	Timestamp uint64
	Payload   []byte
}

// BatchID uniquely identifies a WindowBatch. KSUIDs are used because they
// are k-sortable: listing in-flight batches in creation order falls out of
// a plain string sort, which is useful for diagnostics. The scheduler's
// completed-batch dedup cache is keyed by BatchID.
type BatchID string

// NewBatchID mints a fresh, time-sortable batch identifier.
func NewBatchID() BatchID {
	return BatchID(ksuid.New().String())
}

// WindowBatch is a bounded, contiguous, in-order slice of one key's stream,
// ready for algorithm execution. Invariants (enforced by the window
// aggregator that constructs these): EndSeq = StartSeq + Count - 1,
// Payloads are in sequence order, Count <= configured window size (Count
// is below it only for an incomplete flush permitted by AllowIncomplete).
type WindowBatch struct {
	ID       BatchID
	Key      string
	StartSeq uint64
	EndSeq   uint64
	Count    int
	TimeMin  uint64
	TimeMax  uint64
	Payloads [][]byte

	// Attempt is the zero-based index of the current execution attempt: 0
	// on the first run. The worker pool increments it before each retry.
	Attempt int
}

// Clone returns a deep copy suitable for re-enqueuing on retry without
// sharing backing slices with the original submission.
func (b WindowBatch) Clone() WindowBatch {
	payloads := make([][]byte, len(b.Payloads))
	for i, p := range b.Payloads {
		payloads[i] = append([]byte(nil), p...)
	}
	b.Payloads = payloads
	return b
}

// Now returns the current wall-clock time as milliseconds since epoch, the
// timestamp unit used throughout the pipeline's Message/Entry types.
func Now() uint64 {
	return uint64(time.Now().UnixMilli())
}
