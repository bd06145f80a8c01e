package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/edgestream/internal/message"
)

func entry(seq uint64) message.Entry {
	return message.Entry{Sequence: seq, Timestamp: seq * 100, Payload: []byte{byte(seq)}}
}

// TestAppendTumblingScenarioA exercises spec Scenario A.
func TestAppendTumblingScenarioA(t *testing.T) {
	cfg := Config{WindowSize: 3, Slide: 3, WindowTimeout: time.Second, AllowIncomplete: false}
	agg, err := New(cfg)
	require.NoError(t, err)

	var all []message.WindowBatch
	for seq := uint64(1); seq <= 9; seq++ {
		batches, err := agg.Append("p1", []message.Entry{entry(seq)})
		require.NoError(t, err)
		all = append(all, batches...)
	}

	require.Len(t, all, 3)
	assertBatch(t, all[0], 1, 3, 3)
	assertBatch(t, all[1], 4, 6, 3)
	assertBatch(t, all[2], 7, 9, 3)
}

func assertBatch(t *testing.T, b message.WindowBatch, start, end uint64, count int) {
	t.Helper()
	assert.Equal(t, start, b.StartSeq)
	assert.Equal(t, end, b.EndSeq)
	assert.Equal(t, count, b.Count)
}

func TestAppendSlidingWindow(t *testing.T) {
	cfg := Config{WindowSize: 3, Slide: 1, WindowTimeout: time.Second}
	agg, err := New(cfg)
	require.NoError(t, err)

	var all []message.WindowBatch
	for seq := uint64(1); seq <= 5; seq++ {
		batches, err := agg.Append("k", []message.Entry{entry(seq)})
		require.NoError(t, err)
		all = append(all, batches...)
	}

	// Window size 3, slide 1: batches (1,3), (2,4), (3,5).
	require.Len(t, all, 3)
	assertBatch(t, all[0], 1, 3, 3)
	assertBatch(t, all[1], 2, 4, 3)
	assertBatch(t, all[2], 3, 5, 3)
}

func TestAppendNonContiguousIsRejected(t *testing.T) {
	agg, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = agg.Append("k", []message.Entry{entry(1)})
	require.NoError(t, err)

	_, err = agg.Append("k", []message.Entry{entry(3)})
	assert.ErrorIs(t, err, ErrNonContiguous)
}

func TestTickFlushesIncompleteWindow(t *testing.T) {
	cfg := Config{WindowSize: 10, Slide: 10, WindowTimeout: time.Millisecond, AllowIncomplete: true}
	agg, err := New(cfg)
	require.NoError(t, err)

	_, err = agg.Append("k", []message.Entry{entry(1), entry(2)})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	batches := agg.Tick(time.Now())
	require.Len(t, batches, 1)
	assertBatch(t, batches[0], 1, 2, 2)
	assert.Equal(t, 0, agg.BufferedCount("k"))
}

func TestTickRaisesStallAlarmWithoutIncompleteFlush(t *testing.T) {
	cfg := Config{WindowSize: 10, Slide: 10, WindowTimeout: time.Millisecond, AllowIncomplete: false, StallAlarm: time.Millisecond}
	var stalled []WindowStalled
	agg, err := New(cfg, OptOnStalled(func(s WindowStalled) { stalled = append(stalled, s) }))
	require.NoError(t, err)

	_, err = agg.Append("k", []message.Entry{entry(1)})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	batches := agg.Tick(time.Now())
	assert.Empty(t, batches)
	require.Len(t, stalled, 1)
	assert.Equal(t, "k", stalled[0].Key)
	assert.Equal(t, 1, stalled[0].BufferedSize)

	// Buffer is untouched; the alarm doesn't fire twice in a row.
	assert.Equal(t, 1, agg.BufferedCount("k"))
	batches = agg.Tick(time.Now())
	assert.Empty(t, batches)
	assert.Len(t, stalled, 1)
}

func TestWindowSizeOneEmitsEveryMessage(t *testing.T) {
	cfg := Config{WindowSize: 1, Slide: 1, WindowTimeout: time.Second}
	agg, err := New(cfg)
	require.NoError(t, err)

	batches, err := agg.Append("k", []message.Entry{entry(1)})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assertBatch(t, batches[0], 1, 1, 1)
}

func TestTwoKeysAreIndependent(t *testing.T) {
	cfg := Config{WindowSize: 2, Slide: 2, WindowTimeout: time.Second}
	agg, err := New(cfg)
	require.NoError(t, err)

	var all []message.WindowBatch
	order := []struct {
		key string
		seq uint64
	}{
		{"A", 1}, {"B", 1}, {"A", 2}, {"B", 2},
	}
	for _, o := range order {
		batches, err := agg.Append(o.key, []message.Entry{entry(o.seq)})
		require.NoError(t, err)
		all = append(all, batches...)
	}

	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Key)
	assert.Equal(t, "B", all[1].Key)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Slide = cfg.WindowSize + 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.WindowSize = 0
	assert.Error(t, cfg.Validate())
}
