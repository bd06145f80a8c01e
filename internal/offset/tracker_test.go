package offset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/edgestream/internal/message"
)

func msg(key string, seq uint64) message.Message {
	return message.Message{Key: key, Sequence: seq, Timestamp: seq * 100}
}

func seqs(entries []message.Entry) []uint64 {
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.Sequence
	}
	return out
}

func TestReceiveInOrder(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	for i := uint64(1); i <= 9; i++ {
		entries, err := tr.Receive(msg("p1", i))
		require.NoError(t, err)
		assert.Equal(t, []uint64{i}, seqs(entries))
	}
	assert.Equal(t, uint64(9), tr.CommittedOffset("p1"))
}

// TestReceiveReordered exercises spec Scenario B.
func TestReceiveReordered(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	cases := []struct {
		seq  uint64
		want []uint64
	}{
		{1, []uint64{1}},
		{3, nil},
		{2, []uint64{2, 3}},
		{5, nil},
		{4, []uint64{4, 5}},
		{6, []uint64{6}},
	}
	for _, c := range cases {
		entries, err := tr.Receive(msg("p1", c.seq))
		require.NoError(t, err)
		assert.Equal(t, c.want, seqs(entries), "seq %d", c.seq)
	}
	assert.Equal(t, uint64(6), tr.CommittedOffset("p1"))
}

func TestReceiveDuplicateIsIgnored(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = tr.Receive(msg("p1", 1))
	require.NoError(t, err)
	_, err = tr.Receive(msg("p1", 2))
	require.NoError(t, err)

	entries, err := tr.Receive(msg("p1", 1))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, uint64(2), tr.CommittedOffset("p1"))
}

func TestReceiveRejectPolicyBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWaiting = 2
	cfg.OverflowPolicy = PolicyReject
	tr, err := New(cfg)
	require.NoError(t, err)

	_, err = tr.Receive(msg("k", 3))
	require.NoError(t, err)
	_, err = tr.Receive(msg("k", 5))
	require.NoError(t, err)

	_, err = tr.Receive(msg("k", 7))
	assert.ErrorIs(t, err, ErrBackpressure)
}

// TestReceiveDropOldestPolicy exercises spec Scenario C.
func TestReceiveDropOldestPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWaiting = 2
	cfg.OverflowPolicy = PolicyDropOldest
	tr, err := New(cfg)
	require.NoError(t, err)

	var gaps []GapReport
	tr.onGapReport = func(r GapReport) { gaps = append(gaps, r) }

	entries, err := tr.Receive(msg("k", 1))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, seqs(entries))

	_, err = tr.Receive(msg("k", 3))
	require.NoError(t, err)
	_, err = tr.Receive(msg("k", 5))
	require.NoError(t, err)

	// pending={3,5} is at capacity; 7 forces 3 to be dropped.
	entries, err = tr.Receive(msg("k", 7))
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, gaps, 1)
	assert.Equal(t, GapReport{Key: "k", Dropped: 3}, gaps[0])

	// 2 == committed+1, releases immediately; 3 never arrives again.
	entries, err = tr.Receive(msg("k", 2))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, seqs(entries))
	assert.Equal(t, uint64(2), tr.CommittedOffset("k"))
	assert.Equal(t, 2, tr.WaitingCount("k"))
}

func TestReceiveForceCommitPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWaiting = 1
	cfg.OverflowPolicy = PolicyForceCommit
	tr, err := New(cfg)
	require.NoError(t, err)

	var gaps []GapReport
	tr.onGapReport = func(r GapReport) { gaps = append(gaps, r) }

	_, err = tr.Receive(msg("k", 1))
	require.NoError(t, err)
	_, err = tr.Receive(msg("k", 3))
	require.NoError(t, err)

	// pending={3} is already at capacity (1); 5 forces committed to 4
	// (discarding 3, reported as a gap) then releases immediately since 5
	// is now committed+1.
	entries, err := tr.Receive(msg("k", 5))
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, seqs(entries))
	assert.NotEmpty(t, gaps)
	assert.Equal(t, uint64(5), tr.CommittedOffset("k"))

	entries, err = tr.Receive(msg("k", 6))
	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, seqs(entries))
}

func TestEvictIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTTL = time.Millisecond
	tr, err := New(cfg)
	require.NoError(t, err)

	_, err = tr.Receive(msg("k", 3))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	evicted := tr.EvictIdle(time.Now())
	require.Len(t, evicted, 1)
	assert.Equal(t, "k", evicted[0].Key)
	assert.Equal(t, []uint64{3}, evicted[0].DroppedPending)
}

func TestMultipleKeysAreIndependent(t *testing.T) {
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = tr.Receive(msg("a", 1))
	require.NoError(t, err)
	_, err = tr.Receive(msg("b", 1))
	require.NoError(t, err)
	_, err = tr.Receive(msg("a", 2))
	require.NoError(t, err)
	_, err = tr.Receive(msg("b", 2))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), tr.CommittedOffset("a"))
	assert.Equal(t, uint64(2), tr.CommittedOffset("b"))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWaiting = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.OverflowPolicy = "nonsense"
	assert.Error(t, cfg.Validate())
}
