package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDIsCachedAndStable(t *testing.T) {
	m := Message{Key: "k"}
	id := m.CorrelationID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, m.CorrelationID())
}

func TestCorrelationIDRespectsExisting(t *testing.T) {
	m := Message{Key: "k", Metadata: map[string]string{"correlation_id": "fixed"}}
	assert.Equal(t, "fixed", m.CorrelationID())
}

func TestNewBatchIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewBatchID(), NewBatchID())
}

func TestWindowBatchCloneIsIndependent(t *testing.T) {
	b := WindowBatch{Payloads: [][]byte{[]byte("a")}}
	clone := b.Clone()
	clone.Payloads[0][0] = 'z'
	assert.Equal(t, byte('a'), b.Payloads[0][0])
}
