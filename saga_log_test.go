package feesaga

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(node int64, eventType SagaNodeEventType) *SagaNodeEvent {
	return &SagaNodeEvent{SagaID: "s1", NodeID: node, NodeName: "n", EventType: eventType, At: time.Now()}
}

func TestSagaLogTransitions(t *testing.T) {
	log := NewEmptySagaLog("s1")

	require.NoError(t, log.Record(event(1, EventStarted)))
	assert.Equal(t, LoadStarted, log.Status(1))
	require.NoError(t, log.Record(event(1, EventFailed)))
	assert.True(t, log.Failed())

	// A failed node starts again on the next invocation.
	require.NoError(t, log.Record(event(1, EventStarted)))
	require.NoError(t, log.Record(event(1, EventSucceeded)))
	assert.Equal(t, LoadSucceeded, log.Status(1))
	assert.False(t, log.Failed())

	require.NoError(t, log.Record(event(2, EventReplayed)))
	assert.Equal(t, LoadSucceeded, log.Status(2))

	assert.Len(t, log.Events(), 5)
	assert.Contains(t, log.String(), "events (5 total)")
}

func TestSagaLogRejectsIllegalEvents(t *testing.T) {
	log := NewEmptySagaLog("s1")

	assert.Error(t, log.Record(event(1, EventSucceeded)), "cannot succeed before starting")

	require.NoError(t, log.Record(event(2, EventReplayed)))
	assert.Error(t, log.Record(event(2, EventStarted)), "replayed nodes do not run")

	other := event(3, EventStarted)
	other.SagaID = "s2"
	assert.Error(t, log.Record(other))

	assert.Len(t, log.Events(), 1)
}

func TestSagaNodeLoadStatusJSON(t *testing.T) {
	for _, status := range []SagaNodeLoadStatus{LoadNeverStarted, LoadStarted, LoadSucceeded, LoadFailed} {
		data, err := json.Marshal(status)
		require.NoError(t, err)

		var decoded SagaNodeLoadStatus
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, status, decoded)
	}

	var bad SagaNodeLoadStatus
	assert.Error(t, json.Unmarshal([]byte(`"Compensated"`), &bad))
}
