package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_EnvelopeShape(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()
	pub := NewPublisher(broker)

	sub := broker.Subscribe("sess-1")
	defer sub.Close()

	pub.PublishBrainAllocation("sess-1", BrainAllocationPayload{
		Stage:     "classify_trades",
		Model:     "claude-sonnet-4-20250514",
		Reasoning: "primary route for trade classification",
	})

	evt := recvEvent(t, sub)
	assert.Equal(t, EventTypeBrainAllocation, evt.Type)
	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, "classify_trades", evt.Data["stage"])
	assert.Equal(t, "claude-sonnet-4-20250514", evt.Data["model"])

	ts, err := time.Parse(time.RFC3339Nano, evt.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestPublisher_WorkflowStateChangeCarriesPipeline(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()
	pub := NewPublisher(broker)

	sub := broker.Subscribe("sess-1")
	defer sub.Close()

	pub.PublishWorkflowStateChange("sess-1", WorkflowStateChangePayload{
		Status:       "running",
		Pipeline:     []string{"parse", "classify_trades", "estimate"},
		SkippedSteps: []string{"takeoff"},
		CurrentStage: "parse",
	})

	evt := recvEvent(t, sub)
	assert.Equal(t, "running", evt.Data["status"])
	assert.Equal(t, []any{"parse", "classify_trades", "estimate"}, evt.Data["pipeline"])
	assert.Equal(t, []any{"takeoff"}, evt.Data["skipped_steps"])
}

func TestPublisher_OmitsEmptyOptionalFields(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()
	pub := NewPublisher(broker)

	sub := broker.Subscribe("sess-1")
	defer sub.Close()

	pub.PublishManagerThinking("sess-1", ManagerThinkingPayload{Thought: "planning route"})

	evt := recvEvent(t, sub)
	assert.Equal(t, "planning route", evt.Data["thought"])
	_, hasStage := evt.Data["stage"]
	assert.False(t, hasStage, "empty stage should be omitted from data")
}

func TestPublisher_NoSubscribersIsNoop(t *testing.T) {
	broker := NewBroker(8)
	defer broker.Close()
	pub := NewPublisher(broker)

	// Must not block or panic with nobody listening.
	pub.PublishTypingIndicator("sess-ghost", true)
	pub.PublishChatMessage("sess-ghost", ChatMessagePayload{Role: "assistant", Content: "hi"})
}
