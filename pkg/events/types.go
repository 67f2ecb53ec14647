// Package events provides real-time progress delivery: an in-process broker
// fans typed pipeline events out to per-session subscribers, and a WebSocket
// connection manager bridges subscribers to connected clients.
//
// Delivery is best-effort. Publishers never block: when a subscriber's
// buffer is full the oldest queued event is dropped so the pipeline keeps
// moving. Clients that need a complete record fetch the session trace over
// REST instead.
package events

// Event type values. Every event published by the pipeline uses one of these.
const (
	// EventTypeManagerThinking narrates the manager's reasoning before each
	// stage ("running takeoff because scope items are ready").
	EventTypeManagerThinking = "manager_thinking"

	// EventTypeAgentSubstep reports per-stage progress with a percentage.
	EventTypeAgentSubstep = "agent_substep"

	// EventTypeBrainAllocation announces which model was selected for a stage
	// and why.
	EventTypeBrainAllocation = "brain_allocation"

	// EventTypeWorkflowStateChange marks request lifecycle transitions and
	// carries the planned pipeline for visual clients.
	EventTypeWorkflowStateChange = "workflow_state_change"

	// EventTypeUserDecisionNeeded asks the client to resolve an ambiguity,
	// such as picking which uploaded files to analyze.
	EventTypeUserDecisionNeeded = "user_decision_needed"

	// EventTypeErrorRecovery reports a non-critical stage failure the
	// pipeline recovered from.
	EventTypeErrorRecovery = "error_recovery"

	// EventTypeAgentConversation relays inter-stage messages for debugging
	// views.
	EventTypeAgentConversation = "agent_conversation"

	// EventTypeChatMessage carries assistant replies outside pipeline runs.
	EventTypeChatMessage = "chat_message"

	// EventTypeTypingIndicator toggles the client's typing animation.
	EventTypeTypingIndicator = "typing_indicator"
)

// Event is the wire envelope for every published event.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
	Data      map[string]any `json:"data,omitempty"`
}

// SessionChannel returns the channel name for a session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // Channel name (e.g., "session:abc-123")
}
