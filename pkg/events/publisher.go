package events

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Publisher is the typed front door to the broker. Each public method
// accepts one payload struct from payloads.go, wraps it in the Event
// envelope with an RFC3339Nano timestamp, and publishes best-effort.
//
// Methods never return errors: delivery is fire-and-forget and the
// pipeline must not stall on a slow or absent client.
type Publisher struct {
	broker *Broker
}

// NewPublisher creates a publisher over the given broker.
func NewPublisher(broker *Broker) *Publisher {
	return &Publisher{broker: broker}
}

// Broker exposes the underlying broker for subscribers.
func (p *Publisher) Broker() *Broker { return p.broker }

// PublishManagerThinking narrates the manager's reasoning for a stage.
func (p *Publisher) PublishManagerThinking(sessionID string, payload ManagerThinkingPayload) {
	p.publish(sessionID, EventTypeManagerThinking, payload)
}

// PublishAgentSubstep reports per-stage progress.
func (p *Publisher) PublishAgentSubstep(sessionID string, payload AgentSubstepPayload) {
	p.publish(sessionID, EventTypeAgentSubstep, payload)
}

// PublishBrainAllocation announces the model selected for a stage.
func (p *Publisher) PublishBrainAllocation(sessionID string, payload BrainAllocationPayload) {
	p.publish(sessionID, EventTypeBrainAllocation, payload)
}

// PublishWorkflowStateChange marks a request lifecycle transition.
func (p *Publisher) PublishWorkflowStateChange(sessionID string, payload WorkflowStateChangePayload) {
	p.publish(sessionID, EventTypeWorkflowStateChange, payload)
}

// PublishUserDecisionNeeded asks the client to resolve an ambiguity.
func (p *Publisher) PublishUserDecisionNeeded(sessionID string, payload UserDecisionNeededPayload) {
	p.publish(sessionID, EventTypeUserDecisionNeeded, payload)
}

// PublishErrorRecovery reports a recovered stage failure.
func (p *Publisher) PublishErrorRecovery(sessionID string, payload ErrorRecoveryPayload) {
	p.publish(sessionID, EventTypeErrorRecovery, payload)
}

// PublishAgentConversation relays an inter-stage message.
func (p *Publisher) PublishAgentConversation(sessionID string, payload AgentConversationPayload) {
	p.publish(sessionID, EventTypeAgentConversation, payload)
}

// PublishChatMessage carries an assistant reply outside pipeline runs.
func (p *Publisher) PublishChatMessage(sessionID string, payload ChatMessagePayload) {
	p.publish(sessionID, EventTypeChatMessage, payload)
}

// PublishTypingIndicator toggles the client's typing animation.
func (p *Publisher) PublishTypingIndicator(sessionID string, active bool) {
	p.publish(sessionID, EventTypeTypingIndicator, TypingIndicatorPayload{Active: active})
}

// publish converts a typed payload to the envelope's data map and hands it
// to the broker.
func (p *Publisher) publish(sessionID, eventType string, payload any) {
	data, err := toDataMap(payload)
	if err != nil {
		slog.Warn("Failed to encode event payload",
			"session_id", sessionID, "type", eventType, "error", err)
		return
	}
	p.broker.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
}

// toDataMap converts a typed payload struct to map[string]any via JSON.
func toDataMap(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
