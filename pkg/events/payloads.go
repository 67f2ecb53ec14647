package events

// Typed payload structs for each event type. Publishers fill one of these;
// the publisher marshals it into the Event envelope's data field so clients
// always see {type, session_id, timestamp, data}.

// ManagerThinkingPayload narrates why the manager is doing what it is doing.
type ManagerThinkingPayload struct {
	Stage   string `json:"stage,omitempty"`
	Thought string `json:"thought"`
}

// AgentSubstepPayload reports per-stage progress.
type AgentSubstepPayload struct {
	Stage       string  `json:"stage"`
	Substep     string  `json:"substep"`
	ProgressPct float64 `json:"progress_pct"` // 0..100
}

// BrainAllocationPayload announces the model selected for a stage.
type BrainAllocationPayload struct {
	Stage     string `json:"stage"`
	Model     string `json:"model"`
	Reasoning string `json:"reasoning,omitempty"`
}

// WorkflowStateChangePayload marks a request lifecycle transition. Pipeline
// lists the planned stage sequence so visual clients can render the route.
type WorkflowStateChangePayload struct {
	Status       string   `json:"status"` // models.Status value
	Pipeline     []string `json:"pipeline,omitempty"`
	SkippedSteps []string `json:"skipped_steps,omitempty"`
	CurrentStage string   `json:"current_stage,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

// UserDecisionNeededPayload asks the client to resolve an ambiguity.
type UserDecisionNeededPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// ErrorRecoveryPayload reports a stage failure the pipeline recovered from.
type ErrorRecoveryPayload struct {
	Stage  string `json:"stage"`
	Error  string `json:"error"`
	Action string `json:"action"` // e.g. "continued with remaining stages"
}

// AgentConversationPayload relays an inter-stage message.
type AgentConversationPayload struct {
	Stage   string `json:"stage"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessagePayload carries an assistant reply outside pipeline runs.
type ChatMessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TypingIndicatorPayload toggles the client's typing animation.
type TypingIndicatorPayload struct {
	Active bool `json:"active"`
}
