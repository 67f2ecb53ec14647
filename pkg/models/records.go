package models

import "time"

// ParseStatus describes the outcome of parsing a single uploaded file.
type ParseStatus string

const (
	ParseStatusPending ParseStatus = "pending"
	ParseStatusParsed  ParseStatus = "parsed"
	ParseStatusFailed  ParseStatus = "failed"
	ParseStatusSkipped ParseStatus = "skipped"
)

// File is one uploaded document attached to a request.
type File struct {
	Name        string         `json:"name"`
	MIME        string         `json:"mime"`
	RawBytes    []byte         `json:"raw_bytes,omitempty"`
	ParsedText  string         `json:"parsed_text,omitempty"`
	ParseStatus ParseStatus    `json:"parse_status,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// ConversationTurn is one entry in the request's conversation history.
type ConversationTurn struct {
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Severity classifies trace entries.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// TraceEntry records one orchestration decision for the audit trail.
// The trace is append-only: entries are never rewritten once added.
type TraceEntry struct {
	StageName string    `json:"stage_name"`
	Decision  string    `json:"decision"`
	ModelUsed string    `json:"model_used,omitempty"`
	Severity  Severity  `json:"severity"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NarrativeEntry is a human-facing progress message. Append-only, like trace.
type NarrativeEntry struct {
	StageName string    `json:"stage_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeMapping is one construction trade identified in the parsed documents.
type TradeMapping struct {
	TradeName    string   `json:"trade_name"`
	DivisionCode string   `json:"division_code"`
	Keywords     []string `json:"keywords,omitempty"`
	SourceFile   string   `json:"source_file,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
}

// ScopeItem is one unit of work extracted for a trade.
type ScopeItem struct {
	ItemID       string `json:"item_id"`
	TradeName    string `json:"trade_name"`
	DivisionCode string `json:"division_code"`
	Description  string `json:"description"`
	SourceFile   string `json:"source_file,omitempty"`
	WorkType     string `json:"work_type,omitempty"`
	UnitHint     string `json:"unit_hint,omitempty"`
}

// TakeoffEntry holds the measured quantity for one scope item.
type TakeoffEntry struct {
	ScopeItemID  string  `json:"scope_item_id"`
	DivisionCode string  `json:"division_code"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	Method       string  `json:"method,omitempty"`
	SourceFile   string  `json:"source_file,omitempty"`
}

// QAFinding is one validation finding against the estimate.
type QAFinding struct {
	ItemID      string   `json:"item_id"`
	FindingType string   `json:"finding_type"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
}

// EstimateItem is one priced line in the final estimate.
// Total must equal RoundCurrency(Quantity*UnitPrice) unless IsError is set.
type EstimateItem struct {
	ID           string  `json:"id"`
	Description  string  `json:"description"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
	UnitPrice    float64 `json:"unit_price"`
	Total        float64 `json:"total"`
	DivisionCode string  `json:"division_code,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
}

// ExportedFile is the rendered export artifact.
type ExportedFile struct {
	Bytes []byte `json:"bytes"`
	Name  string `json:"name"`
	MIME  string `json:"mime"`
}

// ModelConfig captures the model selection and usage for the current stage.
// Credential is deliberately excluded from serialization: secrets never cross
// the plain/wire boundary, only the resolved model name and usage counters do.
type ModelConfig struct {
	ModelName    string         `json:"model_name,omitempty"`
	Credential   string         `json:"-"`
	Params       map[string]any `json:"params,omitempty"`
	TokenUsage   TokenUsage     `json:"token_usage"`
	CostEstimate float64        `json:"cost_estimate,omitempty"`
}

// TokenUsage aggregates token consumption across LLM calls in a request.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
