// Package models defines the shared state object threaded through every
// stage of one estimation request, plus the record types it carries.
//
// One SharedState instance exists per request. It is owned by exactly one
// stage at a time — the manager never shares it concurrently — so none of
// its methods take locks.
package models

import (
	"math"
	"time"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusReceived     Status = "received"
	StatusClassifying  Status = "classifying"
	StatusPlanning     Status = "planning"
	StatusRunning      Status = "running"
	StatusAwaitingUser Status = "awaiting_user"
	StatusOutputReady  Status = "output_ready"
	StatusError        Status = "error"
)

// Canonical stage names, in pipeline order. The planner breaks ties using
// this order, and the registry keys adapters by these names.
const (
	StageSmartsheet     = "smartsheet"
	StageParse          = "parse"
	StageClassifyTrades = "classify_trades"
	StageExtractScope   = "extract_scope"
	StageTakeoff        = "takeoff"
	StageEstimate       = "estimate"
	StageQA             = "qa"
	StageExport         = "export"
)

// Well-known metadata keys.
const (
	MetaExternalSheetID  = "external_sheet_id"
	MetaSmartsheetSynced = "smartsheet_synced"
	MetaProjectName      = "project_name"
	MetaLocation         = "location"
	MetaSource           = "source"
	MetaExportFormat     = "export_format"
	MetaSelectedFiles    = "selected_files"
	MetaAvailableFiles   = "available_files"
)

// CanonicalStageOrder is the full pipeline in execution order.
var CanonicalStageOrder = []string{
	StageSmartsheet,
	StageParse,
	StageClassifyTrades,
	StageExtractScope,
	StageTakeoff,
	StageEstimate,
	StageQA,
	StageExport,
}

// SharedState is the typed bundle carried through one request: inputs,
// intermediate stage outputs, audit trace, and model configuration.
//
// Trace and Narrative are append-only — use AppendTrace/AppendNarrative,
// never rewrite prior entries. Every mutation helper updates UpdatedAt.
// Stage output fields are nil until produced; non-nil means "fresh data
// exists" and drives the planner's skip analysis.
type SharedState struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`

	Query    string             `json:"query,omitempty"`
	Files    []File             `json:"files,omitempty"`
	Metadata map[string]any     `json:"metadata"`
	History  []ConversationTurn `json:"history,omitempty"`

	ModelConfig ModelConfig `json:"model_config"`

	Trace     []TraceEntry     `json:"trace,omitempty"`
	Narrative []NarrativeEntry `json:"narrative,omitempty"`

	// Stage outputs. nil = not produced.
	ParsedFiles  map[string]string `json:"parsed_files,omitempty"`
	TradeMapping []TradeMapping    `json:"trade_mapping,omitempty"`
	ScopeItems   []ScopeItem       `json:"scope_items,omitempty"`
	TakeoffData  []TakeoffEntry    `json:"takeoff_data,omitempty"`
	// No omitempty: an empty findings list still means the QA stage ran,
	// and that presence must survive the plain round-trip.
	QAFindings   []QAFinding    `json:"qa_findings"`
	Estimate     []EstimateItem `json:"estimate,omitempty"`
	ExportedFile *ExportedFile  `json:"exported_file,omitempty"`

	Status            Status `json:"status"`
	PendingUserAction string `json:"pending_user_action,omitempty"`
	Error             string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSharedState creates a state for a fresh request. Containers default to
// empty (not nil) except stage outputs, where nil means "not produced".
func NewSharedState(sessionID string) *SharedState {
	now := time.Now().UTC()
	return &SharedState{
		SessionID: sessionID,
		Metadata:  make(map[string]any),
		Status:    StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// touch records that the state was mutated.
func (s *SharedState) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// AppendTrace adds an audit entry. Entries are never rewritten.
func (s *SharedState) AppendTrace(e TraceEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	s.Trace = append(s.Trace, e)
	s.touch()
}

// AppendNarrative adds a human-facing progress message.
func (s *SharedState) AppendNarrative(stageName, message string) {
	s.Narrative = append(s.Narrative, NarrativeEntry{
		StageName: stageName,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	s.touch()
}

// AppendHistory records a conversation turn.
func (s *SharedState) AppendHistory(role, content string) {
	s.History = append(s.History, ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	s.touch()
}

// SetStatus transitions the request lifecycle state.
func (s *SharedState) SetStatus(status Status) {
	s.Status = status
	s.touch()
}

// SetError records a stage failure. Per the propagation contract, the stage
// that sets Error also appends a severity=error trace entry — RecordError
// does both.
func (s *SharedState) SetError(msg string) {
	s.Error = msg
	s.touch()
}

// RecordError sets Error and appends the matching severity=error trace entry.
func (s *SharedState) RecordError(stageName, msg string) {
	s.SetError(msg)
	s.AppendTrace(TraceEntry{
		StageName: stageName,
		Decision:  "stage reported an error",
		Severity:  SeverityError,
		Error:     msg,
	})
}

// ClearError wipes a recovered, non-critical error.
func (s *SharedState) ClearError() {
	s.Error = ""
	s.touch()
}

// OutputPresent reports whether the named stage's output exists in state.
// Unknown stage names report false.
func (s *SharedState) OutputPresent(stageName string) bool {
	switch stageName {
	case StageSmartsheet:
		synced, _ := s.Metadata[MetaSmartsheetSynced].(bool)
		return synced
	case StageParse:
		return len(s.ParsedFiles) > 0
	case StageClassifyTrades:
		return len(s.TradeMapping) > 0
	case StageExtractScope:
		return len(s.ScopeItems) > 0
	case StageTakeoff:
		return len(s.TakeoffData) > 0
	case StageEstimate:
		return len(s.Estimate) > 0
	case StageQA:
		return s.QAFindings != nil
	case StageExport:
		return s.ExportedFile != nil
	}
	return false
}

// HasExternalSheet reports whether an external spreadsheet is attached.
func (s *SharedState) HasExternalSheet() bool {
	id, ok := s.Metadata[MetaExternalSheetID].(string)
	return ok && id != ""
}

// RoundCurrency rounds a monetary amount to two decimal places.
func RoundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}
