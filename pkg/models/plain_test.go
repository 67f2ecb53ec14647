package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedTime returns a UTC timestamp with no monotonic reading so equality
// survives the JSON round trip.
func fixedTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, "2026-08-24T10:30:00.123456789Z")
	require.NoError(t, err)
	return ts
}

func populatedState(t *testing.T) *SharedState {
	ts := fixedTime(t)
	return &SharedState{
		SessionID: "sess-42",
		UserID:    "user-7",
		Query:     "estimate the foundation work",
		Files: []File{
			{
				Name:        "plans.pdf",
				MIME:        "application/pdf",
				RawBytes:    []byte("%PDF-1.4 fake"),
				ParsedText:  "foundation plan",
				ParseStatus: ParseStatusParsed,
			},
		},
		Metadata: map[string]any{
			MetaProjectName: "Riverside Tower",
			MetaLocation:    "Austin, TX",
		},
		History: []ConversationTurn{
			{Role: "user", Content: "estimate this", Timestamp: ts},
		},
		ModelConfig: ModelConfig{
			ModelName:  "claude-sonnet-4-20250514",
			TokenUsage: TokenUsage{InputTokens: 120, OutputTokens: 450, TotalTokens: 570},
		},
		Trace: []TraceEntry{
			{StageName: "intent", Decision: "full_estimation", Severity: SeverityInfo, Timestamp: ts},
		},
		Narrative: []NarrativeEntry{
			{StageName: StageParse, Message: "Parsed plans.pdf", Timestamp: ts},
		},
		ParsedFiles: map[string]string{"plans.pdf": "foundation plan"},
		TradeMapping: []TradeMapping{
			{TradeName: "Concrete", DivisionCode: "030000", Keywords: []string{"slab", "footing"}, Confidence: 0.92},
		},
		ScopeItems: []ScopeItem{
			{ItemID: "s1", TradeName: "Concrete", DivisionCode: "030000", Description: "Pour foundation slab"},
		},
		TakeoffData: []TakeoffEntry{
			{ScopeItemID: "s1", DivisionCode: "030000", Quantity: 42.5, Unit: "CY", Method: "area"},
		},
		Estimate: []EstimateItem{
			{ID: "i1", Description: "Foundation", Quantity: 10, Unit: "CY", UnitPrice: 150, Total: 1500, DivisionCode: "030000"},
		},
		Status:    StatusOutputReady,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestPlainRoundTrip(t *testing.T) {
	s := populatedState(t)

	plain, err := s.ToPlain()
	require.NoError(t, err)

	restored, err := FromPlain(plain)
	require.NoError(t, err)

	assert.Equal(t, s, restored)
}

func TestPlainRoundTripEmptyState(t *testing.T) {
	ts := fixedTime(t)
	s := NewSharedState("sess-empty")
	s.CreatedAt = ts
	s.UpdatedAt = ts

	plain, err := s.ToPlain()
	require.NoError(t, err)

	restored, err := FromPlain(plain)
	require.NoError(t, err)
	assert.Equal(t, s, restored)
}

func TestPlainIsFlatPrimitive(t *testing.T) {
	s := populatedState(t)

	plain, err := s.ToPlain()
	require.NoError(t, err)

	// Nested records come through as maps and lists, not typed structs.
	files, ok := plain["files"].([]any)
	require.True(t, ok)
	require.Len(t, files, 1)
	_, ok = files[0].(map[string]any)
	assert.True(t, ok)

	assert.Equal(t, "output_ready", plain["status"])
}

func TestPlainExcludesCredential(t *testing.T) {
	s := populatedState(t)
	s.ModelConfig.Credential = "sk-secret"

	plain, err := s.ToPlain()
	require.NoError(t, err)

	mc, ok := plain["model_config"].(map[string]any)
	require.True(t, ok)
	_, present := mc["credential"]
	assert.False(t, present)
}

func TestMergePlainPreservesTracePrefix(t *testing.T) {
	s := populatedState(t)
	s.ModelConfig.Credential = "sk-secret"
	preTrace := make([]TraceEntry, len(s.Trace))
	copy(preTrace, s.Trace)

	plain, err := s.ToPlain()
	require.NoError(t, err)

	// Simulate an adapter that wrote an output and dropped the trace.
	plain["takeoff_data"] = []any{
		map[string]any{"scope_item_id": "s2", "division_code": "030000", "quantity": 5.0, "unit": "CY"},
	}
	plain["trace"] = nil

	require.NoError(t, s.MergePlain(plain))

	require.Len(t, s.TakeoffData, 1)
	assert.Equal(t, "s2", s.TakeoffData[0].ScopeItemID)
	for i, e := range preTrace {
		assert.Equal(t, e, s.Trace[i])
	}
	// Credential survives the merge even though plain never carries it.
	assert.Equal(t, "sk-secret", s.ModelConfig.Credential)
}
