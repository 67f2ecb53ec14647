package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSharedState(t *testing.T) {
	s := NewSharedState("sess-1")

	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, StatusReceived, s.Status)
	assert.NotNil(t, s.Metadata)
	assert.Nil(t, s.ParsedFiles)
	assert.Nil(t, s.Estimate)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestAppendTraceIsAppendOnly(t *testing.T) {
	s := NewSharedState("sess-1")

	s.AppendTrace(TraceEntry{StageName: "intent", Decision: "classified as quick_estimate"})
	snapshot := make([]TraceEntry, len(s.Trace))
	copy(snapshot, s.Trace)

	s.AppendTrace(TraceEntry{StageName: StageParse, Decision: "parsed 2 files"})
	s.AppendTrace(TraceEntry{StageName: StageEstimate, Decision: "priced 5 items"})

	// Earlier snapshot must be a prefix of the current trace.
	require.GreaterOrEqual(t, len(s.Trace), len(snapshot))
	for i, e := range snapshot {
		assert.Equal(t, e, s.Trace[i])
	}
}

func TestAppendTraceDefaults(t *testing.T) {
	s := NewSharedState("sess-1")
	s.AppendTrace(TraceEntry{StageName: "planner", Decision: "skipped parse"})

	require.Len(t, s.Trace, 1)
	assert.Equal(t, SeverityInfo, s.Trace[0].Severity)
	assert.False(t, s.Trace[0].Timestamp.IsZero())
}

func TestRecordErrorAppendsErrorTrace(t *testing.T) {
	s := NewSharedState("sess-1")
	s.RecordError(StageEstimate, "unit price table unavailable")

	assert.Equal(t, "unit price table unavailable", s.Error)
	require.NotEmpty(t, s.Trace)
	last := s.Trace[len(s.Trace)-1]
	assert.Equal(t, SeverityError, last.Severity)
	assert.Equal(t, StageEstimate, last.StageName)
	assert.Equal(t, "unit price table unavailable", last.Error)
}

func TestMutationUpdatesTimestamp(t *testing.T) {
	s := NewSharedState("sess-1")
	before := s.UpdatedAt

	time.Sleep(time.Millisecond)
	s.AppendNarrative(StageParse, "Parsed plans.pdf")

	assert.True(t, s.UpdatedAt.After(before))
}

func TestOutputPresent(t *testing.T) {
	s := NewSharedState("sess-1")

	tests := []struct {
		name     string
		mutate   func()
		stage    string
		expected bool
	}{
		{"no outputs", func() {}, StageParse, false},
		{"parsed files", func() { s.ParsedFiles = map[string]string{"a.pdf": "text"} }, StageParse, true},
		{"trade mapping", func() { s.TradeMapping = []TradeMapping{{TradeName: "Concrete"}} }, StageClassifyTrades, true},
		{"estimate", func() { s.Estimate = []EstimateItem{{ID: "i1"}} }, StageEstimate, true},
		{"exported file", func() { s.ExportedFile = &ExportedFile{Name: "e.json"} }, StageExport, true},
		{"empty qa slice counts as produced", func() { s.QAFindings = []QAFinding{} }, StageQA, true},
		{"unknown stage", func() {}, "nonsense", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mutate()
			assert.Equal(t, tt.expected, s.OutputPresent(tt.stage))
		})
	}
}

func TestHasExternalSheet(t *testing.T) {
	s := NewSharedState("sess-1")
	assert.False(t, s.HasExternalSheet())

	s.Metadata[MetaExternalSheetID] = "ABC123"
	assert.True(t, s.HasExternalSheet())
}

func TestRoundCurrency(t *testing.T) {
	tests := []struct {
		in       float64
		expected float64
	}{
		{1500.0, 1500.0},
		{10.005, 10.01},
		{0.1 + 0.2, 0.3},
		{1234.5678, 1234.57},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, RoundCurrency(tt.in), 0.001)
	}
}

func TestEstimateTotalInvariant(t *testing.T) {
	item := EstimateItem{
		ID:        "i1",
		Quantity:  10,
		UnitPrice: 150,
		Total:     RoundCurrency(10 * 150),
	}
	assert.InDelta(t, item.Total, RoundCurrency(item.Quantity*item.UnitPrice), 0.01)
}
