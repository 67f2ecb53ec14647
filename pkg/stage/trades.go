package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/models"
)

// tradeClassifySystemPrompt instructs the model to emit a strict JSON
// trade list from construction document text.
const tradeClassifySystemPrompt = `You are a construction estimator's assistant. ` +
	`Given document text, identify the construction trades involved. ` +
	`Reply with ONLY a JSON array of objects with keys: ` +
	`trade_name, division_code (six-digit CSI MasterFormat division, e.g. "030000"), keywords (array), confidence (0..1). ` +
	`No prose, no markdown fences.`

// maxClassifyExcerpt bounds how much document text goes into the prompt.
const maxClassifyExcerpt = 8000

// divisionKeywords is the deterministic fallback: six-digit CSI MasterFormat
// divisions keyed by the vocabulary that signals them in document text.
var divisionKeywords = []struct {
	trade    string
	division string
	keywords []string
}{
	{"Concrete", "030000", []string{"concrete", "rebar", "slab", "footing", "foundation pour"}},
	{"Masonry", "040000", []string{"masonry", "brick", "block wall", "cmu", "mortar"}},
	{"Metals", "050000", []string{"structural steel", "steel beam", "metal deck", "joist"}},
	{"Wood and Plastics", "060000", []string{"framing", "lumber", "millwork", "carpentry", "plywood"}},
	{"Thermal and Moisture Protection", "070000", []string{"roofing", "insulation", "waterproofing", "shingle", "membrane"}},
	{"Openings", "080000", []string{"door", "window", "glazing", "storefront", "hardware"}},
	{"Finishes", "090000", []string{"drywall", "gypsum", "paint", "flooring", "tile", "ceiling"}},
	{"Plumbing", "220000", []string{"plumbing", "pipe", "fixture", "water heater", "drain"}},
	{"HVAC", "230000", []string{"hvac", "ductwork", "air handler", "mechanical", "ventilation", "chiller"}},
	{"Electrical", "260000", []string{"electrical", "conduit", "panel", "wiring", "lighting", "receptacle"}},
	{"Earthwork", "310000", []string{"excavation", "grading", "earthwork", "backfill", "site prep"}},
}

// TradeClassifierAdapter identifies the construction trades present in the
// parsed documents. It asks the model first; on any model failure it falls
// back to deterministic keyword matching so the pipeline always produces a
// trade mapping from readable input.
type TradeClassifierAdapter struct {
	helper *Helper
}

// NewTradeClassifierAdapter creates the trade classification stage.
func NewTradeClassifierAdapter(helper *Helper) *TradeClassifierAdapter {
	return &TradeClassifierAdapter{helper: helper}
}

func (a *TradeClassifierAdapter) Name() string { return models.StageClassifyTrades }

func (a *TradeClassifierAdapter) RequiredInput() string { return "parsed_files" }

func (a *TradeClassifierAdapter) Invoke(ctx context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	corpus := joinParsedText(state.ParsedFiles, maxClassifyExcerpt)
	if corpus == "" {
		state.RecordError(models.StageClassifyTrades, "no parsed document text available for trade classification")
		return saveState(state)
	}

	mapping, source := a.classify(ctx, state, corpus)
	if state.Error != "" {
		return saveState(state)
	}
	if len(mapping) == 0 {
		state.RecordError(models.StageClassifyTrades, "no construction trades identified in the documents")
		return saveState(state)
	}

	state.TradeMapping = mapping
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageClassifyTrades,
		Decision:  fmt.Sprintf("identified %d trade(s) via %s", len(mapping), source),
		ModelUsed: state.ModelConfig.ModelName,
	})
	state.AppendNarrative(models.StageClassifyTrades,
		fmt.Sprintf("Identified %d construction trade(s): %s", len(mapping), tradeNames(mapping)))

	return saveState(state)
}

// classify tries the model, then keywords. Returns the mapping and which
// source produced it ("llm" or "keywords").
func (a *TradeClassifierAdapter) classify(ctx context.Context, state *models.SharedState, corpus string) ([]models.TradeMapping, string) {
	if a.helper != nil {
		mapping, err := a.classifyLLM(ctx, state, corpus)
		if err == nil && len(mapping) > 0 {
			return mapping, "llm"
		}
		if err != nil {
			if criticalModelError(err) {
				state.RecordError(models.StageClassifyTrades, err.Error())
				return nil, ""
			}
			slog.Warn("Trade classification model call failed, using keyword fallback",
				"session_id", state.SessionID, "error", err)
			state.AppendTrace(models.TraceEntry{
				StageName: models.StageClassifyTrades,
				Decision:  "model classification failed, falling back to keyword matching",
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
		}
	}
	return classifyByKeywords(corpus), "keywords"
}

func (a *TradeClassifierAdapter) classifyLLM(ctx context.Context, state *models.SharedState, corpus string) ([]models.TradeMapping, error) {
	reply, err := a.helper.CallModel(ctx, state, models.StageClassifyTrades,
		tradeClassifySystemPrompt, corpus)
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSON(reply)
	if raw == "" {
		return nil, fmt.Errorf("model reply contained no JSON")
	}

	var mapping []models.TradeMapping
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, fmt.Errorf("invalid trade mapping JSON: %w", err)
	}

	// Drop entries without a name; the model occasionally pads the array.
	valid := mapping[:0]
	for _, m := range mapping {
		if m.TradeName != "" {
			valid = append(valid, m)
		}
	}
	return valid, nil
}

// classifyByKeywords scans the corpus for division vocabulary. Deterministic
// and ordered by division code.
func classifyByKeywords(corpus string) []models.TradeMapping {
	lower := strings.ToLower(corpus)

	var mapping []models.TradeMapping
	for _, div := range divisionKeywords {
		var hits []string
		for _, kw := range div.keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		mapping = append(mapping, models.TradeMapping{
			TradeName:    div.trade,
			DivisionCode: div.division,
			Keywords:     hits,
			Confidence:   keywordConfidence(len(hits), len(div.keywords)),
		})
	}
	sort.Slice(mapping, func(i, j int) bool {
		return mapping[i].DivisionCode < mapping[j].DivisionCode
	})
	return mapping
}

// keywordConfidence scales with keyword coverage, floored so a single hit
// still registers as a plausible trade.
func keywordConfidence(hits, total int) float64 {
	c := 0.5 + 0.5*float64(hits)/float64(total)
	if c > 1 {
		c = 1
	}
	return c
}

// joinParsedText concatenates parsed documents up to limit bytes, in
// deterministic filename order.
func joinParsedText(parsed map[string]string, limit int) string {
	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		if sb.Len() >= limit {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("=== ")
		sb.WriteString(name)
		sb.WriteString(" ===\n")
		remaining := limit - sb.Len()
		text := parsed[name]
		if len(text) > remaining {
			text = text[:remaining]
		}
		sb.WriteString(text)
	}
	return strings.TrimSpace(sb.String())
}

func tradeNames(mapping []models.TradeMapping) string {
	names := make([]string, len(mapping))
	for i, m := range mapping {
		names[i] = m.TradeName
	}
	return strings.Join(names, ", ")
}
