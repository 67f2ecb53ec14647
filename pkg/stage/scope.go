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

const scopeExtractSystemPrompt = `You are a construction estimator's assistant. ` +
	`Given document text and a list of trades, extract discrete scope-of-work items. ` +
	`Reply with ONLY a JSON array of objects with keys: ` +
	`trade_name, division_code, description, work_type, unit_hint. ` +
	`No prose, no markdown fences.`

const maxScopeExcerpt = 8000

// maxScopeLinesPerTrade caps the deterministic fallback so a keyword-heavy
// document doesn't explode into hundreds of near-duplicate items.
const maxScopeLinesPerTrade = 20

// ScopeExtractorAdapter turns the trade mapping plus document text into
// discrete scope-of-work items. Model-first with a deterministic
// line-matching fallback.
type ScopeExtractorAdapter struct {
	helper *Helper
}

// NewScopeExtractorAdapter creates the scope extraction stage.
func NewScopeExtractorAdapter(helper *Helper) *ScopeExtractorAdapter {
	return &ScopeExtractorAdapter{helper: helper}
}

func (a *ScopeExtractorAdapter) Name() string { return models.StageExtractScope }

func (a *ScopeExtractorAdapter) RequiredInput() string { return "trade_mapping" }

func (a *ScopeExtractorAdapter) Invoke(ctx context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	if len(state.TradeMapping) == 0 {
		state.RecordError(models.StageExtractScope, "no trade mapping available for scope extraction")
		return saveState(state)
	}

	items, source := a.extract(ctx, state)
	if state.Error != "" {
		return saveState(state)
	}
	if len(items) == 0 {
		state.RecordError(models.StageExtractScope, "no scope items could be extracted from the documents")
		return saveState(state)
	}

	// Stable item IDs keyed by position; takeoff references these.
	for i := range items {
		items[i].ItemID = fmt.Sprintf("scope-%03d", i+1)
	}

	state.ScopeItems = items
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageExtractScope,
		Decision:  fmt.Sprintf("extracted %d scope item(s) via %s", len(items), source),
		ModelUsed: state.ModelConfig.ModelName,
	})
	state.AppendNarrative(models.StageExtractScope,
		fmt.Sprintf("Extracted %d scope item(s) across %d trade(s)", len(items), len(state.TradeMapping)))

	return saveState(state)
}

func (a *ScopeExtractorAdapter) extract(ctx context.Context, state *models.SharedState) ([]models.ScopeItem, string) {
	if a.helper != nil {
		items, err := a.extractLLM(ctx, state)
		if err == nil && len(items) > 0 {
			return items, "llm"
		}
		if err != nil {
			if criticalModelError(err) {
				state.RecordError(models.StageExtractScope, err.Error())
				return nil, ""
			}
			slog.Warn("Scope extraction model call failed, using line-matching fallback",
				"session_id", state.SessionID, "error", err)
			state.AppendTrace(models.TraceEntry{
				StageName: models.StageExtractScope,
				Decision:  "model extraction failed, falling back to keyword line matching",
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
		}
	}
	return extractByLines(state), "line matching"
}

func (a *ScopeExtractorAdapter) extractLLM(ctx context.Context, state *models.SharedState) ([]models.ScopeItem, error) {
	var trades strings.Builder
	for _, m := range state.TradeMapping {
		fmt.Fprintf(&trades, "- %s (division %s)\n", m.TradeName, m.DivisionCode)
	}

	prompt := fmt.Sprintf("Trades:\n%s\nDocuments:\n%s",
		trades.String(), joinParsedText(state.ParsedFiles, maxScopeExcerpt))

	reply, err := a.helper.CallModel(ctx, state, models.StageExtractScope,
		scopeExtractSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSON(reply)
	if raw == "" {
		return nil, fmt.Errorf("model reply contained no JSON")
	}

	var items []models.ScopeItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("invalid scope item JSON: %w", err)
	}

	valid := items[:0]
	for _, it := range items {
		if it.Description != "" {
			valid = append(valid, it)
		}
	}
	return valid, nil
}

// extractByLines pulls document lines that mention a trade's keywords and
// treats each distinct line as one scope item for that trade.
func extractByLines(state *models.SharedState) []models.ScopeItem {
	type lineRef struct {
		text string
		file string
	}

	names := make([]string, 0, len(state.ParsedFiles))
	for name := range state.ParsedFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []lineRef
	for _, name := range names {
		for _, line := range strings.Split(state.ParsedFiles[name], "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, lineRef{text: line, file: name})
			}
		}
	}

	var items []models.ScopeItem
	for _, trade := range state.TradeMapping {
		seen := make(map[string]bool)
		count := 0
		for _, ref := range lines {
			if count >= maxScopeLinesPerTrade {
				break
			}
			lower := strings.ToLower(ref.text)
			matched := false
			for _, kw := range trade.Keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					matched = true
					break
				}
			}
			if !matched || seen[lower] {
				continue
			}
			seen[lower] = true
			count++
			items = append(items, models.ScopeItem{
				TradeName:    trade.TradeName,
				DivisionCode: trade.DivisionCode,
				Description:  ref.text,
				SourceFile:   ref.file,
			})
		}
	}
	return items
}
