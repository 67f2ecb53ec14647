package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/models"
)

const estimateSystemPrompt = `You are a construction cost estimator. ` +
	`Given takeoff entries, price each one. ` +
	`Reply with ONLY a JSON array of objects with keys: ` +
	`scope_item_id, unit_price (number, USD per unit), notes. ` +
	`No prose, no markdown fences.`

// priceBook is the deterministic fallback: baseline unit prices per CSI
// division and unit. Values are intentionally coarse — the model path
// produces the real numbers; this keeps the pipeline producing a complete
// estimate when the model is unavailable.
var priceBook = map[string]map[string]float64{
	"030000": {"CY": 185, "SF": 9.5, "LS": 2500},
	"040000": {"SF": 22, "LS": 3000},
	"050000": {"TON": 3400, "LF": 48, "LS": 5000},
	"060000": {"SF": 14, "LF": 7.5, "LS": 2000},
	"070000": {"SF": 8.25, "LS": 4000},
	"080000": {"EA": 850, "SF": 65, "LS": 1500},
	"090000": {"SF": 6.75, "SY": 38, "LS": 1800},
	"220000": {"EA": 620, "LF": 32, "LS": 3500},
	"230000": {"EA": 1450, "LF": 28, "TON": 2200, "LS": 6000},
	"260000": {"EA": 210, "LF": 18, "LS": 4500},
	"310000": {"CY": 42, "SY": 12, "LS": 5500},
}

// defaultLumpSum prices divisions the book doesn't know.
const defaultLumpSum = 1000.0

// EstimatorAdapter prices the takeoff into the final estimate. Model-first
// pricing with a price-book fallback; every line's total is the rounded
// product of quantity and unit price.
type EstimatorAdapter struct {
	helper *Helper
}

// NewEstimatorAdapter creates the pricing stage.
func NewEstimatorAdapter(helper *Helper) *EstimatorAdapter {
	return &EstimatorAdapter{helper: helper}
}

func (a *EstimatorAdapter) Name() string { return models.StageEstimate }

func (a *EstimatorAdapter) RequiredInput() string { return "takeoff_data" }

func (a *EstimatorAdapter) Invoke(ctx context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	if len(state.TakeoffData) == 0 {
		state.RecordError(models.StageEstimate, "no takeoff data available for pricing")
		return saveState(state)
	}

	prices, source := a.price(ctx, state)
	if state.Error != "" {
		return saveState(state)
	}

	scopeByID := make(map[string]models.ScopeItem, len(state.ScopeItems))
	for _, item := range state.ScopeItems {
		scopeByID[item.ItemID] = item
	}

	estimate := make([]models.EstimateItem, 0, len(state.TakeoffData))
	var errored int
	for i, entry := range state.TakeoffData {
		item := models.EstimateItem{
			ID:           fmt.Sprintf("est-%03d", i+1),
			Description:  scopeByID[entry.ScopeItemID].Description,
			Quantity:     entry.Quantity,
			Unit:         entry.Unit,
			DivisionCode: entry.DivisionCode,
		}
		if item.Description == "" {
			item.Description = fmt.Sprintf("Takeoff entry %s", entry.ScopeItemID)
		}

		priced, ok := prices[entry.ScopeItemID]
		if !ok {
			priced = pricedLine{unitPrice: bookPrice(entry.DivisionCode, entry.Unit)}
		}
		if priced.unitPrice <= 0 {
			item.IsError = true
			item.Notes = "no unit price available"
			errored++
		} else {
			item.UnitPrice = priced.unitPrice
			item.Total = models.RoundCurrency(entry.Quantity * priced.unitPrice)
			item.Notes = priced.notes
		}
		estimate = append(estimate, item)
	}

	state.Estimate = estimate
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageEstimate,
		Decision:  fmt.Sprintf("priced %d line(s) via %s, %d unpriced", len(estimate), source, errored),
		ModelUsed: state.ModelConfig.ModelName,
	})
	state.AppendNarrative(models.StageEstimate,
		fmt.Sprintf("Priced %d line item(s); estimate total $%.2f", len(estimate), estimateTotal(estimate)))

	return saveState(state)
}

type pricedLine struct {
	unitPrice float64
	notes     string
}

func (a *EstimatorAdapter) price(ctx context.Context, state *models.SharedState) (map[string]pricedLine, string) {
	if a.helper != nil {
		prices, err := a.priceLLM(ctx, state)
		if err == nil && len(prices) > 0 {
			return prices, "llm"
		}
		if err != nil {
			if criticalModelError(err) {
				state.RecordError(models.StageEstimate, err.Error())
				return nil, ""
			}
			slog.Warn("Estimate pricing model call failed, using price book",
				"session_id", state.SessionID, "error", err)
			state.AppendTrace(models.TraceEntry{
				StageName: models.StageEstimate,
				Decision:  "model pricing failed, falling back to price book",
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
		}
	}
	return map[string]pricedLine{}, "price book"
}

func (a *EstimatorAdapter) priceLLM(ctx context.Context, state *models.SharedState) (map[string]pricedLine, error) {
	takeoffJSON, err := json.Marshal(state.TakeoffData)
	if err != nil {
		return nil, err
	}

	reply, err := a.helper.CallModel(ctx, state, models.StageEstimate,
		estimateSystemPrompt, string(takeoffJSON))
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSON(reply)
	if raw == "" {
		return nil, fmt.Errorf("model reply contained no JSON")
	}

	var lines []struct {
		ScopeItemID string  `json:"scope_item_id"`
		UnitPrice   float64 `json:"unit_price"`
		Notes       string  `json:"notes"`
	}
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("invalid pricing JSON: %w", err)
	}

	prices := make(map[string]pricedLine, len(lines))
	for _, l := range lines {
		if l.ScopeItemID != "" && l.UnitPrice > 0 {
			prices[l.ScopeItemID] = pricedLine{unitPrice: l.UnitPrice, notes: l.Notes}
		}
	}
	return prices, nil
}

// bookPrice looks up the fallback unit price for a division and unit.
func bookPrice(division, unit string) float64 {
	if units, ok := priceBook[division]; ok {
		if price, ok := units[unit]; ok {
			return price
		}
		if price, ok := units["LS"]; ok {
			return price
		}
	}
	if unit == "LS" {
		return defaultLumpSum
	}
	return 0
}

func estimateTotal(items []models.EstimateItem) float64 {
	var total float64
	for _, it := range items {
		if !it.IsError {
			total += it.Total
		}
	}
	return models.RoundCurrency(total)
}
