package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/costcraft/mason/pkg/models"
)

// quantityPattern matches "450 SF", "1,200 lf", "12 EA", "3.5 CY" style
// measurements embedded in scope descriptions.
var quantityPattern = regexp.MustCompile(`(?i)\b([\d,]+(?:\.\d+)?)\s*(sf|sqft|sq\.?\s?ft|lf|ea|cy|sy|ton|tons|hrs?|gal)\b`)

// normalizedUnits maps the textual unit variants to canonical unit codes.
var normalizedUnits = map[string]string{
	"sf": "SF", "sqft": "SF", "sq ft": "SF", "sq.ft": "SF", "sq. ft": "SF",
	"lf": "LF", "ea": "EA", "cy": "CY", "sy": "SY",
	"ton": "TON", "tons": "TON", "hr": "HR", "hrs": "HR", "gal": "GAL",
}

// TakeoffAdapter measures quantities for each scope item. Quantities are
// read from measurements embedded in the item description; items without a
// recognizable measurement become lump-sum entries so every scope item gets
// a takeoff line.
type TakeoffAdapter struct{}

// NewTakeoffAdapter creates the quantity takeoff stage.
func NewTakeoffAdapter() *TakeoffAdapter {
	return &TakeoffAdapter{}
}

func (a *TakeoffAdapter) Name() string { return models.StageTakeoff }

func (a *TakeoffAdapter) RequiredInput() string { return "scope_items" }

func (a *TakeoffAdapter) Invoke(_ context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	if len(state.ScopeItems) == 0 {
		state.RecordError(models.StageTakeoff, "no scope items available for quantity takeoff")
		return saveState(state)
	}

	entries := make([]models.TakeoffEntry, 0, len(state.ScopeItems))
	var measured int
	for _, item := range state.ScopeItems {
		entry := models.TakeoffEntry{
			ScopeItemID:  item.ItemID,
			DivisionCode: item.DivisionCode,
			SourceFile:   item.SourceFile,
		}

		if qty, unit, ok := measureDescription(item.Description); ok {
			entry.Quantity = qty
			entry.Unit = unit
			entry.Method = "measured"
			measured++
		} else {
			entry.Quantity = 1
			entry.Unit = preferredUnit(item.UnitHint)
			entry.Method = "lump_sum"
		}
		entries = append(entries, entry)
	}

	state.TakeoffData = entries
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageTakeoff,
		Decision:  fmt.Sprintf("produced %d takeoff entries (%d measured, %d lump sum)", len(entries), measured, len(entries)-measured),
	})
	state.AppendNarrative(models.StageTakeoff,
		fmt.Sprintf("Measured quantities for %d scope item(s)", len(entries)))

	return saveState(state)
}

// measureDescription extracts the first quantity+unit measurement from a
// scope description.
func measureDescription(desc string) (float64, string, bool) {
	m := quantityPattern.FindStringSubmatch(desc)
	if m == nil {
		return 0, "", false
	}
	qty, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || qty <= 0 {
		return 0, "", false
	}
	unit, ok := normalizedUnits[strings.ToLower(strings.Join(strings.Fields(m[2]), " "))]
	if !ok {
		unit = strings.ToUpper(m[2])
	}
	return qty, unit, true
}

// preferredUnit honors the scope extractor's unit hint for lump-sum
// entries, defaulting to LS.
func preferredUnit(hint string) string {
	hint = strings.TrimSpace(strings.ToUpper(hint))
	if hint == "" {
		return "LS"
	}
	return hint
}
