// Package intent classifies what the user wants from a request and maps
// each intent to the pipeline stages that accomplish it.
package intent

import "github.com/costcraft/mason/pkg/models"

// Intent labels what the user wants to accomplish. The set is closed;
// anything unrecognizable is Unknown.
type Intent string

const (
	FullEstimation        Intent = "full_estimation"
	FileAnalysis          Intent = "file_analysis"
	ExportExisting        Intent = "export_existing"
	QuickEstimate         Intent = "quick_estimate"
	ScopeAnalysis         Intent = "scope_analysis"
	TradeIdentification   Intent = "trade_identification"
	SmartsheetIntegration Intent = "smartsheet_integration"
	RerunStage            Intent = "rerun_stage"
	Unknown               Intent = "unknown"
)

// Definition describes one intent's stage requirements.
type Definition struct {
	// RequiredStages run for this intent, in order.
	RequiredStages []string

	// OptionalStages run when their inputs happen to be available.
	OptionalStages []string

	// Threshold is the minimum confidence for this intent to stand; below
	// it, the classifier degrades to a safer intent.
	Threshold float64

	// EssentialStages may not be recovered from on timeout or failure —
	// losing one makes the whole request pointless.
	EssentialStages map[string]bool

	// RequiresFiles marks intents that are meaningless without documents
	// (uploaded or already parsed).
	RequiresFiles bool
}

// Catalog is the static intent → definition table. Read-only.
var Catalog = map[Intent]Definition{
	FullEstimation: {
		RequiredStages: []string{
			models.StageParse, models.StageClassifyTrades, models.StageExtractScope,
			models.StageTakeoff, models.StageEstimate, models.StageQA,
		},
		OptionalStages:  []string{models.StageExport},
		Threshold:       0.6,
		EssentialStages: map[string]bool{models.StageEstimate: true},
		RequiresFiles:   true,
	},
	FileAnalysis: {
		RequiredStages: []string{models.StageParse, models.StageClassifyTrades},
		OptionalStages: []string{models.StageExtractScope},
		Threshold:      0.6,
		RequiresFiles:  true,
	},
	ExportExisting: {
		RequiredStages:  []string{models.StageExport},
		Threshold:       0.85,
		EssentialStages: map[string]bool{models.StageExport: true},
	},
	QuickEstimate: {
		RequiredStages: []string{models.StageEstimate},
		OptionalStages: []string{models.StageQA},
		Threshold:      0.5,
	},
	ScopeAnalysis: {
		RequiredStages: []string{models.StageParse, models.StageClassifyTrades, models.StageExtractScope},
		OptionalStages: []string{models.StageTakeoff},
		Threshold:      0.6,
		RequiresFiles:  true,
	},
	TradeIdentification: {
		RequiredStages: []string{models.StageParse, models.StageClassifyTrades},
		Threshold:      0.6,
		RequiresFiles:  true,
	},
	SmartsheetIntegration: {
		RequiredStages: []string{
			models.StageSmartsheet, models.StageParse, models.StageClassifyTrades,
			models.StageExtractScope, models.StageTakeoff, models.StageEstimate,
		},
		OptionalStages:  []string{models.StageQA, models.StageExport},
		Threshold:       0.9,
		EssentialStages: map[string]bool{models.StageSmartsheet: true},
	},
	RerunStage: {
		// The target stage comes from the query; the planner resolves it.
		Threshold: 0.7,
	},
	Unknown: {
		RequiredStages: []string{
			models.StageParse, models.StageClassifyTrades, models.StageExtractScope,
			models.StageTakeoff, models.StageEstimate, models.StageQA,
		},
		Threshold: 0,
	},
}

// Lookup returns the definition for an intent, falling back to Unknown's
// definition for unlisted labels.
func Lookup(i Intent) Definition {
	if def, ok := Catalog[i]; ok {
		return def
	}
	return Catalog[Unknown]
}

// Valid reports whether a label belongs to the closed intent set.
func Valid(i Intent) bool {
	_, ok := Catalog[i]
	return ok
}
