package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/costcraft/mason/pkg/models"
)

// Export formats accepted via metadata.export_format.
const (
	ExportFormatJSON = "json"
	ExportFormatXLSX = "xlsx"
	ExportFormatPDF  = "pdf"
	ExportFormatDOCX = "docx"
)

// ExporterAdapter renders the estimate into a downloadable artifact. JSON
// and XLSX render in-process; PDF and DOCX are accepted format names but
// report a typed unsupported error until a renderer lands.
type ExporterAdapter struct{}

// NewExporterAdapter creates the export stage.
func NewExporterAdapter() *ExporterAdapter {
	return &ExporterAdapter{}
}

func (a *ExporterAdapter) Name() string { return models.StageExport }

func (a *ExporterAdapter) RequiredInput() string { return "estimate" }

func (a *ExporterAdapter) Invoke(_ context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	if len(state.Estimate) == 0 {
		state.RecordError(models.StageExport, "no estimate available to export")
		return saveState(state)
	}

	format := exportFormat(state)
	exported, err := renderEstimate(state, format)
	if err != nil {
		state.RecordError(models.StageExport, err.Error())
		return saveState(state)
	}

	state.ExportedFile = exported
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageExport,
		Decision:  fmt.Sprintf("exported estimate as %s (%d bytes)", format, len(exported.Bytes)),
	})
	state.AppendNarrative(models.StageExport,
		fmt.Sprintf("Exported the estimate as %s", strings.ToUpper(format)))

	return saveState(state)
}

// exportFormat reads the requested format from metadata, defaulting to JSON.
func exportFormat(state *models.SharedState) string {
	if f, ok := state.Metadata[models.MetaExportFormat].(string); ok && f != "" {
		return strings.ToLower(f)
	}
	return ExportFormatJSON
}

// renderEstimate produces the export artifact for the requested format.
func renderEstimate(state *models.SharedState, format string) (*models.ExportedFile, error) {
	baseName := "estimate_" + state.SessionID

	switch format {
	case ExportFormatJSON:
		data, err := renderJSON(state)
		if err != nil {
			return nil, err
		}
		return &models.ExportedFile{
			Bytes: data,
			Name:  baseName + ".json",
			MIME:  "application/json",
		}, nil

	case ExportFormatXLSX:
		data, err := renderXLSX(state)
		if err != nil {
			return nil, err
		}
		return &models.ExportedFile{
			Bytes: data,
			Name:  baseName + ".xlsx",
			MIME:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}, nil

	case ExportFormatPDF, ExportFormatDOCX:
		return nil, fmt.Errorf("export format %q is not supported yet; use json or xlsx", format)

	default:
		return nil, fmt.Errorf("unknown export format %q; use json or xlsx", format)
	}
}

func renderJSON(state *models.SharedState) ([]byte, error) {
	doc := map[string]any{
		"session_id": state.SessionID,
		"project":    state.Metadata[models.MetaProjectName],
		"items":      state.Estimate,
		"total":      estimateTotal(state.Estimate),
	}
	if len(state.QAFindings) > 0 {
		doc["qa_findings"] = state.QAFindings
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render JSON export: %w", err)
	}
	return data, nil
}

func renderXLSX(state *models.SharedState) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Estimate"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Description", "Division", "Quantity", "Unit", "Unit Price", "Total", "Notes"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("render XLSX export: %w", err)
		}
	}

	for row, item := range state.Estimate {
		values := []any{
			item.ID, item.Description, item.DivisionCode,
			item.Quantity, item.Unit, item.UnitPrice, item.Total, item.Notes,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("render XLSX export: %w", err)
			}
		}
	}

	totalRow := len(state.Estimate) + 2
	labelCell, _ := excelize.CoordinatesToCellName(6, totalRow)
	totalCell, _ := excelize.CoordinatesToCellName(7, totalRow)
	_ = f.SetCellValue(sheet, labelCell, "Grand Total")
	_ = f.SetCellValue(sheet, totalCell, estimateTotal(state.Estimate))

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render XLSX export: %w", err)
	}
	return buf.Bytes(), nil
}
