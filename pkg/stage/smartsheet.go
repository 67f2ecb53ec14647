package stage

import (
	"context"
	"fmt"

	"github.com/costcraft/mason/pkg/models"
	"github.com/costcraft/mason/pkg/smartsheet"
)

// SheetClient is the slice of the spreadsheet API this stage needs.
// *smartsheet.Client satisfies it; tests substitute a stub.
type SheetClient interface {
	ListAttachments(ctx context.Context, sheetID string) ([]smartsheet.Attachment, error)
	DownloadAttachment(ctx context.Context, sheetID string, attachmentID int64) (*smartsheet.AttachmentContent, error)
	AddRows(ctx context.Context, sheetID string, rows []smartsheet.Row) error
}

// SmartsheetAdapter syncs the request with an external sheet: it pulls the
// sheet's attachments in as input files, and when an estimate already
// exists it pushes the priced lines back as rows. Runs before parsing so
// downloaded documents flow through the normal pipeline.
type SmartsheetAdapter struct {
	client SheetClient
}

// NewSmartsheetAdapter creates the external-sheet sync stage.
func NewSmartsheetAdapter(client SheetClient) *SmartsheetAdapter {
	return &SmartsheetAdapter{client: client}
}

func (a *SmartsheetAdapter) Name() string { return models.StageSmartsheet }

func (a *SmartsheetAdapter) RequiredInput() string { return "" }

func (a *SmartsheetAdapter) Invoke(ctx context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	sheetID, _ := state.Metadata[models.MetaExternalSheetID].(string)
	if sheetID == "" {
		state.RecordError(models.StageSmartsheet, "no external sheet ID in request metadata")
		return saveState(state)
	}

	downloaded, err := a.pullAttachments(ctx, state, sheetID)
	if err != nil {
		state.RecordError(models.StageSmartsheet, fmt.Sprintf("external sheet sync failed: %v", err))
		return saveState(state)
	}

	var pushed int
	if len(state.Estimate) > 0 {
		pushed, err = a.pushEstimate(ctx, state, sheetID)
		if err != nil {
			// Pushing results is best-effort; the pull already succeeded.
			state.AppendTrace(models.TraceEntry{
				StageName: models.StageSmartsheet,
				Decision:  fmt.Sprintf("failed to push estimate rows to sheet %s", sheetID),
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
		}
	}

	state.Metadata[models.MetaSmartsheetSynced] = true
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageSmartsheet,
		Decision:  fmt.Sprintf("synced sheet %s: %d attachment(s) downloaded, %d row(s) pushed", sheetID, downloaded, pushed),
	})
	state.AppendNarrative(models.StageSmartsheet,
		fmt.Sprintf("Synced with the external sheet: pulled %d attachment(s)", downloaded))

	return saveState(state)
}

// pullAttachments downloads the sheet's attachments into state.Files,
// skipping names already attached to the request.
func (a *SmartsheetAdapter) pullAttachments(ctx context.Context, state *models.SharedState, sheetID string) (int, error) {
	attachments, err := a.client.ListAttachments(ctx, sheetID)
	if err != nil {
		return 0, err
	}

	existing := make(map[string]bool, len(state.Files))
	for _, f := range state.Files {
		existing[f.Name] = true
	}

	var downloaded int
	for _, att := range attachments {
		if existing[att.Name] {
			continue
		}
		content, err := a.client.DownloadAttachment(ctx, sheetID, att.ID)
		if err != nil {
			state.AppendTrace(models.TraceEntry{
				StageName: models.StageSmartsheet,
				Decision:  fmt.Sprintf("failed to download attachment %s", att.Name),
				Severity:  models.SeverityWarning,
				Error:     err.Error(),
			})
			continue
		}
		state.Files = append(state.Files, models.File{
			Name:        content.Name,
			MIME:        content.MIME,
			RawBytes:    content.Bytes,
			ParseStatus: models.ParseStatusPending,
		})
		downloaded++
	}
	return downloaded, nil
}

// pushEstimate writes the priced lines back to the sheet as rows.
func (a *SmartsheetAdapter) pushEstimate(ctx context.Context, state *models.SharedState, sheetID string) (int, error) {
	rows := make([]smartsheet.Row, 0, len(state.Estimate))
	for _, item := range state.Estimate {
		rows = append(rows, smartsheet.Row{
			Cells: []smartsheet.Cell{
				{Value: item.Description},
				{Value: item.Quantity},
				{Value: item.Unit},
				{Value: item.UnitPrice},
				{Value: item.Total},
			},
		})
	}
	if err := a.client.AddRows(ctx, sheetID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
