package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costcraft/mason/pkg/models"
	"github.com/costcraft/mason/pkg/smartsheet"
)

// stubSheetClient implements SheetClient in memory.
type stubSheetClient struct {
	attachments []smartsheet.Attachment
	content     map[int64]*smartsheet.AttachmentContent
	addedRows   []smartsheet.Row
	listErr     error
	addErr      error
}

func (s *stubSheetClient) ListAttachments(_ context.Context, _ string) ([]smartsheet.Attachment, error) {
	return s.attachments, s.listErr
}

func (s *stubSheetClient) DownloadAttachment(_ context.Context, _ string, id int64) (*smartsheet.AttachmentContent, error) {
	if c, ok := s.content[id]; ok {
		return c, nil
	}
	return nil, &smartsheet.APIError{StatusCode: 404, Message: "attachment not found"}
}

func (s *stubSheetClient) AddRows(_ context.Context, _ string, rows []smartsheet.Row) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.addedRows = append(s.addedRows, rows...)
	return nil
}

func TestSmartsheetAdapter_PullsAttachments(t *testing.T) {
	client := &stubSheetClient{
		attachments: []smartsheet.Attachment{
			{ID: 1, Name: "plans.pdf", MIME: "application/pdf"},
			{ID: 2, Name: "scope.txt", MIME: "text/plain"},
		},
		content: map[int64]*smartsheet.AttachmentContent{
			1: {Name: "plans.pdf", MIME: "application/pdf", Bytes: []byte("%PDF")},
			2: {Name: "scope.txt", MIME: "text/plain", Bytes: []byte("drywall scope")},
		},
	}
	adapter := NewSmartsheetAdapter(client)

	plain := plainState(t, func(s *models.SharedState) {
		s.Metadata[models.MetaExternalSheetID] = "sheet-7"
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Empty(t, state.Error)
	require.Len(t, state.Files, 2)
	assert.Equal(t, "plans.pdf", state.Files[0].Name)
	assert.Equal(t, models.ParseStatusPending, state.Files[0].ParseStatus)
	assert.Equal(t, true, state.Metadata[models.MetaSmartsheetSynced])
	assert.True(t, state.OutputPresent(models.StageSmartsheet))
}

func TestSmartsheetAdapter_SkipsAlreadyAttachedFiles(t *testing.T) {
	client := &stubSheetClient{
		attachments: []smartsheet.Attachment{{ID: 1, Name: "plans.pdf"}},
		content: map[int64]*smartsheet.AttachmentContent{
			1: {Name: "plans.pdf", Bytes: []byte("%PDF")},
		},
	}
	adapter := NewSmartsheetAdapter(client)

	plain := plainState(t, func(s *models.SharedState) {
		s.Metadata[models.MetaExternalSheetID] = "sheet-7"
		s.Files = []models.File{{Name: "plans.pdf", RawBytes: []byte("existing")}}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	require.Len(t, state.Files, 1)
	assert.Equal(t, []byte("existing"), state.Files[0].RawBytes)
}

func TestSmartsheetAdapter_PushesEstimateRows(t *testing.T) {
	client := &stubSheetClient{}
	adapter := NewSmartsheetAdapter(client)

	plain := plainState(t, func(s *models.SharedState) {
		s.Metadata[models.MetaExternalSheetID] = "sheet-7"
		s.Estimate = []models.EstimateItem{
			{ID: "est-001", Description: "Drywall", Quantity: 100, Unit: "SF", UnitPrice: 6.75, Total: 675},
		}
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Empty(t, state.Error)
	require.Len(t, client.addedRows, 1)
	assert.Equal(t, "Drywall", client.addedRows[0].Cells[0].Value)
}

func TestSmartsheetAdapter_ListFailureSetsError(t *testing.T) {
	client := &stubSheetClient{listErr: &smartsheet.APIError{StatusCode: 403, Message: "forbidden"}}
	adapter := NewSmartsheetAdapter(client)

	plain := plainState(t, func(s *models.SharedState) {
		s.Metadata[models.MetaExternalSheetID] = "sheet-7"
	})

	out, err := adapter.Invoke(context.Background(), plain)
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "external sheet sync failed")
	assert.False(t, state.OutputPresent(models.StageSmartsheet))
}

func TestSmartsheetAdapter_MissingSheetIDSetsError(t *testing.T) {
	adapter := NewSmartsheetAdapter(&stubSheetClient{})

	out, err := adapter.Invoke(context.Background(), plainState(t, nil))
	require.NoError(t, err)

	state := resultState(t, out)
	assert.Contains(t, state.Error, "no external sheet ID")
}
