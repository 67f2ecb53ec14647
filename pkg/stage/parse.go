package stage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/costcraft/mason/pkg/models"
)

// ParserAdapter extracts text from the uploaded documents. PDF files go
// through the pdf library; plain-text formats are decoded directly. Files
// the parser cannot handle are marked failed without failing the stage —
// one unreadable attachment must not sink the whole request.
type ParserAdapter struct{}

// NewParserAdapter creates the document parser stage.
func NewParserAdapter() *ParserAdapter {
	return &ParserAdapter{}
}

func (a *ParserAdapter) Name() string { return models.StageParse }

func (a *ParserAdapter) RequiredInput() string { return "files" }

func (a *ParserAdapter) Invoke(_ context.Context, plain map[string]any) (map[string]any, error) {
	state, err := loadState(plain)
	if err != nil {
		return nil, err
	}

	selected := selectedFileSet(state)

	parsed := make(map[string]string)
	var parsedCount, failedCount, skippedCount int

	for i := range state.Files {
		f := &state.Files[i]

		if len(selected) > 0 && !selected[f.Name] {
			f.ParseStatus = models.ParseStatusSkipped
			skippedCount++
			continue
		}

		// Re-parsing an already-parsed file is wasted work.
		if f.ParsedText != "" {
			f.ParseStatus = models.ParseStatusParsed
			parsed[f.Name] = f.ParsedText
			parsedCount++
			continue
		}

		text, err := extractText(f)
		if err != nil {
			f.ParseStatus = models.ParseStatusFailed
			failedCount++
			state.AppendTrace(models.TraceEntry{
				StageName: models.StageParse,
				Decision:  fmt.Sprintf("failed to parse %s: %v", f.Name, err),
				Severity:  models.SeverityWarning,
			})
			continue
		}

		f.ParsedText = text
		f.ParseStatus = models.ParseStatusParsed
		parsed[f.Name] = text
		parsedCount++
	}

	if parsedCount == 0 && len(state.Files) > 0 {
		state.RecordError(models.StageParse, "no readable documents: all attached files failed to parse")
		return saveState(state)
	}

	state.ParsedFiles = parsed
	state.AppendTrace(models.TraceEntry{
		StageName: models.StageParse,
		Decision: fmt.Sprintf("parsed %d file(s), %d failed, %d skipped",
			parsedCount, failedCount, skippedCount),
	})
	state.AppendNarrative(models.StageParse,
		fmt.Sprintf("Read %d document(s)", parsedCount))

	return saveState(state)
}

// selectedFileSet returns the user's file selection from metadata, or an
// empty set meaning "all files".
func selectedFileSet(state *models.SharedState) map[string]bool {
	raw, ok := state.Metadata[models.MetaSelectedFiles].([]any)
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(raw))
	for _, v := range raw {
		if name, ok := v.(string); ok && name != "" {
			set[name] = true
		}
	}
	return set
}

// extractText pulls plain text out of one file based on its extension.
func extractText(f *models.File) (string, error) {
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".pdf":
		return extractPDFText(f.RawBytes)
	case ".txt", ".md", ".csv":
		if len(f.RawBytes) == 0 {
			return "", fmt.Errorf("empty file")
		}
		return string(f.RawBytes), nil
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(f.Name))
	}
}

// extractPDFText extracts text from every page, skipping pages that fail
// individually. Image-only PDFs yield a placeholder rather than an error so
// downstream stages know the document existed.
func extractPDFText(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty file")
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text)
		}
	}

	if sb.Len() == 0 {
		return fmt.Sprintf("[PDF document with %d page(s) - no text content extracted]", numPages), nil
	}
	return sb.String(), nil
}
