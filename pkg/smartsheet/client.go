// Package smartsheet is a minimal client for the external spreadsheet API:
// URL validation, attachment listing and download, row append, and sheet
// export. Every non-2xx response surfaces as a typed *APIError.
package smartsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.smartsheet.com/2.0"

// maxDownloadBytes caps attachment downloads (50 MB).
const maxDownloadBytes = 50 << 20

// sheetURLPatterns are the recognized external sheet URL shapes. The first
// capture group is the sheet token/ID.
var sheetURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://app\.smartsheet\.com/sheets/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`^https://app\.smartsheet\.com/b/home\?lx=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`^https://app\.smartsheet\.com/b/publish\?EQBCT=([A-Za-z0-9_-]+)`),
}

// APIError is returned for any non-2xx API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smartsheet API error (status %d): %s", e.StatusCode, e.Message)
}

// Attachment is one file attached to a sheet. IDs are numeric in the API.
type Attachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	MIME string `json:"mimeType"`
}

// AttachmentContent is a downloaded attachment.
type AttachmentContent struct {
	Name  string
	MIME  string
	Bytes []byte
}

// Cell is one cell value in a row append. ColumnID is filled by the client
// from the sheet's column layout; callers provide values positionally.
type Cell struct {
	ColumnID int64 `json:"columnId,omitempty"`
	Value    any   `json:"value"`
}

// Row is one row to append to a sheet.
type Row struct {
	ToBottom bool   `json:"toBottom"`
	Cells    []Cell `json:"cells"`
}

// Client talks to the spreadsheet API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client. baseURL defaults to the production endpoint
// when empty; tests point it at a local server.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ValidateSheetURL reports whether a URL matches a known sheet URL shape.
func ValidateSheetURL(url string) bool {
	_, ok := ExtractSheetID(url)
	return ok
}

// ExtractSheetID pulls the sheet token out of a sheet URL.
func ExtractSheetID(url string) (string, bool) {
	url = strings.TrimSpace(url)
	for _, pattern := range sheetURLPatterns {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// FindSheetURL scans free text for the first recognizable sheet URL.
func FindSheetURL(text string) (string, bool) {
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:!?()[]<>\"'")
		if ValidateSheetURL(word) {
			return word, true
		}
	}
	return "", false
}

// ListAttachments returns the attachments on a sheet.
func (c *Client) ListAttachments(ctx context.Context, sheetID string) ([]Attachment, error) {
	var resp struct {
		Data []Attachment `json:"data"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/sheets/%s/attachments", sheetID), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// DownloadAttachment fetches an attachment's content. The API returns a
// short-lived download URL; the client follows it.
func (c *Client) DownloadAttachment(ctx context.Context, sheetID string, attachmentID int64) (*AttachmentContent, error) {
	var meta struct {
		Name string `json:"name"`
		MIME string `json:"mimeType"`
		URL  string `json:"url"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/sheets/%s/attachments/%d", sheetID, attachmentID), &meta); err != nil {
		return nil, err
	}
	if meta.URL == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "attachment metadata has no download URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "attachment download failed"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}
	return &AttachmentContent{Name: meta.Name, MIME: meta.MIME, Bytes: data}, nil
}

// AddRows appends rows to the bottom of a sheet. Cell values are positional;
// the client resolves the sheet's column IDs and assigns them in order.
func (c *Client) AddRows(ctx context.Context, sheetID string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	columns, err := c.listColumns(ctx, sheetID)
	if err != nil {
		return err
	}

	for i := range rows {
		rows[i].ToBottom = true
		for j := range rows[i].Cells {
			if j >= len(columns) {
				rows[i].Cells = rows[i].Cells[:len(columns)]
				break
			}
			rows[i].Cells[j].ColumnID = columns[j]
		}
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/sheets/%s/rows", sheetID), body, nil)
}

// ExportSheet downloads the sheet rendered in the given format ("csv" or
// "xlsx").
func (c *Client) ExportSheet(ctx context.Context, sheetID, format string) ([]byte, error) {
	accept := map[string]string{
		"csv":  "text/csv",
		"xlsx": "application/vnd.ms-excel",
	}[strings.ToLower(format)]
	if accept == "" {
		return nil, fmt.Errorf("unsupported sheet export format %q", format)
	}

	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/sheets/%s", sheetID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export sheet: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiErrorFromResponse(resp)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

// listColumns returns the sheet's column IDs in display order.
func (c *Client) listColumns(ctx context.Context, sheetID string) ([]int64, error) {
	var resp struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/sheets/%s/columns", sheetID), &resp); err != nil {
		return nil, err
	}
	ids := make([]int64, len(resp.Data))
	for i, col := range resp.Data {
		ids[i] = col.ID
	}
	return ids, nil
}

// --- HTTP plumbing ---

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do issues a request and decodes the JSON response when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// apiErrorFromResponse builds an *APIError from a non-2xx response,
// preferring the API's own error message when present.
func apiErrorFromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
	}
	return apiErr
}
