package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/costcraft/mason/pkg/models"
	"github.com/costcraft/mason/pkg/smartsheet"
)

// FilePayload is one uploaded document in a request body. Content is
// base64-encoded raw bytes.
type FilePayload struct {
	Name    string `json:"name" binding:"required"`
	MIME    string `json:"mime"`
	Content string `json:"content"`
}

// CreateRequestBody is the POST /requests payload.
type CreateRequestBody struct {
	Query        string            `json:"query"`
	UserID       string            `json:"user_id"`
	Files        []FilePayload     `json:"files"`
	ExportFormat string            `json:"export_format"`
	Metadata     map[string]string `json:"metadata"`
}

// FileSelectionBody is the POST /requests/:id/files payload.
type FileSelectionBody struct {
	Selection string   `json:"selection" binding:"required"`
	Available []string `json:"available"`
}

// SheetURLBody is the POST /requests/:id/sheet payload.
type SheetURLBody struct {
	URL string `json:"url" binding:"required"`
}

// CreateRequest accepts a new estimation request and starts processing in
// the background. The response carries the session id; progress streams
// over the WebSocket channel and the final state is fetched by id.
func (s *Server) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state := models.NewSharedState(uuid.New().String())
	state.Query = body.Query
	state.UserID = body.UserID
	if body.ExportFormat != "" {
		state.Metadata[models.MetaExportFormat] = body.ExportFormat
	}
	for k, v := range body.Metadata {
		state.Metadata[k] = v
	}

	for _, f := range body.Files {
		raw, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file " + f.Name + ": content is not valid base64"})
			return
		}
		state.Files = append(state.Files, models.File{
			Name:        f.Name,
			MIME:        f.MIME,
			RawBytes:    raw,
			ParseStatus: models.ParseStatusPending,
		})
	}

	s.launch(state, func(ctx context.Context, st *models.SharedState) {
		s.entry.HandleMessage(ctx, st)
	})

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": state.SessionID,
		"status":     string(state.Status),
		"channel":    "session:" + state.SessionID,
	})
}

// GetRequest returns the stored state for a session.
func (s *Server) GetRequest(c *gin.Context) {
	state, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.notFoundOr500(c, err)
		return
	}

	plain, err := state.ToPlain()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// The export payload can be large; the download endpoint serves it.
	delete(plain, "exported_file")
	plain["has_export"] = state.ExportedFile != nil
	c.JSON(http.StatusOK, plain)
}

// SubmitFileSelection resolves a file selection against a prior session
// and reruns the pipeline on it.
func (s *Server) SubmitFileSelection(c *gin.Context) {
	var body FileSelectionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.continuation(c.Param("id"))
	if err != nil {
		s.notFoundOr500(c, err)
		return
	}

	available := body.Available
	if len(available) == 0 {
		for _, f := range state.Files {
			available = append(available, f.Name)
		}
	}

	selection, avail := body.Selection, available
	s.launch(state, func(ctx context.Context, st *models.SharedState) {
		s.entry.HandleFileSelection(ctx, st, selection, avail)
	})

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": state.SessionID,
		"status":     string(state.Status),
	})
}

// SubmitSheetURL attaches an external sheet to a session and runs the
// pipeline.
func (s *Server) SubmitSheetURL(c *gin.Context) {
	var body SheetURLBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.continuation(c.Param("id"))
	if err != nil {
		s.notFoundOr500(c, err)
		return
	}

	// Validate before accepting: a malformed URL is the caller's error.
	if !smartsheet.ValidateSheetURL(body.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized sheet URL"})
		return
	}

	url := body.URL
	s.launch(state, func(ctx context.Context, st *models.SharedState) {
		if _, err := s.entry.HandleSheetURL(ctx, st, url); err != nil {
			slog.Warn("Sheet URL processing failed", "session_id", st.SessionID, "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": state.SessionID,
		"status":     string(state.Status),
	})
}

// DownloadExport serves the exported artifact.
func (s *Server) DownloadExport(c *gin.Context) {
	state, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.notFoundOr500(c, err)
		return
	}
	if state.ExportedFile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no export available for this session"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+state.ExportedFile.Name+`"`)
	c.Data(http.StatusOK, state.ExportedFile.MIME, state.ExportedFile.Bytes)
}

// launch stores a running snapshot and processes the request in the
// background; the final state replaces the snapshot when the run ends.
func (s *Server) launch(state *models.SharedState, run func(context.Context, *models.SharedState)) {
	snapshot, err := copyState(state)
	if err == nil {
		snapshot.SetStatus(models.StatusReceived)
		s.store.Put(snapshot)
	} else {
		slog.Error("Failed to snapshot session state", "session_id", state.SessionID, "error", err)
		s.store.Put(state)
	}

	go func() {
		run(context.Background(), state)
		s.store.Put(state)
	}()
}

// continuation loads a prior session's state for a follow-up entry point.
func (s *Server) continuation(sessionID string) (*models.SharedState, error) {
	stored, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	// Work on a copy: the stored snapshot must stay immutable while the
	// new run mutates its own state.
	return copyState(stored)
}

func (s *Server) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// copyState deep-copies a state through its plain representation.
func copyState(state *models.SharedState) (*models.SharedState, error) {
	plain, err := state.ToPlain()
	if err != nil {
		return nil, err
	}
	return models.FromPlain(plain)
}
