// Package router is the transport-facing entry layer: it decides whether a
// message needs the full pipeline or just a direct model reply, normalizes
// file selections and sheet links, and hands everything to the manager.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/costcraft/mason/pkg/events"
	"github.com/costcraft/mason/pkg/llm"
	"github.com/costcraft/mason/pkg/manager"
	"github.com/costcraft/mason/pkg/models"
	"github.com/costcraft/mason/pkg/smartsheet"
)

// chatStageName routes direct-completion model calls.
const chatStageName = "chat"

const chatSystemPrompt = `You are a friendly construction estimation assistant. ` +
	`Answer briefly. If the user seems to want an estimate, invite them to ` +
	`upload project documents or paste a sheet link.`

// pipelineTokenThreshold: longer messages go to the pipeline even without
// an explicit domain signal.
const pipelineTokenThreshold = 10

// domainTokens route a message to the pipeline regardless of length.
var domainTokens = []string{
	"estimate", "cost", "pricing", "bid", "takeoff", "scope",
	"trade", "quantity", "export", "sheet",
}

// selectionPattern matches pure index selections like "1, 3-5".
var selectionPattern = regexp.MustCompile(`^\s*\d+(\s*-\s*\d+)?(\s*[,\s]\s*\d+(\s*-\s*\d+)?)*\s*$`)

var rangePattern = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)

// Router owns the three entry behaviors. Direct completions go through the
// chat route; everything else converges on Manager.Process.
type Router struct {
	manager   *manager.Manager
	selector  *llm.Selector
	caller    *llm.Caller
	publisher *events.Publisher
}

// New creates a router. selector and caller may be nil, in which case
// direct completions degrade to a canned reply.
func New(m *manager.Manager, selector *llm.Selector, caller *llm.Caller, publisher *events.Publisher) *Router {
	return &Router{manager: m, selector: selector, caller: caller, publisher: publisher}
}

// HandleMessage is the plain-message entry point. Pipeline-worthy messages
// run the full workflow; small talk gets a direct model completion.
func (r *Router) HandleMessage(ctx context.Context, state *models.SharedState) *models.SharedState {
	if r.needsPipeline(state) {
		return r.manager.Process(ctx, state)
	}
	return r.directReply(ctx, state)
}

// HandleFileSelection is the file-selection entry point. selection supports
// "analyze all", numeric indices with ranges ("1, 3-5"), and filename
// fragments. available lists the files the user can choose from.
func (r *Router) HandleFileSelection(ctx context.Context, state *models.SharedState, selection string, available []string) *models.SharedState {
	selected := ParseSelection(selection, available)

	state.Metadata[models.MetaSelectedFiles] = toAnySlice(selected)
	state.Metadata[models.MetaAvailableFiles] = toAnySlice(available)
	state.AppendTrace(models.TraceEntry{
		StageName: "router",
		Decision:  fmt.Sprintf("file selection %q resolved to %d of %d file(s)", selection, len(selected), len(available)),
	})

	return r.manager.Process(ctx, state)
}

// HandleSheetURL is the URL-paste entry point. The URL must match a known
// sheet pattern; its ID is attached to metadata before the run.
func (r *Router) HandleSheetURL(ctx context.Context, state *models.SharedState, url string) (*models.SharedState, error) {
	if !smartsheet.ValidateSheetURL(url) {
		return nil, fmt.Errorf("unrecognized sheet URL: %s", url)
	}
	id, ok := smartsheet.ExtractSheetID(url)
	if !ok {
		return nil, fmt.Errorf("could not extract a sheet id from: %s", url)
	}

	state.Metadata[models.MetaExternalSheetID] = id
	state.AppendTrace(models.TraceEntry{
		StageName: "router",
		Decision:  "attached external sheet " + id,
	})

	return r.manager.Process(ctx, state), nil
}

// needsPipeline decides whether a message warrants the full workflow.
func (r *Router) needsPipeline(state *models.SharedState) bool {
	if len(state.Files) > 0 || state.HasExternalSheet() {
		return true
	}

	query := strings.ToLower(state.Query)
	if _, ok := smartsheet.FindSheetURL(state.Query); ok {
		return true
	}
	if selectionPattern.MatchString(state.Query) {
		return true
	}
	for _, tok := range domainTokens {
		if strings.Contains(query, tok) {
			return true
		}
	}
	return len(strings.Fields(state.Query)) > pipelineTokenThreshold
}

// directReply answers small talk without running the pipeline.
func (r *Router) directReply(ctx context.Context, state *models.SharedState) *models.SharedState {
	r.publisher.PublishTypingIndicator(state.SessionID, true)
	defer r.publisher.PublishTypingIndicator(state.SessionID, false)

	reply := r.complete(ctx, state)
	state.AppendHistory("user", state.Query)
	state.AppendHistory("assistant", reply)
	state.AppendTrace(models.TraceEntry{
		StageName: "router",
		Decision:  "answered directly without running the pipeline",
	})
	state.SetStatus(models.StatusOutputReady)

	r.publisher.PublishChatMessage(state.SessionID, events.ChatMessagePayload{
		Role:    "assistant",
		Content: reply,
	})
	return state
}

func (r *Router) complete(ctx context.Context, state *models.SharedState) string {
	const fallbackReply = "Hi! Upload project documents, paste a sheet link, or tell me what you'd like estimated."

	if r.caller == nil || r.selector == nil {
		return fallbackReply
	}
	sel := r.selector.Select(chatStageName)
	completion, err := r.caller.Complete(ctx, llm.Request{
		Prompt:       state.Query,
		SystemPrompt: chatSystemPrompt,
		Model:        sel.Model,
		Credential:   sel.Credential,
		StageName:    chatStageName,
	})
	if err != nil {
		slog.Warn("Direct completion failed, using canned reply",
			"session_id", state.SessionID, "error", err)
		return fallbackReply
	}
	return completion.Text
}

// ParseSelection resolves a user's file selection against the available
// file names. Supported forms: "analyze all" (or "all"), one-based numeric
// indices with ranges ("1, 3-5"), and filename fragments. Unresolvable
// tokens are ignored; the result preserves the order of available and
// contains no duplicates.
func ParseSelection(selection string, available []string) []string {
	trimmed := strings.TrimSpace(strings.ToLower(selection))
	if trimmed == "all" || strings.Contains(trimmed, "analyze all") {
		return append([]string{}, available...)
	}

	picked := make(map[string]bool)
	for _, token := range splitSelection(selection) {
		switch {
		case rangePattern.MatchString(token):
			m := rangePattern.FindStringSubmatch(token)
			lo, _ := strconv.Atoi(m[1])
			hi, _ := strconv.Atoi(m[2])
			for i := lo; i <= hi; i++ {
				if name, ok := fileAt(available, i); ok {
					picked[name] = true
				}
			}
		case isNumeric(token):
			idx, _ := strconv.Atoi(token)
			if name, ok := fileAt(available, idx); ok {
				picked[name] = true
			}
		default:
			lower := strings.ToLower(token)
			for _, name := range available {
				if strings.Contains(strings.ToLower(name), lower) {
					picked[name] = true
				}
			}
		}
	}

	var out []string
	for _, name := range available {
		if picked[name] {
			out = append(out, name)
		}
	}
	return out
}

func splitSelection(selection string) []string {
	var tokens []string
	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

// fileAt returns the one-based indexed file name.
func fileAt(available []string, idx int) (string, bool) {
	if idx < 1 || idx > len(available) {
		return "", false
	}
	return available[idx-1], true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func toAnySlice(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
