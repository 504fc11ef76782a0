package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/maestro/internal/playbook"
	"github.com/rendis/maestro/internal/runner"
	"github.com/rendis/maestro/internal/store"
	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/pkg/schema"
)

const defaultHistoryLimit = 20

// handleRun executes a playbook given by path or inline YAML.
func (s *MaestroServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}

	cwd := req.GetString("cwd", "")
	pb, source, errResult := loadPlaybook(req, cwd)
	if errResult != nil {
		return errResult, nil
	}

	runID := uuid.NewString()
	sessionID := req.GetString("session_id", "")
	if sessionID != "" {
		s.captureSession(ctx, sessionID)
		stop := s.forwardProgress(ctx, runID, sessionID)
		defer stop()
	}

	res, err := s.runner.Run(ctx, runner.Request{
		Playbook:  pb,
		Source:    source,
		RunID:     runID,
		Inputs:    mcp.ParseStringMap(req, "inputs", nil),
		Variables: mcp.ParseStringMap(req, "variables", nil),
		Cwd:       cwd,
		SessionID: sessionID,
		NoHistory: extractBool(req.GetArguments(), "no_history"),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", err)), nil
	}
	return marshalResult(res)
}

// handleValidate checks a playbook and reports every issue found.
func (s *MaestroServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return mcp.NewToolResultError("validator is not configured"), nil
	}

	pb, source, errResult := loadPlaybook(req, "")
	if errResult != nil {
		return errResult, nil
	}

	vr := s.validator.Validate(pb)
	return marshalResult(map[string]any{
		"playbook": pb.Name,
		"source":   source,
		"valid":    vr.Valid(),
		"errors":   issuesOrEmpty(vr.Errors),
		"warnings": issuesOrEmpty(vr.Warnings),
	})
}

// handleActions lists the registry, or describes a single action.
func (s *MaestroServer) handleActions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError("action registry is not configured"), nil
	}

	if name := req.GetString("name", ""); name != "" {
		def, ok := s.registry.Get(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("action %q is not registered", name)), nil
		}
		return marshalResult(def.Info())
	}
	return marshalResult(map[string]any{"actions": s.registry.List()})
}

// handleHistory fetches one run or lists runs matching the filter.
func (s *MaestroServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is disabled"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		return s.getRun(ctx, runID, extractBool(req.GetArguments(), "events"))
	}

	args := req.GetArguments()
	filter := store.RunFilter{
		Playbook: req.GetString("playbook", ""),
		Limit:    extractInt(args, "limit", defaultHistoryLimit),
		Offset:   extractInt(args, "offset", 0),
	}
	if status := req.GetString("status", ""); status != "" {
		rs := schema.RunStatus(status)
		filter.Status = &rs
	}
	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: expected RFC3339", since)), nil
		}
		filter.Since = &t
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *MaestroServer) getRun(ctx context.Context, runID string, withEvents bool) (*mcp.CallToolResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
	}
	if !withEvents {
		return marshalResult(run)
	}

	events, err := s.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event lookup failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"run": run, "events": events})
}

// --- Internal helpers ---

// loadPlaybook reads the playbook from the "path" or "playbook" argument.
// Relative paths resolve against cwd when one is given.
func loadPlaybook(req mcp.CallToolRequest, cwd string) (*schema.Playbook, string, *mcp.CallToolResult) {
	if path := req.GetString("path", ""); path != "" {
		if cwd != "" && !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}
		pb, err := playbook.LoadFile(path)
		if err != nil {
			return nil, "", mcp.NewToolResultError(fmt.Sprintf("load playbook: %v", err))
		}
		return pb, path, nil
	}

	doc := req.GetString("playbook", "")
	if strings.TrimSpace(doc) == "" {
		return nil, "", mcp.NewToolResultError("one of path or playbook is required")
	}
	pb, err := playbook.ParseString(doc)
	if err != nil {
		return nil, "", mcp.NewToolResultError(fmt.Sprintf("parse playbook: %v", err))
	}
	return pb, runner.SourceInline, nil
}

// forwardProgress relays the run's events to the client bound to sessionID
// until the returned stop function is called.
func (s *MaestroServer) forwardProgress(ctx context.Context, runID, sessionID string) func() {
	if s.hub == nil || s.notifier == nil {
		return func() {}
	}
	ch, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				for {
					select {
					case evt := <-ch:
						s.notify(ctx, sessionID, evt)
					default:
						return
					}
				}
			case evt := <-ch:
				s.notify(ctx, sessionID, evt)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
			wg.Wait()
		})
	}
}

func (s *MaestroServer) notify(ctx context.Context, sessionID string, evt streaming.StreamEvent) {
	payload := map[string]any{
		"level":  "info",
		"logger": "maestro",
		"data": map[string]any{
			"run_id":     evt.RunID,
			"event_type": evt.EventType,
			"step":       evt.Step,
			"index":      evt.Index,
			"payload":    evt.Payload,
		},
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), sessionID, payload); err != nil {
		s.logger.Debug("progress notification failed", "run_id", evt.RunID, "error", err)
	}
}

// captureSession binds the caller's session ID to its MCP client session.
func (s *MaestroServer) captureSession(ctx context.Context, sessionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(sessionID, session.SessionID())
	}
}

func issuesOrEmpty(issues []schema.ValidationIssue) []schema.ValidationIssue {
	if issues == nil {
		return []schema.ValidationIssue{}
	}
	return issues
}

// extractInt reads an integer that may arrive as a JSON number or string.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractBool reads a flag that may arrive as a JSON boolean or string.
func extractBool(args map[string]any, key string) bool {
	switch val := args[key].(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	}
	return false
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
