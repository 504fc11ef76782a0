package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/maestro/internal/actions"
	"github.com/rendis/maestro/internal/runner"
	"github.com/rendis/maestro/internal/store"
	"github.com/rendis/maestro/internal/streaming"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// MaestroServerDeps holds the dependencies for creating a MaestroServer.
// Store and Hub are optional: without a store maestro.history reports an
// error, without a hub no progress notifications are sent.
type MaestroServerDeps struct {
	Runner    *runner.Runner
	Registry  *actions.Registry
	Validator runner.Validator
	Store     store.Store
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// MaestroServer wraps an MCP server with the maestro tool handlers.
type MaestroServer struct {
	runner    *runner.Runner
	registry  *actions.Registry
	validator runner.Validator
	store     store.Store
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewMaestroServer creates a MaestroServer with all four tools registered.
func NewMaestroServer(deps MaestroServerDeps) *MaestroServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MaestroServer{
		runner:    deps.Runner,
		registry:  deps.Registry,
		validator: deps.Validator,
		store:     deps.Store,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"maestro",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Maestro runs YAML playbooks: ordered steps that invoke registered actions. Use maestro.actions to discover actions, maestro.validate to check a playbook, maestro.run to execute one and maestro.history to inspect past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *MaestroServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MaestroServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MaestroServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: actionsTool(), Handler: s.handleActions},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("maestro.run",
		mcp.WithDescription("Execute a playbook and return the run ledger"),
		mcp.WithString("path", mcp.Description("Path to a playbook YAML file")),
		mcp.WithString("playbook", mcp.Description("Inline playbook YAML (used when path is empty)")),
		mcp.WithObject("inputs", mcp.Description("Playbook inputs, available as {{ inputs.* }}")),
		mcp.WithObject("variables", mcp.Description("Initial variables, available as {{ variables.* }}")),
		mcp.WithString("cwd", mcp.Description("Working directory for shell and file actions")),
		mcp.WithString("session_id", mcp.Description("Caller session ID recorded with the run")),
		mcp.WithBoolean("no_history", mcp.Description("Do not record the run in history")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("maestro.validate",
		mcp.WithDescription("Validate a playbook without running it"),
		mcp.WithString("path", mcp.Description("Path to a playbook YAML file")),
		mcp.WithString("playbook", mcp.Description("Inline playbook YAML (used when path is empty)")),
	)
}

func actionsTool() mcp.Tool {
	return mcp.NewTool("maestro.actions",
		mcp.WithDescription("List registered actions with their inputs and outputs"),
		mcp.WithString("name", mcp.Description("Return only this action")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("maestro.history",
		mcp.WithDescription("List past runs or fetch one run with its ledger"),
		mcp.WithString("run_id", mcp.Description("Fetch this run (ledger included)")),
		mcp.WithString("playbook", mcp.Description("Filter by playbook name")),
		mcp.WithString("status", mcp.Enum("pending", "running", "completed", "aborted"), mcp.Description("Filter by run status")),
		mcp.WithString("since", mcp.Description("Only runs started at or after this RFC3339 time")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Runs to skip")),
		mcp.WithBoolean("events", mcp.Description("Include the recorded event log when fetching a run")),
	)
}
