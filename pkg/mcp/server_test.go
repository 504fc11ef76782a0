package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMaestroServer(t *testing.T) {
	s := NewMaestroServer(MaestroServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
	assert.Same(t, s.mcpServer, s.MCPServer())
}

func TestToolRegistration(t *testing.T) {
	s := NewMaestroServer(MaestroServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 4)

	expectedTools := []string{
		"maestro.run",
		"maestro.validate",
		"maestro.actions",
		"maestro.history",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "maestro.run", "Execute a playbook and return the run ledger"},
		{"validate", "maestro.validate", "Validate a playbook without running it"},
		{"actions", "maestro.actions", "List registered actions with their inputs and outputs"},
		{"history", "maestro.history", "List past runs or fetch one run with its ledger"},
	}

	s := NewMaestroServer(MaestroServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
