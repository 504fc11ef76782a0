package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/maestro/internal/playbook"
	"github.com/rendis/maestro/internal/runner"
)

const examplesDir = "../../examples"

func newExampleApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), Config{LogLevel: "error", ShellTimeout: "30s"}, appOptions{})
	require.NoError(t, err)
	return a
}

func TestExamplesValidate(t *testing.T) {
	a := newExampleApp(t)

	files, err := filepath.Glob(filepath.Join(examplesDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			pb, err := playbook.LoadFile(file)
			require.NoError(t, err)
			vr := a.validator.Validate(pb)
			assert.True(t, vr.Valid(), vr.Summary())
		})
	}
}

func TestExampleHello(t *testing.T) {
	a := newExampleApp(t)

	res, err := a.runner.RunFile(context.Background(), filepath.Join(examplesDir, "hello.yaml"), runner.Request{
		Inputs: map[string]any{"who": "maestro"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Hello, maestro!", res.Variables["greeting"])
}

func TestExampleSalesReport(t *testing.T) {
	a := newExampleApp(t)
	cwd := t.TempDir()

	res, err := a.runner.RunFile(context.Background(), filepath.Join(examplesDir, "sales-report.yaml"), runner.Request{Cwd: cwd})
	require.NoError(t, err)
	require.True(t, res.Success, "%+v", res.StepResults)
	assert.Equal(t, 0, res.SkippedSteps)
	assert.InDelta(t, 245.0, res.Variables["total"], 0.001)
	assert.InDelta(t, 245.0, res.Variables["reported_total"], 0.001)

	_, err = os.Stat(filepath.Join(cwd, "sales-report.json"))
	require.NoError(t, err)

	// Above the total, the report steps are skipped.
	res, err = a.runner.RunFile(context.Background(), filepath.Join(examplesDir, "sales-report.yaml"), runner.Request{
		Cwd:    t.TempDir(),
		Inputs: map[string]any{"threshold": 1000},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.SkippedSteps)
}

func TestExampleGuardedDeploy(t *testing.T) {
	a := newExampleApp(t)

	res, err := a.runner.RunFile(context.Background(), filepath.Join(examplesDir, "guarded-deploy.yaml"), runner.Request{
		Inputs: map[string]any{"environment": "staging"},
	})
	require.NoError(t, err)

	// The tolerated probe failure still counts, the run goes on.
	assert.False(t, res.Success)
	assert.False(t, res.Aborted())
	assert.Equal(t, 1, res.FailedSteps)
	assert.Equal(t, 5, res.TotalSteps)
	assert.Equal(t, "cache probe exited with 3", res.StepResults[1].Message)
}
