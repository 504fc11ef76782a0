package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/maestro/pkg/schema"
)

const (
	defaultShellTimeout  = 5 * time.Minute
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// ShellConfig configures the shell.exec action.
type ShellConfig struct {
	DefaultTimeout time.Duration
	MaxOutputSize  int64
}

func (c ShellConfig) withDefaults() ShellConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultShellTimeout
	}
	if c.MaxOutputSize <= 0 {
		c.MaxOutputSize = defaultMaxOutputSize
	}
	return c
}

// ShellAction returns the shell.exec action. Commands run in the step's
// working directory; a non-zero exit code is a failed result, not an error.
func ShellAction(cfg ShellConfig) *ActionDefinition {
	cfg = cfg.withDefaults()
	return &ActionDefinition{
		Name:        "shell.exec",
		Description: "Run a command in the session working directory, capturing stdout, stderr and exit code",
		Inputs: map[string]schema.InputSpec{
			"command": {Type: schema.TypeString, Required: true},
			"args":    {Type: schema.TypeArray, Description: "argument list; ignored tokens that are not strings"},
			"env":     {Type: schema.TypeObject, Description: "extra environment variables"},
			"dir":     {Type: schema.TypeString, Description: "working directory, relative to the session cwd"},
			"stdin":   {Type: schema.TypeString},
			"timeout": {Type: schema.TypeAny, Description: "Go duration string or milliseconds"},
			"shell":   {Type: schema.TypeBoolean, Default: false, Description: "run through /bin/sh -c"},
		},
		Outputs: map[string]schema.OutputSpec{
			"stdout":      {Type: schema.TypeAny, Description: "auto-parsed JSON if valid, raw string otherwise"},
			"stdout_raw":  {Type: schema.TypeString},
			"stderr":      {Type: schema.TypeString},
			"exit_code":   {Type: schema.TypeInteger},
			"duration_ms": {Type: schema.TypeInteger},
			"killed":      {Type: schema.TypeBoolean},
		},
		Handler: func(ctx context.Context, inputs map[string]any, actx ActionContext) (*schema.ActionResult, error) {
			return runShell(ctx, cfg, inputs, actx)
		},
	}
}

func runShell(ctx context.Context, cfg ShellConfig, params map[string]any, actx ActionContext) (*schema.ActionResult, error) {
	command := stringParam(params, "command", "")
	if command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "shell.exec: missing required param 'command'")
	}
	args := stringSliceParam(params, "args")

	timeout, ok := durationParam(params, "timeout", cfg.DefaultTimeout)
	if !ok || timeout <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "shell.exec: invalid timeout %v", params["timeout"])
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if boolParam(params, "shell", false) {
		fullCmd := command
		if len(args) > 0 {
			fullCmd = command + " " + strings.Join(args, " ")
		}
		cmd = exec.CommandContext(execCtx, "/bin/sh", "-c", fullCmd)
	} else {
		cmd = exec.CommandContext(execCtx, command, args...)
	}

	cmd.Dir = resolvePath(actx.Cwd, stringParam(params, "dir", ""))

	if envMap := stringMapParam(params, "env"); envMap != nil {
		cmd.Env = os.Environ()
		for k, v := range envMap {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	if stdin := stringParam(params, "stdin", ""); stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	exitCode := 0
	killed := false
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case execCtx.Err() != nil:
			exitCode = -1
			killed = true
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			// Command not found, bad cwd and similar.
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "shell.exec: %v", runErr).WithCause(runErr)
		}
	}

	stdoutStr := stdoutBuf.String()
	var parsedStdout any = stdoutStr
	if stdoutBuf.Len() > 0 && json.Valid(stdoutBuf.Bytes()) {
		var parsed any
		if err := json.Unmarshal(stdoutBuf.Bytes(), &parsed); err == nil {
			parsedStdout = parsed
		}
	}

	data := map[string]any{
		"stdout":      parsedStdout,
		"stdout_raw":  stdoutStr,
		"stderr":      stderrBuf.String(),
		"exit_code":   exitCode,
		"duration_ms": durationMs,
		"killed":      killed,
	}

	switch {
	case killed:
		msg := fmt.Sprintf("%s killed after %s", command, timeout)
		if ctx.Err() != nil {
			msg = fmt.Sprintf("%s cancelled", command)
		}
		return Fail(msg, msg, data), nil
	case exitCode != 0:
		errMsg := fmt.Sprintf("%s exited with code %d", command, exitCode)
		if stderr := strings.TrimSpace(stderrBuf.String()); stderr != "" {
			errMsg += ": " + stderr
		}
		return Fail(fmt.Sprintf("%s failed", command), errMsg, data), nil
	default:
		return Succeed(fmt.Sprintf("%s completed", command), data), nil
	}
}

// resolvePath joins a relative path onto base. Absolute paths and an empty
// base are returned unchanged.
func resolvePath(base, path string) string {
	if path == "" {
		return base
	}
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// --- limitedWriter ---

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess from
// blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
