package actions

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rendis/maestro/internal/expressions"
	"github.com/rendis/maestro/pkg/schema"
)

const defaultMaxReadSize = 50 * 1024 * 1024 // 50MB

// FSConfig configures the filesystem actions.
type FSConfig struct {
	MaxReadSize int64
}

// FSActions returns fs.read and fs.write. Relative paths resolve against the
// session working directory.
func FSActions(cfg FSConfig) []*ActionDefinition {
	if cfg.MaxReadSize <= 0 {
		cfg.MaxReadSize = defaultMaxReadSize
	}
	return []*ActionDefinition{
		fsReadAction(cfg),
		fsWriteAction(),
	}
}

// isBinary checks if data contains null bytes (binary detection heuristic).
func isBinary(data []byte) bool {
	check := data
	if len(check) > 8192 {
		check = check[:8192]
	}
	for _, b := range check {
		if b == 0 {
			return true
		}
	}
	return false
}

func fsPath(name string, params map[string]any, actx ActionContext) (string, error) {
	p := stringParam(params, "path", "")
	if p == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'path'", name)
	}
	abs, err := filepath.Abs(resolvePath(actx.Cwd, p))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid path %q: %v", name, p, err)
	}
	return abs, nil
}

// --- fs.read ---

func fsReadAction(cfg FSConfig) *ActionDefinition {
	return &ActionDefinition{
		Name:        "fs.read",
		Description: "Read the contents of a file",
		Inputs: map[string]schema.InputSpec{
			"path":     {Type: schema.TypeString, Required: true},
			"encoding": {Type: schema.TypeString, Default: "auto", Description: "text, base64 or auto"},
		},
		Outputs: map[string]schema.OutputSpec{
			"path":     {Type: schema.TypeString},
			"content":  {Type: schema.TypeString},
			"encoding": {Type: schema.TypeString},
			"size":     {Type: schema.TypeInteger},
		},
		Handler: func(_ context.Context, params map[string]any, actx ActionContext) (*schema.ActionResult, error) {
			path, err := fsPath("fs.read", params, actx)
			if err != nil {
				return nil, err
			}
			enc := stringParam(params, "encoding", "auto")
			if enc != "text" && enc != "base64" && enc != "auto" {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "fs.read: invalid encoding %q", enc)
			}

			f, err := os.Open(path)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "fs.read: %v", err).WithCause(err)
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, cfg.MaxReadSize))
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "fs.read: failed to read file: %v", err).WithCause(err)
			}

			if enc == "auto" {
				if isBinary(data) {
					enc = "base64"
				} else {
					enc = "text"
				}
			}

			content := string(data)
			if enc == "base64" {
				content = base64.StdEncoding.EncodeToString(data)
			}

			return Succeed(fmt.Sprintf("read %d bytes from %s", len(data), path), map[string]any{
				"path":     path,
				"content":  content,
				"encoding": enc,
				"size":     len(data),
			}), nil
		},
	}
}

// --- fs.write ---

func fsWriteAction() *ActionDefinition {
	return &ActionDefinition{
		Name:        "fs.write",
		Description: "Write content to a file, creating or overwriting it",
		Inputs: map[string]schema.InputSpec{
			"path":        {Type: schema.TypeString, Required: true},
			"content":     {Type: schema.TypeAny, Required: true, Description: "strings are written as is, other values as JSON"},
			"create_dirs": {Type: schema.TypeBoolean, Default: false},
			"append":      {Type: schema.TypeBoolean, Default: false},
			"mode":        {Type: schema.TypeInteger, Default: 420},
		},
		Outputs: map[string]schema.OutputSpec{
			"path": {Type: schema.TypeString},
			"size": {Type: schema.TypeInteger},
		},
		Handler: func(_ context.Context, params map[string]any, actx ActionContext) (*schema.ActionResult, error) {
			path, err := fsPath("fs.write", params, actx)
			if err != nil {
				return nil, err
			}
			raw, ok := params["content"]
			if !ok {
				return nil, schema.NewError(schema.ErrCodeValidation, "fs.write: missing required param 'content'")
			}

			data := []byte(expressions.Stringify(raw))

			if boolParam(params, "create_dirs", false) {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return nil, schema.NewErrorf(schema.ErrCodeExecution, "fs.write: failed to create directories: %v", err).WithCause(err)
				}
			}

			flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			if boolParam(params, "append", false) {
				flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
			}
			f, err := os.OpenFile(path, flags, os.FileMode(intParam(params, "mode", 0o644)))
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "fs.write: %v", err).WithCause(err)
			}
			if _, err := f.Write(data); err != nil {
				f.Close()
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "fs.write: %v", err).WithCause(err)
			}
			if err := f.Close(); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "fs.write: %v", err).WithCause(err)
			}

			return Succeed(fmt.Sprintf("wrote %d bytes to %s", len(data), path), map[string]any{
				"path": path,
				"size": len(data),
			}), nil
		},
	}
}
