// Package playbook loads playbook documents and resolves their inputs.
package playbook

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/maestro/pkg/schema"
)

// LoadFile reads and decodes a playbook YAML (or JSON) file.
func LoadFile(path string) (*schema.Playbook, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "playbook file %s not found", path).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "open playbook: %s", err.Error()).WithCause(err)
	}
	defer f.Close()

	pb, err := Parse(f)
	if err != nil {
		var me *schema.MaestroError
		if errors.As(err, &me) {
			me.Details = mergeDetails(me.Details, map[string]any{"path": path})
		}
		return nil, err
	}
	return pb, nil
}

// Parse decodes a single playbook document. Unknown keys are rejected.
func Parse(r io.Reader) (*schema.Playbook, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var pb schema.Playbook
	if err := dec.Decode(&pb); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, schema.NewError(schema.ErrCodeLoad, "playbook document is empty")
		}
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "decode playbook: %s", err.Error()).WithCause(err)
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, schema.NewError(schema.ErrCodeLoad, "playbook must be a single YAML document")
	}
	return &pb, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(b []byte) (*schema.Playbook, error) {
	return Parse(bytes.NewReader(b))
}

// ParseString is Parse over inline YAML.
func ParseString(s string) (*schema.Playbook, error) {
	return Parse(strings.NewReader(s))
}

// Marshal renders a playbook back to YAML.
func Marshal(pb *schema.Playbook) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pb); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "encode playbook: %s", err.Error()).WithCause(err)
	}
	if err := enc.Close(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "encode playbook: %s", err.Error()).WithCause(err)
	}
	return buf.Bytes(), nil
}

func mergeDetails(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
