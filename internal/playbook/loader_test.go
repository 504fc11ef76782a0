package playbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/maestro/pkg/schema"
)

func TestLoadFile(t *testing.T) {
	pb, err := LoadFile("testdata/deploy.yaml")
	require.NoError(t, err)

	assert.Equal(t, "deploy-service", pb.Name)
	require.Len(t, pb.Steps, 3)
	assert.Equal(t, schema.InputSpec{Type: "integer", Default: 2}, pb.Inputs["replicas"])
	assert.True(t, pb.Inputs["service"].Required)

	build := pb.Steps[0]
	assert.Equal(t, "shell.exec", build.Action)
	assert.Equal(t, "build", build.StoreAs)
	assert.Equal(t, []any{"build"}, build.Inputs["args"])

	require.Len(t, pb.Steps[1].OnFailure, 1)
	assert.Equal(t, "log", pb.Steps[1].OnFailure[0].Action)
	assert.Equal(t, "{{ inputs.replicas }}", pb.Steps[2].Condition)
	assert.True(t, pb.Steps[2].ContinueOnError)
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestLoadFile_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFile("testdata/unknown-field.yaml")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeLoad))
	assert.Contains(t, err.Error(), "retries")

	var me *schema.MaestroError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "testdata/unknown-field.yaml", me.Details["path"])
}

func TestParse_JSONDocument(t *testing.T) {
	pb, err := ParseString(`{"name": "json", "steps": [{"action": "set", "inputs": {"value": 1.5}}]}`)
	require.NoError(t, err)
	assert.Equal(t, "json", pb.Name)
	assert.Equal(t, 1.5, pb.Steps[0].Inputs["value"])
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not yaml":   "name: [unclosed",
		"wrong type": "name: x\nsteps: nope\n",
		"multi doc":  "name: a\nsteps: []\n---\nname: b\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseString(doc)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeLoad), err.Error())
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	pb, err := LoadFile("testdata/deploy.yaml")
	require.NoError(t, err)

	out, err := Marshal(pb)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "copy.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o644))
	again, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pb, again)
}
