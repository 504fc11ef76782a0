package actions

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rendis/maestro/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAction builds a minimal definition whose handler reports its tag.
func stubAction(name, tag string) *ActionDefinition {
	return &ActionDefinition{
		Name:        name,
		Description: "stub " + tag,
		Handler: func(_ context.Context, _ map[string]any, _ ActionContext) (*schema.ActionResult, error) {
			return Succeed(tag, nil), nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubAction("test.action", "a"))

	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("test.action"))

	def, ok := reg.Get("test.action")
	require.True(t, ok)
	assert.Equal(t, "test.action", def.Name)
}

func TestRegistry_Register_OverwriteLastWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubAction("dup", "first"))
	reg.Register(stubAction("dup", "second"))

	assert.Equal(t, 1, reg.Count())
	def, ok := reg.Get("dup")
	require.True(t, ok)

	res, err := def.Handler(context.Background(), nil, ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Message)
}

func TestRegistry_Register_IgnoresInvalid(t *testing.T) {
	reg := NewRegistry()
	reg.Register(nil)
	reg.Register(&ActionDefinition{Name: ""})
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := NewRegistry()
	def, ok := reg.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, def)
	assert.False(t, reg.Has("missing"))
}

func TestRegistry_Clear(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubAction("a", "a"))
	reg.Register(stubAction("b", "b"))

	reg.Clear()
	assert.Equal(t, 0, reg.Count())
	_, ok := reg.Get("a")
	assert.False(t, ok)

	reg.Register(stubAction("a", "again"))
	assert.True(t, reg.Has("a"))
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubAction("zeta", "z"))
	reg.Register(stubAction("alpha", "a"))
	reg.Register(stubAction("mid", "m"))

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "stub a", list[0].Description)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			reg.Register(stubAction(fmt.Sprintf("action.%d", n), "x"))
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.List()
			_ = reg.Has("action.0")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, reg.Count())
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{}))

	for _, name := range []string{"assert", "set", "log", "fail", "wait", "expr.eval", "cel.eval", "jq", "shell.exec", "fs.read", "fs.write"} {
		def, ok := reg.Get(name)
		require.True(t, ok, name)
		assert.NotNil(t, def.Handler, name)
		assert.NotEmpty(t, def.Description, name)
	}
}

func TestActionContext_Scope(t *testing.T) {
	actx := ActionContext{Cwd: "/w", SessionID: "s", Variables: map[string]any{"a": 1}}
	scope := actx.Scope()

	assert.Equal(t, map[string]any{"a": 1}, scope["variables"])
	assert.Equal(t, map[string]any{}, scope["inputs"])
	assert.Equal(t, "/w", scope["context"].(map[string]any)["cwd"])
	assert.Equal(t, "s", scope["context"].(map[string]any)["session_id"])
}
