package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/maestro/internal/actions"
	"github.com/rendis/maestro/internal/streaming"
	"github.com/rendis/maestro/internal/validation"
	"github.com/rendis/maestro/pkg/schema"
)

// --- Test helpers ---

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures the inputs and context of every call to the "record" action.
type recorder struct {
	mu    sync.Mutex
	calls []map[string]any
	ctxs  []actions.ActionContext
}

func (r *recorder) handler(_ context.Context, inputs map[string]any, actx actions.ActionContext) (*schema.ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inputs)
	r.ctxs = append(r.ctxs, actx)
	return actions.Succeed("recorded", inputs), nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func def(name string, h actions.Handler) *actions.ActionDefinition {
	return &actions.ActionDefinition{Name: name, Handler: h}
}

type testEnv struct {
	registry *actions.Registry
	executor *Executor
	rec      *recorder
}

func newTestEnv(t *testing.T, opts ...ExecutorOption) *testEnv {
	t.Helper()
	reg := actions.NewRegistry()
	reg.Register(actions.AssertAction())
	for _, d := range actions.CoreActions(discardLogger()) {
		reg.Register(d)
	}

	rec := &recorder{}
	reg.Register(def("record", rec.handler))
	reg.Register(def("boom", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		return nil, errors.New("kaboom")
	}))
	reg.Register(def("panic", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		panic("handler exploded")
	}))
	reg.Register(def("nothing", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		return nil, nil
	}))
	reg.Register(def("soft-fail", func(_ context.Context, inputs map[string]any, _ actions.ActionContext) (*schema.ActionResult, error) {
		return actions.Fail("soft failure", "", map[string]any{"partial": inputs["partial"]}), nil
	}))

	base := []ExecutorOption{WithLogger(discardLogger()), WithClock(func() time.Time { return fixedNow })}
	return &testEnv{
		registry: reg,
		executor: NewExecutor(reg, append(base, opts...)...),
		rec:      rec,
	}
}

func step(action string, inputs map[string]any) schema.PlaybookStep {
	return schema.PlaybookStep{Action: action, Inputs: inputs}
}

func playbook(steps ...schema.PlaybookStep) *schema.Playbook {
	return &schema.Playbook{Name: "test", Steps: steps}
}

func actionNames(results []schema.StepExecutionResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Step
	}
	return out
}

// --- ExecuteAction ---

func TestExecuteAction_UnknownAction(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecuteAction(context.Background(), "does.not.exist", nil, ActionOptions{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not registered")
	assert.Equal(t, "action 'does.not.exist' is not registered", res.Error)
	assert.Equal(t, "does.not.exist", res.Action)
	assert.Equal(t, "does.not.exist", res.Step)
}

func TestExecuteAction_HandlerErrorBecomesFailure(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecuteAction(context.Background(), "boom", nil, ActionOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "kaboom", res.Error)
}

func TestExecuteAction_MaestroErrorUsesMessage(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(def("structured", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		return nil, schema.NewError(schema.ErrCodeExecution, "disk full")
	}))
	res := env.executor.ExecuteAction(context.Background(), "structured", nil, ActionOptions{})
	assert.Equal(t, "disk full", res.Error)
}

func TestExecuteAction_WrappedMaestroErrorKeepsContext(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(def("wrapped", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		return nil, fmt.Errorf("deploy step failed: %w", schema.NewError(schema.ErrCodeExecution, "timeout"))
	}))
	res := env.executor.ExecuteAction(context.Background(), "wrapped", nil, ActionOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "deploy step failed: timeout", res.Error)
}

func TestExecuteAction_PanicBecomesFailure(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecuteAction(context.Background(), "panic", nil, ActionOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "handler exploded", res.Error)
}

func TestExecuteAction_NilResult(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecuteAction(context.Background(), "nothing", nil, ActionOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "action 'nothing' returned no result", res.Error)
}

func TestExecuteAction_ElapsedMeasuredWithClock(t *testing.T) {
	now := fixedNow
	env := newTestEnv(t, WithClock(func() time.Time {
		now = now.Add(25 * time.Millisecond)
		return now
	}))
	res := env.executor.ExecuteAction(context.Background(), "set", map[string]any{"value": 1}, ActionOptions{})
	require.True(t, res.Success)
	assert.Equal(t, int64(25), res.ElapsedMs)
}

func TestExecuteAction_Assert(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		condition any
		not       bool
		want      bool
	}{
		{true, false, true},
		{"false", false, false},
		{"0", false, false},
		{"", false, false},
		{0, false, false},
		{[]any{}, false, false},
		{[]any{1}, false, true},
		{map[string]any{}, false, true},
		{map[string]any{"success": false}, false, false},
		{map[string]any{"passed": true}, false, true},
		{nil, true, true},
		{true, true, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v/not=%v", tc.condition, tc.not), func(t *testing.T) {
			res := env.executor.ExecuteAction(context.Background(), "assert", map[string]any{
				"condition": tc.condition,
				"message":   "check",
				"not":       tc.not,
			}, ActionOptions{})
			assert.Equal(t, tc.want, res.Success)
			data := res.Data.(map[string]any)
			assert.Equal(t, !tc.not, data["expected"])
		})
	}
}

func TestExecuteAction_DefaultsAndValidation(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	env := newTestEnv(t, WithInputValidator(v))
	env.registry.Register(&actions.ActionDefinition{
		Name: "typed",
		Inputs: map[string]schema.InputSpec{
			"count": {Type: schema.TypeInteger, Required: true},
			"mode":  {Type: schema.TypeString, Default: "fast"},
		},
		Handler: func(_ context.Context, inputs map[string]any, _ actions.ActionContext) (*schema.ActionResult, error) {
			return actions.Succeed("ok", inputs), nil
		},
	})

	ok := env.executor.ExecuteAction(context.Background(), "typed", map[string]any{"count": 2}, ActionOptions{})
	require.True(t, ok.Success, ok.Error)
	assert.Equal(t, map[string]any{"count": 2, "mode": "fast"}, ok.Data)

	bad := env.executor.ExecuteAction(context.Background(), "typed", map[string]any{"count": "two"}, ActionOptions{})
	assert.False(t, bad.Success)
	assert.Contains(t, bad.Error, "invalid inputs for action 'typed'")
	assert.Contains(t, bad.Error, "/count")

	missing := env.executor.ExecuteAction(context.Background(), "typed", nil, ActionOptions{})
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Error, "count")
}

func TestExecuteAction_ContextPassedToHandler(t *testing.T) {
	env := newTestEnv(t)
	vars := map[string]any{"a": map[string]any{"b": 1}}
	env.executor.ExecuteAction(context.Background(), "record", nil, ActionOptions{Cwd: "/work", SessionID: "s-1", Variables: vars})

	require.Equal(t, 1, env.rec.count())
	actx := env.rec.ctxs[0]
	assert.Equal(t, "/work", actx.Cwd)
	assert.Equal(t, "s-1", actx.SessionID)
	assert.Equal(t, vars, actx.Variables)

	actx.Variables["a"].(map[string]any)["b"] = 2
	assert.Equal(t, 1, vars["a"].(map[string]any)["b"])
}

// --- ExecutePlaybook ---

func TestExecutePlaybook_AllSucceed(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecutePlaybook(context.Background(), playbook(
		step("record", map[string]any{"n": 1}),
		step("record", map[string]any{"n": 2}),
	), Options{RunID: "run-1"})

	assert.True(t, res.Success)
	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "test", res.Playbook)
	assert.Equal(t, 2, res.TotalSteps)
	assert.Equal(t, 2, res.SuccessfulSteps)
	assert.Zero(t, res.FailedSteps)
	assert.Equal(t, fixedNow, res.StartedAt)
	assert.Equal(t, fixedNow, res.CompletedAt)
}

func TestExecutePlaybook_GeneratesRunID(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecutePlaybook(context.Background(), playbook(step("record", nil)), Options{})
	assert.Len(t, res.RunID, 36)
	require.Len(t, env.rec.ctxs, 1)
	assert.Equal(t, res.RunID, env.rec.ctxs[0].RunID)
}

func TestExecutePlaybook_StopsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecutePlaybook(context.Background(), playbook(
		step("boom", nil),
		step("record", nil),
	), Options{})

	assert.False(t, res.Success)
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, "kaboom", res.StepResults[0].Error)
	assert.Equal(t, 1, res.FailedSteps)
	assert.Zero(t, env.rec.count())
	assert.Equal(t, schema.RunStatusCompleted, res.Status)
}

func TestExecutePlaybook_ContinueOnError(t *testing.T) {
	env := newTestEnv(t)
	failing := step("boom", nil)
	failing.ContinueOnError = true

	res := env.executor.ExecutePlaybook(context.Background(), playbook(failing, step("record", nil)), Options{})

	require.Len(t, res.StepResults, 2)
	assert.False(t, res.StepResults[0].Success)
	assert.True(t, res.StepResults[1].Success)
	assert.Equal(t, 1, res.FailedSteps)
	assert.Equal(t, 1, res.SuccessfulSteps)
	assert.False(t, res.Success)
}

func TestExecutePlaybook_StoreAsPreservesType(t *testing.T) {
	env := newTestEnv(t)
	first := step("set", map[string]any{"value": map[string]any{"count": 3, "tags": []any{"a", "b"}, "ok": true}})
	first.StoreAs = "r"

	res := env.executor.ExecutePlaybook(context.Background(), playbook(
		first,
		step("record", map[string]any{
			"count":  "{{ variables.r.count }}",
			"tags":   "{{ variables.r.tags }}",
			"ok":     "{{ r.ok }}",
			"label":  "count={{ variables.r.count }} ok={{ variables.r.ok }}",
			"absent": "{{ variables.nope }}",
			"blank":  "[{{ variables.nope }}]",
		}),
	), Options{})

	require.True(t, res.Success)
	require.Equal(t, 1, env.rec.count())
	got := env.rec.calls[0]
	assert.Equal(t, 3, got["count"])
	assert.Equal(t, []any{"a", "b"}, got["tags"])
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "count=3 ok=true", got["label"])
	assert.Nil(t, got["absent"])
	assert.Equal(t, "[]", got["blank"])
	assert.Equal(t, 3, res.Variables["r"].(map[string]any)["count"])
}

func TestExecutePlaybook_StoreAsBindsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	failing := step("soft-fail", map[string]any{"partial": 7})
	failing.StoreAs = "attempt"
	failing.ContinueOnError = true

	res := env.executor.ExecutePlaybook(context.Background(), playbook(
		failing,
		step("record", map[string]any{"p": "{{ variables.attempt.partial }}"}),
	), Options{})

	assert.Equal(t, map[string]any{"partial": 7}, res.Variables["attempt"])
	assert.Equal(t, 7, env.rec.calls[0]["p"])
	assert.Equal(t, "soft failure", res.StepResults[0].Error)
}

func TestExecutePlaybook_ConditionSkips(t *testing.T) {
	env := newTestEnv(t)
	flagged := step("set", map[string]any{"value": 0})
	flagged.StoreAs = "flag"

	skipFalse := step("record", map[string]any{"which": "false"})
	skipFalse.Condition = "false"
	skipZero := step("record", map[string]any{"which": "0"})
	skipZero.Condition = "0"
	skipVar := step("record", map[string]any{"which": "var"})
	skipVar.Condition = "{{ variables.flag }}"
	runs := step("record", map[string]any{"which": "yes"})
	runs.Condition = "{{ inputs.enabled }}"

	res := env.executor.ExecutePlaybook(context.Background(), playbook(flagged, skipFalse, skipZero, skipVar, runs),
		Options{Inputs: map[string]any{"enabled": true}})

	require.Len(t, res.StepResults, 5)
	for _, r := range res.StepResults[1:4] {
		assert.True(t, r.Skipped)
		assert.True(t, r.Success)
	}
	assert.False(t, res.StepResults[4].Skipped)
	assert.Equal(t, 3, res.SkippedSteps)
	assert.Equal(t, 2, res.SuccessfulSteps)
	assert.Zero(t, res.FailedSteps)
	assert.True(t, res.Success)
	require.Equal(t, 1, env.rec.count())
	assert.Equal(t, "yes", env.rec.calls[0]["which"])
}

func TestExecutePlaybook_AlreadyAborted(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hookCalls := 0
	res := env.executor.ExecutePlaybook(ctx, playbook(step("record", nil), step("record", nil)), Options{
		OnStepStart:    func(schema.PlaybookStep, int) { hookCalls++ },
		OnStepComplete: func(schema.StepExecutionResult, int) { hookCalls++ },
	})

	assert.False(t, res.Success)
	assert.True(t, res.Aborted())
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, "Aborted", res.StepResults[0].Error)
	assert.True(t, res.StepResults[0].Aborted)
	assert.Zero(t, res.FailedSteps)
	assert.Equal(t, 1, res.TotalSteps)
	assert.Zero(t, env.rec.count())
	assert.Zero(t, hookCalls)
}

func TestExecutePlaybook_AbortMidRunAtNextBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.registry.Register(def("cancel", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		cancel()
		return actions.Succeed("cancelled the run", nil), nil
	}))

	res := env.executor.ExecutePlaybook(ctx, playbook(
		step("cancel", nil),
		step("record", nil),
		step("record", nil),
	), Options{})

	require.Len(t, res.StepResults, 2)
	assert.True(t, res.StepResults[0].Success)
	assert.True(t, res.StepResults[1].Aborted)
	assert.Equal(t, "record", res.StepResults[1].Step)
	assert.Equal(t, schema.RunStatusAborted, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SuccessfulSteps)
	assert.Zero(t, res.FailedSteps)
	assert.Zero(t, env.rec.count())
}

func TestExecutePlaybook_HandlerPanicDoesNotEscape(t *testing.T) {
	env := newTestEnv(t)
	var res *schema.PlaybookExecutionResult
	require.NotPanics(t, func() {
		res = env.executor.ExecutePlaybook(context.Background(), playbook(step("panic", nil)), Options{})
	})
	assert.Equal(t, "handler exploded", res.StepResults[0].Error)
}

func TestExecutePlaybook_UnknownActionIsFailedStep(t *testing.T) {
	env := newTestEnv(t)
	res := env.executor.ExecutePlaybook(context.Background(), playbook(step("missing", nil)), Options{})
	require.Len(t, res.StepResults, 1)
	assert.Contains(t, res.StepResults[0].Error, "not registered")
	assert.Equal(t, 1, res.FailedSteps)
}

func TestExecutePlaybook_HookOrderAndIndices(t *testing.T) {
	env := newTestEnv(t)
	skipped := step("record", nil)
	skipped.Condition = "false"
	named := step("record", nil)
	named.Name = "named"

	var events []string
	res := env.executor.ExecutePlaybook(context.Background(), playbook(step("set", nil), skipped, named), Options{
		OnStepStart: func(s schema.PlaybookStep, i int) {
			events = append(events, fmt.Sprintf("start:%d:%s", i, s.Label()))
		},
		OnStepComplete: func(r schema.StepExecutionResult, i int) {
			events = append(events, fmt.Sprintf("done:%d:%s:%v", i, r.Step, r.Skipped))
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, []string{
		"start:0:set", "done:0:set:false",
		"start:1:record", "done:1:record:true",
		"start:2:named", "done:2:named:false",
	}, events)
}

func TestExecutePlaybook_OnFailureOrdering(t *testing.T) {
	env := newTestEnv(t)
	failing := step("boom", nil)
	failing.Name = "A"
	h1 := step("record", map[string]any{"h": 1})
	h1.Name = "H1"
	h2 := step("record", map[string]any{"h": 2})
	h2.Name = "H2"
	failing.OnFailure = []schema.PlaybookStep{h1, h2}
	after := step("record", nil)
	after.Name = "B"

	res := env.executor.ExecutePlaybook(context.Background(), playbook(failing, after), Options{})
	assert.Equal(t, []string{"A", "H1", "H2"}, actionNames(res.StepResults))
	assert.False(t, res.Success)

	failing.ContinueOnError = true
	res = env.executor.ExecutePlaybook(context.Background(), playbook(failing, after), Options{})
	assert.Equal(t, []string{"A", "H1", "H2", "B"}, actionNames(res.StepResults))
	assert.Equal(t, 1, res.FailedSteps)
	assert.Equal(t, 3, res.SuccessfulSteps)
}

func TestExecutePlaybook_FailingHandlerStopsRemainingHandlers(t *testing.T) {
	env := newTestEnv(t)
	failing := step("boom", nil)
	failing.Name = "A"
	h1 := step("boom", nil)
	h1.Name = "H1"
	h2 := step("record", nil)
	h2.Name = "H2"
	failing.OnFailure = []schema.PlaybookStep{h1, h2}
	failing.ContinueOnError = true
	after := step("record", nil)
	after.Name = "B"

	res := env.executor.ExecutePlaybook(context.Background(), playbook(failing, after), Options{})
	assert.Equal(t, []string{"A", "H1", "B"}, actionNames(res.StepResults))
	assert.Equal(t, 2, res.FailedSteps)

	h1.ContinueOnError = true
	failing.OnFailure = []schema.PlaybookStep{h1, h2}
	res = env.executor.ExecutePlaybook(context.Background(), playbook(failing, after), Options{})
	assert.Equal(t, []string{"A", "H1", "H2", "B"}, actionNames(res.StepResults))
}

func TestExecutePlaybook_NestedOnFailureIgnored(t *testing.T) {
	env := newTestEnv(t)
	deep := step("record", nil)
	deep.Name = "deep"
	h1 := step("boom", nil)
	h1.Name = "H1"
	h1.OnFailure = []schema.PlaybookStep{deep}
	failing := step("boom", nil)
	failing.Name = "A"
	failing.OnFailure = []schema.PlaybookStep{h1}

	res := env.executor.ExecutePlaybook(context.Background(), playbook(failing), Options{})
	assert.Equal(t, []string{"A", "H1"}, actionNames(res.StepResults))
	assert.Zero(t, env.rec.count())
}

func TestExecutePlaybook_OnFailureSeesFailedResult(t *testing.T) {
	env := newTestEnv(t)
	failing := step("soft-fail", map[string]any{"partial": "x"})
	failing.StoreAs = "attempt"
	handler := step("record", map[string]any{"seen": "{{ variables.attempt.partial }}"})
	skippedHandler := step("record", nil)
	skippedHandler.Condition = "false"
	failing.OnFailure = []schema.PlaybookStep{handler, skippedHandler}

	res := env.executor.ExecutePlaybook(context.Background(), playbook(failing), Options{})
	require.Len(t, res.StepResults, 3)
	assert.True(t, res.StepResults[2].Skipped)
	assert.Equal(t, "x", env.rec.calls[0]["seen"])
}

func TestExecutePlaybook_AbortDuringOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.registry.Register(def("cancel", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		cancel()
		return actions.Succeed("ok", nil), nil
	}))

	failing := step("boom", nil)
	failing.ContinueOnError = true
	failing.OnFailure = []schema.PlaybookStep{step("cancel", nil), step("record", nil)}

	res := env.executor.ExecutePlaybook(ctx, playbook(failing, step("record", nil)), Options{})
	require.Len(t, res.StepResults, 3)
	assert.True(t, res.StepResults[2].Aborted)
	assert.True(t, res.Aborted())
	assert.Zero(t, env.rec.count())
}

func TestExecutePlaybook_VariablesAndInputs(t *testing.T) {
	env := newTestEnv(t)
	pb := playbook(step("record", map[string]any{
		"env":     "{{ variables.env }}",
		"target":  "{{ inputs.target }}",
		"retries": "{{ inputs.retries }}",
		"cwd":     "{{ context.cwd }}",
		"session": "{{ context.session_id }}",
	}))
	pb.Inputs = map[string]schema.InputSpec{
		"target":  {Type: schema.TypeString, Required: true},
		"retries": {Type: schema.TypeInteger, Default: 3},
	}

	initial := map[string]any{"env": "prod"}
	res := env.executor.ExecutePlaybook(context.Background(), pb, Options{
		Cwd:       "/srv",
		SessionID: "sess",
		Variables: initial,
		Inputs:    map[string]any{"target": "db"},
	})

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{
		"env": "prod", "target": "db", "retries": 3, "cwd": "/srv", "session": "sess",
	}, env.rec.calls[0])
	assert.Equal(t, map[string]any{"target": "db", "retries": 3}, env.rec.ctxs[0].Inputs)

	res.Variables["env"] = "changed"
	assert.Equal(t, "prod", initial["env"])
}

func TestExecutePlaybook_HandlerCannotMutateRunVariables(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(def("mutate", func(_ context.Context, _ map[string]any, actx actions.ActionContext) (*schema.ActionResult, error) {
		actx.Variables["injected"] = true
		return actions.Succeed("ok", nil), nil
	}))

	res := env.executor.ExecutePlaybook(context.Background(), playbook(step("mutate", nil)), Options{
		Variables: map[string]any{"x": 1},
	})
	assert.Equal(t, map[string]any{"x": 1}, res.Variables)
}

func TestExecutePlaybook_TypedDataIsNotShared(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(def("make", func(context.Context, map[string]any, actions.ActionContext) (*schema.ActionResult, error) {
		return actions.Succeed("made", map[string]any{
			"list": []string{"a", "b"},
			"env":  map[string]string{"k": "v"},
		}), nil
	}))
	env.registry.Register(def("scribble", func(_ context.Context, _ map[string]any, actx actions.ActionContext) (*schema.ActionResult, error) {
		made := actx.Variables["made"].(map[string]any)
		made["list"].([]string)[0] = "MUTATED"
		made["env"].(map[string]string)["k"] = "MUTATED"
		return actions.Succeed("ok", nil), nil
	}))

	first := step("make", nil)
	first.StoreAs = "made"
	res := env.executor.ExecutePlaybook(context.Background(), playbook(first, step("scribble", nil)), Options{})
	require.True(t, res.Success)

	made := res.Variables["made"].(map[string]any)
	assert.Equal(t, []string{"a", "b"}, made["list"])
	assert.Equal(t, map[string]string{"k": "v"}, made["env"])
}

func TestExecutePlaybook_DeterministicRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	first := step("set", map[string]any{"value": map[string]any{"n": 1}})
	first.StoreAs = "one"
	second := step("record", map[string]any{"from": "{{ variables.one.n }}"})
	second.StoreAs = "two"
	gated := step("record", nil)
	gated.Condition = "{{ variables.missing }}"
	check := step("assert", map[string]any{"condition": "{{ variables.two.from }}", "message": "from is set"})

	pb := playbook(first, second, gated, check)
	opts := Options{Variables: map[string]any{"seed": 42}}

	a := env.executor.ExecutePlaybook(context.Background(), pb, opts)
	b := env.executor.ExecutePlaybook(context.Background(), pb, opts)

	strip := func(rs []schema.StepExecutionResult) []schema.StepExecutionResult {
		out := make([]schema.StepExecutionResult, len(rs))
		for i, r := range rs {
			r.ElapsedMs = 0
			out[i] = r
		}
		return out
	}
	require.True(t, a.Success)
	assert.Equal(t, strip(a.StepResults), strip(b.StepResults))
	assert.Equal(t, a.Variables, b.Variables)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestExecutePlaybook_EmptyAndNil(t *testing.T) {
	env := newTestEnv(t)

	res := env.executor.ExecutePlaybook(context.Background(), nil, Options{})
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Empty(t, res.StepResults)
	assert.NotNil(t, res.StepResults)
	assert.NotNil(t, res.Variables)
}

func TestExecutePlaybook_PublishesEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{RunID: "run-ev"})
	require.NoError(t, err)
	defer cancel()

	env := newTestEnv(t, WithPublisher(hub))
	skipped := step("record", nil)
	skipped.Condition = "0"
	res := env.executor.ExecutePlaybook(context.Background(), playbook(step("set", nil), skipped, step("boom", nil)),
		Options{RunID: "run-ev"})
	require.False(t, res.Success)

	var types []string
	for _, e := range drain(ch, 8) {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepStarted, schema.EventStepCompleted,
		schema.EventStepStarted, schema.EventStepSkipped,
		schema.EventStepStarted, schema.EventStepFailed,
		schema.EventRunCompleted,
	}, types)
}

func TestExecutePlaybook_PublishesAbortEvenWhenCancelled(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, unsubscribe, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventRunAborted},
	})
	require.NoError(t, err)
	defer unsubscribe()

	env := newTestEnv(t, WithPublisher(hub))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.executor.ExecutePlaybook(ctx, playbook(step("record", nil)), Options{RunID: "r-abort"})

	events := drain(ch, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "r-abort", events[0].RunID)
}

func TestExecutePlaybook_FSMHooksObserveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	var seen []schema.RunStatus
	record := func(_ string, _, to schema.RunStatus) error {
		seen = append(seen, to)
		return nil
	}
	env.executor.FSM().OnAfter(schema.RunStatusPending, schema.RunStatusRunning, record)
	env.executor.FSM().OnAfter(schema.RunStatusRunning, schema.RunStatusCompleted, record)

	env.executor.ExecutePlaybook(context.Background(), playbook(step("set", nil)), Options{})
	assert.Equal(t, []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusCompleted}, seen)
}
