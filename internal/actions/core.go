package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/maestro/internal/logging"
	"github.com/rendis/maestro/pkg/schema"
)

// CoreActions returns the flow-control actions: set, log, fail and wait.
func CoreActions(logger *slog.Logger) []*ActionDefinition {
	if logger == nil {
		logger = slog.Default()
	}
	return []*ActionDefinition{
		setAction(),
		logAction(logger),
		failAction(),
		waitAction(),
	}
}

// --- set ---

func setAction() *ActionDefinition {
	return &ActionDefinition{
		Name:        "set",
		Description: "Return the given value as step data, for binding with store_as",
		Inputs: map[string]schema.InputSpec{
			"value": {Type: schema.TypeAny, Description: "value to bind"},
		},
		Outputs: map[string]schema.OutputSpec{
			"data": {Type: schema.TypeAny, Description: "the value, unchanged"},
		},
		Handler: func(_ context.Context, inputs map[string]any, _ ActionContext) (*schema.ActionResult, error) {
			return Succeed("value set", inputs["value"]), nil
		},
	}
}

// --- log ---

func logAction(logger *slog.Logger) *ActionDefinition {
	return &ActionDefinition{
		Name:        "log",
		Description: "Write a structured log entry with run context",
		Inputs: map[string]schema.InputSpec{
			"message": {Type: schema.TypeString, Required: true},
			"level":   {Type: schema.TypeString, Default: "info", Description: "debug, info, warn or error"},
			"data":    {Type: schema.TypeAny},
		},
		Handler: func(ctx context.Context, inputs map[string]any, _ ActionContext) (*schema.ActionResult, error) {
			message := stringParam(inputs, "message", "")
			if message == "" {
				return nil, schema.NewError(schema.ErrCodeValidation, "log: missing required param 'message'")
			}

			var attrs []any
			if data, ok := inputs["data"]; ok {
				attrs = append(attrs, slog.Any("data", data))
			}

			l := logging.LogWith(ctx, logger)
			switch stringParam(inputs, "level", "info") {
			case "debug":
				l.Debug(message, attrs...)
			case "warn":
				l.Warn(message, attrs...)
			case "error":
				l.Error(message, attrs...)
			default:
				l.Info(message, attrs...)
			}

			return Succeed(message, map[string]any{"logged": true}), nil
		},
	}
}

// --- fail ---

func failAction() *ActionDefinition {
	return &ActionDefinition{
		Name:        "fail",
		Description: "Fail the step with a reason; pair with on_failure or continue_on_error",
		Inputs: map[string]schema.InputSpec{
			"reason": {Type: schema.TypeString, Default: "fail invoked"},
		},
		Handler: func(_ context.Context, inputs map[string]any, _ ActionContext) (*schema.ActionResult, error) {
			reason := stringParam(inputs, "reason", "fail invoked")
			return Fail(reason, reason, nil), nil
		},
	}
}

// --- wait ---

func waitAction() *ActionDefinition {
	return &ActionDefinition{
		Name:        "wait",
		Description: "Sleep for a duration, returning early if the run is cancelled",
		Inputs: map[string]schema.InputSpec{
			"duration": {Type: schema.TypeAny, Required: true, Description: "Go duration string or milliseconds"},
		},
		Outputs: map[string]schema.OutputSpec{
			"waited_ms": {Type: schema.TypeInteger},
		},
		Handler: func(ctx context.Context, inputs map[string]any, _ ActionContext) (*schema.ActionResult, error) {
			d, ok := durationParam(inputs, "duration", 0)
			if !ok || d < 0 {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "wait: invalid duration %v", inputs["duration"])
			}

			start := time.Now()
			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case <-timer.C:
				return Succeed(fmt.Sprintf("waited %s", d), map[string]any{"waited_ms": d.Milliseconds()}), nil
			case <-ctx.Done():
				return nil, schema.NewError(schema.ErrCodeCancelled, "wait interrupted").
					WithCause(ctx.Err()).
					WithDetails(map[string]any{"waited_ms": time.Since(start).Milliseconds()})
			}
		},
	}
}
