package actions

import "log/slog"

// BuiltinConfig configures the built-in actions.
type BuiltinConfig struct {
	Logger *slog.Logger
	Shell  ShellConfig
	FS     FSConfig
}

// Builtins returns every built-in action definition.
func Builtins(cfg BuiltinConfig) ([]*ActionDefinition, error) {
	all := make([]*ActionDefinition, 0, 16)

	all = append(all, AssertAction())
	all = append(all, CoreActions(cfg.Logger)...)

	exprActions, err := ExprActions()
	if err != nil {
		return nil, err
	}
	all = append(all, exprActions...)

	all = append(all, ShellAction(cfg.Shell))
	all = append(all, FSActions(cfg.FS)...)

	return all, nil
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	all, err := Builtins(cfg)
	if err != nil {
		return err
	}
	for _, def := range all {
		reg.Register(def)
	}
	return nil
}
