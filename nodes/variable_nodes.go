package nodes

import (
	"context"
	"errors"
	"fmt"

	flowrun "flowrun"
)

type variableConfig struct {
	Scope    string `json:"scope"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
	ValueKey string `json:"valueKey"`
}

func (c variableConfig) scope() flowrun.VarScope {
	if c.Scope == "" {
		return flowrun.ScopeExecution
	}
	return flowrun.VarScope(c.Scope)
}

func validateVariable(data flowrun.NodeData) error {
	var cfg variableConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if cfg.Name == "" {
		return errors.New("variable name is required")
	}
	switch cfg.scope() {
	case flowrun.ScopeLocal, flowrun.ScopeGlobal, flowrun.ScopeExecution:
		return nil
	}
	return fmt.Errorf("unknown variable scope %q", cfg.Scope)
}

// SetVariableNode writes a variable. Execution-scoped writes are visible to
// later nodes and to nested sub-flows of the same run.
type SetVariableNode struct{}

func (SetVariableNode) Validate(data flowrun.NodeData) error { return validateVariable(data) }

func (SetVariableNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg variableConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	value := cfg.Value
	if cfg.ValueKey != "" {
		value = input[cfg.ValueKey]
	} else if value == nil {
		value = input["value"]
	}

	if cfg.scope() == flowrun.ScopeExecution {
		ectx.Variables.Set(cfg.Name, value)
	} else if err := ectx.Bag.SetVar(ctx, cfg.scope(), cfg.Name, value); err != nil {
		return flowrun.Fail(fmt.Errorf("set %s variable %s: %w", cfg.scope(), cfg.Name, err))
	}
	return flowrun.Continue(map[string]any{"name": cfg.Name, "value": value})
}

// GetVariableNode reads a variable and outputs {"value": ...}.
type GetVariableNode struct{}

func (GetVariableNode) Validate(data flowrun.NodeData) error { return validateVariable(data) }

func (GetVariableNode) Execute(ctx context.Context, node flowrun.Node, _ map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg variableConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	if cfg.scope() == flowrun.ScopeExecution {
		value, ok := ectx.Variables.Get(cfg.Name)
		if !ok {
			value = cfg.Value
		}
		return flowrun.Continue(map[string]any{"value": value})
	}
	value, err := ectx.Bag.GetVar(ctx, cfg.scope(), cfg.Name)
	if err != nil {
		return flowrun.Fail(fmt.Errorf("get %s variable %s: %w", cfg.scope(), cfg.Name, err))
	}
	return flowrun.Continue(map[string]any{"value": value})
}
