package nodes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	flowrun "flowrun"
	"flowrun/utils"
)

// DefaultElseHandle is activated when no condition of an if node matches.
const DefaultElseHandle = "false"

// IfNode evaluates its conditions in order and activates the handle of the
// first one that holds. Conditions are expr expressions over the input:
//
//	{"conditions": [{"id": "adult", "expr": "age >= 18"}], "elseHandle": "minor"}
//
// Input keys are visible at the top level, and also as `input`; execution
// variables are visible as `vars`.
type IfNode struct {
	programs sync.Map // expression -> *vm.Program
}

type ifCondition struct {
	ID   string `json:"id"`
	Expr string `json:"expr"`
}

type ifConfig struct {
	Conditions []ifCondition `json:"conditions"`
	ElseHandle string        `json:"elseHandle"`
}

func (n *IfNode) Branching() bool { return true }

func (n *IfNode) Validate(data flowrun.NodeData) error {
	var cfg ifConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if len(cfg.Conditions) == 0 {
		return errors.New("if node needs at least one condition")
	}
	for i, c := range cfg.Conditions {
		if c.ID == "" {
			return fmt.Errorf("condition %d has no id", i)
		}
		if _, err := n.compile(c.Expr); err != nil {
			return fmt.Errorf("condition %s: %w", c.ID, err)
		}
	}
	return nil
}

func (n *IfNode) Execute(_ context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg ifConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	activated := cfg.ElseHandle
	if activated == "" {
		activated = DefaultElseHandle
	}

	env := utils.CloneMap(input)
	env["input"] = input
	if ectx != nil && ectx.Variables != nil {
		env["vars"] = ectx.Variables.Snapshot()
	}

	for _, c := range cfg.Conditions {
		program, err := n.compile(c.Expr)
		if err != nil {
			return flowrun.Fail(fmt.Errorf("condition %s: %w", c.ID, err))
		}
		out, err := vm.Run(program, env)
		if err != nil {
			return flowrun.Fail(fmt.Errorf("condition %s: %w", c.ID, err))
		}
		if ok, _ := out.(bool); ok {
			activated = c.ID
			break
		}
	}

	output := utils.CloneMap(input)
	output[flowrun.ActivatedHandleKey] = activated
	return flowrun.Continue(output)
}

func (n *IfNode) compile(code string) (*vm.Program, error) {
	if cached, ok := n.programs.Load(code); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(code, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}
	n.programs.Store(code, program)
	return program, nil
}
