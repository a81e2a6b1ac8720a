package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	flowrun "flowrun"
)

const defaultCodeTimeout = 5 * time.Second

// CodeNode runs user-authored JavaScript in a fresh goja runtime. The script
// is the body of a function receiving `input` and `vars`; its return value is
// the node output. Only hosts that allow dangerous nodes may run it.
//
//	{"script": "return { total: input.a + input.b }", "timeoutMs": 1000}
type CodeNode struct{}

type codeConfig struct {
	Script    string `json:"script"`
	TimeoutMs int    `json:"timeoutMs"`
}

func (*CodeNode) Dangerous() bool { return true }

func (*CodeNode) Validate(data flowrun.NodeData) error {
	var cfg codeConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if cfg.Script == "" {
		return errors.New("code node requires a script")
	}
	if _, err := goja.Compile("", wrapScript(cfg.Script), true); err != nil {
		return fmt.Errorf("compile script: %w", err)
	}
	return nil
}

func (*CodeNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) (outcome flowrun.Outcome) {
	var cfg codeConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	timeout := defaultCodeTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	program, err := goja.Compile(node.ID, wrapScript(cfg.Script), true)
	if err != nil {
		return flowrun.Fail(fmt.Errorf("compile script: %w", err))
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("input", input); err != nil {
		return flowrun.Fail(err)
	}
	if err := vm.Set("vars", scriptVars(ectx)); err != nil {
		return flowrun.Fail(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-done:
		}
	}()

	defer func() {
		if caught := recover(); caught != nil {
			outcome = flowrun.Fail(fmt.Errorf("script panic: %v", caught))
		}
	}()

	value, err := vm.RunProgram(program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return flowrun.Fail(ctx.Err())
			}
			return flowrun.Fail(fmt.Errorf("script timed out after %s", timeout))
		}
		return flowrun.Fail(fmt.Errorf("script error: %w", err))
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return flowrun.Continue(nil)
	}
	return flowrun.Continue(value.Export())
}

func wrapScript(body string) string {
	return "(function(input, vars) {\n" + body + "\n})(input, vars)"
}

func scriptVars(ectx *flowrun.ExecutionContext) map[string]any {
	vars := ectx.Variables
	return map[string]any{
		"get": func(name string) any {
			v, _ := vars.Get(name)
			return v
		},
		"set": func(name string, value any) {
			vars.Set(name, value)
		},
	}
}
