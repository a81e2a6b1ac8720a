package nodes

import (
	"context"
	"errors"
	"fmt"

	flowrun "flowrun"
)

var errNoInvoker = errors.New("sub-flow invocation is not available in this context")

// SubFlowNode runs another flow as a direct nested call and outputs its last
// output. The calling flow is blocked until the child finishes.
type SubFlowNode struct{}

type subFlowConfig struct {
	FlowID string `json:"flowId"`
}

func (SubFlowNode) Validate(data flowrun.NodeData) error {
	var cfg subFlowConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if cfg.FlowID == "" {
		return errors.New("sub-flow node requires flowId")
	}
	return nil
}

func (SubFlowNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg subFlowConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	if ectx.Invoker == nil {
		return flowrun.Fail(errNoInvoker)
	}
	report := ectx.Invoker.InvokeSubFlow(ctx, cfg.FlowID, input, ectx)
	if err := flowrun.NewSubFlowError(cfg.FlowID, report); err != nil {
		return flowrun.Fail(err)
	}
	return flowrun.Continue(report.LastOutput)
}

// LLMStreamNode streams an LLM reply. For every chunk it runs the flow named
// by data.subFlowId with {"chunk", "index", "text"}, reusing the run id so the
// nested calls belong to the same run.
type LLMStreamNode struct{}

type llmStreamConfig struct {
	llmConfig `json:",squash"`
	SubFlowID string `json:"subFlowId"`
}

func (LLMStreamNode) Validate(data flowrun.NodeData) error {
	var cfg llmStreamConfig
	return decodeData(data, &cfg)
}

func (LLMStreamNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg llmStreamConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	if cfg.SubFlowID != "" && ectx.Invoker == nil {
		return flowrun.Fail(errNoInvoker)
	}
	req, err := buildRequest(ctx, cfg.llmConfig, input, ectx.Bag)
	if err != nil {
		return flowrun.Fail(err)
	}

	index := 0
	text := ""
	full, err := ectx.Bag.GenerateStream(ctx, req, func(chunk string) error {
		text += chunk
		current := index
		index++
		if cfg.SubFlowID == "" {
			return nil
		}
		report := ectx.Invoker.InvokeSubFlow(ctx, cfg.SubFlowID, map[string]any{
			"chunk": chunk,
			"index": current,
			"text":  text,
		}, ectx)
		return flowrun.NewSubFlowError(cfg.SubFlowID, report)
	})
	if err != nil {
		return flowrun.Fail(fmt.Errorf("stream failed: %w", err))
	}
	return flowrun.Continue(map[string]any{"result": full, "chunks": index})
}
