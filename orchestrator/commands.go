package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	flowrun "flowrun"
)

// RunFlowByName backs the "/flow-run" chat command and returns the result
// for the chat: an error message, a JSON encoded object, or a plain string.
//
// Called from outside a run, the flow is queued as a top-level run and the
// call blocks until it finishes or ctx is done, so it is serialized with
// other runs and stopped by StopAllFlows. Called from a node inside a run,
// it nests under that run like a sub-flow.
func (o *Orchestrator) RunFlowByName(ctx context.Context, name, jsonParams string) string {
	flow, ok := o.flows.FlowByName(strings.TrimSpace(name))
	if !ok {
		return fmt.Sprintf("Error: flow %q not found", name)
	}

	params := map[string]any{}
	if raw := strings.TrimSpace(jsonParams); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return fmt.Sprintf("Error: invalid parameters: %v", err)
		}
	}

	var report flowrun.ExecutionReport
	if scope, nested := scopeFrom(ctx); nested {
		report = o.ExecuteFlow(ctx, flow.ID, params, scope.depth+1, flowrun.RunOptions{
			RunID:     scope.runID,
			Variables: scope.vars,
			Source:    "command",
		}, scope.path)
	} else {
		report = o.awaitRun(ctx, flow.ID, params, flowrun.RunOptions{Source: "command"})
	}
	if report.Error != nil {
		return "Error: " + report.Error.Message
	}

	switch out := report.LastOutput.(type) {
	case nil:
		return ""
	case string:
		return out
	default:
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(data)
	}
}

// awaitRun queues a top-level run and waits for its final report.
func (o *Orchestrator) awaitRun(ctx context.Context, flowID string, input map[string]any, opts flowrun.RunOptions) flowrun.ExecutionReport {
	result := make(chan flowrun.ExecutionReport, 1)
	opts.Result = result
	queued := o.ExecuteFlow(ctx, flowID, input, 0, opts, nil)
	if queued.Status != flowrun.StatusPending {
		return queued
	}
	select {
	case report := <-result:
		return report
	case <-ctx.Done():
		return flowrun.ErrorReport(queued.RunID, ctx.Err())
	}
}

// StopAllFlows backs the "/flow-stop" chat command.
func (o *Orchestrator) StopAllFlows() string {
	return o.AbortAllRuns()
}
