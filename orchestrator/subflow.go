package orchestrator

import (
	"context"

	flowrun "flowrun"
)

var _ flowrun.SubFlowInvoker = (*Orchestrator)(nil)

// InvokeSubFlow runs flowID as a nested call of the run described by ectx.
// Depth, execution path, run id and variables are threaded through so the
// cycle and depth guards see the whole chain.
func (o *Orchestrator) InvokeSubFlow(ctx context.Context, flowID string, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.ExecutionReport {
	opts := flowrun.RunOptions{
		RunID:     ectx.RunID,
		Variables: ectx.Variables,
		Source:    "sub_flow",
	}
	return o.ExecuteFlow(ctx, flowID, input, ectx.Depth+1, opts, ectx.ExecutionPath)
}
