package nodes

import (
	"context"
	"time"

	flowrun "flowrun"
	"flowrun/utils"
)

// NodeAttributes describes an executor's own retry policy. The engine never
// retries; executors opt in by being wrapped.
type NodeAttributes struct {
	// RetryAttempts is the number of additional times to rerun the executor
	// when it fails. Zero means do not retry.
	RetryAttempts int
	// RetryDelay is the pause between retry attempts.
	RetryDelay time.Duration
}

// WithRetry decorates exec so failed outcomes are retried per attrs.
// Terminate and Continue outcomes are returned as they are.
func WithRetry(exec flowrun.NodeExecutor, attrs NodeAttributes) flowrun.NodeExecutor {
	if exec == nil || attrs.RetryAttempts <= 0 {
		return exec
	}
	return &retryExecutor{inner: exec, attrs: attrs}
}

type retryExecutor struct {
	inner flowrun.NodeExecutor
	attrs NodeAttributes
}

func (r *retryExecutor) Validate(data flowrun.NodeData) error {
	return r.inner.Validate(data)
}

func (r *retryExecutor) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var outcome flowrun.Outcome
	err := utils.WithRetry(ctx, r.attrs.RetryAttempts+1, r.attrs.RetryDelay, func(attempt int) error {
		outcome = r.inner.Execute(ctx, node, input, ectx)
		if outcome.Kind == flowrun.OutcomeFail {
			if attempt <= r.attrs.RetryAttempts {
				ectx.Log().Debug("retrying node", "node_id", node.ID, "attempt", attempt, "error", outcome.Err)
			}
			return outcome.Err
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return flowrun.Fail(err)
	}
	return outcome
}

func (r *retryExecutor) Branching() bool { return flowrun.IsBranching(r.inner) }

func (r *retryExecutor) Dangerous() bool { return flowrun.IsDangerous(r.inner) }
