package nodes

import (
	"context"
	"time"

	flowrun "flowrun"
)

// DelayNode waits for the configured number of milliseconds, then passes
// its input through. It returns early when the run is cancelled.
type DelayNode struct{}

type delayConfig struct {
	Milliseconds int `json:"ms"`
}

func (DelayNode) Validate(data flowrun.NodeData) error {
	var cfg delayConfig
	return decodeData(data, &cfg)
}

func (DelayNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, _ *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg delayConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	timer := time.NewTimer(time.Duration(cfg.Milliseconds) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return flowrun.Fail(ctx.Err())
	case <-timer.C:
		return flowrun.Continue(input)
	}
}
