package orchestrator

import (
	"context"

	flowrun "flowrun"
)

// runScope describes the run a context belongs to. Commands issued from
// inside a run use it to nest under that run instead of queueing behind it.
type runScope struct {
	runID string
	vars  *flowrun.Variables
	depth int
	path  []string
}

type scopeKey struct{}

func withScope(ctx context.Context, s runScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) (runScope, bool) {
	s, ok := ctx.Value(scopeKey{}).(runScope)
	return s, ok
}
