package flowrun

import (
	"context"
	"log/slog"
	"sync"
)

// SubFlowInvoker runs a nested flow as a direct call on behalf of a node.
type SubFlowInvoker interface {
	InvokeSubFlow(ctx context.Context, flowID string, input map[string]any, ectx *ExecutionContext) ExecutionReport
}

// ExecutionContext is what a node executor sees of the run it belongs to.
// The cancellation signal travels separately as the context.Context.
type ExecutionContext struct {
	Flow          *Flow
	Bag           CapabilityBag
	Variables     *Variables
	Depth         int
	ExecutionPath []string
	RunID         string
	Invoker       SubFlowInvoker
	Logger        *slog.Logger
}

// RunOptions tunes a single ExecuteFlow call.
type RunOptions struct {
	// RunID is reused by streaming sub-invocations; empty allocates a new id.
	RunID string
	// Variables carries the run-scoped store into sub-flows.
	Variables *Variables
	// Source names what started the run, e.g. "manual", "event:chat_message", "cron".
	Source string
	// Result receives the final report of a queued top-level run, including
	// runs cleared from the queue before they started. The send never
	// blocks, so the channel needs a buffer of one.
	Result chan<- ExecutionReport
}

// Variables is the execution-scoped key/value store shared by a top-level
// run and every sub-flow it invokes.
type Variables struct {
	mu   sync.RWMutex
	vals map[string]any
}

func NewVariables(seed map[string]any) *Variables {
	v := &Variables{vals: make(map[string]any, len(seed))}
	for k, val := range seed {
		v.vals[k] = val
	}
	return v
}

func (v *Variables) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.vals[key]
	return val, ok
}

func (v *Variables) Set(key string, val any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vals[key] = val
}

func (v *Variables) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.vals, key)
}

// Snapshot returns a shallow copy of the current values.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.vals))
	for k, val := range v.vals {
		out[k] = val
	}
	return out
}

// Log returns the context logger, or slog.Default when none was set.
func (e *ExecutionContext) Log() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// RunQueueEntry is a top-level run waiting for the single-flight queue.
type RunQueueEntry struct {
	FlowID  string
	Input   map[string]any
	Options RunOptions
}
