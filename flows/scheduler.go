package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	flowrun "flowrun"
)

// Registry resolves a node kind to its executor.
type Registry interface {
	Lookup(kind string) (flowrun.NodeExecutor, bool)
}

// ExecuteOptions carries the recursion bookkeeping of one scheduler call.
type ExecuteOptions struct {
	Variables     *flowrun.Variables
	ExecutionPath []string
	Invoker       flowrun.SubFlowInvoker
}

// Scheduler executes a single flow graph in topological order.
type Scheduler struct {
	registry Registry
	logger   *slog.Logger
	monitors Monitors
}

// NewScheduler builds a scheduler over registry. A nil logger uses slog.Default.
func NewScheduler(registry Registry, logger *slog.Logger, monitors ...Monitor) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{registry: registry, logger: logger}
	for _, m := range monitors {
		s.monitors.Add(m)
	}
	return s
}

// AddMonitor registers a node lifecycle observer.
func (s *Scheduler) AddMonitor(monitor Monitor) {
	s.monitors.Add(monitor)
}

// Execute runs flow to completion, failure or cancellation. It never returns
// an error; every failure is captured in the report. Cancellation is observed
// through ctx before each ready node is dequeued.
func (s *Scheduler) Execute(ctx context.Context, runID string, flow *flowrun.Flow, initialInput map[string]any, bag flowrun.CapabilityBag, depth int, opts ExecuteOptions) flowrun.ExecutionReport {
	report := flowrun.ExecutionReport{RunID: runID, ExecutedNodes: []flowrun.NodeReport{}}

	vars := opts.Variables
	if vars == nil {
		vars = flowrun.NewVariables(nil)
	}
	logger := s.logger.With("run_id", runID, "flow_id", flow.ID, "depth", depth)
	ectx := &flowrun.ExecutionContext{
		Flow:          flow,
		Bag:           bag,
		Variables:     vars,
		Depth:         depth,
		ExecutionPath: opts.ExecutionPath,
		RunID:         runID,
		Invoker:       opts.Invoker,
		Logger:        logger,
	}

	g := buildGraph(flow)
	outputs := make(map[string]any, len(g.nodes))

	queue := make([]string, 0, len(g.order))
	for _, n := range g.order {
		if g.inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	unlock := func(edges []flowrun.Edge) {
		for _, e := range edges {
			g.inDegree[e.Target]--
			if g.inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			report.Fail(abortError(err))
			logger.Info("flow execution aborted", "executed", len(report.ExecutedNodes))
			return report
		}

		id := queue[0]
		queue = queue[1:]
		node := g.nodes[id]

		if node.Data.Disabled() {
			report.ExecutedNodes = append(report.ExecutedNodes, flowrun.NodeReport{
				NodeID: node.ID,
				Type:   node.Type,
				Output: flowrun.DisabledMarker,
			})
			s.emit(ctx, ectx, Event{Type: EventNodeSkipped, NodeID: node.ID, NodeType: node.Type})
			unlock(g.outgoing[id])
			continue
		}

		input := resolveInput(g.incoming[id], outputs, initialInput)

		exec, ok := s.registry.Lookup(node.Type)
		if !ok {
			err := &flowrun.NodeExecutionError{NodeID: node.ID, Type: node.Type, Err: fmt.Errorf("%w %q", flowrun.ErrUnknownNodeType, node.Type)}
			s.emit(ctx, ectx, Event{Type: EventNodeError, NodeID: node.ID, NodeType: node.Type, Err: err})
			report.Fail(err)
			return report
		}

		s.emit(ctx, ectx, Event{Type: EventNodeStart, NodeID: node.ID, NodeType: node.Type})
		outcome := invoke(ctx, exec, node, input, ectx)

		switch outcome.Kind {
		case flowrun.OutcomeTerminate:
			report.ExecutedNodes = append(report.ExecutedNodes, flowrun.NodeReport{
				NodeID: node.ID,
				Type:   node.Type,
				Input:  input,
				Output: flowrun.TerminatedMarker,
			})
			report.LastOutput = map[string]any{}
			report.Status = flowrun.StatusCompleted
			s.emit(ctx, ectx, Event{Type: EventFlowTerminated, NodeID: node.ID, NodeType: node.Type, Output: outcome.Output})
			logger.Debug("flow terminated by node", "node_id", node.ID)
			return report

		case flowrun.OutcomeFail:
			err := outcome.Err
			if err == nil {
				err = errors.New("node failed without an error")
			}
			s.emit(ctx, ectx, Event{Type: EventNodeError, NodeID: node.ID, NodeType: node.Type, Err: err})
			if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, ctxErr) || errors.Is(err, flowrun.ErrAborted)) {
				report.Fail(abortError(ctxErr))
				report.Error.NodeID = node.ID
				return report
			}
			report.Fail(&flowrun.NodeExecutionError{NodeID: node.ID, Type: node.Type, Err: err})
			logger.Warn("node execution failed", "node_id", node.ID, "node_type", node.Type, "error", err)
			return report

		default:
			outputs[id] = outcome.Output
			report.ExecutedNodes = append(report.ExecutedNodes, flowrun.NodeReport{
				NodeID: node.ID,
				Type:   node.Type,
				Input:  input,
				Output: outcome.Output,
			})
			report.LastOutput = outcome.Output
			s.emit(ctx, ectx, Event{Type: EventNodeEnd, NodeID: node.ID, NodeType: node.Type, Output: outcome.Output})
			unlock(followedEdges(g.outgoing[id], flowrun.IsBranching(exec), outcome.Output))
		}
	}

	report.Status = flowrun.StatusCompleted
	return report
}

func invoke(ctx context.Context, exec flowrun.NodeExecutor, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) (outcome flowrun.Outcome) {
	defer func() {
		if caught := recover(); caught != nil {
			outcome = flowrun.Fail(fmt.Errorf("executor panic: %v", caught))
		}
	}()
	return exec.Execute(ctx, node, input, ectx)
}

func abortError(ctxErr error) error {
	if errors.Is(ctxErr, context.Canceled) {
		return flowrun.ErrAborted
	}
	return fmt.Errorf("%w: %v", flowrun.ErrAborted, ctxErr)
}

func (s *Scheduler) emit(ctx context.Context, ectx *flowrun.ExecutionContext, event Event) {
	event.RunID = ectx.RunID
	event.FlowID = ectx.Flow.ID
	event.FlowName = ectx.Flow.Name
	event.Depth = ectx.Depth
	s.monitors.Emit(ctx, event)
}
