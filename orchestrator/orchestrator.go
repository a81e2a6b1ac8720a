// Package orchestrator owns flow runs: the single-flight queue for top-level
// runs, nested sub-flow calls, cancellation, triggers and run history.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/robfig/cron/v3"

	flowrun "flowrun"
	"flowrun/flows"
	"flowrun/history"
	"flowrun/validate"
)

// DefaultMaxDepth bounds sub-flow nesting.
const DefaultMaxDepth = 10

// Migrator upgrades a stored flow definition to the current data schema
// before it is validated and run.
type Migrator interface {
	Migrate(flow *flowrun.Flow) (*flowrun.Flow, error)
}

// MigratorFunc adapts a function to Migrator.
type MigratorFunc func(flow *flowrun.Flow) (*flowrun.Flow, error)

func (f MigratorFunc) Migrate(flow *flowrun.Flow) (*flowrun.Flow, error) { return f(flow) }

type noMigration struct{}

func (noMigration) Migrate(flow *flowrun.Flow) (*flowrun.Flow, error) { return flow, nil }

// Config wires an Orchestrator. Flows and Registry are required.
type Config struct {
	Flows     FlowStore
	Registry  flows.Registry
	Validator validate.Gate
	Bag       flowrun.CapabilityBag
	History   *history.Store
	Migrator  Migrator
	Monitors  []flows.Monitor
	Logger    *slog.Logger
	// MaxDepth defaults to DefaultMaxDepth.
	MaxDepth int
	// AllowDangerous permits node kinds flagged as dangerous.
	AllowDangerous bool
}

// Orchestrator runs flows. Top-level runs are serialized through a FIFO
// queue; sub-flows run inline on the caller's goroutine.
type Orchestrator struct {
	flows          FlowStore
	scheduler      *flows.Scheduler
	gate           validate.Gate
	bag            flowrun.CapabilityBag
	history        *history.Store
	migrator       Migrator
	monitors       flows.Monitors
	logger         *slog.Logger
	maxDepth       int
	allowDangerous bool

	mu          sync.Mutex
	queue       []flowrun.RunQueueEntry
	isExecuting bool
	active      *activeRun
	busy        bool
	idle        chan struct{}

	triggerMu sync.RWMutex
	triggers  []TriggerBinding
	cron      *cron.Cron
}

// activeRun is the top-level run currently owning the queue.
type activeRun struct {
	flowID         string
	flowName       string
	runID          string
	cancel         context.CancelFunc
	abortRequested bool
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Flows == nil {
		return nil, errors.New("orchestrator: flow store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator: node registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := cfg.Validator
	if gate == nil {
		gate = validate.NewStructural(cfg.Registry)
	}
	migrator := cfg.Migrator
	if migrator == nil {
		migrator = noMigration{}
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	idle := make(chan struct{})
	close(idle)

	o := &Orchestrator{
		flows:          cfg.Flows,
		scheduler:      flows.NewScheduler(cfg.Registry, logger),
		gate:           gate,
		bag:            cfg.Bag,
		history:        cfg.History,
		migrator:       migrator,
		logger:         logger,
		maxDepth:       maxDepth,
		allowDangerous: cfg.AllowDangerous,
		idle:           idle,
		cron:           cron.New(),
	}
	for _, m := range cfg.Monitors {
		o.AddMonitor(m)
	}
	return o, nil
}

// AddMonitor registers an observer for both run and node events.
func (o *Orchestrator) AddMonitor(monitor flows.Monitor) {
	o.monitors.Add(monitor)
	o.scheduler.AddMonitor(monitor)
}

// ExecuteFlow is the single entry point for running a flow.
//
// At depth 0 the flow is validated and queued; the returned report is an
// empty pending placeholder, or an error report when validation fails.
// Results of queued runs are delivered through monitors and history.
// At depth > 0 the flow runs synchronously and the real report is returned.
func (o *Orchestrator) ExecuteFlow(ctx context.Context, flowID string, input map[string]any, depth int, opts flowrun.RunOptions, path []string) flowrun.ExecutionReport {
	if depth > 0 {
		return o.run(ctx, flowID, input, depth, opts, path)
	}

	flow, err := o.prepare(flowID)
	if err != nil {
		o.logger.Warn("flow rejected", "flow_id", flowID, "error", err)
		o.emitRun(ctx, flows.EventRunFailed, opts.RunID, o.stubFlow(flowID), 0, opts.Source, nil, err)
		o.notify(ctx, "error", fmt.Sprintf("Flow %q failed to start: %v", flowID, err))
		return flowrun.ErrorReport(opts.RunID, err)
	}

	if opts.RunID == "" {
		opts.RunID = newRunID()
	}
	o.enqueue(ctx, flow, flowrun.RunQueueEntry{FlowID: flowID, Input: input, Options: opts})
	return flowrun.ExecutionReport{RunID: opts.RunID, ExecutedNodes: []flowrun.NodeReport{}, Status: flowrun.StatusPending}
}

// prepare fetches, migrates and validates a flow.
func (o *Orchestrator) prepare(flowID string) (*flowrun.Flow, error) {
	flow, ok := o.flows.Flow(flowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", flowrun.ErrFlowNotFound, flowID)
	}
	migrated, err := o.migrator.Migrate(flow)
	if err != nil {
		return nil, fmt.Errorf("%w: migrate %s: %v", flowrun.ErrValidation, flow.DisplayName(), err)
	}
	if err := o.gate.Validate(migrated, o.allowDangerous).Err(); err != nil {
		return nil, err
	}
	return migrated, nil
}

// run executes one flow. Top-level runs own cancellation, notifications and
// history; nested runs inherit the caller's context and variables.
func (o *Orchestrator) run(ctx context.Context, flowID string, input map[string]any, depth int, opts flowrun.RunOptions, path []string) flowrun.ExecutionReport {
	if slices.Contains(path, flowID) {
		return flowrun.ErrorReport(opts.RunID, o.cycleError(path, flowID))
	}
	if depth > o.maxDepth {
		return flowrun.ErrorReport(opts.RunID, fmt.Errorf("%w: depth %d exceeds the limit of %d", flowrun.ErrDepthLimit, depth, o.maxDepth))
	}

	flow, err := o.prepare(flowID)
	if err != nil {
		report := flowrun.ErrorReport(opts.RunID, err)
		if depth == 0 {
			// the definition changed while the run was queued
			o.finish(o.stubFlow(flowID), opts.Source, report)
		}
		return report
	}

	nextPath := append(slices.Clone(path), flowID)
	runID := opts.RunID
	if runID == "" {
		runID = newRunID()
	}

	vars := opts.Variables
	runCtx := ctx
	if depth == 0 {
		vars = flowrun.NewVariables(nil)
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(context.Background())
		defer cancel()
		o.attachCancel(runID, flow, cancel)

		o.emitRun(runCtx, flows.EventRunStarted, runID, flow, depth, opts.Source, nil, nil)
	}
	runCtx = withScope(runCtx, runScope{runID: runID, vars: vars, depth: depth, path: nextPath})

	report := o.scheduler.Execute(runCtx, runID, flow, input, o.bag, depth, flows.ExecuteOptions{
		Variables:     vars,
		ExecutionPath: nextPath,
		Invoker:       o,
	})

	if depth == 0 {
		o.finish(flow, opts.Source, report)
	}
	return report
}

func (o *Orchestrator) cycleError(path []string, flowID string) error {
	names := make([]string, 0, len(path)+1)
	for _, id := range path {
		names = append(names, o.flowName(id))
	}
	names = append(names, o.flowName(flowID))
	return fmt.Errorf("%w: %s", flowrun.ErrCycle, strings.Join(names, " -> "))
}

// stubFlow names a flow whose definition could not be prepared.
func (o *Orchestrator) stubFlow(id string) *flowrun.Flow {
	return &flowrun.Flow{ID: id, Name: o.flowName(id)}
}

func (o *Orchestrator) flowName(id string) string {
	if f, ok := o.flows.Flow(id); ok {
		return f.DisplayName()
	}
	return id
}

// finish publishes the outcome of a top-level run.
func (o *Orchestrator) finish(flow *flowrun.Flow, source string, report flowrun.ExecutionReport) {
	ctx := context.Background()
	logger := o.logger.With("run_id", report.RunID, "flow_id", flow.ID)

	switch {
	case report.IsAborted():
		logger.Info("flow aborted")
		o.emitRun(ctx, flows.EventRunAborted, report.RunID, flow, 0, source, report.LastOutput, errors.New(report.Error.Message))
		o.notify(ctx, "info", fmt.Sprintf("Flow %q was aborted.", flow.DisplayName()))
	case report.Error != nil:
		logger.Error("flow failed", "node_id", report.Error.NodeID, "error", report.Error.Message)
		o.emitRun(ctx, flows.EventRunFailed, report.RunID, flow, 0, source, report.LastOutput, errors.New(report.Error.Message))
		msg := fmt.Sprintf("Flow %q failed: %s", flow.DisplayName(), report.Error.Message)
		if report.Error.NodeID != "" {
			msg = fmt.Sprintf("Flow %q failed at node %s: %s", flow.DisplayName(), report.Error.NodeID, report.Error.Message)
		}
		o.notify(ctx, "error", msg)
	default:
		logger.Info("flow completed", "nodes", len(report.ExecutedNodes))
		o.emitRun(ctx, flows.EventRunCompleted, report.RunID, flow, 0, source, report.LastOutput, nil)
	}

	if o.history == nil {
		return
	}
	if err := o.history.Add(history.Entry{FlowID: flow.ID, FlowName: flow.DisplayName(), Source: source, Report: report}); err != nil {
		logger.Warn("record history", "error", err)
	}
}

func (o *Orchestrator) emitRun(ctx context.Context, typ flows.EventType, runID string, flow *flowrun.Flow, depth int, source string, output any, err error) {
	o.monitors.Emit(ctx, flows.Event{
		Type:     typ,
		RunID:    runID,
		FlowID:   flow.ID,
		FlowName: flow.DisplayName(),
		Depth:    depth,
		Output:   output,
		Err:      err,
		Source:   source,
	})
}

func (o *Orchestrator) notify(ctx context.Context, level, message string) {
	if o.bag == nil {
		return
	}
	if err := o.bag.Notify(ctx, level, message); err != nil {
		o.logger.Debug("notify failed", "error", err)
	}
}

// History returns the run history store, or nil when none is configured.
func (o *Orchestrator) History() *history.Store {
	return o.history
}

// Flows returns the flow store.
func (o *Orchestrator) Flows() FlowStore {
	return o.flows
}

func newRunID() string {
	return uuid.Must(uuid.NewV4()).String()
}
