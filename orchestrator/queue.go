package orchestrator

import (
	"context"
	"fmt"

	flowrun "flowrun"
	"flowrun/flows"
)

func (o *Orchestrator) enqueue(ctx context.Context, flow *flowrun.Flow, entry flowrun.RunQueueEntry) {
	o.mu.Lock()
	o.queue = append(o.queue, entry)
	if !o.busy {
		o.busy = true
		o.idle = make(chan struct{})
	}
	o.mu.Unlock()

	o.logger.Debug("flow queued", "flow_id", flow.ID, "run_id", entry.Options.RunID)
	o.emitRun(ctx, flows.EventRunQueued, entry.Options.RunID, flow, 0, entry.Options.Source, nil, nil)

	go o.processQueue()
}

// processQueue drains the queue one run at a time. Concurrent callers return
// immediately while a run is in flight; the running drain picks up whatever
// was queued in the meantime.
func (o *Orchestrator) processQueue() {
	o.mu.Lock()
	if o.isExecuting {
		o.mu.Unlock()
		return
	}
	if len(o.queue) == 0 {
		o.settleLocked()
		o.mu.Unlock()
		return
	}
	entry := o.queue[0]
	o.queue = o.queue[1:]
	o.isExecuting = true
	o.active = &activeRun{flowID: entry.FlowID, flowName: entry.FlowID, runID: entry.Options.RunID}
	o.mu.Unlock()

	o.runEntry(entry)

	o.mu.Lock()
	o.isExecuting = false
	o.active = nil
	o.mu.Unlock()

	o.processQueue()
}

func (o *Orchestrator) runEntry(entry flowrun.RunQueueEntry) {
	var report flowrun.ExecutionReport
	defer func() {
		if caught := recover(); caught != nil {
			o.logger.Error("run panicked", "flow_id", entry.FlowID, "run_id", entry.Options.RunID, "panic", caught)
			report = flowrun.ErrorReport(entry.Options.RunID, fmt.Errorf("run panicked: %v", caught))
		}
		deliver(entry.Options, report)
	}()
	report = o.run(context.Background(), entry.FlowID, entry.Input, 0, entry.Options, nil)
}

// deliver hands report to a caller waiting on the run, if any.
func deliver(opts flowrun.RunOptions, report flowrun.ExecutionReport) {
	if opts.Result == nil {
		return
	}
	select {
	case opts.Result <- report:
	default:
	}
}

// settleLocked releases Wait callers once nothing is queued or running.
func (o *Orchestrator) settleLocked() {
	if o.busy && !o.isExecuting && len(o.queue) == 0 {
		o.busy = false
		close(o.idle)
	}
}

// attachCancel hands the cancel func of the active run to AbortCurrentRun.
// An abort requested before the run started cancels it right away.
func (o *Orchestrator) attachCancel(runID string, flow *flowrun.Flow, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.runID != runID {
		return
	}
	o.active.cancel = cancel
	o.active.flowName = flow.DisplayName()
	if o.active.abortRequested {
		cancel()
	}
}

// AbortCurrentRun signals cancellation to the running top-level flow. The
// scheduler observes it before dequeuing its next node; a node already
// executing is only interrupted if its executor honours the context.
func (o *Orchestrator) AbortCurrentRun() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return false
	}
	o.active.abortRequested = true
	if o.active.cancel != nil {
		o.active.cancel()
	}
	o.logger.Info("abort requested", "flow_id", o.active.flowID, "run_id", o.active.runID)
	return true
}

// AbortAllRuns clears pending runs, aborts the active one and returns a
// human-readable summary.
func (o *Orchestrator) AbortAllRuns() string {
	o.mu.Lock()
	dropped := o.queue
	cleared := len(dropped)
	o.queue = nil
	var running string
	if o.active != nil {
		running = o.active.flowName
		o.active.abortRequested = true
		if o.active.cancel != nil {
			o.active.cancel()
		}
	}
	o.settleLocked()
	o.mu.Unlock()

	for _, e := range dropped {
		deliver(e.Options, flowrun.ErrorReport(e.Options.RunID, flowrun.ErrAborted))
	}

	switch {
	case running == "" && cleared == 0:
		return "No flows are running."
	case running == "":
		return fmt.Sprintf("Cleared %d queued run(s).", cleared)
	case cleared == 0:
		return fmt.Sprintf("Stopped flow %q.", running)
	}
	return fmt.Sprintf("Stopped flow %q and cleared %d queued run(s).", running, cleared)
}

// IsFlowActive reports whether flowID is running or waiting in the queue.
func (o *Orchestrator) IsFlowActive(flowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil && o.active.flowID == flowID {
		return true
	}
	for _, e := range o.queue {
		if e.FlowID == flowID {
			return true
		}
	}
	return false
}

// QueueLength returns the number of pending top-level runs.
func (o *Orchestrator) QueueLength() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Idle returns a channel closed once the queue is drained.
func (o *Orchestrator) Idle() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.idle
}

// Wait blocks until every queued run has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
