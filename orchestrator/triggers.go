package orchestrator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	flowrun "flowrun"
	"flowrun/utils"
)

// TriggerBinding starts FlowID whenever Event fires. With PreventRecursive
// set, the event is ignored while the flow is already running or queued,
// which stops a flow from re-triggering itself through its own side effects.
type TriggerBinding struct {
	FlowID           string `json:"flowId" ini:"flow"`
	Event            string `json:"event" ini:"event"`
	PreventRecursive bool   `json:"preventRecursive" ini:"prevent_recursive"`
}

// Bind registers an event trigger.
func (o *Orchestrator) Bind(b TriggerBinding) error {
	if b.FlowID == "" || b.Event == "" {
		return fmt.Errorf("trigger needs a flow and an event, got %+v", b)
	}
	o.triggerMu.Lock()
	o.triggers = append(o.triggers, b)
	o.triggerMu.Unlock()
	return nil
}

// Bindings returns the registered event triggers.
func (o *Orchestrator) Bindings() []TriggerBinding {
	o.triggerMu.RLock()
	defer o.triggerMu.RUnlock()
	return append([]TriggerBinding(nil), o.triggers...)
}

// Trigger queues every flow bound to event with payload as its input and
// returns the ids of the flows that were queued.
func (o *Orchestrator) Trigger(ctx context.Context, event string, payload map[string]any) []string {
	var started []string
	for _, b := range o.Bindings() {
		if b.Event != event {
			continue
		}
		if b.PreventRecursive && o.IsFlowActive(b.FlowID) {
			o.logger.Debug("trigger suppressed, flow already active", "event", event, "flow_id", b.FlowID)
			continue
		}
		report := o.ExecuteFlow(ctx, b.FlowID, utils.CloneMap(payload), 0, flowrun.RunOptions{Source: "event:" + event}, nil)
		if report.Error != nil {
			o.logger.Warn("trigger failed", "event", event, "flow_id", b.FlowID, "error", report.Error.Message)
			continue
		}
		started = append(started, b.FlowID)
	}
	return started
}

// Schedule queues flowID on a cron spec such as "*/5 * * * *" or "@every 1m".
func (o *Orchestrator) Schedule(spec, flowID string, input map[string]any) (cron.EntryID, error) {
	id, err := o.cron.AddFunc(spec, func() {
		report := o.ExecuteFlow(context.Background(), flowID, utils.CloneMap(input), 0, flowrun.RunOptions{Source: "cron"}, nil)
		if report.Error != nil {
			o.logger.Warn("scheduled run rejected", "flow_id", flowID, "error", report.Error.Message)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", flowID, err)
	}
	o.logger.Info("flow scheduled", "flow_id", flowID, "spec", spec)
	return id, nil
}

// Start begins firing cron schedules.
func (o *Orchestrator) Start() {
	o.cron.Start()
}

// Stop halts the cron scheduler. The returned context is done once running
// cron jobs have returned; queued flow runs are not affected.
func (o *Orchestrator) Stop() context.Context {
	return o.cron.Stop()
}
