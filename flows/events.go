package flows

import (
	"context"
	"sync"
	"time"
)

// EventType enumerates observable lifecycle hooks emitted while flows run.
type EventType string

const (
	EventRunQueued    EventType = "run_queued"
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventRunAborted   EventType = "run_aborted"

	EventNodeStart      EventType = "node_start"
	EventNodeEnd        EventType = "node_end"
	EventNodeError      EventType = "node_error"
	EventNodeSkipped    EventType = "node_skipped"
	EventFlowTerminated EventType = "flow_terminated"
)

// Event carries metadata that observability hooks can use.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	FlowID    string
	FlowName  string
	Depth     int
	NodeID    string
	NodeType  string
	Output    any
	Err       error
	Source    string
}

// Monitor observes lifecycle events.
type Monitor interface {
	Notify(ctx context.Context, event Event)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(ctx context.Context, event Event)

func (f MonitorFunc) Notify(ctx context.Context, event Event) { f(ctx, event) }

// Monitors is a concurrency-safe fan-out list of monitors.
type Monitors struct {
	mu   sync.RWMutex
	list []Monitor
}

// Add registers a monitor; nil is ignored.
func (m *Monitors) Add(monitor Monitor) {
	if monitor == nil {
		return
	}
	m.mu.Lock()
	m.list = append(m.list, monitor)
	m.mu.Unlock()
}

// Emit delivers event to every registered monitor synchronously.
func (m *Monitors) Emit(ctx context.Context, event Event) {
	m.mu.RLock()
	monitors := append([]Monitor(nil), m.list...)
	m.mu.RUnlock()

	if len(monitors) == 0 {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, monitor := range monitors {
		monitor.Notify(ctx, event)
	}
}
