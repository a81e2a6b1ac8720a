package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	flowrun "flowrun"
	"flowrun/flows"
	"flowrun/nodes"
	"flowrun/orchestrator"
)

const maxRecordedEvents = 500

// eventView is the JSON form of a lifecycle event.
type eventView struct {
	Type      flows.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"runId,omitempty"`
	FlowID    string          `json:"flowId,omitempty"`
	FlowName  string          `json:"flowName,omitempty"`
	Depth     int             `json:"depth"`
	NodeID    string          `json:"nodeId,omitempty"`
	NodeType  string          `json:"nodeType,omitempty"`
	Source    string          `json:"source,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// eventLog keeps the most recent events for the events endpoint.
type eventLog struct {
	mu     sync.RWMutex
	limit  int
	events []eventView
}

func newEventLog(limit int) *eventLog {
	return &eventLog{limit: limit}
}

func (l *eventLog) Notify(_ context.Context, e flows.Event) {
	v := eventView{
		Type:      e.Type,
		Timestamp: e.Timestamp,
		RunID:     e.RunID,
		FlowID:    e.FlowID,
		FlowName:  e.FlowName,
		Depth:     e.Depth,
		NodeID:    e.NodeID,
		NodeType:  e.NodeType,
		Source:    e.Source,
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, v)
	if over := len(l.events) - l.limit; over > 0 {
		l.events = append([]eventView(nil), l.events[over:]...)
	}
}

func (l *eventLog) Events() []eventView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]eventView{}, l.events...)
}

func (l *eventLog) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

type server struct {
	orch     *orchestrator.Orchestrator
	registry *nodes.Registry
	events   *eventLog
	logger   *slog.Logger
}

type definitionView struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Branching   bool   `json:"branching"`
	Dangerous   bool   `json:"dangerous"`
}

func (s *server) routes() *httprouter.Router {
	r := httprouter.New()
	r.GET("/api/flows", s.listFlows)
	r.GET("/api/flows/:id", s.getFlow)
	r.POST("/api/flows/:id/run", s.runFlow)
	r.GET("/api/definitions", s.definitions)
	r.GET("/api/status", s.status)
	r.POST("/api/abort", s.abort)
	r.POST("/api/stop", s.stop)
	r.GET("/api/history", s.history)
	r.DELETE("/api/history", s.clearHistory)
	r.GET("/api/events", s.listEvents)
	r.DELETE("/api/events", s.clearEvents)
	r.POST("/api/trigger/:event", s.trigger)
	return r
}

func (s *server) listFlows(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.orch.Flows().List())
}

func (s *server) getFlow(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	flow, ok := s.orch.Flows().Flow(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, flowrun.ErrFlowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (s *server) runFlow(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	input, err := decodeInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report := s.orch.ExecuteFlow(r.Context(), ps.ByName("id"), input, 0, flowrun.RunOptions{Source: "api"}, nil)
	if report.Error != nil {
		status := http.StatusUnprocessableEntity
		if report.Error.Kind == flowrun.KindNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, report)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (s *server) definitions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	defs := s.registry.Definitions()
	views := make([]definitionView, 0, len(defs))
	for _, d := range defs {
		views = append(views, definitionView{
			Kind:        d.Kind,
			Description: d.Description,
			Branching:   flowrun.IsBranching(d.Executor),
			Dangerous:   flowrun.IsDangerous(d.Executor),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *server) status(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"queued": s.orch.QueueLength()})
}

func (s *server) abort(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"aborted": s.orch.AbortCurrentRun()})
}

func (s *server) stop(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.orch.StopAllFlows()})
}

func (s *server) history(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.orch.History().Entries())
}

func (s *server) clearHistory(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := s.orch.History().Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listEvents(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.events.Events())
}

func (s *server) clearEvents(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.events.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) trigger(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	payload, err := decodeInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	event := ps.ByName("event")
	started := s.orch.Trigger(r.Context(), event, payload)
	s.logger.Debug("event received", "event", event, "started", len(started))
	if started == nil {
		started = []string{}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"started": started})
}

// decodeInput reads an optional JSON object body.
func decodeInput(r *http.Request) (map[string]any, error) {
	input := map[string]any{}
	if r.Body == nil {
		return input, nil
	}
	err := json.NewDecoder(r.Body).Decode(&input)
	if errors.Is(err, io.EOF) {
		return map[string]any{}, nil
	}
	return input, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
