package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	flowrun "flowrun"
)

// FlowStore resolves flow definitions. Definitions are fetched again for
// every run so edits apply to the next execution.
type FlowStore interface {
	Flow(id string) (*flowrun.Flow, bool)
	FlowByName(name string) (*flowrun.Flow, bool)
	List() []*flowrun.Flow
}

// MemoryFlowStore keeps flow definitions in memory.
type MemoryFlowStore struct {
	mu    sync.RWMutex
	flows map[string]*flowrun.Flow
}

func NewMemoryFlowStore(flows ...*flowrun.Flow) *MemoryFlowStore {
	s := &MemoryFlowStore{flows: make(map[string]*flowrun.Flow)}
	for _, f := range flows {
		s.Put(f)
	}
	return s
}

// Put adds or replaces a flow definition.
func (s *MemoryFlowStore) Put(flow *flowrun.Flow) {
	if flow == nil || flow.ID == "" {
		return
	}
	s.mu.Lock()
	s.flows[flow.ID] = flow
	s.mu.Unlock()
}

func (s *MemoryFlowStore) Delete(id string) {
	s.mu.Lock()
	delete(s.flows, id)
	s.mu.Unlock()
}

func (s *MemoryFlowStore) Flow(id string) (*flowrun.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	return f, ok
}

// FlowByName matches the display name first, then the id.
func (s *MemoryFlowStore) FlowByName(name string) (*flowrun.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.flows {
		if f.Name == name {
			return f, true
		}
	}
	f, ok := s.flows[name]
	return f, ok
}

func (s *MemoryFlowStore) List() []*flowrun.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*flowrun.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadJSON adds every flow of a JSON array document.
func (s *MemoryFlowStore) LoadJSON(raw []byte) error {
	var flows []*flowrun.Flow
	if err := json.Unmarshal(raw, &flows); err != nil {
		return fmt.Errorf("decode flows: %w", err)
	}
	for _, f := range flows {
		if f.ID == "" {
			return fmt.Errorf("flow %q has no id", f.Name)
		}
		s.Put(f)
	}
	return nil
}
