package nodes

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	flowrun "flowrun"
)

// Definition captures metadata about a node kind together with its executor.
type Definition struct {
	Kind        string
	Description string
	Executor    flowrun.NodeExecutor
}

// Registry maps node kinds to executors. It is open: hosts add their own
// kinds next to the built-in ones.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register makes a node kind executable. Kinds must be unique.
func (r *Registry) Register(def Definition) error {
	if def.Kind == "" {
		return errors.New("node definition requires a kind")
	}
	if def.Executor == nil {
		return fmt.Errorf("node kind %q has no executor", def.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Kind]; exists {
		return fmt.Errorf("node kind %q already registered", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(def Definition) *Registry {
	if err := r.Register(def); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the executor for kind.
func (r *Registry) Lookup(kind string) (flowrun.NodeExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[kind]
	if !ok {
		return nil, false
	}
	return def.Executor, true
}

// Definitions returns the known kinds sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.defs))
	for kind := range r.defs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	result := make([]Definition, 0, len(kinds))
	for _, kind := range kinds {
		result = append(result, r.defs[kind])
	}
	return result
}

// NewDefaultRegistry returns a registry holding every built-in kind.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range Builtins() {
		r.MustRegister(def)
	}
	return r
}

// Builtins lists the node kinds shipped with the engine.
func Builtins() []Definition {
	return []Definition{
		{Kind: KindStart, Description: "Entry point; passes the initial input through.", Executor: StartNode{}},
		{Kind: KindString, Description: "Emits a static string value.", Executor: StringNode{}},
		{Kind: KindMerge, Description: "Collects messages_N inputs into an ordered list.", Executor: MergeNode{}},
		{Kind: KindIf, Description: "Evaluates expr conditions and activates the first matching branch.", Executor: &IfNode{}},
		{Kind: KindLLMRouter, Description: "Asks the LLM which branch handle to activate.", Executor: LLMRouterNode{}},
		{Kind: KindSetVariable, Description: "Writes a local, global or execution variable.", Executor: SetVariableNode{}},
		{Kind: KindGetVariable, Description: "Reads a local, global or execution variable.", Executor: GetVariableNode{}},
		{Kind: KindLLM, Description: "Sends a prompt to the host LLM.", Executor: LLMNode{}},
		{Kind: KindLLMStream, Description: "Streams an LLM reply and runs a sub-flow for every chunk.", Executor: LLMStreamNode{}},
		{Kind: KindSubFlow, Description: "Runs another flow as a nested call.", Executor: SubFlowNode{}},
		{Kind: KindEnd, Description: "Stops the whole run gracefully.", Executor: EndNode{}},
		{Kind: KindCode, Description: "Runs user JavaScript in a goja sandbox.", Executor: &CodeNode{}},
		{Kind: KindDelay, Description: "Waits for the configured duration.", Executor: DelayNode{}},
		{Kind: KindLog, Description: "Logs the input and passes it through.", Executor: LogNode{}},
		{Kind: KindSlashCommand, Description: "Executes a host slash command.", Executor: SlashCommandNode{}},
		{Kind: KindHTTPRequest, Description: "Executes an HTTP request built from templates.", Executor: WithRetry(&HTTPNode{}, NodeAttributes{RetryAttempts: 2, RetryDelay: time.Second})},
	}
}
