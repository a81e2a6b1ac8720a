package flowrun

import "context"

// Flow is a graph of nodes and edges representing one executable workflow.
type Flow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a typed unit of work. Data is opaque to the engine apart from the
// disabled flag and the schema version.
type Node struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Data NodeData `json:"data,omitempty"`
}

// Edge routes data from a source handle to a target handle. A nil handle
// means the whole object.
type Edge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	SourceHandle *string `json:"sourceHandle"`
	Target       string  `json:"target"`
	TargetHandle *string `json:"targetHandle"`
}

// NodeData is the per-kind configuration record of a node.
type NodeData map[string]any

const (
	DataKeyDisabled = "disabled"
	// DataKeyVersion holds the schema version migrators upgrade from.
	DataKeyVersion = "_version"
)

// Disabled reports whether the node is switched off in the editor.
func (d NodeData) Disabled() bool {
	v, _ := d[DataKeyDisabled].(bool)
	return v
}

// Handle returns a pointer usable as an edge handle.
func Handle(name string) *string {
	return &name
}

// NodeByID returns the node with the given id.
func (f *Flow) NodeByID(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// DisplayName returns the flow name, falling back to its id.
func (f *Flow) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// NodeExecutor is the contract every node kind satisfies. Execute must not
// panic; the scheduler recovers anyway and reports the panic as a failure.
type NodeExecutor interface {
	Validate(data NodeData) error
	Execute(ctx context.Context, node Node, input map[string]any, ectx *ExecutionContext) Outcome
}

// BranchingExecutor marks executors whose output selects the outgoing edges
// to follow through the activated handle key.
type BranchingExecutor interface {
	NodeExecutor
	Branching() bool
}

// DangerousExecutor marks executors that may only run when the caller has
// granted permission for dangerous nodes.
type DangerousExecutor interface {
	NodeExecutor
	Dangerous() bool
}

// ExecutorFunc adapts a plain function to the NodeExecutor contract.
type ExecutorFunc func(ctx context.Context, node Node, input map[string]any, ectx *ExecutionContext) Outcome

func (f ExecutorFunc) Validate(NodeData) error { return nil }

func (f ExecutorFunc) Execute(ctx context.Context, node Node, input map[string]any, ectx *ExecutionContext) Outcome {
	if f == nil {
		return Continue(map[string]any{})
	}
	return f(ctx, node, input, ectx)
}

// IsBranching reports whether exec selects outgoing edges by handle.
func IsBranching(exec NodeExecutor) bool {
	b, ok := exec.(BranchingExecutor)
	return ok && b.Branching()
}

// IsDangerous reports whether exec needs explicit permission.
func IsDangerous(exec NodeExecutor) bool {
	d, ok := exec.(DangerousExecutor)
	return ok && d.Dangerous()
}
