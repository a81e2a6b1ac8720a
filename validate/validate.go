// Package validate checks a flow before it is allowed to run.
package validate

import (
	"fmt"
	"strings"

	flowrun "flowrun"
)

// Severity tells whether an issue blocks execution.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of the validator.
type Issue struct {
	NodeID   string
	EdgeID   string
	Severity Severity
	Message  string
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("node %s: %s", i.NodeID, i.Message)
	case i.EdgeID != "":
		return fmt.Sprintf("edge %s: %s", i.EdgeID, i.Message)
	}
	return i.Message
}

// Issues is the result of validating a flow.
type Issues []Issue

// Err joins the blocking issues into one error wrapping ErrValidation, or
// returns nil when nothing blocks.
func (is Issues) Err() error {
	var msgs []string
	for _, i := range is {
		if i.Severity == SeverityError {
			msgs = append(msgs, i.String())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", flowrun.ErrValidation, strings.Join(msgs, "; "))
}

// Gate validates flows ahead of execution.
type Gate interface {
	Validate(flow *flowrun.Flow, allowDangerous bool) Issues
}

// Registry is the subset of the node registry the validator needs.
type Registry interface {
	Lookup(kind string) (flowrun.NodeExecutor, bool)
}

// Structural is the default Gate: ids, kinds, per-kind data and the
// dangerous-node policy. Dangling edges are reported as warnings only since
// the scheduler ignores them.
type Structural struct {
	Registry Registry
}

func NewStructural(registry Registry) *Structural {
	return &Structural{Registry: registry}
}

func (v *Structural) Validate(flow *flowrun.Flow, allowDangerous bool) Issues {
	var issues Issues
	if flow == nil {
		return Issues{{Severity: SeverityError, Message: "flow is nil"}}
	}
	if len(flow.Nodes) == 0 {
		issues = append(issues, Issue{Severity: SeverityError, Message: "flow has no nodes"})
	}

	seen := make(map[string]struct{}, len(flow.Nodes))
	for _, n := range flow.Nodes {
		if n.ID == "" {
			issues = append(issues, Issue{Severity: SeverityError, Message: fmt.Sprintf("node of type %q has no id", n.Type)})
			continue
		}
		if _, dup := seen[n.ID]; dup {
			issues = append(issues, Issue{NodeID: n.ID, Severity: SeverityError, Message: "duplicate node id"})
			continue
		}
		seen[n.ID] = struct{}{}

		exec, ok := v.Registry.Lookup(n.Type)
		if !ok {
			issues = append(issues, Issue{NodeID: n.ID, Severity: SeverityError, Message: fmt.Sprintf("unknown node type %q", n.Type)})
			continue
		}
		if n.Data.Disabled() {
			continue
		}
		if flowrun.IsDangerous(exec) && !allowDangerous {
			issues = append(issues, Issue{NodeID: n.ID, Severity: SeverityError, Message: fmt.Sprintf("node type %q is dangerous and not allowed", n.Type)})
		}
		if err := exec.Validate(n.Data); err != nil {
			issues = append(issues, Issue{NodeID: n.ID, Severity: SeverityError, Message: err.Error()})
		}
	}

	for _, e := range flow.Edges {
		_, srcOK := seen[e.Source]
		_, dstOK := seen[e.Target]
		if !srcOK || !dstOK {
			issues = append(issues, Issue{EdgeID: e.ID, Severity: SeverityWarning, Message: "references a missing node"})
		}
	}

	if hasCycle(flow, seen) {
		issues = append(issues, Issue{Severity: SeverityError, Message: "flow contains a cycle"})
	}
	return issues
}

// hasCycle runs Kahn's algorithm over the resolvable edges.
func hasCycle(flow *flowrun.Flow, ids map[string]struct{}) bool {
	inDegree := make(map[string]int, len(ids))
	out := make(map[string][]string)
	for id := range ids {
		inDegree[id] = 0
	}
	for _, e := range flow.Edges {
		if _, ok := ids[e.Source]; !ok {
			continue
		}
		if _, ok := ids[e.Target]; !ok {
			continue
		}
		inDegree[e.Target]++
		out[e.Source] = append(out[e.Source], e.Target)
	}
	var queue []string
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, t := range out[id] {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	return visited != len(ids)
}

// Nop accepts every flow.
type Nop struct{}

func (Nop) Validate(*flowrun.Flow, bool) Issues { return nil }

var _ Gate = (*Structural)(nil)
var _ Gate = Nop{}
