package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowrun "flowrun"
	"flowrun/nodes"
)

func errorsOf(is Issues) []Issue {
	var out []Issue
	for _, i := range is {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

func TestStructuralAcceptsValidFlow(t *testing.T) {
	flow := &flowrun.Flow{
		ID: "ok",
		Nodes: []flowrun.Node{
			{ID: "start", Type: nodes.KindStart},
			{ID: "greet", Type: nodes.KindString, Data: flowrun.NodeData{"value": "hi"}},
		},
		Edges: []flowrun.Edge{{ID: "e1", Source: "start", Target: "greet"}},
	}
	issues := NewStructural(nodes.NewDefaultRegistry()).Validate(flow, false)
	assert.Empty(t, issues)
	assert.NoError(t, issues.Err())
}

func TestStructuralReportsBlockingIssues(t *testing.T) {
	flow := &flowrun.Flow{
		ID: "bad",
		Nodes: []flowrun.Node{
			{ID: "a", Type: nodes.KindStart},
			{ID: "a", Type: nodes.KindStart},
			{ID: "", Type: nodes.KindStart},
			{ID: "b", Type: "teleport"},
			{ID: "c", Type: nodes.KindSubFlow},
		},
	}
	issues := NewStructural(nodes.NewDefaultRegistry()).Validate(flow, false)
	blocking := errorsOf(issues)
	require.Len(t, blocking, 4)

	err := issues.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowrun.ErrValidation))
	assert.Contains(t, err.Error(), "node a: duplicate node id")
	assert.Contains(t, err.Error(), `node b: unknown node type "teleport"`)
	assert.Contains(t, err.Error(), "node c: sub-flow node requires flowId")
}

func TestStructuralDangerousPolicy(t *testing.T) {
	flow := &flowrun.Flow{
		ID:    "js",
		Nodes: []flowrun.Node{{ID: "js", Type: nodes.KindCode, Data: flowrun.NodeData{"script": "return 1"}}},
	}
	v := NewStructural(nodes.NewDefaultRegistry())

	assert.Error(t, v.Validate(flow, false).Err())
	assert.NoError(t, v.Validate(flow, true).Err())

	// disabled nodes never run, so they are not policed
	flow.Nodes[0].Data[flowrun.DataKeyDisabled] = true
	assert.NoError(t, v.Validate(flow, false).Err())
}

func TestStructuralDanglingEdgesAreWarnings(t *testing.T) {
	flow := &flowrun.Flow{
		ID:    "dangling",
		Nodes: []flowrun.Node{{ID: "start", Type: nodes.KindStart}},
		Edges: []flowrun.Edge{{ID: "ghost", Source: "start", Target: "missing"}},
	}
	issues := NewStructural(nodes.NewDefaultRegistry()).Validate(flow, false)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Equal(t, "edge ghost: references a missing node", issues[0].String())
	assert.NoError(t, issues.Err())
}

func TestStructuralDetectsCycles(t *testing.T) {
	flow := &flowrun.Flow{
		ID: "loop",
		Nodes: []flowrun.Node{
			{ID: "a", Type: nodes.KindStart},
			{ID: "b", Type: nodes.KindStart},
		},
		Edges: []flowrun.Edge{
			{ID: "ab", Source: "a", Target: "b"},
			{ID: "ba", Source: "b", Target: "a"},
		},
	}
	err := NewStructural(nodes.NewDefaultRegistry()).Validate(flow, false).Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow contains a cycle")
}

func TestEmptyFlowIsRejected(t *testing.T) {
	v := NewStructural(nodes.NewDefaultRegistry())
	assert.Error(t, v.Validate(&flowrun.Flow{ID: "empty"}, false).Err())
	assert.Error(t, v.Validate(nil, false).Err())
	assert.Empty(t, Nop{}.Validate(nil, false))
}
