package flows

import (
	"testing"

	"github.com/stretchr/testify/assert"

	flowrun "flowrun"
)

func TestResolveInput(t *testing.T) {
	outputs := map[string]any{
		"obj":  map[string]any{"name": "Ann", "age": 30},
		"text": "plain",
	}

	cases := []struct {
		name     string
		incoming []flowrun.Edge
		want     map[string]any
	}{
		{
			name:     "root starts from initial input",
			incoming: nil,
			want:     map[string]any{"seed": true},
		},
		{
			name:     "nil target handle spreads the object",
			incoming: []flowrun.Edge{{Source: "obj"}},
			want:     map[string]any{"name": "Ann", "age": 30},
		},
		{
			name:     "empty target handle behaves like nil",
			incoming: []flowrun.Edge{{Source: "obj", TargetHandle: flowrun.Handle("")}},
			want:     map[string]any{"name": "Ann", "age": 30},
		},
		{
			name:     "spreading a non-object is a no-op",
			incoming: []flowrun.Edge{{Source: "text"}},
			want:     map[string]any{},
		},
		{
			name:     "source and target handle pick one key",
			incoming: []flowrun.Edge{{Source: "obj", SourceHandle: flowrun.Handle("name"), TargetHandle: flowrun.Handle("who")}},
			want:     map[string]any{"who": "Ann"},
		},
		{
			name:     "missing source key passes the raw output",
			incoming: []flowrun.Edge{{Source: "obj", SourceHandle: flowrun.Handle("nope"), TargetHandle: flowrun.Handle("all")}},
			want:     map[string]any{"all": map[string]any{"name": "Ann", "age": 30}},
		},
		{
			name:     "non-object output is assigned verbatim",
			incoming: []flowrun.Edge{{Source: "text", SourceHandle: flowrun.Handle("x"), TargetHandle: flowrun.Handle("msg")}},
			want:     map[string]any{"msg": "plain"},
		},
		{
			name:     "edges from sources without output are skipped",
			incoming: []flowrun.Edge{{Source: "pruned", TargetHandle: flowrun.Handle("x")}},
			want:     map[string]any{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveInput(tc.incoming, outputs, map[string]any{"seed": true})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFollowedEdges(t *testing.T) {
	edges := []flowrun.Edge{
		{ID: "a", SourceHandle: flowrun.Handle("yes")},
		{ID: "b", SourceHandle: flowrun.Handle("no")},
		{ID: "c"},
	}

	all := followedEdges(edges, false, map[string]any{flowrun.ActivatedHandleKey: "yes"})
	assert.Len(t, all, 3)

	picked := followedEdges(edges, true, map[string]any{flowrun.ActivatedHandleKey: "yes"})
	assert.Equal(t, []flowrun.Edge{edges[0]}, picked)

	// a branching node that names no handle follows everything
	assert.Len(t, followedEdges(edges, true, "text"), 3)
}

func TestBuildGraphSkipsDanglingEdges(t *testing.T) {
	g := buildGraph(&flowrun.Flow{
		Nodes: []flowrun.Node{{ID: "a"}, {ID: "b"}},
		Edges: []flowrun.Edge{{Source: "a", Target: "b"}, {Source: "x", Target: "b"}, {Source: "a", Target: "y"}},
	})
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, g.inDegree)
	assert.Len(t, g.outgoing["a"], 1)
}
