package flows

import (
	flowrun "flowrun"
	"flowrun/utils"
)

// graph is the scheduling view of a flow: only edges whose endpoints both
// exist take part.
type graph struct {
	order    []flowrun.Node
	nodes    map[string]flowrun.Node
	inDegree map[string]int
	incoming map[string][]flowrun.Edge
	outgoing map[string][]flowrun.Edge
}

func buildGraph(flow *flowrun.Flow) *graph {
	g := &graph{
		order:    flow.Nodes,
		nodes:    make(map[string]flowrun.Node, len(flow.Nodes)),
		inDegree: make(map[string]int, len(flow.Nodes)),
		incoming: make(map[string][]flowrun.Edge),
		outgoing: make(map[string][]flowrun.Edge),
	}
	for _, n := range flow.Nodes {
		g.nodes[n.ID] = n
		g.inDegree[n.ID] = 0
	}
	for _, e := range flow.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := g.nodes[e.Target]; !ok {
			continue
		}
		g.inDegree[e.Target]++
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}
	return g
}

// handleName treats a nil or empty handle as "whole object".
func handleName(h *string) (string, bool) {
	if h == nil || *h == "" {
		return "", false
	}
	return *h, true
}

// resolveInput assembles the input of a node from the outputs of its
// predecessors. Roots start from the initial input, everything else from an
// empty object.
func resolveInput(incoming []flowrun.Edge, outputs map[string]any, initial map[string]any) map[string]any {
	var input map[string]any
	if len(incoming) == 0 {
		input = utils.CloneMap(initial)
	} else {
		input = make(map[string]any)
	}

	for _, e := range incoming {
		out, produced := outputs[e.Source]
		if !produced {
			continue
		}

		target, hasTarget := handleName(e.TargetHandle)
		if !hasTarget {
			if obj, ok := utils.AsMap(out); ok {
				for k, v := range obj {
					input[k] = v
				}
			}
			continue
		}

		if source, hasSource := handleName(e.SourceHandle); hasSource {
			if obj, ok := utils.AsMap(out); ok {
				if v, ok := obj[source]; ok {
					input[target] = v
					continue
				}
			}
		}
		input[target] = out
	}
	return input
}

// followedEdges returns the outgoing edges whose targets get unlocked after a
// node ran. A branching node only follows the edges of its activated handle.
func followedEdges(edges []flowrun.Edge, branching bool, output any) []flowrun.Edge {
	if !branching {
		return edges
	}
	activated, ok := flowrun.ActivatedHandle(output)
	if !ok {
		return edges
	}
	followed := make([]flowrun.Edge, 0, len(edges))
	for _, e := range edges {
		if h, ok := handleName(e.SourceHandle); ok && h == activated {
			followed = append(followed, e)
		}
	}
	return followed
}
