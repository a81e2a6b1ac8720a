package nodes

import (
	"context"
	"sort"
	"strconv"
	"strings"

	flowrun "flowrun"
)

const mergeHandlePrefix = "messages_"

// MergeNode collects the values wired to messages_0, messages_1, ... into a
// list ordered by handle index, independent of the order the producers ran in.
type MergeNode struct{}

func (MergeNode) Validate(flowrun.NodeData) error { return nil }

func (MergeNode) Execute(_ context.Context, _ flowrun.Node, input map[string]any, _ *flowrun.ExecutionContext) flowrun.Outcome {
	type slot struct {
		index int
		value any
	}
	slots := make([]slot, 0, len(input))
	for key, value := range input {
		if !strings.HasPrefix(key, mergeHandlePrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(key, mergeHandlePrefix))
		if err != nil {
			continue
		}
		slots = append(slots, slot{index: idx, value: value})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })

	merged := make([]any, 0, len(slots))
	for _, s := range slots {
		merged = append(merged, s.value)
	}
	return flowrun.Continue(merged)
}
