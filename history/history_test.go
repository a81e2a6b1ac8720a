package history

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowrun "flowrun"
	"flowrun/kv"
)

func TestSanitizeTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", MaxStringLength+20)
	out := Sanitize(map[string]any{"text": long, "short": "ok"}).(map[string]any)

	text := out["text"].(string)
	assert.True(t, strings.HasSuffix(text, TruncationSuffix))
	assert.Equal(t, MaxStringLength+len(TruncationSuffix), len(text))
	assert.Equal(t, "ok", out["short"])
}

func TestSanitizeReducesCharacters(t *testing.T) {
	in := map[string]any{
		"character": map[string]any{
			"name":        "Seraphina",
			"avatar":      "seraphina.png",
			"description": "guardian",
			"first_mes":   "hello",
			"personality": "kind",
			"data":        map[string]any{"secret": true},
		},
	}
	out := Sanitize(in).(map[string]any)
	char := out["character"].(map[string]any)

	assert.Equal(t, map[string]any{
		"name":        "Seraphina",
		"avatar":      "seraphina.png",
		"description": "guardian",
		SanitizedKey:  true,
	}, char)

	// the input is left untouched
	assert.Contains(t, in["character"], "first_mes")
}

func TestSanitizeNormalizesStructs(t *testing.T) {
	out := Sanitize([]flowrun.Character{{Name: "Ann", FirstMes: "hi", Avatar: "a.png"}})
	list := out.([]any)
	require.Len(t, list, 1)
	assert.Equal(t, map[string]any{"name": "Ann", "avatar": "a.png", SanitizedKey: true}, list[0])
}

func TestStoreIsBoundedAndPersisted(t *testing.T) {
	backing := kv.NewInMemoryKVStore()
	store, err := NewStore(backing, WithMaxEntries(3))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add(Entry{
			FlowID:   fmt.Sprintf("f%d", i),
			FlowName: fmt.Sprintf("Flow %d", i),
			Report:   flowrun.ExecutionReport{ExecutedNodes: []flowrun.NodeReport{}, Status: flowrun.StatusCompleted},
		}))
	}

	entries := store.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"f4", "f3", "f2"}, []string{entries[0].FlowID, entries[1].FlowID, entries[2].FlowID})

	reloaded, err := NewStore(backing, WithMaxEntries(3))
	require.NoError(t, err)
	assert.Len(t, reloaded.Entries(), 3)
	assert.Equal(t, "Flow 4", reloaded.Entries()[0].FlowName)

	require.NoError(t, reloaded.Clear())
	assert.Empty(t, reloaded.Entries())
}

func TestStoreSanitizesReports(t *testing.T) {
	store, err := NewStore(nil)
	require.NoError(t, err)

	long := strings.Repeat("y", MaxStringLength*2)
	require.NoError(t, store.Add(Entry{
		FlowID: "f",
		Report: flowrun.ExecutionReport{
			ExecutedNodes: []flowrun.NodeReport{{NodeID: "n", Type: "string", Input: map[string]any{"p": long}, Output: long}},
			LastOutput:    long,
		},
	}))

	got := store.Entries()[0].Report
	assert.True(t, strings.HasSuffix(got.LastOutput.(string), TruncationSuffix))
	assert.True(t, strings.HasSuffix(got.ExecutedNodes[0].Output.(string), TruncationSuffix))
	assert.True(t, strings.HasSuffix(got.ExecutedNodes[0].Input["p"].(string), TruncationSuffix))
}
