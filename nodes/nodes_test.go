package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowrun "flowrun"
	"flowrun/host"
)

func newContext(bag flowrun.CapabilityBag) *flowrun.ExecutionContext {
	return &flowrun.ExecutionContext{
		Flow:      &flowrun.Flow{ID: "test"},
		Bag:       bag,
		Variables: flowrun.NewVariables(nil),
		RunID:     "run-1",
	}
}

func exec(t *testing.T, e flowrun.NodeExecutor, data flowrun.NodeData, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	t.Helper()
	require.NoError(t, e.Validate(data))
	return e.Execute(context.Background(), flowrun.Node{ID: "n", Data: data}, input, ectx)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Kind: "a", Executor: StartNode{}}))
	assert.Error(t, r.Register(Definition{Kind: "a", Executor: StartNode{}}))
	assert.Error(t, r.Register(Definition{Executor: StartNode{}}))
	assert.Error(t, r.Register(Definition{Kind: "b"}))

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("b")
	assert.False(t, ok)

	defaults := NewDefaultRegistry()
	defs := defaults.Definitions()
	require.Len(t, defs, len(Builtins()))
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].Kind, defs[i].Kind)
	}
	code, _ := defaults.Lookup(KindCode)
	assert.True(t, flowrun.IsDangerous(code))
	branch, _ := defaults.Lookup(KindIf)
	assert.True(t, flowrun.IsBranching(branch))
}

func TestIfNode(t *testing.T) {
	node := &IfNode{}
	data := flowrun.NodeData{
		"conditions": []any{
			map[string]any{"id": "adult", "expr": "age >= 18"},
			map[string]any{"id": "happy", "expr": `vars.mood == "happy"`},
		},
		"elseHandle": "other",
	}
	ectx := newContext(nil)

	out := exec(t, node, data, map[string]any{"age": 30}, ectx)
	require.Equal(t, flowrun.OutcomeContinue, out.Kind)
	handle, _ := flowrun.ActivatedHandle(out.Output)
	assert.Equal(t, "adult", handle)
	assert.Equal(t, 30, out.Output.(map[string]any)["age"])

	ectx.Variables.Set("mood", "happy")
	out = exec(t, node, data, map[string]any{"age": 12}, ectx)
	handle, _ = flowrun.ActivatedHandle(out.Output)
	assert.Equal(t, "happy", handle)

	ectx.Variables.Set("mood", "grumpy")
	out = exec(t, node, data, map[string]any{"age": 5}, ectx)
	handle, _ = flowrun.ActivatedHandle(out.Output)
	assert.Equal(t, "other", handle)

	assert.Error(t, node.Validate(flowrun.NodeData{}))
	assert.Error(t, node.Validate(flowrun.NodeData{"conditions": []any{map[string]any{"expr": "true"}}}))
	assert.Error(t, node.Validate(flowrun.NodeData{"conditions": []any{map[string]any{"id": "x", "expr": "age >="}}}))
}

func TestMergeNodeOrdersByHandleIndex(t *testing.T) {
	out := exec(t, MergeNode{}, flowrun.NodeData{}, map[string]any{
		"messages_10": "k",
		"messages_2":  "c",
		"messages_0":  "a",
		"other":       "ignored",
		"messages_x":  "ignored",
	}, newContext(nil))
	assert.Equal(t, []any{"a", "c", "k"}, out.Output)
}

func TestCodeNode(t *testing.T) {
	node := &CodeNode{}
	ectx := newContext(nil)
	ectx.Variables.Set("factor", 10)

	out := exec(t, node, flowrun.NodeData{
		"script": `vars.set("seen", true); return { total: (input.a + input.b) * vars.get("factor") }`,
	}, map[string]any{"a": 1, "b": 2}, ectx)
	require.Equal(t, flowrun.OutcomeContinue, out.Kind, "err: %v", out.Err)
	assert.EqualValues(t, 30, out.Output.(map[string]any)["total"])
	seen, _ := ectx.Variables.Get("seen")
	assert.Equal(t, true, seen)

	out = exec(t, node, flowrun.NodeData{"script": "while (true) {}", "timeoutMs": 50}, nil, ectx)
	require.Equal(t, flowrun.OutcomeFail, out.Kind)
	assert.Contains(t, out.Err.Error(), "timed out")

	out = exec(t, node, flowrun.NodeData{"script": `throw new Error("nope")`}, nil, ectx)
	require.Equal(t, flowrun.OutcomeFail, out.Kind)
	assert.Contains(t, out.Err.Error(), "nope")

	assert.Error(t, node.Validate(flowrun.NodeData{"script": "return {"}))
	assert.Error(t, node.Validate(flowrun.NodeData{}))
}

func TestCodeNodeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	data := flowrun.NodeData{"script": "while (true) {}"}
	out := (&CodeNode{}).Execute(ctx, flowrun.Node{ID: "spin", Data: data}, nil, newContext(nil))

	require.Equal(t, flowrun.OutcomeFail, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestVariableNodes(t *testing.T) {
	bag := host.New()
	ectx := newContext(bag)

	out := exec(t, SetVariableNode{}, flowrun.NodeData{"name": "topic", "valueKey": "text"}, map[string]any{"text": "castles"}, ectx)
	assert.Equal(t, map[string]any{"name": "topic", "value": "castles"}, out.Output)
	out = exec(t, GetVariableNode{}, flowrun.NodeData{"name": "topic"}, nil, ectx)
	assert.Equal(t, map[string]any{"value": "castles"}, out.Output)

	exec(t, SetVariableNode{}, flowrun.NodeData{"name": "lang", "scope": "global", "value": "fr"}, nil, ectx)
	stored, err := bag.GetVar(context.Background(), flowrun.ScopeGlobal, "lang")
	require.NoError(t, err)
	assert.Equal(t, "fr", stored)
	out = exec(t, GetVariableNode{}, flowrun.NodeData{"name": "lang", "scope": "global"}, nil, ectx)
	assert.Equal(t, map[string]any{"value": "fr"}, out.Output)

	assert.Error(t, SetVariableNode{}.Validate(flowrun.NodeData{"scope": "global"}))
	assert.Error(t, GetVariableNode{}.Validate(flowrun.NodeData{"name": "x", "scope": "planet"}))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	flaky := flowrun.ExecutorFunc(func(context.Context, flowrun.Node, map[string]any, *flowrun.ExecutionContext) flowrun.Outcome {
		calls++
		if calls < 3 {
			return flowrun.Fail(errors.New("transient"))
		}
		return flowrun.Continue("ok")
	})

	out := WithRetry(flaky, NodeAttributes{RetryAttempts: 2}).Execute(context.Background(), flowrun.Node{ID: "f"}, nil, newContext(nil))
	assert.Equal(t, flowrun.OutcomeContinue, out.Kind)
	assert.Equal(t, 3, calls)

	calls = 0
	out = WithRetry(flaky, NodeAttributes{RetryAttempts: 1}).Execute(context.Background(), flowrun.Node{ID: "f"}, nil, newContext(nil))
	assert.Equal(t, flowrun.OutcomeFail, out.Kind)
	assert.Equal(t, 2, calls)

	assert.True(t, flowrun.IsBranching(WithRetry(&IfNode{}, NodeAttributes{RetryAttempts: 1})))
}

func TestLLMNodes(t *testing.T) {
	bag := host.New()
	ectx := newContext(bag)

	out := exec(t, LLMNode{}, flowrun.NodeData{"system": "be brief"}, map[string]any{"prompt": "hi"}, ectx)
	assert.Equal(t, map[string]any{"result": "mock response for hi"}, out.Output)

	out = exec(t, LLMNode{}, flowrun.NodeData{"structured": true, "schema": map[string]any{"type": "object"}, "prompt": "x"}, nil, ectx)
	assert.Equal(t, map[string]any{"result": map[string]any{"response": "mock response for x"}}, out.Output)

	out = exec(t, LLMRouterNode{}, flowrun.NodeData{"handles": []any{"billing", "support"}}, map[string]any{"input": "need support"}, ectx)
	handle, _ := flowrun.ActivatedHandle(out.Output)
	assert.Equal(t, "support", handle)
}

type recordingInvoker struct {
	inputs []map[string]any
}

func (r *recordingInvoker) InvokeSubFlow(_ context.Context, flowID string, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.ExecutionReport {
	r.inputs = append(r.inputs, input)
	return flowrun.ExecutionReport{RunID: ectx.RunID, ExecutedNodes: []flowrun.NodeReport{}, LastOutput: flowID, Status: flowrun.StatusCompleted}
}

func TestLLMStreamRunsSubFlowPerChunk(t *testing.T) {
	invoker := &recordingInvoker{}
	ectx := newContext(host.New())
	ectx.Invoker = invoker

	out := exec(t, LLMStreamNode{}, flowrun.NodeData{"prompt": "a b", "subFlowId": "on_chunk"}, nil, ectx)

	require.Equal(t, flowrun.OutcomeContinue, out.Kind)
	assert.Equal(t, map[string]any{"result": "mock response for a b", "chunks": 5}, out.Output)
	require.Len(t, invoker.inputs, 5)
	assert.Equal(t, map[string]any{"chunk": "mock ", "index": 0, "text": "mock "}, invoker.inputs[0])
	assert.Equal(t, "mock response for a b", invoker.inputs[4]["text"])
	assert.Equal(t, 4, invoker.inputs[4]["index"])
}

func TestSubFlowNodePropagatesErrors(t *testing.T) {
	ectx := newContext(nil)
	ectx.Invoker = invokerFunc(func(flowID string) flowrun.ExecutionReport {
		return flowrun.ErrorReport("run-1", &flowrun.NodeExecutionError{NodeID: "inner", Type: "x", Err: errors.New("broke")})
	})

	out := exec(t, SubFlowNode{}, flowrun.NodeData{"flowId": "child"}, nil, ectx)
	require.Equal(t, flowrun.OutcomeFail, out.Kind)
	assert.Equal(t, "broke", out.Err.Error())
	var subErr *flowrun.SubFlowError
	require.ErrorAs(t, out.Err, &subErr)
	assert.Equal(t, "inner", subErr.NodeID)
	assert.Equal(t, "child", subErr.FlowID)
	assert.Equal(t, flowrun.KindNode, flowrun.KindOf(out.Err))

	ectx.Invoker = invokerFunc(func(string) flowrun.ExecutionReport {
		return flowrun.ErrorReport("run-1", fmt.Errorf("%w: depth 11 exceeds the limit of 10", flowrun.ErrDepthLimit))
	})
	out = exec(t, SubFlowNode{}, flowrun.NodeData{"flowId": "child"}, nil, ectx)
	assert.ErrorIs(t, out.Err, flowrun.ErrDepthLimit)
	assert.Equal(t, flowrun.KindDepthLimit, flowrun.KindOf(out.Err))

	out = exec(t, SubFlowNode{}, flowrun.NodeData{"flowId": "child"}, nil, newContext(nil))
	assert.Equal(t, flowrun.OutcomeFail, out.Kind)
}

type invokerFunc func(flowID string) flowrun.ExecutionReport

func (f invokerFunc) InvokeSubFlow(_ context.Context, flowID string, _ map[string]any, _ *flowrun.ExecutionContext) flowrun.ExecutionReport {
	return f(flowID)
}

func TestSlashCommandNode(t *testing.T) {
	out := exec(t, SlashCommandNode{}, flowrun.NodeData{"command": "/echo {{.text}}"}, map[string]any{"text": "hey"}, newContext(host.New()))
	assert.Equal(t, map[string]any{"result": "hey"}, out.Output)
	assert.Error(t, SlashCommandNode{}.Validate(flowrun.NodeData{"command": " "}))
}

func TestHTTPNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/42", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("view"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"lamp"}`))
	}))
	defer srv.Close()

	out := exec(t, &HTTPNode{Client: srv.Client()}, flowrun.NodeData{
		"url":   srv.URL + "/items/{{.id}}",
		"query": map[string]any{"view": "full"},
	}, map[string]any{"id": 42}, newContext(nil))

	require.Equal(t, flowrun.OutcomeContinue, out.Kind, "err: %v", out.Err)
	assert.Equal(t, map[string]any{"status": 200, "body": map[string]any{"name": "lamp"}}, out.Output)
}

func TestDelayAndEndNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := DelayNode{}.Execute(ctx, flowrun.Node{ID: "d", Data: flowrun.NodeData{"ms": 1000}}, nil, newContext(nil))
	assert.Equal(t, flowrun.OutcomeFail, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)

	out = exec(t, DelayNode{}, flowrun.NodeData{"ms": 1}, map[string]any{"k": 1}, newContext(nil))
	assert.Equal(t, map[string]any{"k": 1}, out.Output)

	out = exec(t, EndNode{}, flowrun.NodeData{}, nil, newContext(nil))
	assert.Equal(t, flowrun.OutcomeTerminate, out.Kind)
}
