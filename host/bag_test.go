package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowrun "flowrun"
)

func TestChatLifecycle(t *testing.T) {
	ctx := context.Background()
	b := New()

	id, err := b.SendMessage(ctx, "user", "hello")
	require.NoError(t, err)
	second, err := b.SendMessage(ctx, "assistant", "hi there")
	require.NoError(t, err)
	assert.Equal(t, id+1, second)

	require.NoError(t, b.EditMessage(ctx, id, "hello again"))
	require.NoError(t, b.HideMessage(ctx, second, true))
	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello again", msgs[0].Text)
	assert.True(t, msgs[1].Hidden)

	require.NoError(t, b.DeleteMessage(ctx, id))
	assert.Len(t, b.Messages(), 1)
	assert.True(t, errors.Is(b.DeleteMessage(ctx, id), ErrNotFound))
}

func TestBuildMessages(t *testing.T) {
	ctx := context.Background()
	b := New()
	_, err := b.CreateCharacter(ctx, flowrun.Character{Name: "Mira", Description: "A cartographer."})
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := b.SendMessage(ctx, "user", text)
		require.NoError(t, err)
	}

	msgs, err := b.BuildMessages(ctx, flowrun.PromptOptions{
		System:           "Stay in character.",
		User:             "Where are we?",
		IncludeHistory:   true,
		HistoryDepth:     2,
		IncludeCharacter: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []flowrun.ChatMessage{
		{Role: "system", Content: "Stay in character.\n\nA cartographer."},
		{Role: "user", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "user", Content: "Where are we?"},
	}, msgs)

	_, err = b.BuildMessages(ctx, flowrun.PromptOptions{})
	assert.Error(t, err)
}

func TestVariablesAndSlash(t *testing.T) {
	ctx := context.Background()
	b := New()

	require.NoError(t, b.SetVar(ctx, flowrun.ScopeGlobal, "mood", "calm"))
	v, err := b.GetVar(ctx, flowrun.ScopeGlobal, "mood")
	require.NoError(t, err)
	assert.Equal(t, "calm", v)
	v, err = b.GetVar(ctx, flowrun.ScopeLocal, "mood")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Error(t, b.SetVar(ctx, flowrun.ScopeExecution, "x", 1))

	out, err := b.ExecuteSlash(ctx, "/echo  hello world ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	b.RegisterSlash("/upper", func(_ context.Context, args string) (string, error) { return "UP:" + args, nil })
	out, err = b.ExecuteSlash(ctx, "/upper x")
	require.NoError(t, err)
	assert.Equal(t, "UP:x", out)

	_, err = b.ExecuteSlash(ctx, "/missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = b.ExecuteSlash(ctx, "echo")
	assert.Error(t, err)
}

func TestLorebookEntries(t *testing.T) {
	ctx := context.Background()
	b := New()
	_, err := b.CreateLorebook(ctx, "world")
	require.NoError(t, err)
	_, err = b.CreateLorebook(ctx, "world")
	assert.True(t, errors.Is(err, ErrExists))

	first, err := b.ApplyEntry(ctx, "world", flowrun.LorebookEntry{Keys: []string{"castle"}, Content: "old"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.UID)
	second, err := b.ApplyEntry(ctx, "world", flowrun.LorebookEntry{Keys: []string{"river"}})
	require.NoError(t, err)
	assert.Equal(t, 2, second.UID)

	_, err = b.ApplyEntry(ctx, "world", flowrun.LorebookEntry{UID: 1, Keys: []string{"castle"}, Content: "new"})
	require.NoError(t, err)

	book, err := b.GetLorebook(ctx, "world")
	require.NoError(t, err)
	require.Len(t, book.Entries, 2)
	assert.Equal(t, "new", book.Entries[0].Content)
}

func TestDialogsAndNotices(t *testing.T) {
	ctx := context.Background()
	b := New()

	answer, err := b.PromptUser(ctx, "name?", "anon")
	assert.Equal(t, "anon", answer)
	assert.True(t, errors.Is(err, flowrun.ErrUnsupported))

	require.NoError(t, b.Notify(ctx, "error", "boom"))
	notices := b.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "boom", notices[0].Message)
}

func TestMockStream(t *testing.T) {
	b := New()
	var chunks []string
	full, err := b.GenerateStream(context.Background(), flowrun.GenerateRequest{
		Messages: []flowrun.ChatMessage{{Role: "user", Content: "tell me"}},
	}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "mock response for tell me", full)
	assert.Equal(t, []string{"mock ", "response ", "for ", "tell ", "me"}, chunks)

	stop := errors.New("stop")
	_, err = b.GenerateStream(context.Background(), flowrun.GenerateRequest{
		Messages: []flowrun.ChatMessage{{Role: "user", Content: "x"}},
	}, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestGenerateWithOpenAIClient(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "  bonjour  "}}},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	b := New(WithOpenAI(openai.NewClientWithConfig(cfg), "gpt-test"))

	out, err := b.Generate(context.Background(), flowrun.GenerateRequest{
		Messages:  []flowrun.ChatMessage{{Role: "user", Content: "translate hello"}},
		MaxTokens: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "translate hello", got.Messages[0].Content)
}
