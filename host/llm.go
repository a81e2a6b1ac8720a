package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	flowrun "flowrun"
)

func (b *Bag) chatRequest(req flowrun.GenerateRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = b.model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// mockReply is the canned answer used without an OpenAI client.
func mockReply(req flowrun.GenerateRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == openai.ChatMessageRoleUser {
			return "mock response for " + req.Messages[i].Content
		}
	}
	return "mock response"
}

func (b *Bag) Generate(ctx context.Context, req flowrun.GenerateRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("generate: no messages")
	}
	if b.client == nil {
		return mockReply(req), ctx.Err()
	}

	resp, err := b.client.CreateChatCompletion(ctx, b.chatRequest(req))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned empty choice list")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateStructured asks for a JSON object. With req.Schema set the reply is
// constrained to that JSON schema.
func (b *Bag) GenerateStructured(ctx context.Context, req flowrun.GenerateRequest) (map[string]any, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("generate: no messages")
	}
	if b.client == nil {
		return map[string]any{"response": mockReply(req)}, ctx.Err()
	}

	chat := b.chatRequest(req)
	chat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if len(req.Schema) > 0 {
		schema, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("encode schema: %w", err)
		}
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "result",
				Schema: json.RawMessage(schema),
				Strict: true,
			},
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned empty choice list")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("decode structured reply: %w", err)
	}
	return out, nil
}

// GenerateStream calls onChunk for every content delta and returns the full
// reply. An error from onChunk stops the stream.
func (b *Bag) GenerateStream(ctx context.Context, req flowrun.GenerateRequest, onChunk func(string) error) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("generate: no messages")
	}
	if b.client == nil {
		return streamMock(ctx, mockReply(req), onChunk)
	}

	chat := b.chatRequest(req)
	chat.Stream = true
	stream, err := b.client.CreateChatCompletionStream(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), fmt.Errorf("stream receive: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return full.String(), err
		}
	}
}

func streamMock(ctx context.Context, text string, onChunk func(string) error) (string, error) {
	var full strings.Builder
	for _, chunk := range strings.SplitAfter(text, " ") {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}
