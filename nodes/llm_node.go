package nodes

import (
	"context"
	"errors"
	"fmt"

	flowrun "flowrun"
	"flowrun/utils"
)

// LLMNode sends a prompt through the host LLM capability.
//
// The prompt comes from data.prompt, or from the input key named by
// data.inputKey (default "prompt"). With data.structured set, the reply is
// parsed as a JSON object against data.schema.
type LLMNode struct{}

type llmConfig struct {
	Profile        string         `json:"profile"`
	Model          string         `json:"model"`
	System         string         `json:"system"`
	Prompt         string         `json:"prompt"`
	InputKey       string         `json:"inputKey"`
	MaxTokens      int            `json:"maxTokens"`
	Temperature    float32        `json:"temperature"`
	Structured     bool           `json:"structured"`
	Schema         map[string]any `json:"schema"`
	IncludeHistory bool           `json:"includeHistory"`
	HistoryDepth   int            `json:"historyDepth"`
}

func (LLMNode) Validate(data flowrun.NodeData) error {
	var cfg llmConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if cfg.Structured && len(cfg.Schema) == 0 {
		return errors.New("structured llm node requires a schema")
	}
	return nil
}

func (LLMNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg llmConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	req, err := buildRequest(ctx, cfg, input, ectx.Bag)
	if err != nil {
		return flowrun.Fail(err)
	}

	if cfg.Structured {
		obj, err := ectx.Bag.GenerateStructured(ctx, req)
		if err != nil {
			return flowrun.Fail(fmt.Errorf("structured request failed: %w", err))
		}
		return flowrun.Continue(map[string]any{"result": obj})
	}

	text, err := ectx.Bag.Generate(ctx, req)
	if err != nil {
		return flowrun.Fail(fmt.Errorf("llm request failed: %w", err))
	}
	return flowrun.Continue(map[string]any{"result": text})
}

func buildRequest(ctx context.Context, cfg llmConfig, input map[string]any, bag flowrun.CapabilityBag) (flowrun.GenerateRequest, error) {
	prompt := cfg.Prompt
	if prompt == "" {
		key := cfg.InputKey
		if key == "" {
			key = "prompt"
		}
		prompt = utils.Stringify(input[key])
	}

	req := flowrun.GenerateRequest{
		Profile:     cfg.Profile,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Schema:      cfg.Schema,
	}

	if msgs, ok := input["messages"].([]flowrun.ChatMessage); ok && len(msgs) > 0 {
		req.Messages = msgs
		return req, nil
	}

	msgs, err := bag.BuildMessages(ctx, flowrun.PromptOptions{
		System:         cfg.System,
		User:           prompt,
		IncludeHistory: cfg.IncludeHistory,
		HistoryDepth:   cfg.HistoryDepth,
	})
	if err != nil {
		return req, fmt.Errorf("build messages: %w", err)
	}
	req.Messages = msgs
	return req, nil
}
