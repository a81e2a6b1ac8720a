package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flowrun "flowrun"
	"flowrun/utils"
)

// LLMRouterNode asks the LLM which of its handles to activate.
type LLMRouterNode struct{}

type llmRouterConfig struct {
	Profile  string   `json:"profile"`
	Prompt   string   `json:"prompt"`
	Handles  []string `json:"handles"`
	InputKey string   `json:"inputKey"`
	Default  string   `json:"default"`
}

func (LLMRouterNode) Branching() bool { return true }

func (LLMRouterNode) Validate(data flowrun.NodeData) error {
	var cfg llmRouterConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if len(cfg.Handles) == 0 {
		return errors.New("llm router needs at least one handle")
	}
	return nil
}

func (LLMRouterNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg llmRouterConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	if len(cfg.Handles) == 0 {
		return flowrun.Fail(errors.New("llm router needs at least one handle"))
	}
	if cfg.InputKey == "" {
		cfg.InputKey = "input"
	}
	if cfg.Default == "" {
		cfg.Default = cfg.Handles[0]
	}

	system := fmt.Sprintf("%s\nAnswer with exactly one of: %s.", cfg.Prompt, strings.Join(cfg.Handles, ", "))
	answer, err := ectx.Bag.Generate(ctx, flowrun.GenerateRequest{
		Profile: cfg.Profile,
		Messages: []flowrun.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: utils.Stringify(input[cfg.InputKey])},
		},
	})
	if err != nil {
		return flowrun.Fail(fmt.Errorf("llm router call failed: %w", err))
	}

	activated := cfg.Default
	lowered := strings.ToLower(strings.TrimSpace(answer))
	for _, h := range cfg.Handles {
		if strings.Contains(lowered, strings.ToLower(h)) {
			activated = h
			break
		}
	}

	output := utils.CloneMap(input)
	output[flowrun.ActivatedHandleKey] = activated
	output["answer"] = answer
	return flowrun.Continue(output)
}
