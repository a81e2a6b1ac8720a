package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	flowrun "flowrun"
)

// SlashCommandNode runs a host slash command. The command is a Go template
// rendered against the input, e.g. "/echo {{.text}}".
type SlashCommandNode struct{}

type slashConfig struct {
	Command string `json:"command"`
}

func (SlashCommandNode) Validate(data flowrun.NodeData) error {
	var cfg slashConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return errors.New("slash command is required")
	}
	_, err := template.New("cmd").Parse(cfg.Command)
	return err
}

func (SlashCommandNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg slashConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	command, err := render(node.ID+"-cmd", cfg.Command, input)
	if err != nil {
		return flowrun.Fail(err)
	}
	out, err := ectx.Bag.ExecuteSlash(ctx, command)
	if err != nil {
		return flowrun.Fail(fmt.Errorf("slash command failed: %w", err))
	}
	return flowrun.Continue(map[string]any{"result": out})
}

func render(name, text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("compile template: %w", err)
	}
	buf := &strings.Builder{}
	if err := tmpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
