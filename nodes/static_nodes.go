package nodes

import (
	"context"
	"errors"
	"log/slog"

	flowrun "flowrun"
)

// StartNode hands the initial input to the rest of the flow.
type StartNode struct{}

func (StartNode) Validate(flowrun.NodeData) error { return nil }

func (StartNode) Execute(_ context.Context, _ flowrun.Node, input map[string]any, _ *flowrun.ExecutionContext) flowrun.Outcome {
	return flowrun.Continue(input)
}

// StringNode emits data.value verbatim.
type StringNode struct{}

type stringConfig struct {
	Value string `json:"value"`
}

func (StringNode) Validate(data flowrun.NodeData) error {
	var cfg stringConfig
	return decodeData(data, &cfg)
}

func (StringNode) Execute(_ context.Context, node flowrun.Node, _ map[string]any, _ *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg stringConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	return flowrun.Continue(cfg.Value)
}

// EndNode stops the whole run without an error.
type EndNode struct{}

func (EndNode) Validate(flowrun.NodeData) error { return nil }

func (EndNode) Execute(context.Context, flowrun.Node, map[string]any, *flowrun.ExecutionContext) flowrun.Outcome {
	return flowrun.Terminate(nil)
}

// LogNode writes its input to the run logger and passes it through.
type LogNode struct{}

type logConfig struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

func (LogNode) Validate(data flowrun.NodeData) error {
	var cfg logConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	switch cfg.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return errors.New("log level must be one of debug, info, warn, error")
}

func (LogNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, ectx *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg logConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	msg := cfg.Message
	if msg == "" {
		msg = node.ID
	}
	ectx.Log().Log(ctx, level, msg, "node_id", node.ID, "input", input)
	return flowrun.Continue(input)
}
