package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"flowrun/dsl"
	"flowrun/history"
	"flowrun/host"
	"flowrun/orchestrator"
)

// Config is the server configuration, read from an ini file.
type Config struct {
	// Server is the http listen address.
	Server    string `ini:"server"`
	LogLevel  string `ini:"log_level"`
	LogFormat string `ini:"log_format"`
	// HistoryFile persists run history; empty keeps it in memory.
	HistoryFile string `ini:"history_file"`
	HistorySize int    `ini:"history_size"`
	// Flows is a .flow script, a JSON document or a directory of both.
	Flows          string `ini:"flows"`
	AllowDangerous bool   `ini:"allow_dangerous"`
	MaxDepth       int    `ini:"max_depth"`
	OpenAI         OpenAI `ini:"openai"`

	Triggers  []orchestrator.TriggerBinding `ini:"-"`
	Schedules []Schedule                    `ini:"-"`
}

type OpenAI struct {
	APIKey  string `ini:"api_key"`
	Model   string `ini:"model"`
	BaseURL string `ini:"base_url"`
}

// Schedule queues a flow on a cron spec.
type Schedule struct {
	Name   string `ini:"-"`
	Spec   string `ini:"spec"`
	FlowID string `ini:"flow"`
	Input  string `ini:"input"`
}

// DecodeInput parses the optional JSON object input.
func (s Schedule) DecodeInput() (map[string]any, error) {
	input := map[string]any{}
	if strings.TrimSpace(s.Input) == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(s.Input), &input); err != nil {
		return nil, fmt.Errorf("schedule %s: invalid input: %w", s.Name, err)
	}
	return input, nil
}

var DefaultConfig = Config{
	Server:      ":8080",
	LogLevel:    "info",
	LogFormat:   "text",
	HistorySize: history.DefaultMaxEntries,
	OpenAI:      OpenAI{Model: host.DefaultModel},
}

const (
	triggerPrefix  = "trigger."
	schedulePrefix = "schedule."
)

// loadConfig reads file on top of DefaultConfig. An empty file name returns
// the defaults. OPENAI_API_KEY fills in a missing api key.
func loadConfig(file string) (Config, error) {
	c := DefaultConfig
	if file != "" {
		cfg, err := ini.Load(file)
		if err != nil {
			return c, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.MapTo(&c); err != nil {
			return c, fmt.Errorf("map config: %w", err)
		}
		for _, section := range cfg.Sections() {
			name := section.Name()
			switch {
			case strings.HasPrefix(name, triggerPrefix):
				var b orchestrator.TriggerBinding
				if err := section.MapTo(&b); err != nil {
					return c, fmt.Errorf("section %s: %w", name, err)
				}
				c.Triggers = append(c.Triggers, b)
			case strings.HasPrefix(name, schedulePrefix):
				s := Schedule{Name: strings.TrimPrefix(name, schedulePrefix)}
				if err := section.MapTo(&s); err != nil {
					return c, fmt.Errorf("section %s: %w", name, err)
				}
				c.Schedules = append(c.Schedules, s)
			}
		}
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = host.DefaultModel
	}
	return c, nil
}

// loadFlows fills store from path: a .flow script, a .json array of flows,
// or a directory holding either kind.
func loadFlows(store *orchestrator.MemoryFlowStore, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("load flows: %w", err)
	}
	if !info.IsDir() {
		return loadFlowFile(store, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("load flows: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".flow", ".json":
			if err := loadFlowFile(store, filepath.Join(path, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadFlowFile(store *orchestrator.MemoryFlowStore, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if filepath.Ext(file) == ".json" {
		if err := store.LoadJSON(raw); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		return nil
	}

	parsed, err := dsl.ParseFlows(string(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	for _, f := range parsed {
		store.Put(f)
	}
	return nil
}
