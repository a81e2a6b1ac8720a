package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	flowrun "flowrun"
)

// httpConfig describes a request driven by the node input. URL and body may
// use Go templates over the input.
type httpConfig struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	QueryParams map[string]string `json:"query"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	TimeoutMs   int               `json:"timeoutMs"`
	ParseJSON   *bool             `json:"json"`
}

// HTTPNode executes a request and outputs {"status", "body"}. Non-2xx
// responses are returned as output, not as failures.
type HTTPNode struct {
	Client *http.Client
}

func (n *HTTPNode) Validate(data flowrun.NodeData) error {
	var cfg httpConfig
	if err := decodeData(data, &cfg); err != nil {
		return err
	}
	if cfg.URL == "" {
		return errors.New("http node requires url")
	}
	return nil
}

func (n *HTTPNode) Execute(ctx context.Context, node flowrun.Node, input map[string]any, _ *flowrun.ExecutionContext) flowrun.Outcome {
	var cfg httpConfig
	if err := decodeData(node.Data, &cfg); err != nil {
		return flowrun.Fail(err)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	timeout := 30 * time.Second
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	urlStr, err := renderURL(node.ID, cfg, input)
	if err != nil {
		return flowrun.Fail(err)
	}

	var body io.Reader
	if cfg.Body != "" {
		rendered, err := render(node.ID+"-body", cfg.Body, input)
		if err != nil {
			return flowrun.Fail(err)
		}
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(cfg.Method), urlStr, body)
	if err != nil {
		return flowrun.Fail(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return flowrun.Fail(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return flowrun.Fail(err)
	}

	stored := any(string(payload))
	if cfg.ParseJSON == nil || *cfg.ParseJSON {
		var parsed any
		if err := json.Unmarshal(payload, &parsed); err == nil {
			stored = parsed
		}
	}
	return flowrun.Continue(map[string]any{"status": resp.StatusCode, "body": stored})
}

func renderURL(id string, cfg httpConfig, input map[string]any) (string, error) {
	target, err := render(id+"-url", cfg.URL, input)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(cfg.QueryParams) > 0 {
		query := parsed.Query()
		for key, value := range cfg.QueryParams {
			query.Set(key, value)
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}
