// Package dsl parses the line-oriented flow description language:
//
//	# comments start with a hash
//	flow greet "Greeting"
//	node start = start
//	node hello = string value="Hello there"
//	node check = if conditions='[{"id":"long","expr":"len(value) > 5"}]'
//	connect start -> hello
//	connect hello -> check
//	connect check.long -> shout.text
//	disable shout
//
// A script may declare several flows; every directive after a flow line
// belongs to that flow.
package dsl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	flowrun "flowrun"
)

type parser struct {
	flows   []*flowrun.Flow
	current *flowrun.Flow
	ids     map[string]int
	edges   int
}

// ParseFlows builds every flow declared in script.
func ParseFlows(script string) ([]*flowrun.Flow, error) {
	p := &parser{}
	if err := p.parse(script); err != nil {
		return nil, err
	}
	if len(p.flows) == 0 {
		return nil, fmt.Errorf("script declares no flow")
	}
	for _, f := range p.flows {
		if len(f.Nodes) == 0 {
			return nil, fmt.Errorf("flow %q has no nodes", f.ID)
		}
	}
	return p.flows, nil
}

// ParseFlow builds the single flow declared in script.
func ParseFlow(script string) (*flowrun.Flow, error) {
	flows, err := ParseFlows(script)
	if err != nil {
		return nil, err
	}
	if len(flows) != 1 {
		return nil, fmt.Errorf("expected one flow, script declares %d", len(flows))
	}
	return flows[0], nil
}

func (p *parser) parse(script string) error {
	scanner := bufio.NewScanner(strings.NewReader(script))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		tokens, err := tokenizeLine(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(tokens) == 0 {
			continue
		}

		if tokens[0] != "flow" && p.current == nil {
			return fmt.Errorf("line %d: %q before any flow declaration", lineNum, tokens[0])
		}
		switch tokens[0] {
		case "flow":
			err = p.parseFlow(tokens)
		case "node":
			err = p.parseNode(tokens)
		case "connect":
			err = p.parseConnect(tokens)
		case "disable":
			err = p.parseDisable(tokens)
		default:
			err = fmt.Errorf("unsupported directive %q", tokens[0])
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return scanner.Err()
}

func (p *parser) parseFlow(tokens []string) error {
	if len(tokens) < 2 || len(tokens) > 3 {
		return fmt.Errorf("invalid flow declaration, expected `flow <id> [\"name\"]`")
	}
	for _, f := range p.flows {
		if f.ID == tokens[1] {
			return fmt.Errorf("flow %q already declared", tokens[1])
		}
	}
	f := &flowrun.Flow{ID: tokens[1], Nodes: []flowrun.Node{}, Edges: []flowrun.Edge{}}
	if len(tokens) == 3 {
		f.Name = tokens[2]
	}
	p.flows = append(p.flows, f)
	p.current = f
	p.ids = make(map[string]int)
	p.edges = 0
	return nil
}

func (p *parser) parseNode(tokens []string) error {
	if len(tokens) < 4 || tokens[2] != "=" {
		return fmt.Errorf("invalid node definition, expected `node <id> = <type> key=value ...`")
	}
	id := tokens[1]
	if strings.Contains(id, ".") {
		return fmt.Errorf("node id %q must not contain a dot", id)
	}
	if _, exists := p.ids[id]; exists {
		return fmt.Errorf("node %q already defined", id)
	}

	data := flowrun.NodeData{}
	for _, arg := range tokens[4:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("node %q: argument %q is not key=value", id, arg)
		}
		data[key] = parseValue(value)
	}

	p.ids[id] = len(p.current.Nodes)
	p.current.Nodes = append(p.current.Nodes, flowrun.Node{ID: id, Type: tokens[3], Data: data})
	return nil
}

func (p *parser) parseConnect(tokens []string) error {
	if len(tokens) != 4 || tokens[2] != "->" {
		return fmt.Errorf("invalid connect, expected `connect <from>[.handle] -> <to>[.handle]`")
	}
	source, sourceHandle := splitEndpoint(tokens[1])
	target, targetHandle := splitEndpoint(tokens[3])
	for _, id := range []string{source, target} {
		if _, ok := p.ids[id]; !ok {
			return fmt.Errorf("connect references undefined node %q", id)
		}
	}

	p.edges++
	p.current.Edges = append(p.current.Edges, flowrun.Edge{
		ID:           fmt.Sprintf("e%d", p.edges),
		Source:       source,
		SourceHandle: sourceHandle,
		Target:       target,
		TargetHandle: targetHandle,
	})
	return nil
}

func (p *parser) parseDisable(tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("disable expects at least one node id")
	}
	for _, id := range tokens[1:] {
		idx, ok := p.ids[id]
		if !ok {
			return fmt.Errorf("disable references undefined node %q", id)
		}
		p.current.Nodes[idx].Data[flowrun.DataKeyDisabled] = true
	}
	return nil
}

func splitEndpoint(raw string) (string, *string) {
	id, handle, ok := strings.Cut(raw, ".")
	if !ok || handle == "" {
		return id, nil
	}
	return id, flowrun.Handle(handle)
}

// parseValue decodes JSON literals and keeps anything else as a string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// tokenizeLine splits on whitespace. Double quotes group words and honour
// backslash escapes; single quotes group words verbatim.
func tokenizeLine(line string) ([]string, error) {
	var tokens []string
	var buf strings.Builder
	var quote rune
	escaping := false
	quoted := false

	for _, r := range line {
		switch {
		case escaping:
			buf.WriteRune(r)
			escaping = false
		case quote == '\'' && r != '\'':
			buf.WriteRune(r)
		case r == '\\' && quote == '"':
			escaping = true
		case (r == '"' || r == '\'') && (quote == 0 || quote == r):
			if quote == 0 {
				quote = r
				quoted = true
			} else {
				quote = 0
			}
		case unicode.IsSpace(r) && quote == 0:
			if buf.Len() > 0 || quoted {
				tokens = append(tokens, buf.String())
				buf.Reset()
				quoted = false
			}
		default:
			buf.WriteRune(r)
		}
	}

	if escaping {
		return nil, fmt.Errorf("unfinished escape sequence")
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	if buf.Len() > 0 || quoted {
		tokens = append(tokens, buf.String())
	}
	return tokens, nil
}
