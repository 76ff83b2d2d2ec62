package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML or JSON flow file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow content. Three layouts are accepted: a mapping with a
// steps list, a bare steps list, or a config document followed by a steps
// document separated by "---". JSON is parsed as YAML.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))

	flow := &Flow{
		SourcePath: sourcePath,
	}

	if len(parts) == 0 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty flow file",
		}
	}

	if len(parts) == 1 {
		if err := parseDocument(parts[0], flow); err != nil {
			return nil, err
		}
	} else {
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], flow); err != nil {
			return nil, err
		}
	}

	if flow.Name == "" && sourcePath != "" {
		base := filepath.Base(sourcePath)
		flow.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	flow.Normalize()
	return flow, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		} else {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if current.Len() > 0 {
		s := strings.TrimSpace(current.String())
		if s != "" {
			parts = append(parts, current.String())
		}
	}

	return parts
}

// flowConfig is the flow header without its steps.
type flowConfig struct {
	ID          int64             `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Tags        []string          `yaml:"tags"`
	Env         map[string]string `yaml:"env"`
}

func (c flowConfig) apply(flow *Flow) {
	flow.ID = c.ID
	flow.Name = c.Name
	flow.Description = c.Description
	flow.Tags = c.Tags
	flow.Env = c.Env
}

func parseDocument(content string, flow *Flow) error {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid flow: %v", err),
		}
	}
	if len(root.Content) == 0 {
		return &ParseError{Path: flow.SourcePath, Line: 1, Message: "empty flow file"}
	}
	doc := root.Content[0]

	switch doc.Kind {
	case yaml.SequenceNode:
		return parseStepNodes(doc.Content, flow)
	case yaml.MappingNode:
		var cfg flowConfig
		if err := doc.Decode(&cfg); err != nil {
			return wrapParseError(flow.SourcePath, doc.Line, err)
		}
		cfg.apply(flow)
		steps := mappingValue(doc, "steps")
		if steps == nil {
			return &ParseError{Path: flow.SourcePath, Line: doc.Line, Message: "flow has no steps"}
		}
		if steps.Kind != yaml.SequenceNode {
			return &ParseError{Path: flow.SourcePath, Line: steps.Line, Message: "steps must be a list"}
		}
		return parseStepNodes(steps.Content, flow)
	default:
		return &ParseError{
			Path:    flow.SourcePath,
			Line:    doc.Line,
			Message: "flow must be a mapping or a list of steps",
		}
	}
}

func parseConfig(content string, flow *Flow) error {
	var cfg flowConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	cfg.apply(flow)
	return nil
}

func parseSteps(content string, flow *Flow) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}
	nodes := make([]*yaml.Node, len(rawSteps))
	for i := range rawSteps {
		nodes[i] = &rawSteps[i]
	}
	return parseStepNodes(nodes, flow)
}

func parseStepNodes(nodes []*yaml.Node, flow *Flow) error {
	for _, node := range nodes {
		step, err := parseStep(node, flow.SourcePath)
		if err != nil {
			return err
		}
		flow.Steps = append(flow.Steps, step)
	}
	return nil
}

// stepRaw captures the fields that accept either a string or structured YAML.
type stepRaw struct {
	Body       yaml.Node `yaml:"body"`
	PreScript  yaml.Node `yaml:"preScript"`
	PostScript yaml.Node `yaml:"postScript"`
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	var step Step
	if node.Kind != yaml.MappingNode {
		return step, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping",
		}
	}

	if err := node.Decode(&step); err != nil {
		return step, wrapParseError(sourcePath, node.Line, err)
	}

	var raw stepRaw
	if err := node.Decode(&raw); err != nil {
		return step, wrapParseError(sourcePath, node.Line, err)
	}

	var err error
	if step.Body, err = nodeText(&raw.Body); err != nil {
		return step, wrapParseError(sourcePath, raw.Body.Line, fmt.Errorf("body: %w", err))
	}
	if step.PreScript, err = nodeText(&raw.PreScript); err != nil {
		return step, wrapParseError(sourcePath, raw.PreScript.Line, fmt.Errorf("preScript: %w", err))
	}
	if step.PostScript, err = nodeText(&raw.PostScript); err != nil {
		return step, wrapParseError(sourcePath, raw.PostScript.Line, fmt.Errorf("postScript: %w", err))
	}

	if step.URL == "" {
		return step, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: fmt.Sprintf("step %q has no url", step.Name),
		}
	}
	if step.LoopCount < 0 {
		return step, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: fmt.Sprintf("step %q: loopCount must not be negative", step.Name),
		}
	}
	return step, nil
}

// nodeText returns scalars verbatim and re-encodes mappings and lists as
// JSON, so DSL scripts and JSON bodies can be written inline as YAML.
func nodeText(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return "", nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return "", nil
		}
		return node.Value, nil
	case yaml.MappingNode, yaml.SequenceNode:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported value")
	}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// IsFlowFile reports whether the path has a flow file extension.
func IsFlowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}

// ParseDirectory parses all flow files in a directory.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Flow, error) {
	var flows []*Flow

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !IsFlowFile(path) || isConfigFile(path) {
			return nil
		}

		flow, parseErr := ParseFile(path)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, parseErr)
			return nil
		}

		if ShouldIncludeFlow(flow, includeTags, excludeTags) {
			flows = append(flows, flow)
		}
		return nil
	})

	return flows, err
}

func isConfigFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	return base == "apiflow.yaml" || base == "apiflow.yml"
}

// ShouldIncludeFlow checks if a flow matches tag filters.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range flow.Tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range flow.Tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
