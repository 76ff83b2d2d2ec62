package flow

import (
	"fmt"
	"strings"
)

// Body types understood by the transport.
const (
	BodyNone    = "none"
	BodyJSON    = "json"
	BodyText    = "text"
	BodyXML     = "xml"
	BodyForm    = "form"
	BodyGraphQL = "graphql"
	BodyRaw     = "raw"
)

// Step is one HTTP request template plus scripting, looping and
// flow-control metadata.
type Step struct {
	ID        int64  `yaml:"id" json:"id"`
	FlowID    int64  `yaml:"-" json:"flowId"`
	StepOrder int    `yaml:"stepOrder" json:"stepOrder"`
	Name      string `yaml:"name" json:"name"`

	// Request template
	Method   string            `yaml:"method" json:"method"`
	URL      string            `yaml:"url" json:"url"`
	Headers  map[string]string `yaml:"headers" json:"headers,omitempty"`
	Body     string            `yaml:"-" json:"body,omitempty"`
	BodyType string            `yaml:"bodyType" json:"bodyType,omitempty"`

	DelayMs         int               `yaml:"delayMs" json:"delayMs,omitempty"`
	LoopCount       int               `yaml:"loopCount" json:"loopCount"`
	ExtractVars     map[string]string `yaml:"extractVars" json:"extractVars,omitempty"` // name -> JSONPath
	Condition       string            `yaml:"condition" json:"condition,omitempty"`
	PreScript       string            `yaml:"-" json:"preScript,omitempty"`
	PostScript      string            `yaml:"-" json:"postScript,omitempty"`
	ContinueOnError bool              `yaml:"continueOnError" json:"continueOnError"`

	// ProxyID: nil inherits the global proxy, 0 disables proxying
	ProxyID *int64 `yaml:"proxyId" json:"proxyId,omitempty"`
}

// Describe returns a human-readable description for logs and reports.
func (s *Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s %s", s.HTTPMethod(), s.URL)
}

// HTTPMethod returns the upper-cased method, GET when unset.
func (s *Step) HTTPMethod() string {
	if s.Method == "" {
		return "GET"
	}
	return strings.ToUpper(s.Method)
}

// Loops returns the effective loop count.
func (s *Step) Loops() int {
	if s.LoopCount < 1 {
		return 1
	}
	return s.LoopCount
}

// EffectiveBodyType returns the body type, inferring json/text when unset.
func (s *Step) EffectiveBodyType() string {
	if s.BodyType != "" {
		return strings.ToLower(s.BodyType)
	}
	if strings.TrimSpace(s.Body) == "" {
		return BodyNone
	}
	t := strings.TrimSpace(s.Body)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		return BodyJSON
	}
	return BodyText
}
