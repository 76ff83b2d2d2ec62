// Package template substitutes {{name}} placeholders with variable values.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_$][A-Za-z0-9_.$-]*)\s*\}\}`)

// Lookup resolves a variable name.
type Lookup interface {
	Get(name string) (interface{}, bool)
}

// Map is a Lookup over a plain map.
type Map map[string]interface{}

// Get implements Lookup.
func (m Map) Get(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

// Chain looks names up in order, first hit wins.
type Chain []Lookup

// Get implements Lookup.
func (c Chain) Get(name string) (interface{}, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if v, ok := l.Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Render replaces every resolvable placeholder in s. Unresolved
// placeholders are left as written.
func Render(s string, vars Lookup) string {
	if vars == nil || !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars.Get(name)
		if !ok {
			return m
		}
		return Stringify(v)
	})
}

// RenderJSON renders a JSON document. Placeholders inside string literals
// are JSON-escaped; placeholders outside strings (e.g. "id": {{id}}) are
// substituted verbatim. Layout and key order are preserved.
func RenderJSON(s string, vars Lookup) string {
	if vars == nil || !strings.Contains(s, "{{") {
		return s
	}
	matches := placeholder.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	pos := 0
	for _, m := range matches {
		for i := pos; i < m[0]; i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			}
		}
		b.WriteString(s[pos:m[0]])
		pos = m[1]

		v, ok := vars.Get(s[m[2]:m[3]])
		switch {
		case !ok:
			b.WriteString(s[m[0]:m[1]])
		case inString:
			b.WriteString(escapeJSON(Stringify(v)))
		default:
			b.WriteString(Stringify(v))
		}
	}
	b.WriteString(s[pos:])
	return b.String()
}

// Unresolved lists the placeholder names still present in s, in order of
// first appearance.
func Unresolved(s string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// HasPlaceholder reports whether s contains at least one placeholder.
func HasPlaceholder(s string) bool {
	return placeholder.MatchString(s)
}

// Stringify converts a variable value to its template representation.
// Integral floats print without a fraction, maps and slices as compact
// JSON and nil as the empty string.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatFloat(val, 64)
	case float32:
		return formatFloat(float64(val), 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	case map[string]interface{}, []interface{}, map[string]string, []string:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	default:
		return fmt.Sprint(val)
	}
}

func formatFloat(f float64, bits int) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func escapeJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	out := strings.TrimSuffix(buf.String(), "\n")
	return out[1 : len(out)-1]
}
