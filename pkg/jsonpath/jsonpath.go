// Package jsonpath evaluates a small JSONPath subset against response bodies.
//
// Supported: $ root, .member, ['member'], [n] (negative from the end), [*]
// and .* wildcards. When a path matches more than one value the first
// match in document order is returned.
package jsonpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound is returned when the path matches nothing.
	ErrNotFound = errors.New("jsonpath: no match")
	// ErrInvalidJSON is returned when the document cannot be parsed.
	ErrInvalidJSON = errors.New("jsonpath: document is not valid JSON")
)

type segmentKind int

const (
	segMember segmentKind = iota
	segIndex
	segWildcard
)

type segment struct {
	kind  segmentKind
	name  string
	index int
}

// Path is a compiled path expression.
type Path struct {
	raw      string
	segments []segment
}

// String returns the source expression.
func (p *Path) String() string { return p.raw }

// Compile parses a path expression. A leading "$" is optional.
func Compile(expr string) (*Path, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("jsonpath: empty path")
	}
	p := &Path{raw: expr}

	i := 0
	if s[0] == '$' {
		i = 1
	} else if s[0] != '.' && s[0] != '[' {
		s = "." + s
	}

	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			if i < len(s) && s[i] == '.' {
				return nil, fmt.Errorf("jsonpath: recursive descent is not supported in %q", expr)
			}
			start := i
			for i < len(s) && s[i] != '.' && s[i] != '[' {
				i++
			}
			name := s[start:i]
			switch name {
			case "":
				return nil, fmt.Errorf("jsonpath: empty member name in %q", expr)
			case "*":
				p.segments = append(p.segments, segment{kind: segWildcard})
			default:
				p.segments = append(p.segments, segment{kind: segMember, name: name})
			}
		case '[':
			end, seg, err := parseBracket(s, i)
			if err != nil {
				return nil, fmt.Errorf("jsonpath: %v in %q", err, expr)
			}
			p.segments = append(p.segments, seg)
			i = end
		default:
			return nil, fmt.Errorf("jsonpath: unexpected %q at offset %d in %q", s[i], i, expr)
		}
	}
	return p, nil
}

// parseBracket parses the bracket expression starting at s[i] == '[' and
// returns the offset just past the closing bracket.
func parseBracket(s string, i int) (int, segment, error) {
	i++
	if i >= len(s) {
		return 0, segment{}, errors.New("unterminated bracket")
	}

	if q := s[i]; q == '\'' || q == '"' {
		var b strings.Builder
		i++
		for i < len(s) && s[i] != q {
			if s[i] == '\\' && i+1 < len(s) {
				i++
			}
			b.WriteByte(s[i])
			i++
		}
		if i+1 >= len(s) || s[i+1] != ']' {
			return 0, segment{}, errors.New("unterminated quoted member")
		}
		return i + 2, segment{kind: segMember, name: b.String()}, nil
	}

	end := strings.IndexByte(s[i:], ']')
	if end < 0 {
		return 0, segment{}, errors.New("unterminated bracket")
	}
	inner := strings.TrimSpace(s[i : i+end])
	if inner == "*" {
		return i + end + 1, segment{kind: segWildcard}, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return 0, segment{}, fmt.Errorf("invalid index %q", inner)
	}
	return i + end + 1, segment{kind: segIndex, index: n}, nil
}

// Find returns the first match of the path in the JSON document.
func (p *Path) Find(doc string) (gjson.Result, error) {
	if !gjson.Valid(doc) {
		return gjson.Result{}, ErrInvalidJSON
	}
	if r, ok := p.first(gjson.Parse(doc), 0); ok {
		return r, nil
	}
	return gjson.Result{}, ErrNotFound
}

// first walks the document depth-first so the earliest match in document
// order is returned.
func (p *Path) first(cur gjson.Result, depth int) (gjson.Result, bool) {
	if depth == len(p.segments) {
		return cur, true
	}
	seg := p.segments[depth]

	switch seg.kind {
	case segMember:
		if !cur.IsObject() {
			return gjson.Result{}, false
		}
		var found gjson.Result
		ok := false
		cur.ForEach(func(k, v gjson.Result) bool {
			if k.String() == seg.name {
				found, ok = v, true
				return false
			}
			return true
		})
		if !ok {
			return gjson.Result{}, false
		}
		return p.first(found, depth+1)

	case segIndex:
		if !cur.IsArray() {
			return gjson.Result{}, false
		}
		items := cur.Array()
		idx := seg.index
		if idx < 0 {
			idx += len(items)
		}
		if idx < 0 || idx >= len(items) {
			return gjson.Result{}, false
		}
		return p.first(items[idx], depth+1)

	default:
		if !cur.IsObject() && !cur.IsArray() {
			return gjson.Result{}, false
		}
		var found gjson.Result
		ok := false
		cur.ForEach(func(_, v gjson.Result) bool {
			found, ok = p.first(v, depth+1)
			return !ok
		})
		return found, ok
	}
}

// Extract evaluates expr against a raw JSON document and returns the
// matched value decoded to Go types (float64, string, bool, nil,
// map[string]interface{}, []interface{}).
func Extract(doc, expr string) (interface{}, error) {
	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	r, err := p.Find(doc)
	if err != nil {
		return nil, err
	}
	return r.Value(), nil
}

// ExtractValue evaluates expr against an already decoded value.
func ExtractValue(v interface{}, expr string) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonpath: %w", err)
	}
	return Extract(string(b), expr)
}

// Exists reports whether expr matches anything in doc.
func Exists(doc, expr string) bool {
	_, err := Extract(doc, expr)
	return err == nil
}
