// Package condition evaluates the small boolean expression language used by
// step skip-conditions and DSL flow branches.
//
// Grammar: terms joined by && and ||, && binding tighter. A term is a bare
// true/false or a comparison "a OP b" with OP one of == != > >= < <= contains.
// Operands are numbers, quoted strings, null, or text containing {{name}}
// placeholders.
//
// Expressions run on expr. Every operand is bound as an environment
// variable before compiling, so rendered values never reach the expression
// source, and the comparison operators are overloaded to coerce operands
// loosely: numeric when both sides parse as numbers, string otherwise.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/devicelab-dev/apiflow/pkg/template"
)

// Error describes a malformed expression.
type Error struct {
	Expr    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid condition %q: %s", e.Expr, e.Message)
}

// Operand is a rendered atom of an expression.
type Operand struct {
	Raw  string // As written, placeholders unrendered
	Text string
	Null bool // Literal null, empty or unresolved
}

// comparison operators and the functions overloading them
var comparisons = map[string]string{
	"==":       "opEq",
	"!=":       "opNe",
	">":        "opGt",
	">=":       "opGte",
	"<":        "opLt",
	"<=":       "opLte",
	"contains": "opContains",
}

// Evaluate reports whether exp holds. An empty expression is true. A
// malformed expression evaluates to false together with an *Error.
func Evaluate(exp string, vars template.Lookup) (bool, error) {
	if strings.TrimSpace(exp) == "" {
		return true, nil
	}

	src, atoms, err := bind(exp)
	if err != nil {
		return false, &Error{Expr: exp, Message: err.Error()}
	}
	env := make(map[string]interface{}, len(atoms))
	for i, raw := range atoms {
		env[atomName(i)] = resolve(raw, vars)
	}

	// A lone operand is a bare term
	if len(atoms) == 1 && strings.TrimSpace(src) == atomName(0) {
		ok, err := truth(env[atomName(0)].(Operand))
		if err != nil {
			return false, &Error{Expr: exp, Message: err.Error()}
		}
		return ok, nil
	}

	program, err := compile(src, env)
	if err != nil {
		return false, &Error{Expr: exp, Message: firstLine(err)}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, &Error{Expr: exp, Message: firstLine(err)}
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Validate checks exp syntax without evaluating it.
func Validate(exp string) error {
	if strings.TrimSpace(exp) == "" {
		return nil
	}
	src, atoms, err := bind(exp)
	if err != nil {
		return &Error{Expr: exp, Message: err.Error()}
	}
	if len(atoms) == 1 && strings.TrimSpace(src) == atomName(0) {
		return nil
	}
	env := make(map[string]interface{}, len(atoms))
	for i, raw := range atoms {
		env[atomName(i)] = Operand{Raw: raw}
	}
	if _, err := compile(src, env); err != nil {
		return &Error{Expr: exp, Message: firstLine(err)}
	}
	return nil
}

func compile(src string, env map[string]interface{}) (*vm.Program, error) {
	opts := []expr.Option{
		expr.Env(env),
		expr.AsBool(),
		expr.Patch(bareTerms{}),
		expr.Function("truth", func(params ...interface{}) (interface{}, error) {
			return truth(params[0].(Operand))
		}, new(func(Operand) bool)),
	}
	for op, name := range comparisons {
		op := op
		opts = append(opts,
			expr.Function(name, func(params ...interface{}) (interface{}, error) {
				return compare(op, params[0].(Operand), params[1].(Operand)), nil
			}, new(func(Operand, Operand) bool)),
			expr.Operator(op, name),
		)
	}
	return expr.Compile(src, opts...)
}

// bareTerms wraps operands used directly by && and || in truth().
type bareTerms struct{}

func (bareTerms) Visit(node *ast.Node) {
	n, ok := (*node).(*ast.BinaryNode)
	if !ok {
		return
	}
	switch n.Operator {
	case "&&", "||":
	default:
		return
	}
	for _, side := range []*ast.Node{&n.Left, &n.Right} {
		if id, ok := (*side).(*ast.IdentifierNode); ok {
			ast.Patch(side, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: "truth"},
				Arguments: []ast.Node{id},
			})
		}
	}
}

// bind replaces every operand of exp with a variable name and returns the
// rewritten source with the raw operands in order. Operator characters and
// the contains keyword stay in place; placeholders are kept whole.
func bind(exp string) (string, []string, error) {
	var b strings.Builder
	var atoms []string
	emit := func(raw string) {
		b.WriteString(atomName(len(atoms)))
		atoms = append(atoms, raw)
	}

	for i := 0; i < len(exp); {
		c := exp[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			b.WriteByte(c)
			i++
		case strings.IndexByte("=!<>&|()", c) >= 0:
			b.WriteByte(c)
			i++
		case c == '\'' || c == '"':
			end := closingQuote(exp, i)
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated string %s", exp[i:])
			}
			emit(exp[i : end+1])
			i = end + 1
		default:
			start := i
			for i < len(exp) && !isBoundary(exp[i]) {
				if strings.HasPrefix(exp[i:], "{{") {
					if end := strings.Index(exp[i:], "}}"); end >= 0 {
						i += end + 2
						continue
					}
				}
				i++
			}
			word := exp[start:i]
			if word == "contains" {
				b.WriteString(word)
				continue
			}
			emit(word)
		}
	}
	return b.String(), atoms, nil
}

func isBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
		c == '\'' || c == '"' || strings.IndexByte("=!<>&|()", c) >= 0
}

func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			return i
		}
	}
	return -1
}

func atomName(i int) string {
	return "a" + strconv.Itoa(i)
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}

func resolve(raw string, vars template.Lookup) Operand {
	if raw == "null" {
		return Operand{Raw: raw, Null: true}
	}
	if len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] {
		text := template.Render(unquote(raw[1:len(raw)-1]), vars)
		return Operand{Raw: raw, Text: text, Null: text == "" || template.HasPlaceholder(text)}
	}
	text := template.Render(raw, vars)
	return Operand{Raw: raw, Text: text, Null: text == "" || text == "null" || template.HasPlaceholder(text)}
}

func unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// truth evaluates an operand standing alone as a term.
func truth(o Operand) (bool, error) {
	switch strings.TrimSpace(o.Text) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("term %q is not a comparison or boolean", o.Raw)
}

// compare applies op with null handling first, then numeric coercion.
func compare(op string, l, r Operand) bool {
	if (l.Null || r.Null) && (l.Raw == "null" || r.Raw == "null") {
		switch op {
		case "==":
			return l.Null && r.Null
		case "!=":
			return l.Null != r.Null
		}
		return false
	}

	if op == "contains" {
		return strings.Contains(l.Text, r.Text)
	}

	lf, lerr := strconv.ParseFloat(strings.TrimSpace(l.Text), 64)
	rf, rerr := strconv.ParseFloat(strings.TrimSpace(r.Text), 64)
	if lerr == nil && rerr == nil {
		return compareNumbers(lf, rf, op)
	}
	return compareStrings(l.Text, r.Text, op)
}

func compareNumbers(a, b float64, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
}

func compareStrings(a, b, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
}
