package dsl

import (
	"fmt"

	"github.com/devicelab-dev/apiflow/pkg/condition"
	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// Flow section types.
const (
	FlowAction      = "action"
	FlowConditional = "conditional"
	FlowSwitch      = "switch"
)

// ResolveFlow reduces a flow section to a primitive directive. Malformed
// conditions count as false; the first one is returned as err alongside
// the warnings.
func ResolveFlow(f *FlowSpec, vars template.Lookup) (d core.Directive, warnings []string, err error) {
	r := &resolver{vars: vars}
	d = r.resolve(f)
	return d, r.warnings, r.err
}

type resolver struct {
	vars     template.Lookup
	warnings []string
	err      error
}

func (r *resolver) resolve(f *FlowSpec) core.Directive {
	if f == nil {
		return core.Next()
	}

	switch f.Type {
	case FlowConditional:
		if r.test(f.Condition) {
			return r.resolve(f.OnTrue)
		}
		return r.resolve(f.OnFalse)

	case FlowSwitch:
		for i := range f.Cases {
			c := f.Cases[i]
			if r.test(c.Condition) {
				c.Type = FlowAction
				return r.resolve(&c)
			}
		}
		return r.resolve(f.Default)
	}

	switch core.Action(f.Action) {
	case "", core.ActionNext:
		return core.Next()
	case core.ActionStop:
		return core.Stop()
	case core.ActionRepeat:
		return core.Repeat()
	case core.ActionGoto:
		return core.Goto(template.Render(template.Stringify(f.Target), r.vars))
	case core.ActionFatal:
		reason := template.Render(f.Reason, r.vars)
		if reason == "" {
			reason = "fatal directive"
		}
		return core.Fatal(reason)
	}
	r.warnings = append(r.warnings, fmt.Sprintf("unknown flow action %q, continuing with next", f.Action))
	return core.Next()
}

func (r *resolver) test(expr string) bool {
	ok, err := condition.Evaluate(expr, r.vars)
	if err != nil {
		r.warnings = append(r.warnings, err.Error())
		if r.err == nil {
			r.err = err
		}
	}
	return ok
}

// StaticTargets lists goto targets that do not depend on variables, for
// validation before a run.
func StaticTargets(f *FlowSpec) []string {
	if f == nil {
		return nil
	}
	var out []string
	if core.Action(f.Action) == core.ActionGoto {
		t := template.Stringify(f.Target)
		if !template.HasPlaceholder(t) {
			out = append(out, t)
		}
	}
	out = append(out, StaticTargets(f.OnTrue)...)
	out = append(out, StaticTargets(f.OnFalse)...)
	for i := range f.Cases {
		out = append(out, StaticTargets(&f.Cases[i])...)
	}
	return append(out, StaticTargets(f.Default)...)
}
