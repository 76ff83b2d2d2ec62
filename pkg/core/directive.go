package core

import "fmt"

// Action is the primitive flow-control decision produced after a step.
type Action string

const (
	ActionNext   Action = "next"
	ActionStop   Action = "stop"
	ActionRepeat Action = "repeat"
	ActionGoto   Action = "goto"
	ActionFatal  Action = "fatal"
)

// Directive tells the flow controller where the instruction pointer goes
// after a step iteration. The zero value means next.
type Directive struct {
	Action Action `json:"action"`
	Target string `json:"target,omitempty"` // Step name or stepOrder for goto
	Reason string `json:"reason,omitempty"` // Populated for fatal
}

// Next advances to the next iteration or step.
func Next() Directive { return Directive{Action: ActionNext} }

// Stop ends the run successfully.
func Stop() Directive { return Directive{Action: ActionStop} }

// Repeat restarts the current step's loop block.
func Repeat() Directive { return Directive{Action: ActionRepeat} }

// Goto jumps to the step identified by name or stepOrder.
func Goto(target string) Directive { return Directive{Action: ActionGoto, Target: target} }

// Fatal terminates the run with the given reason.
func Fatal(reason string) Directive { return Directive{Action: ActionFatal, Reason: reason} }

// Normalize maps the zero value to next.
func (d Directive) Normalize() Directive {
	if d.Action == "" {
		d.Action = ActionNext
	}
	return d
}

// String returns a compact description for logs.
func (d Directive) String() string {
	d = d.Normalize()
	switch d.Action {
	case ActionGoto:
		return fmt.Sprintf("goto(%s)", d.Target)
	case ActionFatal:
		return fmt.Sprintf("fatal(%s)", d.Reason)
	default:
		return string(d.Action)
	}
}
