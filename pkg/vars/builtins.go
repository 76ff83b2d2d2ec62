package vars

import (
	"time"

	"github.com/google/uuid"
)

// Built-in read-only variable names. These are part of the flow file
// contract and must not be renamed.
const (
	BuiltinStatusCode   = "__statusCode__"
	BuiltinResponseTime = "__responseTime__"
	BuiltinIteration    = "__iteration__"
	BuiltinLoopCount    = "__loopCount__"
	BuiltinStepName     = "__stepName__"
	BuiltinStepOrder    = "__stepOrder__"
	BuiltinFlowName     = "__flowName__"
	BuiltinTimestamp    = "__timestamp__"
	BuiltinUUID         = "__uuid__"
)

var builtinNames = map[string]bool{
	BuiltinStatusCode:   true,
	BuiltinResponseTime: true,
	BuiltinIteration:    true,
	BuiltinLoopCount:    true,
	BuiltinStepName:     true,
	BuiltinStepOrder:    true,
	BuiltinFlowName:     true,
	BuiltinTimestamp:    true,
	BuiltinUUID:         true,
}

// IsBuiltin reports whether name is a reserved pseudo-variable.
func IsBuiltin(name string) bool {
	return builtinNames[name]
}

// StepContext describes the step iteration the built-ins are generated for.
type StepContext struct {
	FlowName  string
	StepName  string
	StepOrder int
	Iteration int
	LoopCount int

	// Response values are only set for the post-script phase
	HasResponse    bool
	StatusCode     int
	ResponseTimeMs int64
}

// Builtins synthesizes the pseudo-variables for one step iteration.
func Builtins(c StepContext) map[string]interface{} {
	m := map[string]interface{}{
		BuiltinIteration: c.Iteration,
		BuiltinLoopCount: c.LoopCount,
		BuiltinStepName:  c.StepName,
		BuiltinStepOrder: c.StepOrder,
		BuiltinFlowName:  c.FlowName,
		BuiltinTimestamp: time.Now().UnixMilli(),
		BuiltinUUID:      uuid.NewString(),
	}
	if c.HasResponse {
		m[BuiltinStatusCode] = c.StatusCode
		m[BuiltinResponseTime] = c.ResponseTimeMs
	}
	return m
}
