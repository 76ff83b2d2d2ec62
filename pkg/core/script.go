package core

// Variables is the variable surface scripts see. Writes go straight to the
// run's store.
type Variables interface {
	Get(name string) (interface{}, bool)
	GetIn(scope Scope, name string) (interface{}, bool)
	Has(name string) bool
	Set(scope Scope, name string, value interface{}) error
	Unset(scope Scope, name string) error
	Clear(scope Scope) error
	Snapshot() map[string]interface{}
	ScopeSnapshot(scope Scope) map[string]interface{}
}

// ExecutionInfo describes the step iteration a script runs in.
type ExecutionInfo struct {
	FlowName  string `json:"flowName"`
	StepName  string `json:"stepName"`
	StepOrder int    `json:"stepOrder"`
	Iteration int    `json:"iteration"`
	LoopCount int    `json:"loopCount"`
}

// ScriptContext is the capability set handed to a script invocation.
type ScriptContext struct {
	Phase     Phase
	Vars      Variables
	Request   *Request
	Response  *ExecuteResult // nil in the pre phase
	Execution ExecutionInfo

	// Transport serves outbound requests made by the script; nil disables them
	Transport Transport
}
