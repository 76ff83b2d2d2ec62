package core

import "time"

// Hard ceilings enforced by the engine regardless of configuration.
const (
	MaxRepeats         = 1000
	MaxGotos           = 100
	MaxAssertions      = 50
	MaxScriptHTTPCalls = 10
	ScriptTimeout      = 5 * time.Second
)
