package core

// Phase identifies which script of a step is running.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Script modes reported on ScriptResult.Mode.
const (
	ModeDSL    = "dsl"
	ModeScript = "script"
)
