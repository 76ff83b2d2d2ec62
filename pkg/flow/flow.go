// Package flow handles parsing and representation of request flow definitions.
package flow

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Flow is a named, ordered collection of request steps.
type Flow struct {
	ID          int64             `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Tags        []string          `yaml:"tags" json:"tags,omitempty"`
	Env         map[string]string `yaml:"env" json:"env,omitempty"` // Initial runtime variables
	Steps       []Step            `yaml:"steps" json:"steps"`

	SourcePath string `yaml:"-" json:"-"` // Path to the source file, empty for stored flows
}

// Normalize fills defaults the engine relies on: stepOrder by position,
// loopCount of at least one, step IDs and the owning flow ID.
func (f *Flow) Normalize() {
	for i := range f.Steps {
		s := &f.Steps[i]
		if s.StepOrder == 0 {
			s.StepOrder = i + 1
		}
		if s.ID == 0 {
			s.ID = int64(i + 1)
		}
		if s.LoopCount < 1 {
			s.LoopCount = 1
		}
		if s.FlowID == 0 {
			s.FlowID = f.ID
		}
	}
}

// Clone returns a deep copy of f.
func (f *Flow) Clone() *Flow {
	data, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	var c Flow
	if err := json.Unmarshal(data, &c); err != nil {
		panic(err)
	}
	c.SourcePath = f.SourcePath
	return &c
}

// Ordered returns a copy of the steps sorted by stepOrder, stable by ID.
// A non-empty stepIDs list restricts the result to those steps.
func (f *Flow) Ordered(stepIDs []int64) []Step {
	var keep map[int64]bool
	if len(stepIDs) > 0 {
		keep = make(map[int64]bool, len(stepIDs))
		for _, id := range stepIDs {
			keep[id] = true
		}
	}

	steps := make([]Step, 0, len(f.Steps))
	for _, s := range f.Steps {
		if keep != nil && !keep[s.ID] {
			continue
		}
		steps = append(steps, s)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StepOrder != steps[j].StepOrder {
			return steps[i].StepOrder < steps[j].StepOrder
		}
		return steps[i].ID < steps[j].ID
	})
	return steps
}

// FindTarget resolves a goto target against an ordered step set by step
// name, then by stepOrder. A number matching no stepOrder is not found.
func FindTarget(steps []Step, target string) (int, bool) {
	if target == "" {
		return -1, false
	}
	for i := range steps {
		if steps[i].Name == target {
			return i, true
		}
	}

	n, err := strconv.Atoi(target)
	if err != nil {
		if f, ferr := strconv.ParseFloat(target, 64); ferr == nil && f == float64(int(f)) {
			n = int(f)
		} else {
			return -1, false
		}
	}
	for i := range steps {
		if steps[i].StepOrder == n {
			return i, true
		}
	}
	return -1, false
}
