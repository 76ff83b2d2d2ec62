// Package validator validates flow files before execution.
// It parses all files upfront and checks step ordering, names, conditions,
// DSL scripts and static goto targets.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/devicelab-dev/apiflow/pkg/condition"
	"github.com/devicelab-dev/apiflow/pkg/dsl"
	"github.com/devicelab-dev/apiflow/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Step    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files is the list of flow file paths that passed the tag filters.
	Files []string
	// Flows holds the parsed flows, parallel to Files.
	Flows []*flow.Flow
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates a file or directory.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectFlowFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}
	return result
}

// collectFlowFiles finds all flow files in a directory, skipping the
// project config file.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if flow.IsFlowFile(path) && !isConfigFile(path) {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return base == "apiflow.yaml" || base == "apiflow.yml"
}

func (v *Validator) validateFile(filePath string, result *Result) {
	f, err := flow.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
		return
	}

	result.Files = append(result.Files, filePath)
	result.Flows = append(result.Flows, f)
	result.Errors = append(result.Errors, CheckFlow(f, filePath)...)
}

// CheckFlow runs the structural checks on an already parsed flow. It is
// also used for flows loaded from a store, where file is the flow name.
func CheckFlow(f *flow.Flow, file string) []error {
	var errs []error
	add := func(step, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{
			File:    file,
			Step:    step,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if len(f.Steps) == 0 {
		add("", "flow has no steps")
		return errs
	}

	orders := make(map[int]string, len(f.Steps))
	names := make(map[string]bool, len(f.Steps))
	for i := range f.Steps {
		s := &f.Steps[i]
		label := s.Describe()

		if prev, ok := orders[s.StepOrder]; ok {
			add(label, "duplicate stepOrder %d (also used by %s)", s.StepOrder, prev)
		} else {
			orders[s.StepOrder] = label
		}
		if s.Name != "" {
			if names[s.Name] {
				add(label, "duplicate step name %q", s.Name)
			}
			names[s.Name] = true
		}
		if s.LoopCount < 0 {
			add(label, "loopCount must not be negative")
		}
		if s.Condition != "" {
			if err := condition.Validate(s.Condition); err != nil {
				add(label, "condition: %v", err)
			}
		}
	}

	ordered := f.Ordered(nil)
	for i := range ordered {
		s := &ordered[i]
		label := s.Describe()
		for _, sc := range []struct {
			phase  string
			source string
		}{
			{"preScript", s.PreScript},
			{"postScript", s.PostScript},
		} {
			if !dsl.IsDSL(sc.source) {
				continue
			}
			script, err := dsl.Parse(sc.source)
			if err != nil {
				add(label, "%s: %v", sc.phase, err)
				continue
			}
			for _, target := range dsl.StaticTargets(script.Flow) {
				if _, ok := flow.FindTarget(ordered, target); !ok {
					add(label, "%s: goto target %q does not match any step", sc.phase, target)
				}
			}
		}
	}
	return errs
}
