package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/logger"
)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureStep represents one step iteration within a test result.
type AllureStep struct {
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Parameters    []AllureParameter   `json:"parameters"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureParameter is a name/value pair shown on a step.
type AllureParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex"`
}

// AllureExecutor holds executor info.
type AllureExecutor struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BuildName string `json:"buildName,omitempty"`
}

// GenerateAllure generates Allure-compatible report files in <reportDir>/allure-results/.
func GenerateAllure(reportDir string) error {
	index, flows, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	allureDir := filepath.Join(reportDir, "allure-results")
	if err := os.MkdirAll(allureDir, 0o755); err != nil {
		return fmt.Errorf("create allure-results dir: %w", err)
	}

	// Write one result file per flow
	for i, entry := range index.Flows {
		var detail *FlowDetail
		if i < len(flows) {
			detail = &flows[i]
		}

		result := buildAllureResult(&entry, detail)
		if detail != nil {
			writeResponseAttachments(allureDir, entry.ID, detail.Result.Steps, result.Steps)
		}

		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal allure result for %s: %w", entry.ID, err)
		}

		resultPath := filepath.Join(allureDir, entry.ID+"-result.json")
		if err := os.WriteFile(resultPath, data, 0o644); err != nil {
			return fmt.Errorf("write allure result %s: %w", entry.ID, err)
		}
	}

	if err := writeAllureCategories(allureDir); err != nil {
		return err
	}
	if err := writeAllureEnvironment(allureDir, index); err != nil {
		return err
	}
	return writeAllureExecutor(allureDir, index)
}

// buildAllureResult builds an AllureResult from a flow entry and its detail.
func buildAllureResult(entry *FlowEntry, detail *FlowDetail) AllureResult {
	var startMs, stopMs int64
	if entry.StartTime != nil {
		startMs = entry.StartTime.UnixMilli()
	}
	if entry.EndTime != nil {
		stopMs = entry.EndTime.UnixMilli()
	} else if entry.StartTime != nil && entry.Duration != nil {
		stopMs = startMs + *entry.Duration
	}

	labels := []AllureLabel{
		{Name: "suite", Value: entry.Name},
		{Name: "framework", Value: "apiflow"},
		{Name: "severity", Value: "normal"},
	}
	if entry.SourceFile != "" {
		labels = append(labels, AllureLabel{Name: "parentSuite", Value: filepath.Base(entry.SourceFile)})
	}

	var statusDetails AllureStatusDetails
	if entry.Error != nil {
		statusDetails.Message = *entry.Error
	}

	steps := []AllureStep{}
	if detail != nil {
		for _, tag := range detail.Tags {
			labels = append(labels, AllureLabel{Name: "tag", Value: tag})
		}
		steps = buildAllureSteps(detail.Result.Steps)
		if statusDetails.Message == "" {
			statusDetails.Message = detail.Result.Error
		}
		if detail.Result.ErrorCode != "" {
			statusDetails.Trace = "code: " + detail.Result.ErrorCode
		}
	}

	return AllureResult{
		UUID:          entry.ID,
		HistoryID:     fnv32aHash(entry.Name + ":" + entry.SourceFile),
		FullName:      entry.Name,
		Name:          entry.Name,
		Status:        mapAllureStatus(entry.Status),
		Stage:         "finished",
		Start:         startMs,
		Stop:          stopMs,
		Labels:        labels,
		StatusDetails: statusDetails,
		Steps:         steps,
		Attachments:   []AllureAttachment{},
	}
}

// buildAllureSteps maps every step iteration to an Allure step.
func buildAllureSteps(results []core.StepResult) []AllureStep {
	steps := make([]AllureStep, 0, len(results))
	for i := range results {
		steps = append(steps, buildAllureStep(&results[i]))
	}
	return steps
}

func buildAllureStep(res *core.StepResult) AllureStep {
	name := res.RequestName
	if res.LoopCount > 1 {
		name = fmt.Sprintf("%s [%d/%d]", name, res.Iteration, res.LoopCount)
	}

	status := mapAllureStatus(Status(res.Status.String()))
	startMs := res.StartTime.UnixMilli()

	params := []AllureParameter{}
	if res.Request != nil {
		params = append(params,
			AllureParameter{Name: "method", Value: res.Request.Method},
			AllureParameter{Name: "url", Value: res.Request.URL},
		)
	}
	if res.Execute != nil && res.Execute.StatusCode > 0 {
		params = append(params, AllureParameter{Name: "status", Value: fmt.Sprint(res.Execute.StatusCode)})
	}
	if res.Skipped {
		params = append(params, AllureParameter{Name: "skipReason", Value: string(res.SkipReason)})
	}

	var details AllureStatusDetails
	if res.Error != "" {
		details.Message = res.Error
	}
	if len(res.Warnings) > 0 {
		details.Trace = strings.Join(res.Warnings, "\n")
	}

	// Assertions show up as nested steps
	subSteps := []AllureStep{}
	for _, sr := range []*core.ScriptResult{res.PreScript, res.PostScript} {
		if sr == nil {
			continue
		}
		for _, a := range sr.Assertions {
			st := "passed"
			if !a.Passed {
				st = "failed"
			}
			subSteps = append(subSteps, AllureStep{
				Name:          assertionLabel(a),
				Status:        st,
				Stage:         "finished",
				Start:         startMs,
				Stop:          startMs,
				StatusDetails: AllureStatusDetails{Message: a.Message},
				Parameters:    []AllureParameter{},
				Steps:         []AllureStep{},
				Attachments:   []AllureAttachment{},
			})
		}
	}

	return AllureStep{
		Name:          name,
		Status:        status,
		Stage:         "finished",
		Start:         startMs,
		Stop:          startMs + res.Duration,
		StatusDetails: details,
		Parameters:    params,
		Steps:         subSteps,
		Attachments:   []AllureAttachment{},
	}
}

func assertionLabel(a core.AssertionResult) string {
	label := a.Name
	if label == "" {
		label = a.Type
	}
	if a.Operator != "" {
		label += " " + a.Operator
	}
	return label
}

// writeResponseAttachments writes response bodies next to the results and
// links them from the matching steps.
func writeResponseAttachments(allureDir, flowID string, results []core.StepResult, steps []AllureStep) {
	for i := range results {
		exec := results[i].Execute
		if exec == nil || (exec.Body == "" && exec.BodyBase64 == "") || i >= len(steps) {
			continue
		}

		contentType, _ := exec.Header("Content-Type")
		mime, ext := attachmentType(contentType)
		data := []byte(exec.Body)
		if exec.Body == "" {
			mime, ext = "application/octet-stream", ".b64"
			data = []byte(exec.BodyBase64)
		}

		source := fmt.Sprintf("%s-step-%03d-response%s", flowID, i, ext)
		if err := os.WriteFile(filepath.Join(allureDir, source), data, 0o644); err != nil {
			logger.Warn("failed to write allure attachment %s: %v", source, err)
			continue
		}
		steps[i].Attachments = append(steps[i].Attachments, AllureAttachment{
			Name:   "Response body",
			Source: source,
			Type:   mime,
		})
	}
}

func attachmentType(contentType string) (mime, ext string) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return "application/json", ".json"
	case strings.Contains(ct, "xml"):
		return "application/xml", ".xml"
	case strings.Contains(ct, "html"):
		return "text/html", ".html"
	default:
		return "text/plain", ".txt"
	}
}

// mapAllureStatus maps report Status to Allure status string.
func mapAllureStatus(s Status) string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

// writeAllureCategories writes categories.json for failure categorization.
func writeAllureCategories(allureDir string) error {
	categories := []AllureCategory{
		{Name: "Assertion Failed", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*assert.*"},
		{Name: "HTTP Error Status", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*unexpected status [45][0-9][0-9].*"},
		{Name: "Timeout", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*timeout.*|.*timed out.*|.*deadline exceeded.*"},
		{Name: "Connection Error", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*connection.*|.*dial.*|.*no such host.*"},
		{Name: "Script Error", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*script.*|.*DSL.*"},
		{Name: "Flow Control Limit", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*limit exceeded.*|.*goto target.*"},
	}

	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	path := filepath.Join(allureDir, "categories.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write categories.json: %w", err)
	}
	return nil
}

// writeAllureEnvironment writes environment.properties with runner metadata.
func writeAllureEnvironment(allureDir string, index *Index) error {
	var b strings.Builder
	b.WriteString("framework=apiflow\n")
	if index.Runner.Version != "" {
		b.WriteString(fmt.Sprintf("runner.version=%s\n", index.Runner.Version))
	}
	if index.Runner.RunID != "" {
		b.WriteString(fmt.Sprintf("runner.runId=%s\n", index.Runner.RunID))
	}

	path := filepath.Join(allureDir, "environment.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}

// writeAllureExecutor writes executor.json.
func writeAllureExecutor(allureDir string, index *Index) error {
	executor := AllureExecutor{
		Name:      "apiflow",
		Type:      "apiflow",
		BuildName: index.Runner.RunID,
	}

	data, err := json.MarshalIndent(executor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal executor: %w", err)
	}

	path := filepath.Join(allureDir, "executor.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write executor.json: %w", err)
	}
	return nil
}
