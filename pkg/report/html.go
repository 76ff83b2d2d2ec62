package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

// maxBodyPreview caps response bodies rendered into the page.
const maxBodyPreview = 4096

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath string // Path to write the HTML file
	Title      string // Report title (default: "Flow Report")
	HideBodies bool   // Leave response bodies out of the page
}

// GenerateHTML generates an HTML report from the report directory.
func GenerateHTML(reportDir string, cfg HTMLConfig) error {
	index, flows, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = "Flow Report"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(reportDir, "report.html")
	}

	html, err := renderHTML(buildHTMLData(index, flows, cfg))
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Index         *Index
	Flows         []FlowHTMLData
	TotalDuration string
	PassRate      float64
	JSONData      template.JS // Raw report for client-side tooling
}

// FlowHTMLData contains flow data formatted for HTML.
type FlowHTMLData struct {
	FlowDetail
	StatusClass string
	DurationStr string
	DurationPct float64
	Steps       []StepHTMLData
}

// StepHTMLData contains one step iteration formatted for HTML.
type StepHTMLData struct {
	core.StepResult
	Label       string
	StatusClass string
	DurationStr string
	StatusCode  int
	Headers     []HeaderLine
	Body        string
	Truncated   bool
	Assertions  []core.AssertionResult
	ScriptError string
	Logs        []string
}

// HeaderLine is one response header.
type HeaderLine struct {
	Name  string
	Value string
}

func buildHTMLData(index *Index, flows []FlowDetail, cfg HTMLConfig) HTMLData {
	var maxDuration int64
	for _, entry := range index.Flows {
		if entry.Duration != nil && *entry.Duration > maxDuration {
			maxDuration = *entry.Duration
		}
	}

	flowsData := make([]FlowHTMLData, len(flows))
	for i, f := range flows {
		steps := make([]StepHTMLData, len(f.Result.Steps))
		for j := range f.Result.Steps {
			steps[j] = buildStepHTML(f.Result.Steps[j], cfg)
		}

		var pct float64
		if f.Duration != nil && maxDuration > 0 {
			pct = float64(*f.Duration) / float64(maxDuration) * 100
		}
		flowsData[i] = FlowHTMLData{
			FlowDetail:  f,
			StatusClass: string(f.Status),
			DurationStr: formatDuration(f.Duration),
			DurationPct: pct,
			Steps:       steps,
		}
	}

	var passRate float64
	if index.Summary.Total > 0 {
		passRate = float64(index.Summary.Passed) / float64(index.Summary.Total) * 100
	}

	var totalDurationMs int64
	if index.EndTime != nil {
		totalDurationMs = index.EndTime.Sub(index.StartTime).Milliseconds()
	}

	jsonBytes, _ := json.Marshal(map[string]interface{}{
		"index": index,
		"flows": flows,
	})

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   time.Now().Format("2006-01-02 15:04:05"),
		Index:         index,
		Flows:         flowsData,
		TotalDuration: formatDuration(&totalDurationMs),
		PassRate:      passRate,
		JSONData:      template.JS(jsonBytes),
	}
}

func buildStepHTML(res core.StepResult, cfg HTMLConfig) StepHTMLData {
	d := res.Duration
	step := StepHTMLData{
		StepResult:  res,
		Label:       res.RequestName,
		StatusClass: res.Status.String(),
		DurationStr: formatDuration(&d),
	}
	if res.LoopCount > 1 {
		step.Label = fmt.Sprintf("%s [%d/%d]", res.RequestName, res.Iteration, res.LoopCount)
	}

	if exec := res.Execute; exec != nil {
		step.StatusCode = exec.StatusCode
		for name, value := range exec.Headers {
			step.Headers = append(step.Headers, HeaderLine{Name: name, Value: value})
		}
		sort.Slice(step.Headers, func(a, b int) bool { return step.Headers[a].Name < step.Headers[b].Name })

		if !cfg.HideBodies {
			body := exec.Body
			if body == "" && exec.BodyBase64 != "" {
				body = "(binary, base64) " + exec.BodyBase64
			}
			if len(body) > maxBodyPreview {
				body = body[:maxBodyPreview]
				step.Truncated = true
			}
			step.Body = body
		}
	}

	for _, sr := range []*core.ScriptResult{res.PreScript, res.PostScript} {
		if sr == nil {
			continue
		}
		step.Assertions = append(step.Assertions, sr.Assertions...)
		step.Logs = append(step.Logs, sr.Logs...)
		if msg := sr.ErrorMessage(); msg != "" && step.ScriptError == "" {
			step.ScriptError = msg
		}
	}
	return step
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", *ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #000000;
            --text-muted: rgb(107, 114, 128);
            --border-color: #e5e7eb;
            --passed: #22c55e;
            --failed: #ef4444;
            --skipped: #eab308;
            --running: #06b6d4;
            --pending: #6b7280;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
        }
        .header { background: var(--bg-secondary); border-bottom: 1px solid var(--border-color); padding: 16px 24px; }
        .header h1 { font-size: 18px; }
        .meta { color: var(--text-muted); font-size: 12px; }
        .stats { display: flex; gap: 24px; margin-top: 12px; }
        .stat-value { font-size: 20px; font-weight: 600; }
        .stat-label { font-size: 12px; color: var(--text-muted); }
        main { padding: 16px 24px; }
        details.flow { border: 1px solid var(--border-color); border-radius: 6px; margin-bottom: 12px; }
        details.flow > summary { padding: 10px 14px; cursor: pointer; display: flex; gap: 12px; align-items: center; }
        .bar { height: 4px; background: var(--running); }
        .badge { font-size: 11px; padding: 1px 8px; border-radius: 10px; color: white; text-transform: uppercase; }
        .badge.passed { background: var(--passed); }
        .badge.failed { background: var(--failed); }
        .badge.skipped { background: var(--skipped); }
        .badge.running { background: var(--running); }
        .badge.pending { background: var(--pending); }
        .error { color: var(--failed); font-size: 13px; padding: 4px 14px; }
        table.steps { width: 100%; border-collapse: collapse; font-size: 13px; }
        table.steps td, table.steps th { border-top: 1px solid var(--border-color); padding: 6px 14px; text-align: left; vertical-align: top; }
        .url { font-family: monospace; word-break: break-all; }
        pre { background: var(--bg-secondary); padding: 8px; overflow-x: auto; font-size: 12px; max-height: 320px; }
        .assert.passed { color: var(--passed); }
        .assert.failed { color: var(--failed); }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <div class="meta">Generated {{.GeneratedAt}}{{if .Index.Runner.Version}} &middot; apiflow {{.Index.Runner.Version}}{{end}}{{if .Index.Runner.RunID}} &middot; run {{.Index.Runner.RunID}}{{end}}</div>
        <div class="stats">
            <div><div class="stat-value">{{.Index.Summary.Total}}</div><div class="stat-label">Flows</div></div>
            <div><div class="stat-value">{{.Index.Summary.Passed}}</div><div class="stat-label">Passed</div></div>
            <div><div class="stat-value">{{.Index.Summary.Failed}}</div><div class="stat-label">Failed</div></div>
            <div><div class="stat-value">{{.Index.Summary.Skipped}}</div><div class="stat-label">Skipped</div></div>
            <div><div class="stat-value">{{printf "%.0f" .PassRate}}%</div><div class="stat-label">Pass rate</div></div>
            <div><div class="stat-value">{{.TotalDuration}}</div><div class="stat-label">Duration</div></div>
        </div>
    </div>
    <main>
    {{range .Flows}}
        <details class="flow"{{if eq .StatusClass "failed"}} open{{end}}>
            <summary>
                <span class="badge {{.StatusClass}}">{{.StatusClass}}</span>
                <strong>{{.Name}}</strong>
                <span class="meta">{{.SourceFile}}</span>
                <span class="meta">{{.DurationStr}}</span>
                <span class="meta">{{.Result.PassedSteps}} passed, {{.Result.FailedSteps}} failed, {{.Result.SkippedSteps}} skipped</span>
            </summary>
            <div class="bar" style="width: {{printf "%.1f" .DurationPct}}%"></div>
            {{if .Result.Error}}<div class="error">{{.Result.Error}}{{if .Result.ErrorCode}} ({{.Result.ErrorCode}}){{end}}</div>{{end}}
            <table class="steps">
                <tr><th>Step</th><th>Request</th><th>Status</th><th>Duration</th></tr>
                {{range .Steps}}
                <tr>
                    <td><span class="badge {{.StatusClass}}">{{.StatusClass}}</span> {{.Label}}{{if .Skipped}} <span class="meta">({{.SkipReason}})</span>{{end}}</td>
                    <td class="url">{{with .Request}}{{.Method}} {{.URL}}{{end}}</td>
                    <td>{{if .StatusCode}}{{.StatusCode}}{{else}}-{{end}}</td>
                    <td>{{.DurationStr}}</td>
                </tr>
                {{if or .Error .ScriptError .Assertions .Body .Warnings .Logs}}
                <tr><td colspan="4">
                    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
                    {{if and .ScriptError (ne .ScriptError .Error)}}<div class="error">{{.ScriptError}}</div>{{end}}
                    {{range .Assertions}}<div class="assert {{if .Passed}}passed{{else}}failed{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}} {{.Type}} {{.Operator}} {{if .Message}}: {{.Message}}{{end}}</div>{{end}}
                    {{range .Warnings}}<div class="meta">warning: {{.}}</div>{{end}}
                    {{range .Logs}}<div class="meta">log: {{.}}</div>{{end}}
                    {{if .Headers}}<pre>{{range .Headers}}{{.Name}}: {{.Value}}
{{end}}</pre>{{end}}
                    {{if .Body}}<pre>{{.Body}}{{if .Truncated}}
...{{end}}</pre>{{end}}
                </td></tr>
                {{end}}
                {{end}}
            </table>
        </details>
    {{else}}
        <p class="meta">No flows were run.</p>
    {{end}}
    </main>
    <script>window.__REPORT__ = {{.JSONData}};</script>
</body>
</html>
`
