package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/executor"
	"github.com/devicelab-dev/apiflow/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// Live progress callbacks

func onFlowStart(flowIdx, totalFlows int, name, file string) {
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset), file)
	fmt.Println(strings.Repeat("─", 60))
}

func onStepComplete(_ string, res core.StepResult) {
	fmt.Println(stepLine(res))
	if res.Status == core.StatusFailed && res.Error != "" {
		fmt.Printf("      %s╰─%s %s\n", color(colorGray), color(colorReset), res.Error)
	}
	for _, w := range res.Warnings {
		fmt.Printf("      %s! %s%s\n", color(colorYellow), w, color(colorReset))
	}
}

// stepLine renders one step iteration, e.g. "✓ GET login [2/3] 200 (120ms)".
func stepLine(res core.StepResult) string {
	label := stepLabel(res)
	durStr := formatDuration(res.Duration)

	switch {
	case res.Skipped || res.Status == core.StatusSkipped:
		return fmt.Sprintf("    %s-%s %s %s(skipped: %s)%s",
			color(colorCyan), color(colorReset), label, color(colorDim), res.SkipReason, color(colorReset))
	case res.Status == core.StatusFailed:
		return fmt.Sprintf("    %s✗%s %s (%s)", color(colorRed), color(colorReset), label, durStr)
	}

	symbol, symbolColor, durColor := "✓", color(colorGreen), ""
	if res.Duration >= slowThresholdMs {
		symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
	}
	return fmt.Sprintf("    %s%s%s %s %s(%s)%s",
		symbolColor, symbol, color(colorReset), label, durColor, durStr, color(colorReset))
}

func stepLabel(res core.StepResult) string {
	var b strings.Builder
	if res.Request != nil && res.Request.Method != "" {
		b.WriteString(res.Request.Method)
		b.WriteByte(' ')
	}
	b.WriteString(res.RequestName)
	if res.LoopCount > 1 {
		fmt.Fprintf(&b, " [%d/%d]", res.Iteration, res.LoopCount)
	}
	if res.Execute != nil && res.Execute.StatusCode > 0 {
		fmt.Fprintf(&b, " %d", res.Execute.StatusCode)
	}
	if passed, failed := res.AssertionCounts(); passed+failed > 0 {
		fmt.Fprintf(&b, " %s%d/%d assertions%s", color(colorGray), passed, passed+failed, color(colorReset))
	}
	return b.String()
}

func onFlowEnd(name string, passed bool, durationMs int64) {
	if passed {
		fmt.Printf("%s✓ %s%s %s%s%s\n",
			color(colorGreen), color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
	} else {
		fmt.Printf("%s✗ %s%s %s%s%s\n",
			color(colorRed), color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
	}
}

func printSummary(result *executor.RunResult) {
	// Calculate totals
	totalSteps := 0
	passedSteps := 0
	failedSteps := 0
	skippedSteps := 0
	for _, fs := range result.Flows {
		if fs.Result == nil {
			continue
		}
		totalSteps += fs.Result.TotalSteps
		passedSteps += fs.Result.PassedSteps
		failedSteps += fs.Result.FailedSteps
		skippedSteps += fs.Result.SkippedSteps
	}

	// Print step summary
	fmt.Println()
	if passedSteps > 0 {
		fmt.Printf("  %s%d steps passing%s (%s)\n", color(colorGreen), passedSteps, color(colorReset), formatDuration(result.Duration))
	}
	if failedSteps > 0 {
		fmt.Printf("  %s%d steps failing%s\n", color(colorRed), failedSteps, color(colorReset))
	}
	if skippedSteps > 0 {
		fmt.Printf("  %s%d steps skipped%s\n", color(colorCyan), skippedSteps, color(colorReset))
	}
	fmt.Println()

	// Print table
	tableWidth := 92
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-42s %6s %7s %6s %6s %6s %10s\n", "Flow", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	for _, fs := range result.Flows {
		var status string
		var statusColor string
		switch fs.Status {
		case report.StatusFailed:
			status = "✗ FAIL"
			statusColor = color(colorRed)
		case report.StatusSkipped:
			status = "- SKIP"
			statusColor = color(colorCyan)
		default:
			status = "✓ PASS"
			statusColor = color(colorGreen)
		}

		// Truncate name if too long
		name := fs.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}

		var total, pass, fail, skip int
		if fs.Result != nil {
			total, pass, fail, skip = fs.Result.TotalSteps, fs.Result.PassedSteps, fs.Result.FailedSteps, fs.Result.SkippedSteps
		}
		fmt.Printf("  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			name, statusColor, status, color(colorReset),
			total, pass, fail, skip, formatDuration(fs.Duration))
	}

	// Print totals row
	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Printf("  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))

	// Flow-level errors (goto_target, ceilings, cancellation)
	for _, fs := range result.Flows {
		if fs.Status == report.StatusFailed && fs.Error != "" {
			fmt.Printf("  %s%s:%s %s\n", color(colorRed), fs.Name, color(colorReset), fs.Error)
		}
	}
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
