package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/apiflow/pkg/config"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/logger"
	"github.com/devicelab-dev/apiflow/pkg/report"
	"github.com/devicelab-dev/apiflow/pkg/validator"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run flow files",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more flow files against live HTTP endpoints.

Reports are generated in the output directory:
  - Default: <APIFLOW_HOME>/reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  apiflow run flow.yaml
  apiflow run flows/ -e BASE_URL=http://localhost:3000
  apiflow run flows/ --include-tags smoke --parallel 4
  apiflow run checkout.yaml --steps 3,4`,
	Flags: []cli.Flag{
		// Environment variables
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Initial runtime variables (KEY=VALUE)",
		},

		// Selected-run mode
		&cli.StringFlag{
			Name:  "steps",
			Usage: "Only execute these step IDs (comma-separated)",
		},

		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},

		// Output directory
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: <APIFLOW_HOME>/reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},

		// Execution
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Run up to N flows concurrently",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip remaining flows after the first failure",
		},
		&cli.BoolFlag{
			Name:  "fail-on-http-error",
			Usage: "Treat non-2xx responses as step failures",
		},

		// Durable variable sets
		&cli.StringFlag{
			Name:  "environment",
			Usage: "Environment variable set ID",
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Collection variable set ID",
		},
	},
	Action: runFlows,
}

// RunConfig holds the settings of one `apiflow run` invocation.
type RunConfig struct {
	FlowPaths   []string
	IncludeTags []string
	ExcludeTags []string
	OutputDir   string
	Settings    runSettings
	Workspace   *config.Config
}

func runFlows(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	cfg, err := buildRunConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeRun(ctx, cfg)
}

func buildRunConfig(c *cli.Context) (*RunConfig, error) {
	ws, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return nil, err
	}

	stepIDs, err := parseStepIDs(c.String("steps"))
	if err != nil {
		return nil, err
	}

	parallel := c.Int("parallel")
	if parallel < 0 {
		return nil, fmt.Errorf("--parallel must not be negative")
	}

	return &RunConfig{
		FlowPaths:   c.Args().Slice(),
		IncludeTags: c.StringSlice("include-tags"),
		ExcludeTags: c.StringSlice("exclude-tags"),
		OutputDir:   outputDir,
		Workspace:   ws,
		Settings: runSettings{
			OutputDir:       outputDir,
			Env:             parseEnvVars(c.StringSlice("env")),
			StepIDs:         stepIDs,
			Parallelism:     parallel,
			StopOnFail:      c.Bool("stop-on-fail"),
			FailOnHTTPError: c.Bool("fail-on-http-error"),
			EnvironmentID:   c.String("environment"),
			CollectionID:    c.String("collection"),
			Progress:        true,
		},
	}, nil
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: <home>/reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = config.GetReportsDir()
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

func executeRun(ctx context.Context, cfg *RunConfig) error {
	// 1. Create output directory
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := cfg.Workspace.Log.File
	if logPath == "" {
		logPath = filepath.Join(cfg.OutputDir, "apiflow.log")
	}
	if err := logger.Init(logPath); err != nil {
		fmt.Printf("Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	logger.Info("=== Run started ===")
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Store: %s, flush policy: %s", cfg.Workspace.Store.Driver, cfg.Workspace.Run.FlushPolicy)

	// 3. Validate and parse flows
	flows, err := validateAndParseFlows(cfg)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	// 4. Open stores and build the runner
	ws, err := openWorkspace(ctx, cfg.Workspace)
	if err != nil {
		logger.Error("Open workspace failed: %v", err)
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logger.Warn("Close workspace: %v", err)
		}
	}()

	runner, err := ws.newRunner(cfg.Settings)
	if err != nil {
		return err
	}

	// 5. Execute flows
	result, err := runner.Run(ctx, flows)
	if err != nil {
		logger.Error("Flow execution failed: %v", err)
		return err
	}
	logger.Info("Flow execution completed: %d passed, %d failed, %d skipped",
		result.PassedFlows, result.FailedFlows, result.SkippedFlows)

	printSummary(result)

	// 6. Generate reports
	logger.Info("Generating reports...")
	htmlPath := filepath.Join(cfg.OutputDir, "report.html")
	jsonPath := filepath.Join(cfg.OutputDir, "report.json")

	htmlGenerated := true
	if err := report.GenerateHTML(cfg.OutputDir, report.HTMLConfig{OutputPath: htmlPath}); err != nil {
		htmlGenerated = false
		fmt.Printf("  %s⚠%s Warning: failed to generate HTML report: %v\n", color(colorYellow), color(colorReset), err)
	}
	allureGenerated := true
	if err := report.GenerateAllure(cfg.OutputDir); err != nil {
		allureGenerated = false
		fmt.Printf("  %s⚠%s Warning: failed to generate Allure results: %v\n", color(colorYellow), color(colorReset), err)
	}

	fmt.Println()
	fmt.Println("  Reports:")
	if htmlGenerated {
		fmt.Printf("    HTML:   %s\n", htmlPath)
	}
	fmt.Printf("    JSON:   %s\n", jsonPath)
	if allureGenerated {
		fmt.Printf("    Allure: %s\n", filepath.Join(cfg.OutputDir, "allure-results"))
	}
	fmt.Println()

	// Exit with code 1 if any flows failed (summary already printed)
	if result.Status != report.StatusPassed {
		return cli.Exit("", 1)
	}
	return nil
}

// validateAndParseFlows validates all flow paths and returns the parsed flows.
func validateAndParseFlows(cfg *RunConfig) ([]*flow.Flow, error) {
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags)
	var flows []*flow.Flow
	var allErrors []error

	for _, path := range cfg.FlowPaths {
		result := v.Validate(path)
		flows = append(flows, result.Flows...)
		allErrors = append(allErrors, result.Errors...)
	}

	if len(allErrors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation errors:\n")
		for _, err := range allErrors {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(allErrors))
	}

	if len(flows) == 0 {
		return nil, fmt.Errorf("no flows found")
	}

	fmt.Printf("\n%sFound %d flow(s)%s\n", color(colorBold), len(flows), color(colorReset))
	return flows, nil
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

// parseStepIDs parses "3,4, 7" into step IDs.
func parseStepIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid step id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
