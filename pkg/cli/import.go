package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/apiflow/pkg/validator"
)

var importCommand = &cli.Command{
	Name:      "import",
	Usage:     "Store flow files in the configured store",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Validate flow files and save them to the workspace store so they can
be run by ID through 'apiflow serve'. Flows keep the id from their file; flows
without one get an ID assigned by the store.`,
	Action: importFlows,
}

func importFlows(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	v := validator.New(nil, nil)
	var results []*validator.Result
	var errs []error
	for _, path := range c.Args().Slice() {
		result := v.Validate(path)
		results = append(results, result)
		errs = append(errs, result.Errors...)
	}
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		return cli.Exit(fmt.Sprintf("validation failed with %d error(s)", len(errs)), 1)
	}

	ws, err := openWorkspace(c.Context, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	count := 0
	for _, result := range results {
		for i, f := range result.Flows {
			f.Normalize()
			if err := ws.store.SaveFlow(c.Context, f); err != nil {
				return fmt.Errorf("save %s: %w", result.Files[i], err)
			}
			fmt.Printf("  %s✓%s %s %s(id %d)%s\n",
				color(colorGreen), color(colorReset), f.Name, color(colorGray), f.ID, color(colorReset))
			count++
		}
	}
	fmt.Printf("Imported %d flow(s) into %s store\n", count, cfg.Store.Driver)
	return nil
}
