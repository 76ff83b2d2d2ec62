package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/apiflow/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files without running them",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Parse flow files and check step ordering, step names, conditions,
DSL scripts and static goto targets.`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
	},
	Action: validateFlows,
}

func validateFlows(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	v := validator.New(c.StringSlice("include-tags"), c.StringSlice("exclude-tags"))
	files := 0
	var errs []error
	for _, path := range c.Args().Slice() {
		result := v.Validate(path)
		files += len(result.Files)
		errs = append(errs, result.Errors...)
	}

	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		return cli.Exit(fmt.Sprintf("validation failed with %d error(s)", len(errs)), 1)
	}

	fmt.Printf("  %s✓%s %d flow(s) valid\n", color(colorGreen), color(colorReset), files)
	return nil
}
