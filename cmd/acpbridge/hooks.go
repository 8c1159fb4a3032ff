package main

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/agent-command/acpbridge/internal/hooks"
)

func newHooksCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect hook configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the hook files of the working directory and report invalid rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cwd, err := flags.load()
			if err != nil {
				return err
			}
			set, loadErr := hooks.Load(cwd, cfg.Hooks.Files, cfg.Hooks.Timeout())

			out := cmd.OutOrStdout()
			sources := set.Sources()
			if len(sources) == 0 {
				fmt.Fprintf(out, "no hook files found in %s\n", cwd)
			}
			for _, src := range sources {
				fmt.Fprintf(out, "loaded %s\n", src)
			}
			for _, r := range set.Rules() {
				fmt.Fprintf(out, "  %-12s %s\n", r.Event, r.Name)
			}
			if loadErr == nil {
				fmt.Fprintf(out, "%d valid rules\n", set.Len())
				return nil
			}

			problems := []error{loadErr}
			var merr *multierror.Error
			if errors.As(loadErr, &merr) {
				problems = merr.Errors
			}
			fmt.Fprintf(out, "%d valid rules, %d problems:\n", set.Len(), len(problems))
			for _, e := range problems {
				fmt.Fprintf(out, "  %v\n", e)
			}
			return fmt.Errorf("invalid hook configuration")
		},
	})
	return cmd
}
