package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agent-command/acpbridge/internal/config"
)

type rootFlags struct {
	configPath string
	cwd        string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "acpbridge",
		Short:         "Drive an ACP coding agent with hooks, terminals and permissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath, "Path to config file")
	cmd.PersistentFlags().StringVar(&flags.cwd, "cwd", "", "Working directory of the session (default: config agent.cwd or the current directory)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Show thoughts, reads and tool call progress")

	cmd.AddCommand(
		newRunCmd(flags),
		newPromptCmd(flags),
		newHooksCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// load reads the config and resolves the session working directory.
func (f *rootFlags) load() (*config.Config, string, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	cwd := f.cwd
	if cwd == "" {
		cwd = cfg.Agent.Cwd
	}
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return nil, "", err
		}
	}
	cwd, err = filepath.Abs(cwd)
	if err != nil {
		return nil, "", err
	}
	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("working directory %s does not exist", cwd)
	}
	return cfg, cwd, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "acpbridge version %s\n", Version)
		},
	}
}
