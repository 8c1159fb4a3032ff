package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/permission"
)

const interactiveHelp = `Type a prompt and press enter. Commands:
  /cancel              cancel the running turn
  /mode <id>           switch the session mode
  /model <id>          switch the model
  /allow <n> [option]  answer permission request n (option number or id)
  /reject <n>          reject permission request n
  /session             show the session state
  /quit                exit`

func newRunCmd(flags *rootFlags) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent and read prompts from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cwd, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := startBridge(ctx, bridgeOptions{
				cfg:       cfg,
				cwd:       cwd,
				sessionID: sessionID,
				verbose:   flags.verbose,
				out:       cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer b.Close()
			fmt.Fprintln(cmd.OutOrStdout(), interactiveHelp)
			return interact(ctx, b, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Load an existing session instead of creating one")
	return cmd
}

func newPromptCmd(flags *rootFlags) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Send one prompt and exit when the turn and its hook feedback are done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cwd, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := startBridge(ctx, bridgeOptions{
				cfg:       cfg,
				cwd:       cwd,
				sessionID: sessionID,
				verbose:   flags.verbose,
				out:       cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer b.Close()
			_, err = b.client.Prompt(ctx, strings.Join(args, " "))
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Load an existing session instead of creating one")
	return cmd
}

// interact reads lines until EOF, /quit or the agent going away. Prompts
// are queued; commands run immediately so a turn can be cancelled or a
// permission answered while it runs.
func interact(ctx context.Context, b *Bridge, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.serveTurns(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.client.Done():
			return errors.New("agent connection closed")
		case line, ok := <-lines:
			if !ok {
				select {
				case <-b.Idle():
				case <-b.client.Done():
				case <-ctx.Done():
				}
				return nil
			}
			quit, err := handleLine(ctx, b, line, out)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, b *Bridge, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, b.Enqueue(ctx, line)
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, interactiveHelp)
		return false, nil
	case "/cancel":
		return false, b.client.Cancel(ctx)
	case "/mode":
		if len(args) != 1 {
			return false, errors.New("usage: /mode <id>")
		}
		return false, b.client.SetMode(ctx, args[0])
	case "/model":
		if len(args) != 1 {
			return false, errors.New("usage: /model <id>")
		}
		return false, b.client.SetModel(ctx, args[0])
	case "/allow", "/reject":
		if len(args) < 1 || len(args) > 2 {
			return false, fmt.Errorf("usage: %s <n> [option]", name)
		}
		req, err := pendingRequest(b.printer.Pending(), args[0])
		if err != nil {
			return false, err
		}
		choice := ""
		if len(args) == 2 {
			choice = args[1]
		}
		optionID, err := chooseOption(req, choice, name == "/allow")
		if err != nil {
			return false, err
		}
		if optionID == "" {
			return false, b.client.CancelPermission(req.ID)
		}
		return false, b.client.ResolvePermission(req.ID, optionID)
	case "/session":
		info := b.Session()
		fmt.Fprintf(out, "session %s\n  cwd   %s\n  mode  %s\n  model %s\n", info.ID, info.Cwd, info.CurrentMode, info.EffectiveModel)
		if info.ContextUsage != nil {
			fmt.Fprintf(out, "  context %.0f%%\n", *info.ContextUsage)
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown command %s, try /help", name)
}

func pendingRequest(pending []*permission.Request, arg string) (*permission.Request, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(pending) {
		return nil, fmt.Errorf("no pending permission request #%s", arg)
	}
	return pending[n-1], nil
}

// chooseOption picks the option to answer req with. choice is an option
// number or id; without one the first allow (or reject) option is used. An
// empty id with a nil error means the request should be cancelled.
func chooseOption(req *permission.Request, choice string, allow bool) (string, error) {
	if choice != "" {
		if n, err := strconv.Atoi(choice); err == nil {
			if n < 1 || n > len(req.Options) {
				return "", fmt.Errorf("request has no option %d", n)
			}
			return req.Options[n-1].OptionID, nil
		}
		for _, opt := range req.Options {
			if opt.OptionID == choice {
				return opt.OptionID, nil
			}
		}
		return "", fmt.Errorf("request has no option %q", choice)
	}

	kinds := []string{acp.PermissionRejectOnce, acp.PermissionRejectAlways}
	if allow {
		kinds = []string{acp.PermissionAllowOnce, acp.PermissionAllowAlways}
	}
	for _, kind := range kinds {
		if opt, ok := req.OptionOfKind(kind); ok {
			return opt.OptionID, nil
		}
	}
	if allow {
		return "", errors.New("request has no allow option, pick one explicitly")
	}
	return "", nil
}
