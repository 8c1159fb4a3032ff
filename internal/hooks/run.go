package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agent-command/acpbridge/internal/terminal"
)

// waitDelay bounds how long a hook's leftover children may hold its pipes.
const waitDelay = time.Second

// Input is what a rule sees of the capability call it fires on. Path is the
// host path and RemotePath the path as the agent named it.
type Input struct {
	Event      Event
	Cwd        string
	Path       string
	RemotePath string
	Content    string
	Command    string
	ExitCode   *int
	Output     string
	// Files and Commands are the turn record for turnEnd rules.
	Files    []string
	Commands []string
}

// payload is the JSON document a hook command reads on stdin.
type payload struct {
	Event    Event    `json:"event"`
	Rule     string   `json:"rule"`
	Cwd      string   `json:"cwd"`
	File     string   `json:"file,omitempty"`
	Files    []string `json:"files,omitempty"`
	Command  string   `json:"command,omitempty"`
	Content  string   `json:"content,omitempty"`
	ExitCode *int     `json:"exitCode,omitempty"`
	Output   string   `json:"output,omitempty"`
}

// Execution is the result of running one hook command.
type Execution struct {
	Rule     string
	Event    Event
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Err      error
	Duration time.Duration
}

// Output is stdout followed by stderr, trimmed.
func (e Execution) Output() string {
	out := strings.TrimSpace(e.Stdout)
	if errOut := strings.TrimSpace(e.Stderr); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	return out
}

// Failed reports a timeout, a launch error or a non-zero exit.
func (e Execution) Failed() bool {
	return e.Err != nil || e.TimedOut || e.ExitCode != 0
}

// Runner executes hook commands through the host shell.
type Runner struct {
	shell terminal.Shell
}

// NewRunner returns a runner using shell for command lines.
func NewRunner(shell terminal.Shell) *Runner {
	return &Runner{shell: shell}
}

// Shell is the shell hook commands run in.
func (r *Runner) Shell() terminal.Shell {
	return r.shell
}

// commandLine expands the rule template for in.
func (r *Runner) commandLine(h *hook, in Input, files []string) string {
	return h.tmpl.expand(func(name string) []string {
		switch name {
		case "file":
			return []string{in.Path}
		case "files":
			return files
		case "command":
			return []string{in.Command}
		case "cwd":
			return []string{in.Cwd}
		case "event":
			return []string{string(h.event)}
		case "rule":
			return []string{h.name()}
		case "exitCode":
			if in.ExitCode == nil {
				return []string{""}
			}
			return []string{strconv.Itoa(*in.ExitCode)}
		}
		return nil
	}, r.shell.Quote)
}

// Run executes the rule's command with the input on stdin, bounded by the
// rule timeout.
func (r *Runner) Run(ctx context.Context, h *hook, in Input, files []string) Execution {
	line := r.commandLine(h, in, files)
	exe := Execution{Rule: h.name(), Event: h.event, Command: line}

	body, err := json.Marshal(payload{
		Event:    h.event,
		Rule:     h.name(),
		Cwd:      in.Cwd,
		File:     in.Path,
		Files:    files,
		Command:  in.Command,
		Content:  in.Content,
		ExitCode: in.ExitCode,
		Output:   in.Output,
	})
	if err != nil {
		exe.Err = err
		return exe
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.shell.Program, r.shell.Flag, line)
	cmd.Dir = in.Cwd
	cmd.Stdin = bytes.NewReader(body)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	exe.Duration = time.Since(start)
	exe.Stdout = stdout.String()
	exe.Stderr = stderr.String()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		exe.TimedOut = true
		exe.ExitCode = -1
		return exe
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exe.ExitCode = exitErr.ExitCode()
	default:
		exe.Err = err
		exe.ExitCode = -1
	}
	return exe
}
