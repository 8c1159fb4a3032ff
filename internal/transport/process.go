package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/agent-command/acpbridge/internal/apperr"
)

const (
	stderrTail   = 64 * 1024
	closeTimeout = 3 * time.Second
)

// Options describes the agent subprocess.
type Options struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	// StartupGrace is how long Start waits for an immediate exit.
	StartupGrace time.Duration
	MaxLine      int
}

// Process is a running agent with its framed stream.
type Process struct {
	opts   Options
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stream *Stream
	log    logr.Logger

	stderrMu sync.Mutex
	stderr   []byte

	done    chan struct{}
	waitErr error
}

// Start spawns the agent and waits out the startup grace period. An agent
// that exits during the grace period is a Transport error carrying its
// stderr, with a login hint when the agent reports being logged out.
func Start(ctx context.Context, opts Options, log logr.Logger) (*Process, error) {
	if opts.Command == "" {
		return nil, apperr.Newf(apperr.Transport, "no agent command configured")
	}
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), formatEnv(opts.Env)...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.New(apperr.Transport, "agent stdin", err)
	}
	// stdout is a plain pipe rather than StdoutPipe so that Wait does not
	// close it while buffered frames are still unread.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, apperr.New(apperr.Transport, "agent stdout", err)
	}
	cmd.Stdout = stdoutW
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, apperr.New(apperr.Transport, "agent stderr", err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, apperr.New(apperr.Transport, fmt.Sprintf("failed to start %s", opts.Command), err)
	}
	stdoutW.Close()

	p := &Process{
		opts:   opts,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		log:    log.WithName("transport"),
		done:   make(chan struct{}),
	}
	p.stream = NewStream(stdout, stdin, p, p.log)
	p.stream.SetMaxLine(opts.MaxLine)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.captureStderr(stderr)
	}()
	go func() {
		// Wait closes the pipes, so stderr must be drained first.
		<-stderrDone
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.log.Info("agent started", "command", opts.Command, "args", opts.Args, "pid", cmd.Process.Pid)

	if opts.StartupGrace <= 0 {
		return p, nil
	}
	select {
	case <-p.done:
		stdin.Close()
		stdout.Close()
		return nil, p.startupError()
	case <-time.After(opts.StartupGrace):
		return p, nil
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}
}

func (p *Process) captureStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.log.V(1).Info("agent stderr", "line", line)
		p.stderrMu.Lock()
		p.stderr = append(p.stderr, line...)
		p.stderr = append(p.stderr, '\n')
		if len(p.stderr) > stderrTail {
			p.stderr = p.stderr[len(p.stderr)-stderrTail:]
		}
		p.stderrMu.Unlock()
	}
}

func (p *Process) startupError() error {
	stderr := strings.TrimSpace(p.Stderr())
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "not logged in") || strings.Contains(lower, "please log in") {
		login := strings.TrimSpace(strings.Join(append([]string{p.opts.Command}, loginArgs(p.opts.Args)...), " "))
		return apperr.Newf(apperr.Transport,
			"agent requires authentication; run `%s login` first, then try again\nagent stderr: %s", login, stderr)
	}
	return apperr.Newf(apperr.Transport, "agent exited immediately (%v)\nagent stderr: %s", p.waitErr, stderr)
}

// loginArgs keeps the wrapper arguments that select the agent program, so
// "wsl kiro-cli acp" suggests "wsl kiro-cli login".
func loginArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	return args[:len(args)-1]
}

// Stream is the framed message stream over the agent's stdio.
func (p *Process) Stream() *Stream {
	return p.stream
}

// Pid is the agent's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stderr is the retained tail of the agent's stderr.
func (p *Process) Stderr() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return string(p.stderr)
}

// Done is closed when the agent exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err describes how the agent exited, as a Transport error. It is nil while
// the agent runs.
func (p *Process) Err() error {
	select {
	case <-p.done:
	default:
		return nil
	}
	msg := "agent exited"
	if p.waitErr != nil {
		msg = fmt.Sprintf("agent exited: %v", p.waitErr)
	}
	if tail := lastLine(p.Stderr()); tail != "" {
		msg += ": " + tail
	}
	return apperr.New(apperr.Transport, msg, p.waitErr)
}

// Close ends the session with the agent: stdin is closed so the agent can
// exit on its own, and it is killed if it has not within a few seconds.
func (p *Process) Close() error {
	err := p.stdin.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
		}
		<-p.done
	}
	p.stdout.Close()
	return err
}

func formatEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
