// Package terminal runs the native commands the agent asks for and tracks
// them by opaque handle.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/go-logr/logr"

	"github.com/agent-command/acpbridge/internal/proc"
)

// ErrUnknownTerminal is returned for handles the manager does not hold.
var ErrUnknownTerminal = errors.New("unknown terminal")

// pipeDrainDelay bounds how long output pipes held open by orphaned
// grandchildren keep a finished command from completing.
const pipeDrainDelay = 2 * time.Second

type Options struct {
	// Shell overrides shell detection for command lines.
	Shell string
	// OutputLimit is the default retained output per terminal in bytes.
	OutputLimit int
	// PTY runs commands attached to a pseudo-terminal, falling back to
	// pipes when one cannot be allocated.
	PTY bool
}

// StartSpec describes one command to run.
type StartSpec struct {
	Command string
	// Args, when set, runs Command directly instead of through the shell.
	Args        []string
	Env         []string
	Cwd         string
	OutputLimit int
}

// Line is the command as one string, for logs and hooks.
func (s StartSpec) Line() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

// ExitStatus is how a command ended. ExitCode is nil when it was killed by
// a signal.
type ExitStatus struct {
	ExitCode *int
	Signal   string
}

// Completion is pushed once per handle when its process ends.
type Completion struct {
	ID        string
	Command   string
	Cwd       string
	Status    ExitStatus
	Output    string
	Truncated bool
	// Err is set when waiting on the process failed for a reason other
	// than its exit status.
	Err error
}

// Snapshot is the current state of a terminal.
type Snapshot struct {
	Output    string
	Truncated bool
	Exited    bool
	Status    ExitStatus
}

type terminal struct {
	id       string
	command  string
	cwd      string
	cmd      *exec.Cmd
	ptmx     *os.File
	out      *tailBuffer
	done     chan struct{}
	readDone chan struct{}
	status   ExitStatus
	waitErr  error
}

func (t *terminal) exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Manager tracks running and finished terminals.
type Manager struct {
	opts   Options
	shell  Shell
	log    logr.Logger
	mu     sync.Mutex
	terms  map[string]*terminal
	nextID uint64
	onExit func(Completion)
}

func NewManager(opts Options, log logr.Logger) *Manager {
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	shell := DetectShell(opts.Shell)
	log = log.WithName("terminal")
	log.V(1).Info("using shell", "program", shell.Program)
	return &Manager{
		opts:  opts,
		shell: shell,
		log:   log,
		terms: make(map[string]*terminal),
	}
}

// Shell is the shell used for command lines.
func (m *Manager) Shell() Shell {
	return m.shell
}

// SetExitHandler sets the callback for completions. It runs on the
// goroutine that observed the exit and must not block for long.
func (m *Manager) SetExitHandler(handler func(Completion)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit = handler
}

func (m *Manager) buildCmd(spec StartSpec) *exec.Cmd {
	var cmd *exec.Cmd
	if len(spec.Args) > 0 {
		cmd = exec.Command(spec.Command, spec.Args...)
	} else {
		cmd = m.shell.Command(spec.Command)
	}
	cmd.Dir = spec.Cwd
	cmd.Env = append(os.Environ(), spec.Env...)
	return cmd
}

// Start launches a command and returns its handle without waiting for it.
func (m *Manager) Start(spec StartSpec) (string, error) {
	limit := spec.OutputLimit
	if limit <= 0 {
		limit = m.opts.OutputLimit
	}

	m.mu.Lock()
	id := fmt.Sprintf("term-%d", m.nextID)
	m.nextID++
	m.mu.Unlock()

	t := &terminal{
		id:       id,
		command:  spec.Line(),
		cwd:      spec.Cwd,
		out:      newTailBuffer(limit),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	started := false
	if m.opts.PTY {
		cmd := m.buildCmd(spec)
		ptmx, err := pty.Start(cmd)
		if err == nil {
			t.cmd, t.ptmx = cmd, ptmx
			started = true
			go t.readLoop(m.log)
		} else {
			m.log.Info("PTY start failed, falling back to pipes", "command", spec.Command, "err", err.Error())
		}
	}
	if !started {
		cmd := m.buildCmd(spec)
		cmd.Stdout = t.out
		cmd.Stderr = t.out
		cmd.WaitDelay = pipeDrainDelay
		if err := cmd.Start(); err != nil {
			return "", fmt.Errorf("failed to start %q: %w", spec.Command, err)
		}
		t.cmd = cmd
		close(t.readDone)
	}

	m.mu.Lock()
	m.terms[id] = t
	m.mu.Unlock()

	m.log.V(1).Info("terminal started", "id", id, "command", spec.Command, "pid", t.cmd.Process.Pid)
	go m.waitForExit(t)
	return id, nil
}

// readLoop copies PTY output into the buffer until the PTY closes.
func (t *terminal) readLoop(log logr.Logger) {
	defer close(t.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			_, _ = t.out.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF && !t.exited() {
				// Linux reports EIO once the child side closes.
				log.V(1).Info("PTY read ended", "id", t.id, "err", err.Error())
			}
			return
		}
	}
}

// waitForExit reaps the process and pushes its completion exactly once.
func (m *Manager) waitForExit(t *terminal) {
	err := t.cmd.Wait()
	if t.ptmx != nil {
		select {
		case <-t.readDone:
		case <-time.After(pipeDrainDelay):
		}
		_ = t.ptmx.Close()
	}

	t.status = exitStatus(t.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		t.waitErr = err
	}

	output, truncated := t.out.Snapshot()
	m.log.V(1).Info("terminal exited", "id", t.id, "exitCode", t.status.ExitCode, "signal", t.status.Signal)

	// Wait returns only after the handler has run.
	m.mu.Lock()
	handler := m.onExit
	m.mu.Unlock()
	if handler != nil {
		handler(Completion{
			ID:        t.id,
			Command:   t.command,
			Cwd:       t.cwd,
			Status:    t.status,
			Output:    output,
			Truncated: truncated,
			Err:       t.waitErr,
		})
	}
	close(t.done)
}

func exitStatus(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Signal: ws.Signal().String()}
	}
	code := ps.ExitCode()
	return ExitStatus{ExitCode: &code}
}

func (m *Manager) get(id string) (*terminal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTerminal, id)
	}
	return t, nil
}

// Output returns what the command has written so far.
func (m *Manager) Output(id string) (Snapshot, error) {
	t, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	output, truncated := t.out.Snapshot()
	snap := Snapshot{Output: output, Truncated: truncated}
	if t.exited() {
		snap.Exited = true
		snap.Status = t.status
	}
	return snap, nil
}

// Wait blocks until the command exits or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (ExitStatus, error) {
	t, err := m.get(id)
	if err != nil {
		return ExitStatus{}, err
	}
	select {
	case <-t.done:
		return t.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Kill signals the command and everything it started. It is best effort
// and does nothing for commands that already exited.
func (m *Manager) Kill(id string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	if t.exited() || t.cmd.Process == nil {
		return nil
	}
	for _, pid := range proc.TakeSnapshot().Descendants(t.cmd.Process.Pid) {
		if p, err := os.FindProcess(pid); err == nil {
			_ = p.Kill()
		}
	}
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s: %w", id, err)
	}
	return nil
}

// Release kills the command if it still runs and forgets the handle. The
// completion of a released command is still pushed.
func (m *Manager) Release(id string) error {
	if err := m.Kill(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.terms, id)
	m.mu.Unlock()
	return nil
}

// Running is the number of commands that have not exited.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.terms {
		if !t.exited() {
			n++
		}
	}
	return n
}

// Close kills every command still running.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.terms))
	for id := range m.terms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Kill(id); err != nil {
			m.log.Info("kill on close failed", "id", id, "err", err.Error())
		}
	}
}
