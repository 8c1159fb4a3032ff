package terminal

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, chan Completion) {
	t.Helper()
	m := NewManager(opts, logr.Discard())
	done := make(chan Completion, 8)
	m.SetExitHandler(func(c Completion) { done <- c })
	t.Cleanup(m.Close)
	return m, done
}

func awaitCompletion(t *testing.T, done chan Completion) Completion {
	t.Helper()
	select {
	case c := <-done:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("no completion pushed")
		return Completion{}
	}
}

func TestManager_StartPushesCompletion(t *testing.T) {
	skipOnWindows(t)
	m, done := newTestManager(t, Options{})
	cwd := t.TempDir()

	id, err := m.Start(StartSpec{Command: "echo hello; pwd", Cwd: cwd})
	require.NoError(t, err)
	assert.Equal(t, "term-0", id)

	c := awaitCompletion(t, done)
	assert.Equal(t, id, c.ID)
	require.NotNil(t, c.Status.ExitCode)
	assert.Equal(t, 0, *c.Status.ExitCode)
	assert.Contains(t, c.Output, "hello\n")
	assert.Contains(t, c.Output, cwd)
	assert.NoError(t, c.Err)

	snap, err := m.Output(id)
	require.NoError(t, err)
	assert.True(t, snap.Exited)
	assert.Contains(t, snap.Output, "hello")
}

func TestManager_ExitCodeAndStderr(t *testing.T) {
	skipOnWindows(t)
	m, done := newTestManager(t, Options{})

	id, err := m.Start(StartSpec{Command: "echo oops >&2; exit 3"})
	require.NoError(t, err)

	status, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 3, *status.ExitCode)

	c := awaitCompletion(t, done)
	assert.Contains(t, c.Output, "oops")
}

func TestManager_DirectArgsAndEnv(t *testing.T) {
	skipOnWindows(t)
	m, done := newTestManager(t, Options{})

	_, err := m.Start(StartSpec{
		Command: "/bin/sh",
		Args:    []string{"-c", "printf '%s' \"$GREETING\""},
		Env:     []string{"GREETING=hi there"},
	})
	require.NoError(t, err)
	c := awaitCompletion(t, done)
	assert.Equal(t, "hi there", c.Output)
	assert.Equal(t, `/bin/sh -c printf '%s' "$GREETING"`, c.Command)
}

func TestManager_OutputLimit(t *testing.T) {
	skipOnWindows(t)
	m, done := newTestManager(t, Options{})

	id, err := m.Start(StartSpec{Command: "printf abcdefghijklmnopqrstuvwxyz", OutputLimit: 16})
	require.NoError(t, err)
	c := awaitCompletion(t, done)
	assert.True(t, c.Truncated)
	assert.Equal(t, TruncationMarker+"klmnopqrstuvwxyz", c.Output)

	snap, err := m.Output(id)
	require.NoError(t, err)
	assert.True(t, snap.Truncated)
}

func TestManager_KillPushesOnce(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(Options{}, logr.Discard())
	t.Cleanup(m.Close)
	var count atomic.Int32
	done := make(chan Completion, 4)
	m.SetExitHandler(func(c Completion) {
		count.Add(1)
		done <- c
	})

	id, err := m.Start(StartSpec{Command: "sleep 30"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Running())

	require.NoError(t, m.Kill(id))
	c := awaitCompletion(t, done)
	assert.Nil(t, c.Status.ExitCode)
	assert.NotEmpty(t, c.Status.Signal)

	require.NoError(t, m.Kill(id))
	require.NoError(t, m.Release(id))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, 0, m.Running())

	_, err = m.Output(id)
	assert.ErrorIs(t, err, ErrUnknownTerminal)
}

func TestManager_UnknownHandle(t *testing.T) {
	m := NewManager(Options{}, logr.Discard())
	_, err := m.Output("term-99")
	assert.ErrorIs(t, err, ErrUnknownTerminal)
	_, err = m.Wait(context.Background(), "term-99")
	assert.ErrorIs(t, err, ErrUnknownTerminal)
	assert.ErrorIs(t, m.Kill("term-99"), ErrUnknownTerminal)
	assert.ErrorIs(t, m.Release("term-99"), ErrUnknownTerminal)
}

func TestManager_StartFailure(t *testing.T) {
	m := NewManager(Options{}, logr.Discard())
	_, err := m.Start(StartSpec{Command: "/definitely/not/a/program", Args: []string{"x"}})
	assert.Error(t, err)
}

func TestManager_WaitHonoursContext(t *testing.T) {
	skipOnWindows(t)
	m, _ := newTestManager(t, Options{})
	id, err := m.Start(StartSpec{Command: "sleep 30"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_PTYMode(t *testing.T) {
	skipOnWindows(t)
	m, done := newTestManager(t, Options{PTY: true})

	_, err := m.Start(StartSpec{Command: "echo from-pty"})
	require.NoError(t, err)
	c := awaitCompletion(t, done)
	assert.Contains(t, c.Output, "from-pty")
	require.NotNil(t, c.Status.ExitCode)
	assert.Equal(t, 0, *c.Status.ExitCode)
}

func TestTailBuffer_UTF8Boundary(t *testing.T) {
	b := newTailBuffer(3)
	_, _ = b.Write([]byte("ééé"))
	out, truncated := b.Snapshot()
	assert.True(t, truncated)
	assert.Equal(t, TruncationMarker+"é", out)
}

func TestTailBuffer_UnderLimit(t *testing.T) {
	b := newTailBuffer(0)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	out, truncated := b.Snapshot()
	assert.False(t, truncated)
	assert.Equal(t, "abcdef", out)
}

func TestShellFor(t *testing.T) {
	assert.Equal(t, "-Command", ShellFor("pwsh").Flag)
	assert.Equal(t, "-Command", ShellFor(`C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`).Flag)
	assert.Equal(t, "/C", ShellFor("cmd.exe").Flag)
	assert.Equal(t, "-c", ShellFor("/bin/bash").Flag)
	assert.Equal(t, "/bin/zsh", DetectShell("/bin/zsh").Program)
}

func TestShell_Quote(t *testing.T) {
	assert.Equal(t, `'it'"'"'s; rm -rf /'`, ShellFor("/bin/sh").Quote("it's; rm -rf /"))
	assert.Equal(t, "''", ShellFor("/bin/sh").Quote(""))
	assert.Equal(t, `'it''s'`, ShellFor("pwsh").Quote("it's"))
	assert.Equal(t, `"say ""hi"""`, ShellFor("cmd.exe").Quote(`say "hi"`))
}
