package transport

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"

	"github.com/agent-command/acpbridge/internal/apperr"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestStreamReadsFrames(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"s1"}}`,
		``,
		`not json at all`,
		`{"jsonrpc":"2.0","id":4,"method":"fs/read_text_file","params":{"path":"/a"}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
	}, "\n")
	s := NewStream(strings.NewReader(input), io.Discard, nil, logr.Discard())
	ctx := context.Background()

	msg, _, err := s.Read(ctx)
	require.NoError(t, err)
	n, ok := msg.(*jsonrpc2.Notification)
	require.True(t, ok)
	assert.Equal(t, "session/update", n.Method())

	msg, _, err = s.Read(ctx)
	require.NoError(t, err)
	call, ok := msg.(*jsonrpc2.Call)
	require.True(t, ok)
	assert.Equal(t, "fs/read_text_file", call.Method())
	assert.Equal(t, jsonrpc2.NewNumberID(4), call.ID())

	msg, _, err = s.Read(ctx)
	require.NoError(t, err)
	_, ok = msg.(*jsonrpc2.Response)
	assert.True(t, ok, "unterminated final line is still a frame")

	_, _, err = s.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamRepliesToBrokenCall(t *testing.T) {
	var out bytes.Buffer
	input := `{"jsonrpc":"2.0","id":7,"method":5}` + "\n"
	s := NewStream(strings.NewReader(input), &out, nil, logr.Discard())

	_, _, err := s.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, out.String(), `"id":7`)
	assert.Contains(t, out.String(), "-32700")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestStreamSkipsOversizedFrames(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"big","params":{"blob":"` + strings.Repeat("x", 200) + `"}}` + "\n" +
		`{"jsonrpc":"2.0","method":"small"}` + "\n"
	s := NewStream(strings.NewReader(input), io.Discard, nil, logr.Discard())
	s.SetMaxLine(64)

	msg, _, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "small", msg.(*jsonrpc2.Notification).Method())
}

func TestStreamWriteIsLineFramed(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader(""), &out, nil, logr.Discard())
	n, err := jsonrpc2.NewNotification("session/cancel", map[string]string{"sessionId": "s1"})
	require.NoError(t, err)

	_, err = s.Write(context.Background(), n)
	require.NoError(t, err)
	line := out.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))

	back := NewStream(strings.NewReader(line), io.Discard, nil, logr.Discard())
	msg, _, err := back.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session/cancel", msg.(*jsonrpc2.Notification).Method())
}

func TestStartMissingCommand(t *testing.T) {
	_, err := Start(context.Background(), Options{Command: "acpbridge-no-such-agent"}, logr.Discard())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Transport))

	_, err = Start(context.Background(), Options{}, logr.Discard())
	assert.True(t, apperr.Is(err, apperr.Transport))
}

func TestStartReportsImmediateExit(t *testing.T) {
	skipOnWindows(t)
	_, err := Start(context.Background(), Options{
		Command:      "/bin/sh",
		Args:         []string{"-c", "echo 'error: not logged in' >&2; exit 1"},
		StartupGrace: 2 * time.Second,
	}, logr.Discard())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Transport))
	assert.Contains(t, err.Error(), "requires authentication")
	assert.Contains(t, err.Error(), "not logged in")

	_, err = Start(context.Background(), Options{
		Command:      "/bin/sh",
		Args:         []string{"-c", "echo boom >&2; exit 4"},
		StartupGrace: 2 * time.Second,
	}, logr.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited immediately")
	assert.Contains(t, err.Error(), "boom")
}

func TestProcessEchoAndClose(t *testing.T) {
	skipOnWindows(t)
	p, err := Start(context.Background(), Options{
		Command:      "cat",
		Env:          map[string]string{"ACPBRIDGE_TEST": "1"},
		StartupGrace: 50 * time.Millisecond,
	}, logr.Discard())
	require.NoError(t, err)
	assert.Positive(t, p.Pid())
	assert.NoError(t, p.Err())

	ctx := context.Background()
	n, err := jsonrpc2.NewNotification("ping", nil)
	require.NoError(t, err)
	_, err = p.Stream().Write(ctx, n)
	require.NoError(t, err)

	msg, _, err := p.Stream().Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", msg.(*jsonrpc2.Notification).Method())

	require.NoError(t, p.Close())
	<-p.Done()
	assert.True(t, apperr.Is(p.Err(), apperr.Transport))
}

func TestProcessExitIsTransportError(t *testing.T) {
	skipOnWindows(t)
	p, err := Start(context.Background(), Options{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo going away >&2; exit 3"},
	}, logr.Discard())
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit")
	}
	err = p.Err()
	require.Error(t, err)
	assert.True(t, apperr.Fatal(err))
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "going away")
	assert.Contains(t, p.Stderr(), "going away")
}
