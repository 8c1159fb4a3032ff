package console

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/permission"
)

func TestPrinter_StreamsMessageChunks(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Print(events.MessageChunk{Content: acp.TextBlock("Hello, ")})
	p.Print(events.MessageChunk{Content: acp.TextBlock("world.")})
	p.Print(events.TurnCompleted{StopReason: acp.StopEndTurn})

	assert.Equal(t, "Hello, world.\n-- end_turn\n", buf.String())
}

func TestPrinter_PermissionNumbering(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	broker := permission.NewBroker()
	title := "Run rm -rf build"
	first := broker.Open(acp.RequestPermissionRequest{
		SessionID: "s1",
		ToolCall:  acp.ToolCallUpdate{ToolCallID: "tc1", Title: &title},
		Options: []acp.PermissionOption{
			{OptionID: "allow", Name: "Allow once", Kind: acp.PermissionAllowOnce},
			{OptionID: "reject", Name: "Reject", Kind: acp.PermissionRejectOnce},
		},
	})
	second := broker.Open(acp.RequestPermissionRequest{SessionID: "s1", ToolCall: acp.ToolCallUpdate{ToolCallID: "tc2"}})

	p.Print(events.PermissionRequested{Request: first})
	p.Print(events.PermissionRequested{Request: second})
	assert.Contains(t, buf.String(), "permission #1: Run rm -rf build")
	assert.Contains(t, buf.String(), "1) Allow once (allow_once)")
	assert.Contains(t, buf.String(), "permission #2: tc2")

	p.Print(events.PermissionResolved{RequestID: first.ID, Outcome: permission.Selected("allow")})
	pending := p.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestPrinter_Failures(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Print(events.FileWritten{Path: "/repo/appsettings.json", Err: apperr.Newf(apperr.Blocked, "blocked by hook %q", "protect-settings")})
	p.Print(events.FileWritten{Path: "/repo/a.go"})
	p.Print(events.TransportClosed{Err: errors.New("exit status 1")})

	out := buf.String()
	assert.Contains(t, out, "! write /repo/appsettings.json")
	assert.Contains(t, out, `protect-settings`)
	assert.NotContains(t, out, "/repo/a.go")
	assert.Contains(t, out, "agent connection closed: exit status 1")
}

func TestPrinter_FeedbackSurfaced(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	p.Print(events.FeedbackSurfaced{Rule: "lint", Text: "2 problems"})
	assert.Equal(t, "[feedback from lint]\n2 problems\n", buf.String())
}
