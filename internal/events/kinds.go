package events

import (
	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/permission"
	"github.com/agent-command/acpbridge/internal/session"
)

// Protocol events.

type MessageChunk struct {
	protocolEvent
	SessionID string           `json:"session_id"`
	Content   acp.ContentBlock `json:"content"`
}

func (MessageChunk) Name() string { return "agent.message" }

type ThoughtChunk struct {
	protocolEvent
	SessionID string           `json:"session_id"`
	Content   acp.ContentBlock `json:"content"`
}

func (ThoughtChunk) Name() string { return "agent.thought" }

type UserMessageChunk struct {
	protocolEvent
	SessionID string           `json:"session_id"`
	Content   acp.ContentBlock `json:"content"`
}

func (UserMessageChunk) Name() string { return "user.message" }

type ToolCallStarted struct {
	protocolEvent
	SessionID string           `json:"session_id"`
	ToolCall  session.ToolCall `json:"tool_call"`
}

func (ToolCallStarted) Name() string { return "tool_call.started" }

type ToolCallUpdated struct {
	protocolEvent
	SessionID string           `json:"session_id"`
	ToolCall  session.ToolCall `json:"tool_call"`
}

func (ToolCallUpdated) Name() string { return "tool_call.updated" }

type PlanUpdated struct {
	protocolEvent
	SessionID string          `json:"session_id"`
	Entries   []acp.PlanEntry `json:"entries"`
}

func (PlanUpdated) Name() string { return "plan.updated" }

type ModeChanged struct {
	protocolEvent
	SessionID string `json:"session_id"`
	ModeID    string `json:"mode_id"`
}

func (ModeChanged) Name() string { return "mode.changed" }

type ConfigOptionsUpdated struct {
	protocolEvent
	SessionID    string             `json:"session_id"`
	Options      []acp.ConfigOption `json:"options"`
	CurrentModel string             `json:"current_model"`
}

func (ConfigOptionsUpdated) Name() string { return "config.updated" }

type CommandsUpdated struct {
	protocolEvent
	SessionID string                 `json:"session_id"`
	Commands  []acp.AvailableCommand `json:"commands"`
}

func (CommandsUpdated) Name() string { return "commands.updated" }

// TurnCompleted is the agent's answer to session/prompt.
type TurnCompleted struct {
	protocolEvent
	SessionID  string         `json:"session_id"`
	StopReason acp.StopReason `json:"stop_reason"`
	// Feedback is set when the turn was a hook feedback resubmission.
	Feedback bool   `json:"feedback"`
	Error    string `json:"error,omitempty"`
}

func (TurnCompleted) Name() string { return "turn.completed" }

// Interaction events.

// PermissionRequested carries the pending request; the consumer answers it
// through Request.Resolve or the client.
type PermissionRequested struct {
	interactionEvent
	Request *permission.Request `json:"request"`
}

func (PermissionRequested) Name() string { return "permission.requested" }

func (e PermissionRequested) RequestID() string { return e.Request.ID }

// Extension events.

type KiroCommandsAvailable struct {
	extensionEvent
	Commands []acp.KiroCommand `json:"commands"`
}

func (KiroCommandsAvailable) Name() string { return "kiro.commands" }

type SessionMetadata struct {
	extensionEvent
	SessionID    string  `json:"session_id"`
	ContextUsage float64 `json:"context_usage"`
}

func (SessionMetadata) Name() string { return "kiro.metadata" }

// Internal events.

// SessionReady is emitted when session/new or session/load completes.
type SessionReady struct {
	internalEvent
	Session session.Info `json:"session"`
	Loaded  bool         `json:"loaded"`
}

func (SessionReady) Name() string { return "session.ready" }

type TurnStarted struct {
	internalEvent
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Feedback  bool   `json:"feedback"`
}

func (TurnStarted) Name() string { return "turn.started" }

// FileRead is the terminal event of fs/read_text_file.
type FileRead struct {
	internalEvent
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Err   error  `json:"-"`
}

func (FileRead) Name() string { return "fs.read" }

// FileWritten is the terminal event of fs/write_text_file. Modified is set
// when a hook replaced the content.
type FileWritten struct {
	internalEvent
	Path     string `json:"path"`
	Bytes    int    `json:"bytes"`
	Modified bool   `json:"modified"`
	Err      error  `json:"-"`
}

func (FileWritten) Name() string { return "fs.written" }

// CommandCompleted is the terminal event of terminal/create: emitted when
// the process exits, or immediately when the command was blocked or could
// not start.
type CommandCompleted struct {
	internalEvent
	TerminalID string `json:"terminal_id,omitempty"`
	Command    string `json:"command"`
	Cwd        string `json:"cwd"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Signal     string `json:"signal,omitempty"`
	Output     string `json:"output"`
	Truncated  bool   `json:"truncated"`
	Err        error  `json:"-"`
}

func (CommandCompleted) Name() string { return "command.completed" }

// PermissionResolved is the terminal event of session/request_permission.
type PermissionResolved struct {
	internalEvent
	RequestID  string             `json:"request_id"`
	ToolCallID string             `json:"tool_call_id"`
	Outcome    permission.Outcome `json:"outcome"`
}

func (PermissionResolved) Name() string { return "permission.resolved" }

// HookNotice is emitted by the notify builtin and for hook failures.
type HookNotice struct {
	internalEvent
	Rule    string `json:"rule"`
	Event   string `json:"event"`
	Message string `json:"message"`
}

func (HookNotice) Name() string { return "hook.notice" }

// FeedbackResubmitted reports hook feedback sent back to the agent.
type FeedbackResubmitted struct {
	internalEvent
	Text string `json:"text"`
}

func (FeedbackResubmitted) Name() string { return "feedback.resubmitted" }

// FeedbackSurfaced reports hook feedback handed to the consumer because
// the feedback budget of the turn was spent.
type FeedbackSurfaced struct {
	internalEvent
	Rule string `json:"rule"`
	Text string `json:"text"`
}

func (FeedbackSurfaced) Name() string { return "feedback.surfaced" }

// ProtocolError reports a malformed message that was dropped.
type ProtocolError struct {
	internalEvent
	Method string `json:"method"`
	Err    error  `json:"-"`
}

func (ProtocolError) Name() string { return "protocol.error" }

// TransportClosed is fatal: the session must be recreated.
type TransportClosed struct {
	internalEvent
	Err error `json:"-"`
}

func (TransportClosed) Name() string { return "transport.closed" }

// Err returns the failure carried by an event, if it has one.
func Err(ev Event) error {
	switch e := ev.(type) {
	case FileRead:
		return e.Err
	case FileWritten:
		return e.Err
	case CommandCompleted:
		return e.Err
	case ProtocolError:
		return e.Err
	case TransportClosed:
		return e.Err
	}
	return nil
}
