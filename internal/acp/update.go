package acp

import (
	"encoding/json"
	"fmt"
)

// Session update kinds, carried in the "sessionUpdate" discriminator.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
	UpdateAvailableCommands = "available_commands_update"
	UpdateCurrentMode       = "current_mode_update"
	UpdateConfigOption      = "config_option_update"
)

// Tool call kinds.
const (
	ToolKindRead    = "read"
	ToolKindEdit    = "edit"
	ToolKindDelete  = "delete"
	ToolKindMove    = "move"
	ToolKindSearch  = "search"
	ToolKindExecute = "execute"
	ToolKindThink   = "think"
	ToolKindFetch   = "fetch"
	ToolKindOther   = "other"
)

// Tool call statuses.
const (
	ToolStatusPending    = "pending"
	ToolStatusInProgress = "in_progress"
	ToolStatusCompleted  = "completed"
	ToolStatusFailed     = "failed"
)

type ToolCallLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// ToolCallContent is one of "content", "diff" or "terminal".
type ToolCallContent struct {
	Type       string        `json:"type"`
	Content    *ContentBlock `json:"content,omitempty"`
	Path       string        `json:"path,omitempty"`
	OldText    *string       `json:"oldText,omitempty"`
	NewText    string        `json:"newText,omitempty"`
	TerminalID string        `json:"terminalId,omitempty"`
}

type ToolCall struct {
	ToolCallID string             `json:"toolCallId"`
	Title      string             `json:"title"`
	Kind       string             `json:"kind,omitempty"`
	Status     string             `json:"status,omitempty"`
	Content    []ToolCallContent  `json:"content,omitempty"`
	Locations  []ToolCallLocation `json:"locations,omitempty"`
	RawInput   json.RawMessage    `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage    `json:"rawOutput,omitempty"`
}

// ToolCallUpdate carries only the fields that changed.
type ToolCallUpdate struct {
	ToolCallID string             `json:"toolCallId"`
	Title      *string            `json:"title,omitempty"`
	Kind       *string            `json:"kind,omitempty"`
	Status     *string            `json:"status,omitempty"`
	Content    []ToolCallContent  `json:"content,omitempty"`
	Locations  []ToolCallLocation `json:"locations,omitempty"`
	RawInput   json.RawMessage    `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage    `json:"rawOutput,omitempty"`
}

type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

type AvailableCommandInput struct {
	Hint string `json:"hint"`
}

type AvailableCommand struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Input       *AvailableCommandInput `json:"input,omitempty"`
}

// SessionUpdate is the decoded body of a session/update notification.
// Exactly one of the pointer fields is set, selected by Kind.
type SessionUpdate struct {
	Kind string

	Chunk             *ContentBlock
	ToolCall          *ToolCall
	ToolCallUpdate    *ToolCallUpdate
	Plan              []PlanEntry
	AvailableCommands []AvailableCommand
	CurrentModeID     string
	ConfigOptions     []ConfigOption
}

type SessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// ErrUnknownUpdate is returned for session updates this client does not model.
type ErrUnknownUpdate struct {
	Kind string
}

func (e *ErrUnknownUpdate) Error() string {
	return fmt.Sprintf("unknown session update %q", e.Kind)
}

// DecodeUpdate decodes the update body of a session/update notification.
func DecodeUpdate(raw json.RawMessage) (*SessionUpdate, error) {
	var head struct {
		SessionUpdate string `json:"sessionUpdate"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode session update: %w", err)
	}
	u := &SessionUpdate{Kind: head.SessionUpdate}
	var err error
	switch head.SessionUpdate {
	case UpdateAgentMessageChunk, UpdateAgentThoughtChunk, UpdateUserMessageChunk:
		var body struct {
			Content ContentBlock `json:"content"`
		}
		err = json.Unmarshal(raw, &body)
		u.Chunk = &body.Content
	case UpdateToolCall:
		u.ToolCall = &ToolCall{}
		err = json.Unmarshal(raw, u.ToolCall)
		if err == nil && u.ToolCall.ToolCallID == "" {
			err = fmt.Errorf("tool_call without toolCallId")
		}
	case UpdateToolCallUpdate:
		u.ToolCallUpdate = &ToolCallUpdate{}
		err = json.Unmarshal(raw, u.ToolCallUpdate)
		if err == nil && u.ToolCallUpdate.ToolCallID == "" {
			err = fmt.Errorf("tool_call_update without toolCallId")
		}
	case UpdatePlan:
		var body struct {
			Entries []PlanEntry `json:"entries"`
		}
		err = json.Unmarshal(raw, &body)
		u.Plan = body.Entries
	case UpdateAvailableCommands:
		var body struct {
			AvailableCommands []AvailableCommand `json:"availableCommands"`
		}
		err = json.Unmarshal(raw, &body)
		u.AvailableCommands = body.AvailableCommands
	case UpdateCurrentMode:
		var body struct {
			CurrentModeID string `json:"currentModeId"`
		}
		err = json.Unmarshal(raw, &body)
		u.CurrentModeID = body.CurrentModeID
	case UpdateConfigOption:
		var body struct {
			ConfigOptions []ConfigOption `json:"configOptions"`
		}
		err = json.Unmarshal(raw, &body)
		u.ConfigOptions = body.ConfigOptions
	default:
		return nil, &ErrUnknownUpdate{Kind: head.SessionUpdate}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.SessionUpdate, err)
	}
	return u, nil
}
