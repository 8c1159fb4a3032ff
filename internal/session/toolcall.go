package session

import (
	"encoding/json"

	"github.com/agent-command/acpbridge/internal/acp"
)

// Kind is the coarse class of a tool call.
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindExecute Kind = "execute"
	KindOther   Kind = "other"
)

// KindFromWire folds the protocol's tool kinds onto the four tracked kinds.
func KindFromWire(kind string) Kind {
	switch kind {
	case acp.ToolKindRead:
		return KindRead
	case acp.ToolKindEdit:
		return KindEdit
	case acp.ToolKindExecute:
		return KindExecute
	}
	return KindOther
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Diff is a proposed file edit carried by an edit tool call.
type Diff struct {
	Path    string  `json:"path"`
	OldText *string `json:"old_text,omitempty"`
	NewText string  `json:"new_text"`
}

// ToolCall is the tracked state of one agent tool invocation.
type ToolCall struct {
	ID                 string   `json:"id"`
	Kind               Kind     `json:"kind"`
	Status             Status   `json:"status"`
	Title              string   `json:"title"`
	Command            string   `json:"command,omitempty"`
	Diffs              []Diff   `json:"diffs,omitempty"`
	Locations          []string `json:"locations,omitempty"`
	AwaitingPermission bool     `json:"awaiting_permission"`
}

func (tc *ToolCall) clone() ToolCall {
	out := *tc
	out.Diffs = append([]Diff(nil), tc.Diffs...)
	out.Locations = append([]string(nil), tc.Locations...)
	return out
}

func (tc *ToolCall) absorb(content []acp.ToolCallContent, locations []acp.ToolCallLocation, rawInput json.RawMessage) {
	for _, c := range content {
		if c.Type == "diff" {
			tc.Diffs = append(tc.Diffs, Diff{Path: c.Path, OldText: c.OldText, NewText: c.NewText})
		}
	}
	if len(locations) > 0 {
		tc.Locations = tc.Locations[:0]
		for _, loc := range locations {
			tc.Locations = append(tc.Locations, loc.Path)
		}
	}
	if cmd := commandFromInput(rawInput); cmd != "" {
		tc.Command = cmd
	}
}

func commandFromInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var input struct {
		Command any `json:"command"`
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return ""
	}
	switch cmd := input.Command.(type) {
	case string:
		return cmd
	case []any:
		var out string
		for i, part := range cmd {
			s, _ := part.(string)
			if i > 0 {
				out += " "
			}
			out += s
		}
		return out
	}
	return ""
}

// Tracker follows every open tool call of a session independently by id.
type Tracker struct {
	calls map[string]*ToolCall
	order []string
}

func NewTracker() *Tracker {
	return &Tracker{calls: make(map[string]*ToolCall)}
}

// Create starts tracking a tool call. Without a status the call starts in
// progress. A repeated create for a finished call is ignored.
func (t *Tracker) Create(wire acp.ToolCall) (ToolCall, bool) {
	if existing, ok := t.calls[wire.ToolCallID]; ok && existing.Status.Terminal() {
		return existing.clone(), false
	}
	tc := &ToolCall{
		ID:     wire.ToolCallID,
		Kind:   KindFromWire(wire.Kind),
		Status: Status(wire.Status),
		Title:  wire.Title,
	}
	if tc.Status == "" {
		tc.Status = StatusInProgress
	}
	tc.absorb(wire.Content, wire.Locations, wire.RawInput)
	if _, ok := t.calls[wire.ToolCallID]; !ok {
		t.order = append(t.order, wire.ToolCallID)
	}
	t.calls[wire.ToolCallID] = tc
	return tc.clone(), true
}

// Update applies a partial update. Unknown ids and calls that already
// completed or failed are left untouched and reported as not applied.
func (t *Tracker) Update(wire acp.ToolCallUpdate) (ToolCall, bool) {
	tc, ok := t.calls[wire.ToolCallID]
	if !ok {
		return ToolCall{}, false
	}
	if tc.Status.Terminal() {
		return tc.clone(), false
	}
	if wire.Title != nil {
		tc.Title = *wire.Title
	}
	if wire.Kind != nil {
		tc.Kind = KindFromWire(*wire.Kind)
	}
	if wire.Status != nil {
		tc.Status = Status(*wire.Status)
	}
	if tc.Status.Terminal() {
		tc.AwaitingPermission = false
	}
	tc.absorb(wire.Content, wire.Locations, wire.RawInput)
	return tc.clone(), true
}

// SetAwaitingPermission flags a call as blocked on the user. It reports
// false for unknown or finished calls.
func (t *Tracker) SetAwaitingPermission(id string, awaiting bool) bool {
	tc, ok := t.calls[id]
	if !ok || tc.Status.Terminal() {
		return false
	}
	tc.AwaitingPermission = awaiting
	return true
}

func (t *Tracker) Get(id string) (ToolCall, bool) {
	tc, ok := t.calls[id]
	if !ok {
		return ToolCall{}, false
	}
	return tc.clone(), true
}

// Open returns the calls that have not finished, in creation order.
func (t *Tracker) Open() []ToolCall {
	var out []ToolCall
	for _, id := range t.order {
		if tc := t.calls[id]; !tc.Status.Terminal() {
			out = append(out, tc.clone())
		}
	}
	return out
}

func (t *Tracker) Len() int { return len(t.calls) }

// Reset forgets every call, as when a new session replaces the old one.
func (t *Tracker) Reset() {
	t.calls = make(map[string]*ToolCall)
	t.order = nil
}
