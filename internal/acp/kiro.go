package acp

import (
	"encoding/json"
	"fmt"
)

// KiroCommandMeta describes how a Kiro command takes its input.
type KiroCommandMeta struct {
	// InputType is "selection" for dropdown commands and "panel" for
	// commands that render structured output.
	InputType     string `json:"inputType,omitempty"`
	OptionsMethod string `json:"optionsMethod,omitempty"`
	Local         bool   `json:"local,omitempty"`
}

// KiroCommand is one entry of the _kiro.dev/commands/available listing.
type KiroCommand struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputHint   string           `json:"input_hint,omitempty"`
	Meta        *KiroCommandMeta `json:"meta,omitempty"`
}

// Executable reports whether the command can be sent to the agent. Local
// commands and selection commands are handled by the consumer.
func (c KiroCommand) Executable() bool {
	if c.Meta == nil {
		return true
	}
	return !c.Meta.Local && c.Meta.InputType != "selection"
}

// DecodeKiroCommands accepts {"commands": [...]}, {"availableCommands": [...]}
// or a bare array.
func DecodeKiroCommands(raw json.RawMessage) ([]KiroCommand, error) {
	var bare []KiroCommand
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}
	var wrapped struct {
		Commands          []KiroCommand `json:"commands"`
		AvailableCommands []KiroCommand `json:"availableCommands"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode kiro commands: %w", err)
	}
	if wrapped.Commands != nil {
		return wrapped.Commands, nil
	}
	if wrapped.AvailableCommands != nil {
		return wrapped.AvailableCommands, nil
	}
	return nil, fmt.Errorf("decode kiro commands: no command list in payload")
}

// KiroMetadata is the _kiro.dev/metadata payload.
type KiroMetadata struct {
	SessionID              string   `json:"sessionId"`
	ContextUsagePercentage *float64 `json:"contextUsagePercentage,omitempty"`
	ContextUsagePct        *float64 `json:"contextUsagePct,omitempty"`
}

// ContextUsage returns the reported context usage percentage, if any.
func (m KiroMetadata) ContextUsage() (float64, bool) {
	switch {
	case m.ContextUsagePercentage != nil:
		return *m.ContextUsagePercentage, true
	case m.ContextUsagePct != nil:
		return *m.ContextUsagePct, true
	}
	return 0, false
}
