package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/acpbridge/internal/acp"
)

func strPtr(s string) *string { return &s }

func modelOption(value string) acp.ConfigOption {
	return acp.ConfigOption{
		ID:           ConfigKeyModel,
		Name:         "Model",
		Type:         acp.ConfigOptionSelect,
		CurrentValue: value,
		Options: []acp.ConfigOptionValue{
			{Value: "sonnet", Name: "Sonnet"},
			{Value: "opus", Name: "Opus"},
		},
	}
}

func TestContext_CurrentModelFromConfigOptions(t *testing.T) {
	c := NewContext("/work")
	assert.Equal(t, "", c.CurrentModel())

	c.SetConfigOptions([]acp.ConfigOption{modelOption("sonnet")})
	assert.Equal(t, "sonnet", c.CurrentModel())

	c.SetConfigOptions([]acp.ConfigOption{modelOption("opus")})
	assert.Equal(t, "opus", c.CurrentModel())
}

func TestContext_CurrentModelIgnoresOtherOptions(t *testing.T) {
	c := NewContext("/work")
	c.SetConfigOptions([]acp.ConfigOption{
		{ID: "effort", Type: acp.ConfigOptionSelect, CurrentValue: "high"},
		{ID: ConfigKeyModel, Type: "text", CurrentValue: "free-form"},
	})
	assert.Equal(t, "", c.CurrentModel())
}

func TestContext_ConfigOptionsAreCopies(t *testing.T) {
	c := NewContext("/work")
	c.SetConfigOptions([]acp.ConfigOption{modelOption("sonnet")})

	opts := c.ConfigOptions()
	opts[0].CurrentValue = "tampered"
	opts[0].Options[0].Value = "tampered"

	assert.Equal(t, "sonnet", c.CurrentModel())
	assert.Equal(t, "sonnet", c.ConfigOptions()[0].Options[0].Value)
}

func TestContext_OptimisticModel(t *testing.T) {
	c := NewContext("/work")
	c.SetConfigOptions([]acp.ConfigOption{modelOption("sonnet")})

	c.RequestModel("opus")
	assert.Equal(t, "opus", c.EffectiveModel())
	assert.Equal(t, "sonnet", c.CurrentModel())

	c.RejectModel()
	assert.Equal(t, "sonnet", c.EffectiveModel())

	c.RequestModel("opus")
	c.ConfirmModel("opus")
	assert.Equal(t, "opus", c.CurrentModel())
	assert.Equal(t, "", c.PendingModel())
}

func TestContext_ConfigUpdateConfirmsPendingModel(t *testing.T) {
	c := NewContext("/work")
	c.RequestModel("opus")
	c.SetConfigOptions([]acp.ConfigOption{modelOption("opus")})
	assert.Equal(t, "", c.PendingModel())
	assert.Equal(t, "opus", c.EffectiveModel())
}

func TestContext_ConfirmModelWithoutOption(t *testing.T) {
	c := NewContext("/work")
	c.ConfirmModel("haiku")
	assert.Equal(t, "haiku", c.CurrentModel())
}

func TestContext_ResetAndModes(t *testing.T) {
	c := NewContext("/work")
	c.SetModes(&acp.SessionModeState{
		CurrentModeID:  "code",
		AvailableModes: []acp.SessionMode{{ID: "code", Name: "Code"}, {ID: "plan", Name: "Plan"}},
	})
	c.SetContextUsage(12.5)
	c.SetCurrentMode("plan")
	assert.Equal(t, "plan", c.CurrentMode())
	assert.Len(t, c.Modes(), 2)

	c.Reset("s2", "/other")
	assert.Equal(t, "s2", c.ID())
	assert.Equal(t, "/other", c.Cwd())
	assert.Empty(t, c.Modes())
	_, ok := c.ContextUsage()
	assert.False(t, ok)

	c.SetModes(nil)
	assert.Equal(t, "", c.CurrentMode())
}

func TestContext_Snapshot(t *testing.T) {
	c := NewContext("/work")
	c.Reset("s1", "/work")
	c.SetConfigOptions([]acp.ConfigOption{modelOption("sonnet")})
	c.SetContextUsage(40)
	c.RequestModel("opus")

	info := c.Snapshot()
	assert.Equal(t, "s1", info.ID)
	assert.Equal(t, "sonnet", info.CurrentModel)
	assert.Equal(t, "opus", info.EffectiveModel)
	require.NotNil(t, info.ContextUsage)
	assert.InDelta(t, 40, *info.ContextUsage, 0.001)
}

func TestKindFromWire(t *testing.T) {
	assert.Equal(t, KindRead, KindFromWire("read"))
	assert.Equal(t, KindEdit, KindFromWire("edit"))
	assert.Equal(t, KindExecute, KindFromWire("execute"))
	for _, k := range []string{"delete", "move", "search", "think", "fetch", "", "new_kind"} {
		assert.Equal(t, KindOther, KindFromWire(k), k)
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	tc, ok := tr.Create(acp.ToolCall{
		ToolCallID: "tc1",
		Title:      "Run",
		Kind:       acp.ToolKindExecute,
		RawInput:   json.RawMessage(`{"command":"go test ./..."}`),
	})
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, tc.Status)
	assert.Equal(t, "go test ./...", tc.Command)

	tc, ok = tr.Update(acp.ToolCallUpdate{ToolCallID: "tc1", Status: strPtr(acp.ToolStatusPending), Title: strPtr("Run tests")})
	require.True(t, ok)
	assert.Equal(t, StatusPending, tc.Status)
	assert.Equal(t, "Run tests", tc.Title)

	tc, ok = tr.Update(acp.ToolCallUpdate{ToolCallID: "tc1", Status: strPtr(acp.ToolStatusCompleted)})
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, tc.Status)
	assert.Empty(t, tr.Open())
}

func TestTracker_TerminalStatesAreFrozen(t *testing.T) {
	for _, final := range []string{acp.ToolStatusCompleted, acp.ToolStatusFailed} {
		tr := NewTracker()
		tr.Create(acp.ToolCall{ToolCallID: "tc1", Title: "Edit"})
		_, ok := tr.Update(acp.ToolCallUpdate{ToolCallID: "tc1", Status: strPtr(final)})
		require.True(t, ok)

		for _, next := range []string{acp.ToolStatusPending, acp.ToolStatusInProgress, acp.ToolStatusCompleted, acp.ToolStatusFailed} {
			tc, ok := tr.Update(acp.ToolCallUpdate{ToolCallID: "tc1", Status: strPtr(next), Title: strPtr("changed")})
			assert.False(t, ok)
			assert.Equal(t, Status(final), tc.Status)
			assert.Equal(t, "Edit", tc.Title)
		}

		_, ok = tr.Create(acp.ToolCall{ToolCallID: "tc1", Title: "again"})
		assert.False(t, ok)
		got, _ := tr.Get("tc1")
		assert.Equal(t, Status(final), got.Status)
		assert.False(t, tr.SetAwaitingPermission("tc1", true))
	}
}

func TestTracker_UnknownUpdateIsNoop(t *testing.T) {
	tr := NewTracker()
	tr.Create(acp.ToolCall{ToolCallID: "known", Title: "Read"})

	_, ok := tr.Update(acp.ToolCallUpdate{ToolCallID: "ghost", Status: strPtr(acp.ToolStatusCompleted)})
	assert.False(t, ok)
	assert.Equal(t, 1, tr.Len())
	_, exists := tr.Get("ghost")
	assert.False(t, exists)
	assert.False(t, tr.SetAwaitingPermission("ghost", true))
}

func TestTracker_IndependentCalls(t *testing.T) {
	tr := NewTracker()
	tr.Create(acp.ToolCall{ToolCallID: "a", Title: "A", Kind: acp.ToolKindEdit})
	tr.Create(acp.ToolCall{ToolCallID: "b", Title: "B", Kind: acp.ToolKindExecute})

	require.True(t, tr.SetAwaitingPermission("a", true))
	tr.Update(acp.ToolCallUpdate{ToolCallID: "b", Title: strPtr("B2")})
	require.True(t, tr.SetAwaitingPermission("a", false))
	tr.Update(acp.ToolCallUpdate{ToolCallID: "a", Status: strPtr(acp.ToolStatusCompleted)})

	b, _ := tr.Get("b")
	assert.Equal(t, "B2", b.Title)
	assert.Equal(t, StatusInProgress, b.Status)
	assert.False(t, b.AwaitingPermission)

	open := tr.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].ID)
}

func TestTracker_DiffsAndLocations(t *testing.T) {
	tr := NewTracker()
	tc, _ := tr.Create(acp.ToolCall{
		ToolCallID: "e1",
		Kind:       acp.ToolKindEdit,
		Content:    []acp.ToolCallContent{{Type: "diff", Path: "/w/a.go", OldText: strPtr("a"), NewText: "b"}},
		Locations:  []acp.ToolCallLocation{{Path: "/w/a.go"}},
	})
	require.Len(t, tc.Diffs, 1)
	assert.Equal(t, "b", tc.Diffs[0].NewText)
	assert.Equal(t, []string{"/w/a.go"}, tc.Locations)

	tc.Diffs[0].NewText = "mutated"
	got, _ := tr.Get("e1")
	assert.Equal(t, "b", got.Diffs[0].NewText)
}

func TestCommandFromInput(t *testing.T) {
	assert.Equal(t, "ls -la", commandFromInput(json.RawMessage(`{"command":["ls","-la"]}`)))
	assert.Equal(t, "", commandFromInput(json.RawMessage(`{"path":"x"}`)))
	assert.Equal(t, "", commandFromInput(json.RawMessage(`not json`)))
}
