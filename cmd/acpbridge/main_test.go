package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/permission"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "acpbridge version "+Version+"\n", out)
}

func TestHooksValidate(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "missing.yaml")

	out, err := execute(t, "hooks", "validate", "--config", configPath, "--cwd", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no hook files found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks.json"), []byte(`{"hooks": [
		{"name": "protect-settings", "event": "beforeWrite", "pattern": "**/appsettings.json", "builtin": "deny"},
		{"name": "lint", "event": "afterWrite", "pattern": "**/*.go", "command": "go vet ./...", "feedback": true}
	]}`), 0o644))
	out, err = execute(t, "hooks", "validate", "--config", configPath, "--cwd", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "protect-settings")
	assert.Contains(t, out, "2 valid rules")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks.json"), []byte(`{"hooks": [
		{"name": "lint", "event": "afterWrite", "command": "make lint"},
		{"name": "typo", "event": "beforeSave", "command": "true"},
		{"name": "wrong-event", "event": "afterRead", "builtin": "deny"}
	]}`), 0o644))
	out, err = execute(t, "hooks", "validate", "--config", configPath, "--cwd", dir)
	require.Error(t, err)
	assert.Contains(t, out, "1 valid rules, 2 problems")
	assert.Contains(t, out, `unknown event "beforeSave"`)
}

func TestRootFlags_MissingCwd(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "hooks", "validate", "--config", filepath.Join(dir, "missing.yaml"), "--cwd", filepath.Join(dir, "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func testRequest() *permission.Request {
	return permission.NewBroker().Open(acp.RequestPermissionRequest{
		SessionID: "s1",
		ToolCall:  acp.ToolCallUpdate{ToolCallID: "tc1"},
		Options: []acp.PermissionOption{
			{OptionID: "once", Name: "Allow once", Kind: acp.PermissionAllowOnce},
			{OptionID: "always", Name: "Always allow", Kind: acp.PermissionAllowAlways},
			{OptionID: "no", Name: "Reject", Kind: acp.PermissionRejectOnce},
		},
	})
}

func TestChooseOption(t *testing.T) {
	req := testRequest()

	tests := []struct {
		name   string
		choice string
		allow  bool
		want   string
		err    bool
	}{
		{name: "default allow", allow: true, want: "once"},
		{name: "default reject", allow: false, want: "no"},
		{name: "by number", choice: "2", allow: true, want: "always"},
		{name: "by id", choice: "no", allow: true, want: "no"},
		{name: "number out of range", choice: "4", allow: true, err: true},
		{name: "unknown id", choice: "maybe", allow: true, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chooseOption(req, tt.choice, tt.allow)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChooseOption_RejectWithoutRejectOption(t *testing.T) {
	req := permission.NewBroker().Open(acp.RequestPermissionRequest{
		ToolCall: acp.ToolCallUpdate{ToolCallID: "tc1"},
		Options:  []acp.PermissionOption{{OptionID: "once", Kind: acp.PermissionAllowOnce}},
	})
	got, err := chooseOption(req, "", false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPendingRequest(t *testing.T) {
	req := testRequest()
	got, err := pendingRequest([]*permission.Request{req}, "1")
	require.NoError(t, err)
	assert.Same(t, req, got)

	_, err = pendingRequest([]*permission.Request{req}, "2")
	assert.Error(t, err)
	_, err = pendingRequest(nil, "x")
	assert.Error(t, err)
}

func TestLoadHostID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	first, err := loadHostID(dir)
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := loadHostID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
