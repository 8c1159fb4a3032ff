package client

import (
	"context"
	"encoding/json"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/pathmap"
	"github.com/agent-command/acpbridge/internal/permission"
)

// requestPermission parks the agent's request until the consumer answers
// it. There is no deadline; the request ends early only when the
// connection goes away or the turn is cancelled.
func (c *Client) requestPermission(ctx context.Context, params json.RawMessage) (any, error) {
	var req acp.RequestPermissionRequest
	if err := decodeParams(acp.MethodRequestPermission, params, &req); err != nil {
		c.post(func() { c.emit(events.ProtocolError{Method: acp.MethodRequestPermission, Err: err}) })
		return nil, err
	}
	if raw, err := json.Marshal(req.ToolCall); err == nil {
		if rewritten, err := pathmap.RewriteJSON(c.tr, raw, pathmap.RemoteToHost); err == nil {
			_ = json.Unmarshal(rewritten, &req.ToolCall)
		}
	}

	pr := c.broker.Open(req)
	toolCallID := req.ToolCall.ToolCallID
	c.do(func() {
		c.setAwaiting(toolCallID, true)
		c.emit(events.PermissionRequested{Request: pr})
		c.metrics.SetPendingPermissions(c.broker.Len())
	})
	c.log.V(1).Info("permission requested", "requestId", pr.ID, "toolCallId", toolCallID)

	select {
	case <-pr.Done():
	case <-ctx.Done():
		_ = pr.Resolve(permission.Cancelled())
	}
	outcome := pr.Outcome()

	c.do(func() {
		c.setAwaiting(toolCallID, false)
		c.emit(events.PermissionResolved{RequestID: pr.ID, ToolCallID: toolCallID, Outcome: outcome})
		c.metrics.SetPendingPermissions(c.broker.Len())
	})
	c.log.V(1).Info("permission resolved", "requestId", pr.ID, "cancelled", outcome.Cancelled, "option", outcome.OptionID)
	return outcome.Wire(), nil
}

// setAwaiting flags the tool call and publishes the change. Loop only.
func (c *Client) setAwaiting(toolCallID string, awaiting bool) {
	if !c.tracker.SetAwaitingPermission(toolCallID, awaiting) {
		return
	}
	if tc, ok := c.tracker.Get(toolCallID); ok {
		c.emit(events.ToolCallUpdated{SessionID: c.sess.ID(), ToolCall: tc})
	}
}
