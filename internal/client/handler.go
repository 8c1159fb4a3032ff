package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.lsp.dev/jsonrpc2"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/pathmap"
)

// handle runs on the connection's read loop. Notifications are posted to
// the client loop in arrival order; calls get their own goroutine.
func (c *Client) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch r := req.(type) {
	case *jsonrpc2.Call:
		go c.handleCall(ctx, reply, r)
	case *jsonrpc2.Notification:
		method, params := r.Method(), r.Params()
		c.post(func() { c.handleNotification(method, params) })
	}
	return nil
}

func (c *Client) handleCall(ctx context.Context, reply jsonrpc2.Replier, call *jsonrpc2.Call) {
	method := call.Method()
	params := call.Params()

	var (
		result any
		err    error
	)
	switch method {
	case acp.MethodReadTextFile:
		result, err = c.readTextFile(ctx, params)
	case acp.MethodWriteTextFile:
		result, err = c.writeTextFile(ctx, params)
	case acp.MethodTerminalCreate:
		result, err = c.createTerminal(ctx, params)
	case acp.MethodTerminalOutput:
		result, err = c.terminalOutput(params)
	case acp.MethodTerminalWait:
		result, err = c.waitForTerminal(ctx, params)
	case acp.MethodTerminalKill:
		result, err = c.killTerminal(params)
	case acp.MethodTerminalRelease:
		result, err = c.releaseTerminal(params)
	case acp.MethodRequestPermission:
		result, err = c.requestPermission(ctx, params)
	default:
		c.log.V(1).Info("unsupported agent request", "method", method)
		err = jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "method not found: %s", method)
		perr := apperr.Newf(apperr.Protocol, "unsupported agent request %s", method)
		c.post(func() { c.emit(events.ProtocolError{Method: method, Err: perr}) })
	}

	c.metrics.CapabilityCall(method, resultLabel(err))
	if err != nil {
		c.log.V(1).Info("agent request failed", "method", method, "error", err.Error())
		if rerr := reply(ctx, nil, apperr.RPC(err)); rerr != nil {
			c.log.Error(rerr, "reply failed", "method", method)
		}
		return
	}
	if rerr := reply(ctx, result, nil); rerr != nil {
		c.log.Error(rerr, "reply failed", "method", method)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) && rpcErr.Code == jsonrpc2.MethodNotFound {
		return "unsupported"
	}
	switch apperr.KindOf(err) {
	case apperr.Blocked, apperr.PathOutOfBounds:
		return "blocked"
	case apperr.Protocol:
		return "invalid"
	}
	return "error"
}

// decodeParams unmarshals request params, reporting failures as Protocol
// errors so the agent receives InvalidParams.
func decodeParams(method string, params json.RawMessage, v any) error {
	if len(params) == 0 {
		return apperr.Newf(apperr.Protocol, "%s: missing params", method)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return apperr.New(apperr.Protocol, method+": invalid params", err)
	}
	return nil
}

// handleNotification runs on the loop.
func (c *Client) handleNotification(method string, params json.RawMessage) {
	switch method {
	case acp.MethodSessionUpdate:
		c.applySessionUpdate(params)
	case acp.ExtKiroCommands:
		cmds, err := acp.DecodeKiroCommands(params)
		if err != nil {
			c.protocolError(method, err)
			return
		}
		c.sess.SetKiroCommands(cmds)
		c.emit(events.KiroCommandsAvailable{Commands: c.sess.KiroCommands()})
	case acp.ExtKiroMetadata:
		var md acp.KiroMetadata
		if err := json.Unmarshal(params, &md); err != nil {
			c.protocolError(method, err)
			return
		}
		pct, ok := md.ContextUsage()
		if !ok {
			return
		}
		c.sess.SetContextUsage(pct)
		c.emit(events.SessionMetadata{SessionID: md.SessionID, ContextUsage: pct})
	default:
		if strings.HasPrefix(method, acp.ExtPrefix) {
			c.log.V(1).Info("ignoring extension notification", "method", method)
			return
		}
		c.log.Info("ignoring unknown notification", "method", method)
	}
}

func (c *Client) protocolError(method string, err error) {
	err = apperr.New(apperr.Protocol, "malformed "+method, err)
	c.log.Info("dropping malformed notification", "method", method, "error", err.Error())
	c.emit(events.ProtocolError{Method: method, Err: err})
}

// applySessionUpdate decodes one session/update and folds it into the
// session state. Runs on the loop.
func (c *Client) applySessionUpdate(params json.RawMessage) {
	var n acp.SessionNotification
	if err := json.Unmarshal(params, &n); err != nil {
		c.protocolError(acp.MethodSessionUpdate, err)
		return
	}
	if id := c.sess.ID(); id != "" && n.SessionID != "" && n.SessionID != id {
		c.log.V(1).Info("ignoring update for another session", "sessionId", n.SessionID)
		return
	}
	raw, err := pathmap.RewriteJSON(c.tr, n.Update, pathmap.RemoteToHost)
	if err != nil {
		c.protocolError(acp.MethodSessionUpdate, err)
		return
	}
	u, err := acp.DecodeUpdate(raw)
	var unknown *acp.ErrUnknownUpdate
	if errors.As(err, &unknown) {
		c.log.V(1).Info("ignoring session update", "kind", unknown.Kind)
		return
	}
	if err != nil {
		c.protocolError(acp.MethodSessionUpdate, err)
		return
	}

	sid := n.SessionID
	switch u.Kind {
	case acp.UpdateAgentMessageChunk:
		c.emit(events.MessageChunk{SessionID: sid, Content: *u.Chunk})
	case acp.UpdateAgentThoughtChunk:
		c.emit(events.ThoughtChunk{SessionID: sid, Content: *u.Chunk})
	case acp.UpdateUserMessageChunk:
		c.emit(events.UserMessageChunk{SessionID: sid, Content: *u.Chunk})
	case acp.UpdateToolCall:
		if tc, ok := c.tracker.Create(*u.ToolCall); ok {
			c.emit(events.ToolCallStarted{SessionID: sid, ToolCall: tc})
		}
	case acp.UpdateToolCallUpdate:
		if tc, ok := c.tracker.Update(*u.ToolCallUpdate); ok {
			c.emit(events.ToolCallUpdated{SessionID: sid, ToolCall: tc})
		}
	case acp.UpdatePlan:
		c.emit(events.PlanUpdated{SessionID: sid, Entries: u.Plan})
	case acp.UpdateAvailableCommands:
		c.sess.SetCommands(u.AvailableCommands)
		c.emit(events.CommandsUpdated{SessionID: sid, Commands: c.sess.Commands()})
	case acp.UpdateCurrentMode:
		c.sess.SetCurrentMode(u.CurrentModeID)
		c.emit(events.ModeChanged{SessionID: sid, ModeID: u.CurrentModeID})
	case acp.UpdateConfigOption:
		c.sess.SetConfigOptions(u.ConfigOptions)
		c.emitConfig()
	}
}

// emitConfig publishes the current configuration options. Loop only.
func (c *Client) emitConfig() {
	c.emit(events.ConfigOptionsUpdated{
		SessionID:    c.sess.ID(),
		Options:      c.sess.ConfigOptions(),
		CurrentModel: c.sess.EffectiveModel(),
	})
}
