package client

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"go.lsp.dev/jsonrpc2"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/hooks"
	"github.com/agent-command/acpbridge/internal/pathmap"
	"github.com/agent-command/acpbridge/internal/session"
)

// call performs a request on the agent and classifies its failure.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	_, err := c.conn.Call(ctx, method, params, result)
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return apperr.New(apperr.Protocol, method+" rejected by agent", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-c.conn.Done():
		return c.transportErr()
	default:
	}
	return apperr.New(apperr.Transport, method+" failed", err)
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) (acp.InitializeResponse, error) {
	info := c.opts.ClientInfo
	req := acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersion,
		ClientCapabilities: acp.ClientCapabilities{
			FS:       acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
	}
	if info.Name != "" {
		req.ClientInfo = &info
	}
	var resp acp.InitializeResponse
	if err := c.call(ctx, acp.MethodInitialize, req, &resp); err != nil {
		return resp, err
	}
	if resp.ProtocolVersion != acp.ProtocolVersion {
		c.log.Info("agent speaks a different protocol version", "agent", resp.ProtocolVersion, "client", acp.ProtocolVersion)
	}
	c.agent.Store(&resp)
	name := ""
	if resp.AgentInfo != nil {
		name = resp.AgentInfo.Name
	}
	c.log.Info("agent initialized", "agent", name, "loadSession", resp.AgentCapabilities.LoadSession)
	return resp, nil
}

// Agent returns the handshake answer, or nil before Initialize.
func (c *Client) Agent() *acp.InitializeResponse {
	return c.agent.Load()
}

// NewSession starts a session rooted at cwd and loads its hooks.
func (c *Client) NewSession(ctx context.Context, cwd string, mcpServers []json.RawMessage) (session.Info, error) {
	cwd, err := absDir(cwd)
	if err != nil {
		return session.Info{}, err
	}
	servers, err := c.remoteServers(mcpServers)
	if err != nil {
		return session.Info{}, err
	}

	c.enter(cwd, "")
	var resp acp.NewSessionResponse
	req := acp.NewSessionRequest{Cwd: c.tr.ToRemote(cwd), MCPServers: servers}
	if err := c.call(ctx, acp.MethodSessionNew, req, &resp); err != nil {
		return session.Info{}, err
	}
	if resp.SessionID == "" {
		return session.Info{}, apperr.Newf(apperr.Protocol, "%s: agent returned no session id", acp.MethodSessionNew)
	}

	var info session.Info
	c.do(func() {
		c.sess.Bind(resp.SessionID)
		info = c.ready(resp.Modes, resp.ConfigOptions, false)
	})
	c.log.Info("session started", "sessionId", resp.SessionID, "cwd", cwd)
	return info, nil
}

// LoadSession resumes a previous session. The agent replays its history as
// session updates before answering.
func (c *Client) LoadSession(ctx context.Context, id, cwd string) (session.Info, error) {
	if agent := c.Agent(); agent != nil && !agent.AgentCapabilities.LoadSession {
		return session.Info{}, apperr.Newf(apperr.Protocol, "agent does not support %s", acp.MethodSessionLoad)
	}
	cwd, err := absDir(cwd)
	if err != nil {
		return session.Info{}, err
	}

	c.enter(cwd, id)
	var resp acp.LoadSessionResponse
	req := acp.LoadSessionRequest{SessionID: id, Cwd: c.tr.ToRemote(cwd), MCPServers: []json.RawMessage{}}
	if err := c.call(ctx, acp.MethodSessionLoad, req, &resp); err != nil {
		return session.Info{}, err
	}

	var info session.Info
	c.do(func() { info = c.ready(resp.Modes, resp.ConfigOptions, true) })
	c.log.Info("session loaded", "sessionId", id, "cwd", cwd)
	return info, nil
}

// enter resets the session state for a session rooted at cwd.
func (c *Client) enter(cwd, id string) {
	engine := c.engineFor(cwd)
	c.current.Store(&scope{cwd: cwd, engine: engine})
	c.do(func() {
		c.sess.Reset(id, cwd)
		c.tracker.Reset()
		c.turn.Reset()
	})
}

// ready applies the session answer and announces it. Loop only.
func (c *Client) ready(modes *acp.SessionModeState, opts []acp.ConfigOption, loaded bool) session.Info {
	c.sess.SetModes(modes)
	if opts != nil {
		c.sess.SetConfigOptions(opts)
	}
	info := c.sess.Snapshot()
	c.emit(events.SessionReady{Session: info, Loaded: loaded})
	return info
}

func (c *Client) remoteServers(servers []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(servers))
	for _, s := range servers {
		raw, err := pathmap.RewriteJSON(c.tr, s, pathmap.HostToRemote)
		if err != nil {
			return nil, apperr.New(apperr.Protocol, "invalid MCP server definition", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func absDir(cwd string) (string, error) {
	if cwd == "" {
		return "", apperr.Newf(apperr.Protocol, "empty working directory")
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", apperr.New(apperr.IO, "resolve working directory", err)
	}
	return abs, nil
}

// engineFor returns the hook engine of cwd, loading it on first use.
func (c *Client) engineFor(cwd string) *hooks.Engine {
	var engine *hooks.Engine
	c.do(func() { engine = c.engines[cwd] })
	if engine != nil {
		return engine
	}

	engine, err := hooks.NewEngine(cwd, c.runner, hooks.EngineOptions{
		Files:    c.opts.Hooks.Files,
		Timeout:  c.opts.Hooks.Timeout,
		Observer: c.metrics,
		Notify:   c.notify,
	}, c.log)
	if err != nil {
		c.post(func() { c.emit(events.HookNotice{Event: "load", Message: err.Error()}) })
	}

	existing := false
	c.do(func() {
		if e, ok := c.engines[cwd]; ok {
			engine, existing = e, true
			return
		}
		c.engines[cwd] = engine
	})
	if !existing && c.opts.Hooks.Watch {
		go c.watchHooks(engine)
	}
	return engine
}

func (c *Client) watchHooks(engine *hooks.Engine) {
	err := engine.Watch(c.ctx, c.opts.Hooks.Debounce, func(err error) {
		if err != nil {
			c.post(func() { c.emit(events.HookNotice{Event: "reload", Message: err.Error()}) })
		}
	})
	if err != nil {
		c.log.Error(err, "hook watcher stopped", "cwd", engine.Cwd())
	}
}

// notify publishes the message of a notify builtin.
func (c *Client) notify(rule string, ev hooks.Event, message string) {
	c.post(func() { c.emit(events.HookNotice{Rule: rule, Event: string(ev), Message: message}) })
}

func (c *Client) sessionID() (string, error) {
	var id string
	c.do(func() { id = c.sess.ID() })
	if id == "" {
		return "", apperr.Newf(apperr.Protocol, "no active session")
	}
	return id, nil
}

// Prompt sends text to the agent and returns when the turn and any hook
// feedback turns it caused have finished. One prompt runs at a time.
func (c *Client) Prompt(ctx context.Context, text string) (acp.StopReason, error) {
	c.promptMu.Lock()
	defer c.promptMu.Unlock()

	sid, err := c.sessionID()
	if err != nil {
		return "", err
	}
	c.do(func() { c.feedback.ResetBudget() })

	reason, err := c.runTurn(ctx, sid, text, false)
	for err == nil && reason != acp.StopCancelled {
		resubmit := c.idle()
		if resubmit == "" {
			break
		}
		reason, err = c.runTurn(ctx, sid, resubmit, true)
	}
	return reason, err
}

// idle drains queued feedback. It returns the prompt to resubmit, if any.
func (c *Client) idle() string {
	var resubmit string
	c.do(func() {
		var surfaced []hooks.Feedback
		resubmit, surfaced = c.feedback.Drain()
		for _, fb := range surfaced {
			c.emit(events.FeedbackSurfaced{Rule: fb.Rule, Text: fb.Text})
			c.metrics.FeedbackSurfaced()
		}
		if resubmit != "" {
			c.emit(events.FeedbackResubmitted{Text: resubmit})
			c.metrics.FeedbackResubmitted()
		}
	})
	return resubmit
}

func (c *Client) runTurn(ctx context.Context, sid, text string, feedback bool) (acp.StopReason, error) {
	c.do(func() {
		c.turn = hooks.NewTurnRecord()
		c.emit(events.TurnStarted{SessionID: sid, Text: text, Feedback: feedback})
	})

	req := acp.PromptRequest{
		SessionID: sid,
		Prompt:    []acp.ContentBlock{acp.TextBlock(pathmap.RewriteCommand(c.tr, text, pathmap.HostToRemote))},
	}
	var resp acp.PromptResponse
	err := c.call(ctx, acp.MethodPrompt, req, &resp)

	var fb []hooks.Feedback
	if err == nil {
		c.awaitHooks(ctx)
		var rec *hooks.TurnRecord
		c.do(func() { rec = c.turn.Snapshot() })
		if s := c.scope(); s.engine != nil && rec != nil {
			fb = s.engine.TurnEnd(ctx, rec)
		}
	}

	c.do(func() {
		c.feedback.Push(fb...)
		c.emit(events.TurnCompleted{
			SessionID:  sid,
			StopReason: resp.StopReason,
			Feedback:   feedback,
			Error:      errString(err),
		})
	})
	return resp.StopReason, err
}

// Cancel asks the agent to stop the current turn. Pending permission
// requests of the session are answered as cancelled; running hooks and
// terminals are left alone.
func (c *Client) Cancel(ctx context.Context) error {
	sid, err := c.sessionID()
	if err != nil {
		return err
	}
	if err := c.conn.Notify(ctx, acp.MethodCancel, acp.CancelNotification{SessionID: sid}); err != nil {
		return apperr.New(apperr.Transport, "send "+acp.MethodCancel, err)
	}
	for _, req := range c.broker.Pending() {
		if req.SessionID == "" || req.SessionID == sid {
			_ = c.CancelPermission(req.ID)
		}
	}
	return nil
}

// SetMode switches the session mode.
func (c *Client) SetMode(ctx context.Context, modeID string) error {
	sid, err := c.sessionID()
	if err != nil {
		return err
	}
	if err := c.call(ctx, acp.MethodSetMode, acp.SetSessionModeRequest{SessionID: sid, ModeID: modeID}, nil); err != nil {
		return err
	}
	c.do(func() {
		c.sess.SetCurrentMode(modeID)
		c.emit(events.ModeChanged{SessionID: sid, ModeID: modeID})
	})
	return nil
}

// SetModel switches the model. The choice shows up as the effective model
// at once and is rolled back if the agent refuses it.
func (c *Client) SetModel(ctx context.Context, model string) error {
	sid, err := c.sessionID()
	if err != nil {
		return err
	}
	c.do(func() {
		c.sess.RequestModel(model)
		c.emitConfig()
	})
	err = c.call(ctx, acp.MethodSetModel, acp.SetSessionModelRequest{SessionID: sid, ModelID: model}, nil)
	c.do(func() {
		if err != nil {
			c.sess.RejectModel()
		} else {
			c.sess.ConfirmModel(model)
		}
		c.emitConfig()
	})
	if err != nil {
		c.log.Info("model change rejected", "model", model, "error", err.Error())
	}
	return err
}
