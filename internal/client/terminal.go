package client

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/hooks"
	"github.com/agent-command/acpbridge/internal/pathmap"
	"github.com/agent-command/acpbridge/internal/terminal"
)

func (c *Client) createTerminal(ctx context.Context, params json.RawMessage) (any, error) {
	var req acp.CreateTerminalRequest
	if err := decodeParams(acp.MethodTerminalCreate, params, &req); err != nil {
		c.post(func() { c.emit(events.CommandCompleted{Err: err}) })
		return nil, err
	}
	s := c.scope()

	spec := terminal.StartSpec{
		Command: pathmap.RewriteCommand(c.tr, req.Command, pathmap.RemoteToHost),
		Cwd:     s.cwd,
	}
	for _, arg := range req.Args {
		spec.Args = append(spec.Args, pathmap.RewriteCommand(c.tr, arg, pathmap.RemoteToHost))
	}
	for _, env := range req.Env {
		spec.Env = append(spec.Env, env.Name+"="+pathmap.RewriteCommand(c.tr, env.Value, pathmap.RemoteToHost))
	}
	if req.OutputByteLimit != nil {
		spec.OutputLimit = *req.OutputByteLimit
	}
	if req.Cwd != "" {
		cwd := c.tr.ToHost(req.Cwd)
		if !filepath.IsAbs(cwd) && s.cwd != "" {
			cwd = filepath.Join(s.cwd, cwd)
		}
		spec.Cwd = cwd
	}
	if spec.Command == "" {
		err := apperr.Newf(apperr.Protocol, "%s: empty command", acp.MethodTerminalCreate)
		c.post(func() { c.emit(events.CommandCompleted{Cwd: spec.Cwd, Err: err}) })
		return nil, err
	}
	if err := checkBounds(s.cwd, spec.Cwd); err != nil {
		c.post(func() { c.emit(events.CommandCompleted{Command: spec.Line(), Cwd: spec.Cwd, Err: err}) })
		return nil, err
	}

	line := spec.Line()
	v := s.before(ctx, hooks.Input{Event: hooks.BeforeExec, Command: line})
	if v.Blocked {
		err := apperr.Newf(apperr.Blocked, "command blocked by hook %q: %s", v.Rule, v.Reason)
		c.post(func() { c.emit(events.CommandCompleted{Command: line, Cwd: spec.Cwd, Err: err}) })
		return nil, err
	}
	if v.Modified && v.Command != line {
		// A rewritten command is a full command line for the shell.
		spec.Command, spec.Args = v.Command, nil
		line = v.Command
	}

	id, err := c.terminals.Start(spec)
	if err != nil {
		err = apperr.New(apperr.IO, "start command", err)
		c.post(func() { c.emit(events.CommandCompleted{Command: line, Cwd: spec.Cwd, Err: err}) })
		return nil, err
	}
	c.post(func() {
		c.turn.AddCommand(line)
		c.metrics.SetOpenTerminals(c.terminals.Running())
	})
	return acp.CreateTerminalResponse{TerminalID: id}, nil
}

// onTerminalExit runs on the goroutine that reaped the process. After-exec
// hooks run in their own goroutine; turn end waits for them.
func (c *Client) onTerminalExit(comp terminal.Completion) {
	if !c.do(func() { c.pendingHooks++ }) {
		return
	}
	go c.afterExec(comp)
}

func (c *Client) afterExec(comp terminal.Completion) {
	fb := c.scope().after(c.ctx, hooks.Input{
		Event:    hooks.AfterExec,
		Command:  comp.Command,
		ExitCode: comp.Status.ExitCode,
		Output:   comp.Output,
	})
	c.post(func() {
		c.feedback.Push(fb...)
		c.emit(events.CommandCompleted{
			TerminalID: comp.ID,
			Command:    comp.Command,
			Cwd:        comp.Cwd,
			ExitCode:   comp.Status.ExitCode,
			Signal:     comp.Status.Signal,
			Output:     comp.Output,
			Truncated:  comp.Truncated,
			Err:        comp.Err,
		})
		c.metrics.SetOpenTerminals(c.terminals.Running())
		c.pendingHooks--
		if c.pendingHooks == 0 {
			for _, w := range c.hookWaiters {
				close(w)
			}
			c.hookWaiters = nil
		}
	})
}

// awaitHooks blocks until no after-exec hooks are running.
func (c *Client) awaitHooks(ctx context.Context) {
	idle := make(chan struct{})
	if !c.do(func() {
		if c.pendingHooks == 0 {
			close(idle)
			return
		}
		c.hookWaiters = append(c.hookWaiters, idle)
	}) {
		return
	}
	select {
	case <-idle:
	case <-ctx.Done():
	case <-c.stop:
	}
}

func (c *Client) terminalRequest(method string, params json.RawMessage) (acp.TerminalRequest, error) {
	var req acp.TerminalRequest
	if err := decodeParams(method, params, &req); err != nil {
		return req, err
	}
	if req.TerminalID == "" {
		return req, apperr.Newf(apperr.Protocol, "%s: missing terminalId", method)
	}
	return req, nil
}

func terminalError(err error) error {
	if errors.Is(err, terminal.ErrUnknownTerminal) {
		return apperr.New(apperr.Protocol, "unknown terminal", err)
	}
	return apperr.New(apperr.IO, "terminal", err)
}

func wireStatus(st terminal.ExitStatus) acp.TerminalExitStatus {
	out := acp.TerminalExitStatus{ExitCode: st.ExitCode}
	if st.Signal != "" {
		sig := st.Signal
		out.Signal = &sig
	}
	return out
}

func (c *Client) terminalOutput(params json.RawMessage) (any, error) {
	req, err := c.terminalRequest(acp.MethodTerminalOutput, params)
	if err != nil {
		return nil, err
	}
	snap, err := c.terminals.Output(req.TerminalID)
	if err != nil {
		return nil, terminalError(err)
	}
	resp := acp.TerminalOutputResponse{
		Output:    pathmap.RewriteCommand(c.tr, snap.Output, pathmap.HostToRemote),
		Truncated: snap.Truncated,
	}
	if snap.Exited {
		st := wireStatus(snap.Status)
		resp.ExitStatus = &st
	}
	return resp, nil
}

func (c *Client) waitForTerminal(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := c.terminalRequest(acp.MethodTerminalWait, params)
	if err != nil {
		return nil, err
	}
	st, err := c.terminals.Wait(ctx, req.TerminalID)
	if err != nil {
		return nil, terminalError(err)
	}
	return wireStatus(st), nil
}

func (c *Client) killTerminal(params json.RawMessage) (any, error) {
	req, err := c.terminalRequest(acp.MethodTerminalKill, params)
	if err != nil {
		return nil, err
	}
	if err := c.terminals.Kill(req.TerminalID); err != nil {
		return nil, terminalError(err)
	}
	return nil, nil
}

func (c *Client) releaseTerminal(params json.RawMessage) (any, error) {
	req, err := c.terminalRequest(acp.MethodTerminalRelease, params)
	if err != nil {
		return nil, err
	}
	if err := c.terminals.Release(req.TerminalID); err != nil {
		return nil, terminalError(err)
	}
	c.post(func() { c.metrics.SetOpenTerminals(c.terminals.Running()) })
	return nil, nil
}
