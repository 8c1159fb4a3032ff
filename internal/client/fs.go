package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/hooks"
	"github.com/agent-command/acpbridge/internal/pathmap"
)

// scope returns the working directory and hook engine of the session.
func (c *Client) scope() *scope {
	return c.current.Load()
}

func (s *scope) before(ctx context.Context, in hooks.Input) hooks.Verdict {
	if s.engine == nil {
		return hooks.Verdict{Content: in.Content, Command: in.Command}
	}
	in.Cwd = s.cwd
	return s.engine.Before(ctx, in)
}

func (s *scope) after(ctx context.Context, in hooks.Input) []hooks.Feedback {
	if s.engine == nil {
		return nil
	}
	in.Cwd = s.cwd
	return s.engine.After(ctx, in)
}

// hostPath translates an agent path and checks it against the working
// directory.
func (c *Client) hostPath(s *scope, remote string) (string, error) {
	if remote == "" {
		return "", apperr.Newf(apperr.Protocol, "empty path")
	}
	host := c.tr.ToHost(remote)
	return host, checkBounds(s.cwd, host)
}

// checkBounds rejects host paths outside root, first lexically and then
// with symlinks resolved.
func checkBounds(root, host string) error {
	if !pathmap.Within(root, host) {
		return apperr.Newf(apperr.PathOutOfBounds, "%s is outside the working directory %s", host, root)
	}
	ok, err := pathmap.Contained(root, host)
	if err != nil {
		return apperr.New(apperr.IO, fmt.Sprintf("failed to resolve %s", host), err)
	}
	if !ok {
		return apperr.Newf(apperr.PathOutOfBounds, "%s resolves outside the working directory %s", host, root)
	}
	return nil
}

func (c *Client) readTextFile(ctx context.Context, params json.RawMessage) (any, error) {
	var req acp.ReadTextFileRequest
	if err := decodeParams(acp.MethodReadTextFile, params, &req); err != nil {
		c.post(func() { c.emit(events.FileRead{Err: err}) })
		return nil, err
	}
	s := c.scope()
	host, err := c.hostPath(s, req.Path)
	if err != nil {
		c.post(func() { c.emit(events.FileRead{Path: host, Err: err}) })
		return nil, err
	}

	in := hooks.Input{Event: hooks.BeforeRead, Path: host, RemotePath: req.Path}
	s.before(ctx, in)

	data, err := os.ReadFile(host)
	if err != nil {
		err = ioError("read", host, err)
		c.post(func() { c.emit(events.FileRead{Path: host, Err: err}) })
		return nil, err
	}
	content := sliceLines(string(data), req.Line, req.Limit)

	in.Event = hooks.AfterRead
	in.Content = content
	fb := s.after(ctx, in)

	c.post(func() {
		c.feedback.Push(fb...)
		c.emit(events.FileRead{Path: host, Bytes: len(content)})
	})
	return acp.ReadTextFileResponse{Content: content}, nil
}

func (c *Client) writeTextFile(ctx context.Context, params json.RawMessage) (any, error) {
	var req acp.WriteTextFileRequest
	if err := decodeParams(acp.MethodWriteTextFile, params, &req); err != nil {
		c.post(func() { c.emit(events.FileWritten{Err: err}) })
		return nil, err
	}
	s := c.scope()
	host, err := c.hostPath(s, req.Path)
	if err != nil {
		c.post(func() { c.emit(events.FileWritten{Path: host, Err: err}) })
		return nil, err
	}

	in := hooks.Input{Event: hooks.BeforeWrite, Path: host, RemotePath: req.Path, Content: req.Content}
	v := s.before(ctx, in)
	if v.Blocked {
		err := apperr.Newf(apperr.Blocked, "write to %s blocked by hook %q: %s", req.Path, v.Rule, v.Reason)
		c.post(func() { c.emit(events.FileWritten{Path: host, Err: err}) })
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		err = ioError("create directory for", host, err)
		c.post(func() { c.emit(events.FileWritten{Path: host, Err: err}) })
		return nil, err
	}
	if err := os.WriteFile(host, []byte(v.Content), 0o644); err != nil {
		err = ioError("write", host, err)
		c.post(func() { c.emit(events.FileWritten{Path: host, Err: err}) })
		return nil, err
	}

	in.Event = hooks.AfterWrite
	in.Content = v.Content
	fb := s.after(ctx, in)

	c.post(func() {
		c.turn.TouchFile(host)
		c.feedback.Push(fb...)
		c.emit(events.FileWritten{Path: host, Bytes: len(v.Content), Modified: v.Modified})
	})
	return nil, nil
}

func ioError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.New(apperr.IO, op+" "+path+": no such file", err)
	}
	return apperr.New(apperr.IO, op+" "+path, err)
}

// sliceLines applies the 1-based line offset and line limit of a read.
func sliceLines(content string, line, limit *int) string {
	if line == nil && limit == nil {
		return content
	}
	lines := strings.SplitAfter(content, "\n")
	start := 0
	if line != nil && *line > 1 {
		start = *line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "")
}
