// Package console renders the client event stream for a terminal user.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/permission"
	"github.com/agent-command/acpbridge/internal/session"
)

// Printer writes events as human readable lines. Streamed message chunks
// are written inline and closed with a newline when anything else arrives.
type Printer struct {
	out     io.Writer
	verbose bool

	mu       sync.Mutex
	inStream bool
	pending  []*permission.Request
}

func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

// Router routes every category to the printer.
func (p *Printer) Router() events.Router {
	return events.Router{
		Protocol:    events.ProtocolFunc(p.protocol),
		Interaction: events.InteractionFunc(p.interaction),
		Extension:   events.ExtensionFunc(p.extension),
		Internal:    events.InternalFunc(p.internal),
	}
}

// Print renders one event.
func (p *Printer) Print(ev events.Event) {
	p.Router().Dispatch(ev)
}

// Pending returns the permission requests shown and not yet resolved, in the
// numbering used on screen (1-based).
func (p *Printer) Pending() []*permission.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*permission.Request(nil), p.pending...)
}

func (p *Printer) stream(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inStream = true
	fmt.Fprint(p.out, text)
}

func (p *Printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineLocked(format, args...)
}

func (p *Printer) lineLocked(format string, args ...any) {
	if p.inStream {
		fmt.Fprintln(p.out)
		p.inStream = false
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) protocol(ev events.Protocol) {
	switch e := ev.(type) {
	case events.MessageChunk:
		p.stream(e.Content.Text)
	case events.ThoughtChunk:
		if p.verbose {
			p.line("(thinking) %s", e.Content.Text)
		}
	case events.ToolCallStarted:
		p.line("* %s [%s]", e.ToolCall.Title, e.ToolCall.Kind)
	case events.ToolCallUpdated:
		if p.verbose || e.ToolCall.Status == session.StatusFailed {
			p.line("  %s: %s", e.ToolCall.Title, e.ToolCall.Status)
		}
	case events.PlanUpdated:
		p.mu.Lock()
		p.lineLocked("plan:")
		for _, entry := range e.Entries {
			p.lineLocked("  [%s] %s", entry.Status, entry.Content)
		}
		p.mu.Unlock()
	case events.ModeChanged:
		p.line("mode: %s", e.ModeID)
	case events.ConfigOptionsUpdated:
		if e.CurrentModel != "" {
			p.line("model: %s", e.CurrentModel)
		}
	case events.TurnCompleted:
		if e.Error != "" {
			p.line("turn failed: %s", e.Error)
			return
		}
		p.line("-- %s", e.StopReason)
	}
}

func (p *Printer) interaction(ev events.Interaction) {
	e, ok := ev.(events.PermissionRequested)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, e.Request)
	title := e.Request.Title
	if title == "" {
		title = e.Request.ToolCallID
	}
	p.lineLocked("permission #%d: %s", len(p.pending), title)
	for i, opt := range e.Request.Options {
		p.lineLocked("  %d) %s (%s)", i+1, opt.Name, opt.Kind)
	}
	p.lineLocked("  answer with /allow %d <option> or /reject %d", len(p.pending), len(p.pending))
}

func (p *Printer) extension(ev events.Extension) {
	if !p.verbose {
		return
	}
	switch e := ev.(type) {
	case events.KiroCommandsAvailable:
		names := make([]string, 0, len(e.Commands))
		for _, c := range e.Commands {
			names = append(names, c.Name)
		}
		p.line("commands: %s", strings.Join(names, " "))
	case events.SessionMetadata:
		p.line("context: %.0f%%", e.ContextUsage)
	}
}

func (p *Printer) internal(ev events.Internal) {
	switch e := ev.(type) {
	case events.SessionReady:
		p.line("session %s in %s (mode %s, model %s)", e.Session.ID, e.Session.Cwd, e.Session.CurrentMode, e.Session.CurrentModel)
	case events.FileWritten:
		if e.Err != nil {
			p.line("! write %s: %v", e.Path, e.Err)
		} else if e.Modified {
			p.line("  wrote %s (modified by hook)", e.Path)
		} else if p.verbose {
			p.line("  wrote %s", e.Path)
		}
	case events.FileRead:
		if e.Err != nil {
			p.line("! read %s: %v", e.Path, e.Err)
		} else if p.verbose {
			p.line("  read %s", e.Path)
		}
	case events.CommandCompleted:
		switch {
		case e.Err != nil:
			p.line("! %s: %v", e.Command, e.Err)
		case e.Signal != "":
			p.line("  $ %s (signal %s)", e.Command, e.Signal)
		case e.ExitCode != nil:
			p.line("  $ %s (exit %d)", e.Command, *e.ExitCode)
		}
	case events.PermissionResolved:
		p.mu.Lock()
		for i, req := range p.pending {
			if req.ID == e.RequestID {
				p.pending = append(p.pending[:i], p.pending[i+1:]...)
				break
			}
		}
		if e.Outcome.Cancelled {
			p.lineLocked("  permission cancelled")
		} else {
			p.lineLocked("  permission: %s", e.Outcome.OptionID)
		}
		p.mu.Unlock()
	case events.HookNotice:
		p.line("[hook %s] %s", e.Rule, e.Message)
	case events.FeedbackResubmitted:
		p.line("[feedback] sent back to the agent")
	case events.FeedbackSurfaced:
		p.line("[feedback from %s]\n%s", e.Rule, e.Text)
	case events.ProtocolError:
		p.line("! malformed %s: %v", e.Method, e.Err)
	case events.TransportClosed:
		if e.Err != nil {
			p.line("! agent connection closed: %v", e.Err)
		} else {
			p.line("! agent connection closed")
		}
	}
}
