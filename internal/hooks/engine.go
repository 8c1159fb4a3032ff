package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/pathmap"
)

// Action is what a before-hook decided.
type Action int

const (
	// NoOpinion leaves the effect to the remaining rules.
	NoOpinion Action = iota
	Allow
	Block
	Modify
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Block:
		return "block"
	case Modify:
		return "modify"
	}
	return "none"
}

// Decision is one rule's verdict on a before event.
type Decision struct {
	Action  Action
	Reason  string
	Content *string
	Command *string
}

// Verdict is the outcome of every before rule for one effect. Content and
// Command carry the values after all modifications.
type Verdict struct {
	Blocked  bool
	Rule     string
	Reason   string
	Modified bool
	Content  string
	Command  string
}

// Feedback is hook output meant for the agent.
type Feedback struct {
	Rule  string
	Event Event
	Text  string
}

// Observer receives one call per rule evaluation.
type Observer interface {
	HookExecuted(event Event, outcome string, d time.Duration)
}

// Notifier receives the messages of notify builtins.
type Notifier func(rule string, ev Event, message string)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Files overrides DefaultFiles.
	Files []string
	// Timeout is the default per-rule timeout.
	Timeout  time.Duration
	Observer Observer
	Notify   Notifier
}

// Engine evaluates the rules loaded for one working directory.
type Engine struct {
	cwd    string
	opts   EngineOptions
	runner *Runner
	log    logr.Logger
	set    atomic.Pointer[Set]
}

// NewEngine loads the hook files under cwd. The engine is usable even when
// some rules were rejected; err then describes them.
func NewEngine(cwd string, runner *Runner, opts EngineOptions, log logr.Logger) (*Engine, error) {
	e := &Engine{cwd: cwd, opts: opts, runner: runner, log: log.WithName("hooks")}
	err := e.Reload()
	return e, err
}

// Reload rereads the hook files and swaps in the new rule set.
func (e *Engine) Reload() error {
	set, err := Load(e.cwd, e.opts.Files, e.opts.Timeout)
	e.set.Store(set)
	if err != nil {
		e.log.Info("ignoring invalid hook rules", "cwd", e.cwd, "error", err.Error())
	}
	e.log.V(1).Info("hooks loaded", "cwd", e.cwd, "rules", set.Len(), "sources", set.Sources())
	return err
}

// Cwd is the working directory the rules were loaded from.
func (e *Engine) Cwd() string {
	return e.cwd
}

// Files are the hook file names the engine watches.
func (e *Engine) Files() []string {
	if len(e.opts.Files) > 0 {
		return e.opts.Files
	}
	return DefaultFiles
}

// Set is the current rule set.
func (e *Engine) Set() *Set {
	return e.set.Load()
}

// Before runs the before rules for in.Event in order. The first Block halts
// evaluation, except on reads where blocks are advisory. Modifications chain
// into later rules.
func (e *Engine) Before(ctx context.Context, in Input) Verdict {
	v := Verdict{Content: in.Content, Command: in.Command}
	if in.Cwd == "" {
		in.Cwd = e.cwd
	}
	for _, h := range e.Set().forEvent(in.Event) {
		if !h.matches(in) {
			continue
		}
		d := e.evaluate(ctx, h, in)
		switch d.Action {
		case Block:
			if in.Event == BeforeRead {
				e.log.Info("read hook block is advisory", "rule", h.name(), "path", in.Path, "reason", d.Reason)
				continue
			}
			v.Blocked = true
			v.Rule = h.name()
			v.Reason = d.Reason
			return v
		case Modify:
			switch {
			case in.Event == BeforeWrite && d.Content != nil:
				in.Content = *d.Content
				v.Content = in.Content
				v.Modified = true
			case in.Event == BeforeExec && d.Command != nil:
				in.Command = *d.Command
				v.Command = in.Command
				v.Modified = true
			}
		}
	}
	return v
}

func (e *Engine) evaluate(ctx context.Context, h *hook, in Input) Decision {
	start := time.Now()
	var d Decision
	outcome := ""
	switch h.rule.Builtin {
	case BuiltinDeny:
		d = Decision{Action: Block, Reason: h.rule.Reason}
	case BuiltinBounds:
		if in.Path != "" && !pathmap.Within(in.Cwd, in.Path) {
			d = Decision{Action: Block, Reason: fmt.Sprintf("%s is outside %s", in.Path, in.Cwd)}
		}
	case BuiltinNotify:
		e.notice(h, in)
		outcome = "notify"
	default:
		exe := e.runner.Run(ctx, h, in, inputFiles(in))
		if exe.ExitCode != 2 {
			e.logFailure(exe)
		}
		d = decide(exe, h.rule.Blocking)
		outcome = outcomeOf(exe, d.Action)
	}
	if outcome == "" {
		outcome = d.Action.String()
	}
	if d.Action == Block && d.Reason == "" {
		d.Reason = fmt.Sprintf("blocked by hook %q", h.name())
	}
	e.observe(h.event, outcome, time.Since(start))
	return d
}

// After runs the after rules for in.Event and collects their feedback.
func (e *Engine) After(ctx context.Context, in Input) []Feedback {
	if in.Cwd == "" {
		in.Cwd = e.cwd
	}
	var out []Feedback
	for _, h := range e.Set().forEvent(in.Event) {
		if !h.matches(in) {
			continue
		}
		if fb, ok := e.runAfter(ctx, h, in, inputFiles(in)); ok {
			out = append(out, fb)
		}
	}
	return out
}

// TurnEnd runs the aggregation rules once over the turn record.
func (e *Engine) TurnEnd(ctx context.Context, rec *TurnRecord) []Feedback {
	in := Input{Event: TurnEnd, Cwd: e.cwd, Files: rec.Files(), Commands: rec.Commands()}
	var out []Feedback
	for _, h := range e.Set().forEvent(TurnEnd) {
		if !h.matches(in) {
			continue
		}
		if fb, ok := e.runAfter(ctx, h, in, h.turnFiles(in)); ok {
			out = append(out, fb)
		}
	}
	return out
}

func (e *Engine) runAfter(ctx context.Context, h *hook, in Input, files []string) (Feedback, bool) {
	if h.rule.Builtin == BuiltinNotify {
		e.notice(h, in)
		e.observe(h.event, "notify", 0)
		return Feedback{}, false
	}
	exe := e.runner.Run(ctx, h, in, files)
	e.logFailure(exe)
	text := ""
	if h.rule.Feedback {
		text = feedbackText(exe)
	}
	outcome := outcomeOf(exe, NoOpinion)
	if text != "" {
		outcome = "feedback"
	}
	e.observe(h.event, outcome, exe.Duration)
	if text == "" {
		return Feedback{}, false
	}
	return Feedback{Rule: h.name(), Event: h.event, Text: text}, true
}

func (e *Engine) notice(h *hook, in Input) {
	if e.opts.Notify == nil {
		return
	}
	msg := h.rule.Reason
	if msg == "" {
		subject := in.Path
		if subject == "" {
			subject = in.Command
		}
		msg = fmt.Sprintf("%s: %s", h.event, subject)
	}
	e.opts.Notify(h.name(), h.event, msg)
}

func (e *Engine) observe(ev Event, outcome string, d time.Duration) {
	if e.opts.Observer != nil {
		e.opts.Observer.HookExecuted(ev, outcome, d)
	}
}

func (e *Engine) logFailure(exe Execution) {
	if !exe.Failed() {
		return
	}
	var err error
	switch {
	case exe.TimedOut:
		err = apperr.Newf(apperr.HookFailure, "hook %q timed out", exe.Rule)
	case exe.Err != nil:
		err = apperr.New(apperr.HookFailure, fmt.Sprintf("hook %q failed to start", exe.Rule), exe.Err)
	default:
		err = apperr.Newf(apperr.HookFailure, "hook %q exited with %d", exe.Rule, exe.ExitCode)
	}
	e.log.Error(err, "hook failed", "event", exe.Event, "command", exe.Command)
}

func inputFiles(in Input) []string {
	if in.Path == "" {
		return nil
	}
	return []string{in.Path}
}

// decide maps an execution to a decision: a JSON decision on stdout wins,
// then exit 0 allows. Any failure, whatever the exit code, is no opinion
// unless the rule is blocking.
func decide(exe Execution, blocking bool) Decision {
	if exe.Err == nil && !exe.TimedOut {
		if d, ok := parseDecision(exe.Stdout); ok {
			return d
		}
		if exe.ExitCode == 0 {
			return Decision{Action: Allow}
		}
	}
	if !blocking {
		return Decision{}
	}
	switch {
	case exe.TimedOut:
		return Decision{Action: Block, Reason: fmt.Sprintf("hook %q timed out", exe.Rule)}
	case exe.Err != nil:
		return Decision{Action: Block, Reason: fmt.Sprintf("hook %q failed to start: %v", exe.Rule, exe.Err)}
	}
	reason := exe.Output()
	if reason == "" {
		reason = fmt.Sprintf("hook %q exited with %d", exe.Rule, exe.ExitCode)
	}
	return Decision{Action: Block, Reason: reason}
}

type wireDecision struct {
	Decision string  `json:"decision"`
	Reason   string  `json:"reason"`
	Content  *string `json:"content"`
	Command  *string `json:"command"`
}

func parseDecision(stdout string) (Decision, bool) {
	s := strings.TrimSpace(stdout)
	if !strings.HasPrefix(s, "{") {
		return Decision{}, false
	}
	var w wireDecision
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Decision{}, false
	}
	d := Decision{Reason: w.Reason, Content: w.Content, Command: w.Command}
	switch strings.ToLower(w.Decision) {
	case "block", "deny":
		d.Action = Block
	case "allow", "approve":
		d.Action = Allow
	case "modify":
		d.Action = Modify
	default:
		return Decision{}, false
	}
	return d, true
}

// feedbackText turns a feedback rule's output into a message for the agent.
// Timeouts and launch failures produce none.
func feedbackText(exe Execution) string {
	if exe.Err != nil || exe.TimedOut {
		return ""
	}
	out := exe.Output()
	if exe.ExitCode != 0 {
		if out == "" {
			return fmt.Sprintf("Hook %q failed with exit code %d.", exe.Rule, exe.ExitCode)
		}
		return fmt.Sprintf("Hook %q failed with exit code %d:\n%s", exe.Rule, exe.ExitCode, out)
	}
	if out == "" {
		return ""
	}
	return fmt.Sprintf("Hook %q output:\n%s", exe.Rule, out)
}

func outcomeOf(exe Execution, a Action) string {
	switch {
	case exe.TimedOut:
		return "timeout"
	case exe.Err != nil:
		return "error"
	case a != NoOpinion:
		return a.String()
	case exe.ExitCode != 0:
		return "failed"
	}
	return "ok"
}
