// Package hooks runs user-configured commands and builtins around the file and
// command side effects the agent requests.
package hooks

import (
	"fmt"
	"regexp"
	"time"
)

// Event is the point in a capability call where a rule fires.
type Event string

const (
	BeforeRead  Event = "beforeRead"
	AfterRead   Event = "afterRead"
	BeforeWrite Event = "beforeWrite"
	AfterWrite  Event = "afterWrite"
	BeforeExec  Event = "beforeExec"
	AfterExec   Event = "afterExec"
	TurnEnd     Event = "turnEnd"
)

// DefaultTimeout bounds a hook command that sets no timeoutMs.
const DefaultTimeout = 30 * time.Second

var eventAliases = map[string]Event{
	"beforeRead":     BeforeRead,
	"afterRead":      AfterRead,
	"beforeWrite":    BeforeWrite,
	"afterWrite":     AfterWrite,
	"beforeExec":     BeforeExec,
	"afterExec":      AfterExec,
	"beforeTerminal": BeforeExec,
	"afterTerminal":  AfterExec,
	"turnEnd":        TurnEnd,
}

// ParseEvent resolves an event name, accepting the terminal aliases.
func ParseEvent(name string) (Event, bool) {
	ev, ok := eventAliases[name]
	return ev, ok
}

// Before reports whether rules on this event may block or modify.
func (e Event) Before() bool {
	return e == BeforeRead || e == BeforeWrite || e == BeforeExec
}

func (e Event) onPath() bool {
	switch e {
	case BeforeRead, AfterRead, BeforeWrite, AfterWrite, TurnEnd:
		return true
	}
	return false
}

func (e Event) onCommand() bool {
	return e == BeforeExec || e == AfterExec || e == TurnEnd
}

// Builtin actions that need no subprocess.
const (
	BuiltinDeny   = "deny"
	BuiltinNotify = "notify"
	BuiltinBounds = "bounds"
)

// Rule is one entry of a hook file. JSON files use camelCase keys and YAML
// files snake_case.
type Rule struct {
	Name           string `json:"name" yaml:"name"`
	Event          string `json:"event" yaml:"event"`
	Pattern        string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	CommandPattern string `json:"commandPattern,omitempty" yaml:"command_pattern,omitempty"`
	Command        string `json:"command,omitempty" yaml:"command,omitempty"`
	Builtin        string `json:"builtin,omitempty" yaml:"builtin,omitempty"`
	Reason         string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Feedback       bool   `json:"feedback,omitempty" yaml:"feedback,omitempty"`
	Blocking       bool   `json:"blocking,omitempty" yaml:"blocking,omitempty"`
	TimeoutMs      int    `json:"timeoutMs,omitempty" yaml:"timeout_ms,omitempty"`
}

// File is the document shape of a hook file.
type File struct {
	Hooks []Rule `json:"hooks" yaml:"hooks"`
}

// hook is a validated rule ready to match.
type hook struct {
	rule    Rule
	event   Event
	cmdRe   *regexp.Regexp
	tmpl    *template
	timeout time.Duration
	source  string
}

func (h *hook) name() string {
	if h.rule.Name != "" {
		return h.rule.Name
	}
	return string(h.event)
}

// compile validates r. Rules with an unknown event, an invalid matcher, an
// unknown placeholder or no action are rejected.
func compile(r Rule, source string, defaultTimeout time.Duration) (*hook, error) {
	ev, ok := ParseEvent(r.Event)
	if !ok {
		return nil, fmt.Errorf("rule %q: unknown event %q", r.Name, r.Event)
	}
	h := &hook{rule: r, event: ev, timeout: defaultTimeout, source: source}
	if r.TimeoutMs > 0 {
		h.timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	if r.Pattern != "" {
		if !ev.onPath() {
			return nil, fmt.Errorf("rule %q: pattern does not apply to %s", r.Name, ev)
		}
		if err := ValidateGlob(r.Pattern); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	if r.CommandPattern != "" {
		if !ev.onCommand() {
			return nil, fmt.Errorf("rule %q: commandPattern does not apply to %s", r.Name, ev)
		}
		re, err := regexp.Compile(r.CommandPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: commandPattern: %w", r.Name, err)
		}
		h.cmdRe = re
	}
	switch {
	case r.Command != "" && r.Builtin != "":
		return nil, fmt.Errorf("rule %q: command and builtin are exclusive", r.Name)
	case r.Command != "":
		tmpl, err := parseTemplate(r.Command)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		h.tmpl = tmpl
	case r.Builtin == BuiltinNotify:
	case r.Builtin == BuiltinDeny, r.Builtin == BuiltinBounds:
		if !ev.Before() {
			return nil, fmt.Errorf("rule %q: builtin %s only applies to before events", r.Name, r.Builtin)
		}
	case r.Builtin != "":
		return nil, fmt.Errorf("rule %q: unknown builtin %q", r.Name, r.Builtin)
	default:
		return nil, fmt.Errorf("rule %q: no command or builtin", r.Name)
	}
	return h, nil
}

// matches reports whether the rule applies to in. Path rules need a path
// that matches; command rules need a command that matches.
func (h *hook) matches(in Input) bool {
	if h.event == TurnEnd {
		return len(h.turnFiles(in)) > 0 || h.turnCommandMatch(in)
	}
	if h.rule.Pattern != "" && !matchPath(h.rule.Pattern, in) {
		return false
	}
	if h.cmdRe != nil && !h.cmdRe.MatchString(in.Command) {
		return false
	}
	return true
}

// turnFiles is the part of the turn record this rule cares about.
func (h *hook) turnFiles(in Input) []string {
	if h.rule.Pattern == "" {
		if h.cmdRe != nil {
			return nil
		}
		return in.Files
	}
	var out []string
	for _, f := range in.Files {
		if matchPath(h.rule.Pattern, Input{Path: f, Cwd: in.Cwd}) {
			out = append(out, f)
		}
	}
	return out
}

func (h *hook) turnCommandMatch(in Input) bool {
	if h.cmdRe == nil {
		return h.rule.Pattern == "" && len(in.Commands) > 0
	}
	for _, c := range in.Commands {
		if h.cmdRe.MatchString(c) {
			return true
		}
	}
	return false
}
