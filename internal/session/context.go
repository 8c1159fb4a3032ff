// Package session holds the protocol-level state of the active agent session.
//
// Values in this package are not safe for concurrent use. The protocol
// client owns them from a single goroutine and hands out copies.
package session

import (
	"github.com/agent-command/acpbridge/internal/acp"
)

// ConfigKeyModel is the configuration option id agents use for the model.
const ConfigKeyModel = "model"

// Context is the single source of truth for one session. Derived values such
// as the current model are computed from the stored configuration options on
// every read.
type Context struct {
	id            string
	cwd           string
	currentMode   string
	modes         []acp.SessionMode
	configOptions []acp.ConfigOption
	commands      []acp.AvailableCommand
	kiroCommands  []acp.KiroCommand
	contextUsage  *float64
	pendingModel  string
}

// NewContext returns the context created when the handshake completes. It
// has no id until the agent assigns one.
func NewContext(cwd string) *Context {
	return &Context{cwd: cwd}
}

func (c *Context) ID() string          { return c.id }
func (c *Context) Cwd() string         { return c.cwd }
func (c *Context) CurrentMode() string { return c.currentMode }

// Modes returns a copy of the available modes.
func (c *Context) Modes() []acp.SessionMode {
	return append([]acp.SessionMode(nil), c.modes...)
}

// ConfigOptions returns a copy of the configuration options.
func (c *Context) ConfigOptions() []acp.ConfigOption {
	out := make([]acp.ConfigOption, len(c.configOptions))
	for i, opt := range c.configOptions {
		opt.Options = append([]acp.ConfigOptionValue(nil), opt.Options...)
		out[i] = opt
	}
	return out
}

func (c *Context) Commands() []acp.AvailableCommand {
	return append([]acp.AvailableCommand(nil), c.commands...)
}

func (c *Context) KiroCommands() []acp.KiroCommand {
	return append([]acp.KiroCommand(nil), c.kiroCommands...)
}

// ContextUsage returns the last reported context window usage percentage.
func (c *Context) ContextUsage() (float64, bool) {
	if c.contextUsage == nil {
		return 0, false
	}
	return *c.contextUsage, true
}

// CurrentModel is the value of the "model" select option, or "" when the
// agent did not report one.
func (c *Context) CurrentModel() string {
	for _, opt := range c.configOptions {
		if opt.ID == ConfigKeyModel && opt.Type == acp.ConfigOptionSelect {
			return opt.CurrentValue
		}
	}
	return ""
}

// PendingModel is the model requested but not yet confirmed by the agent.
func (c *Context) PendingModel() string { return c.pendingModel }

// EffectiveModel is the optimistic view: the requested model while a change
// is in flight, the confirmed model otherwise.
func (c *Context) EffectiveModel() string {
	if c.pendingModel != "" {
		return c.pendingModel
	}
	return c.CurrentModel()
}

// Reset replaces the session with a new one for the given id and directory.
func (c *Context) Reset(id, cwd string) {
	*c = Context{id: id, cwd: cwd}
}

// Bind assigns the id the agent returned for a session started with an
// empty id.
func (c *Context) Bind(id string) {
	c.id = id
}

// SetModes stores the mode list reported by session/new or session/load.
func (c *Context) SetModes(state *acp.SessionModeState) {
	if state == nil {
		return
	}
	c.currentMode = state.CurrentModeID
	c.modes = append([]acp.SessionMode(nil), state.AvailableModes...)
}

// SetCurrentMode records a mode change.
func (c *Context) SetCurrentMode(id string) {
	c.currentMode = id
}

// SetConfigOptions replaces the configuration options. A pending model
// request that the new options already reflect is considered confirmed.
func (c *Context) SetConfigOptions(opts []acp.ConfigOption) {
	c.configOptions = append([]acp.ConfigOption(nil), opts...)
	if c.pendingModel != "" && c.pendingModel == c.CurrentModel() {
		c.pendingModel = ""
	}
}

func (c *Context) SetCommands(cmds []acp.AvailableCommand) {
	c.commands = append([]acp.AvailableCommand(nil), cmds...)
}

func (c *Context) SetKiroCommands(cmds []acp.KiroCommand) {
	c.kiroCommands = append([]acp.KiroCommand(nil), cmds...)
}

func (c *Context) SetContextUsage(pct float64) {
	c.contextUsage = &pct
}

// RequestModel records an optimistic model change.
func (c *Context) RequestModel(model string) {
	c.pendingModel = model
}

// ConfirmModel accepts the pending model: the "model" option's current
// value is updated so CurrentModel reflects it.
func (c *Context) ConfirmModel(model string) {
	c.pendingModel = ""
	for i := range c.configOptions {
		if c.configOptions[i].ID == ConfigKeyModel {
			c.configOptions[i].CurrentValue = model
			return
		}
	}
	c.configOptions = append(c.configOptions, acp.ConfigOption{
		ID:           ConfigKeyModel,
		Name:         "Model",
		Type:         acp.ConfigOptionSelect,
		CurrentValue: model,
	})
}

// RejectModel drops the pending model and falls back to the confirmed one.
func (c *Context) RejectModel() {
	c.pendingModel = ""
}

// Info is a read-only copy of a Context for consumers.
type Info struct {
	ID             string                 `json:"id"`
	Cwd            string                 `json:"cwd"`
	CurrentMode    string                 `json:"current_mode"`
	Modes          []acp.SessionMode      `json:"modes,omitempty"`
	ConfigOptions  []acp.ConfigOption     `json:"config_options,omitempty"`
	CurrentModel   string                 `json:"current_model"`
	EffectiveModel string                 `json:"effective_model"`
	ContextUsage   *float64               `json:"context_usage,omitempty"`
	KiroCommands   []acp.KiroCommand      `json:"kiro_commands,omitempty"`
	Commands       []acp.AvailableCommand `json:"commands,omitempty"`
}

// Snapshot copies the context.
func (c *Context) Snapshot() Info {
	info := Info{
		ID:             c.id,
		Cwd:            c.cwd,
		CurrentMode:    c.currentMode,
		Modes:          c.Modes(),
		ConfigOptions:  c.ConfigOptions(),
		CurrentModel:   c.CurrentModel(),
		EffectiveModel: c.EffectiveModel(),
		KiroCommands:   c.KiroCommands(),
		Commands:       c.Commands(),
	}
	if pct, ok := c.ContextUsage(); ok {
		info.ContextUsage = &pct
	}
	return info
}
