// Package acp holds the Agent Client Protocol wire types used between the
// bridge and the agent process.
package acp

// ProtocolVersion is the ACP major version this client speaks.
const ProtocolVersion = 1

// Methods the client calls on the agent.
const (
	MethodInitialize   = "initialize"
	MethodSessionNew   = "session/new"
	MethodSessionLoad  = "session/load"
	MethodPrompt       = "session/prompt"
	MethodCancel       = "session/cancel"
	MethodSetMode      = "session/set_mode"
	MethodSetModel     = "session/set_model"
	MethodSetConfigOpt = "session/set_config_option"
)

// Methods the agent calls on the client.
const (
	MethodReadTextFile      = "fs/read_text_file"
	MethodWriteTextFile     = "fs/write_text_file"
	MethodTerminalCreate    = "terminal/create"
	MethodTerminalOutput    = "terminal/output"
	MethodTerminalWait      = "terminal/wait_for_exit"
	MethodTerminalKill      = "terminal/kill"
	MethodTerminalRelease   = "terminal/release"
	MethodRequestPermission = "session/request_permission"
	MethodSessionUpdate     = "session/update"
)

// ExtPrefix marks vendor extension methods.
const ExtPrefix = "_"

// Kiro extension notifications.
const (
	ExtKiroCommands = "_kiro.dev/commands/available"
	ExtKiroMetadata = "_kiro.dev/metadata"
)

// StopReason ends a prompt turn.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopRefusal         StopReason = "refusal"
	StopCancelled       StopReason = "cancelled"
)
