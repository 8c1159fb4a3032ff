package apperr

import (
	"errors"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

// Kind classifies a failure by how far its effects reach.
type Kind string

const (
	// Transport failures end the session: the agent process failed to start,
	// exited, or its pipes broke.
	Transport Kind = "TRANSPORT"
	// Protocol covers malformed or unexpected messages.
	Protocol Kind = "PROTOCOL"
	// PathOutOfBounds marks a translated path outside the working directory.
	PathOutOfBounds Kind = "PATH_OUT_OF_BOUNDS"
	// HookFailure is a hook that timed out, failed to launch or exited non-zero.
	HookFailure Kind = "HOOK_FAILURE"
	// PermissionDenied is the user rejecting a permission request.
	PermissionDenied Kind = "PERMISSION_DENIED"
	// Blocked is a before-hook decision that stopped an effect.
	Blocked Kind = "BLOCKED"
	// IO is a local filesystem or process failure scoped to one capability call.
	IO Kind = "IO"
)

// Error is an application error carrying its taxonomy kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Newf creates a new Error without a cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Fatal reports whether err ends the session. Only transport failures do.
func Fatal(err error) bool {
	return Is(err, Transport)
}

// RPC converts err into the JSON-RPC error returned to the agent.
func RPC(err error) *jsonrpc2.Error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Protocol {
			return jsonrpc2.NewError(jsonrpc2.InvalidParams, e.Message)
		}
		return jsonrpc2.NewError(jsonrpc2.InternalError, e.Message)
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}
