// Package permission parks agent permission requests until the consumer
// answers them.
package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agent-command/acpbridge/internal/acp"
)

var (
	// ErrAlreadyResolved is returned when a request is answered twice.
	ErrAlreadyResolved = errors.New("permission request already resolved")
	// ErrUnknownRequest is returned for ids the broker does not hold.
	ErrUnknownRequest = errors.New("unknown permission request")
	// ErrUnknownOption is returned when the selected option was not offered.
	ErrUnknownOption = errors.New("option not offered")
)

// Outcome is the answer to a permission request.
type Outcome struct {
	Cancelled bool   `json:"cancelled"`
	OptionID  string `json:"option_id,omitempty"`
	// Kind is the kind of the selected option, such as allow_once.
	Kind string `json:"kind,omitempty"`
}

// Selected builds the outcome for a chosen option.
func Selected(optionID string) Outcome {
	return Outcome{OptionID: optionID}
}

// Cancelled is the outcome when no option was chosen.
func Cancelled() Outcome {
	return Outcome{Cancelled: true}
}

// Allowed reports whether the outcome grants the request.
func (o Outcome) Allowed() bool {
	return !o.Cancelled && (o.Kind == acp.PermissionAllowOnce || o.Kind == acp.PermissionAllowAlways)
}

// Wire converts the outcome to its protocol form.
func (o Outcome) Wire() acp.RequestPermissionResponse {
	if o.Cancelled {
		return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{Outcome: acp.OutcomeCancelled}}
	}
	return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{
		Outcome:  acp.OutcomeSelected,
		OptionID: o.OptionID,
	}}
}

// Request is one pending permission request paired with its single-use
// completion handle.
type Request struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	ToolCallID string                 `json:"tool_call_id"`
	Title      string                 `json:"title,omitempty"`
	Options    []acp.PermissionOption `json:"options"`

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	broker  *Broker
}

// Resolve answers the request. Only the first call has an effect; later
// calls return ErrAlreadyResolved.
func (r *Request) Resolve(o Outcome) error {
	if !o.Cancelled {
		opt, ok := r.option(o.OptionID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOption, o.OptionID)
		}
		o.Kind = opt.Kind
	}
	resolved := false
	r.once.Do(func() {
		r.outcome = o
		close(r.done)
		resolved = true
	})
	if !resolved {
		return ErrAlreadyResolved
	}
	if r.broker != nil {
		r.broker.forget(r.ID)
	}
	return nil
}

// Done is closed once the request is resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the answer. It is only meaningful after Done is closed.
func (r *Request) Outcome() Outcome {
	<-r.done
	return r.outcome
}

func (r *Request) option(id string) (acp.PermissionOption, bool) {
	for _, opt := range r.Options {
		if opt.OptionID == id {
			return opt, true
		}
	}
	return acp.PermissionOption{}, false
}

// OptionOfKind returns the first offered option of the given kind.
func (r *Request) OptionOfKind(kind string) (acp.PermissionOption, bool) {
	for _, opt := range r.Options {
		if opt.Kind == kind {
			return opt, true
		}
	}
	return acp.PermissionOption{}, false
}

// Broker holds pending permission requests. Requests never expire; they
// wait until resolved or until the broker is closed.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*Request
	order   []string
}

func NewBroker() *Broker {
	return &Broker{pending: make(map[string]*Request)}
}

// Open registers a new request with a fresh id.
func (b *Broker) Open(wire acp.RequestPermissionRequest) *Request {
	req := &Request{
		ID:         uuid.New().String(),
		SessionID:  wire.SessionID,
		ToolCallID: wire.ToolCall.ToolCallID,
		Options:    append([]acp.PermissionOption(nil), wire.Options...),
		done:       make(chan struct{}),
		broker:     b,
	}
	if wire.ToolCall.Title != nil {
		req.Title = *wire.ToolCall.Title
	}
	b.mu.Lock()
	b.pending[req.ID] = req
	b.order = append(b.order, req.ID)
	b.mu.Unlock()
	return req
}

// Resolve answers the pending request with the given id.
func (b *Broker) Resolve(id string, o Outcome) error {
	b.mu.Lock()
	req, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return req.Resolve(o)
}

// Get returns the pending request with the given id.
func (b *Broker) Get(id string) (*Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.pending[id]
	return req, ok
}

// Pending returns the unresolved requests, oldest first.
func (b *Broker) Pending() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Request, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.pending[id])
	}
	return out
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// CancelAll resolves every pending request as cancelled. It runs when the
// agent connection goes away.
func (b *Broker) CancelAll() {
	for _, req := range b.Pending() {
		_ = req.Resolve(Cancelled())
	}
}

func (b *Broker) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return
	}
	delete(b.pending, id)
	for i, pid := range b.order {
		if pid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
