package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
)

// Inbound message types.
const (
	TypePermissionResolve = "permission.resolve"
	TypePromptSubmit      = "prompt.submit"
	TypeSessionCancel     = "session.cancel"
)

// Controller is what the remote consumer may drive.
type Controller interface {
	ResolvePermission(requestID, optionID string) error
	CancelPermission(requestID string) error
	Cancel(ctx context.Context) error
	// Submit queues a prompt; it must not block on the turn.
	Submit(text string)
}

// Relay publishes events on a link and applies the consumer's commands.
type Relay struct {
	link *Link
	ctrl Controller
	log  logr.Logger
}

func New(link *Link, ctrl Controller, log logr.Logger) *Relay {
	r := &Relay{link: link, ctrl: ctrl, log: log.WithName("relay")}
	link.SetMessageHandler(r.handle)
	return r
}

// Publish forwards one event.
func (r *Relay) Publish(ev events.Event) error {
	payload, err := Payload(ev)
	if err != nil {
		return err
	}
	_, err = r.link.Publish(ev.Name(), payload)
	return err
}

// Payload is the relay form of an event: its JSON fields plus its category
// and, for failures, the error text and kind.
func Payload(ev events.Event) (json.RawMessage, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Name(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Name(), err)
	}
	fields["category"], _ = json.Marshal(ev.Category().String())
	if e := events.Err(ev); e != nil {
		fields["error"], _ = json.Marshal(e.Error())
		if kind := apperr.KindOf(e); kind != "" {
			fields["error_kind"], _ = json.Marshal(kind)
		}
	}
	return json.Marshal(fields)
}

type permissionResolve struct {
	RequestID string `json:"request_id"`
	OptionID  string `json:"option_id"`
	Cancelled bool   `json:"cancelled"`
}

type promptSubmit struct {
	Text string `json:"text"`
}

func (r *Relay) handle(msgType string, payload json.RawMessage) {
	switch msgType {
	case TypePermissionResolve:
		var msg permissionResolve
		if err := json.Unmarshal(payload, &msg); err != nil || msg.RequestID == "" {
			r.log.Info("dropping malformed permission answer", "payload", string(payload))
			return
		}
		var err error
		if msg.Cancelled || msg.OptionID == "" {
			err = r.ctrl.CancelPermission(msg.RequestID)
		} else {
			err = r.ctrl.ResolvePermission(msg.RequestID, msg.OptionID)
		}
		if err != nil {
			r.log.Info("permission answer rejected", "requestId", msg.RequestID, "error", err.Error())
		}
	case TypePromptSubmit:
		var msg promptSubmit
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Text == "" {
			r.log.Info("dropping malformed prompt", "payload", string(payload))
			return
		}
		r.ctrl.Submit(msg.Text)
	case TypeSessionCancel:
		if err := r.ctrl.Cancel(context.Background()); err != nil {
			r.log.Info("cancel failed", "error", err.Error())
		}
	default:
		r.log.V(1).Info("ignoring relay message", "type", msgType)
	}
}
