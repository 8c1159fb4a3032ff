// Package relay forwards the client event stream to a remote consumer over
// a websocket and accepts its answers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/agent-command/acpbridge/internal/queue"
)

// TypeAck is the consumer's acknowledgement of relayed envelopes.
const TypeAck = "agent.ack"

// MessageHandler receives inbound messages other than acks.
type MessageHandler func(msgType string, payload json.RawMessage)

// LinkOptions configures the websocket connection.
type LinkOptions struct {
	URL     string
	Token   string
	HostID  string
	Backoff []time.Duration
}

// Link is a reconnecting websocket backed by the outbox. Every published
// envelope is stored first and stays there until acked, so a reconnect
// replays whatever the consumer has not confirmed.
type Link struct {
	opts   LinkOptions
	outbox *queue.Queue
	log    logr.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	lastAcked int64
	onMessage MessageHandler
	onConnect func()
}

func NewLink(opts LinkOptions, outbox *queue.Queue, log logr.Logger) *Link {
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{250 * time.Millisecond, time.Second, 5 * time.Second}
	}
	return &Link{
		opts:   opts,
		outbox: outbox,
		log:    log.WithName("relay"),
		dialer: websocket.DefaultDialer,
	}
}

func (l *Link) SetMessageHandler(handler MessageHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = handler
}

// SetOnConnect registers a callback run after each successful connect and
// replay.
func (l *Link) SetOnConnect(handler func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnect = handler
}

// Connected reports whether the websocket is up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// LastAcked is the highest sequence number the consumer confirmed.
func (l *Link) LastAcked() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAcked
}

// Run keeps the link connected until ctx is done. Failed dials wait for the
// next backoff step; the last step repeats.
func (l *Link) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, err := l.dial(ctx)
		if err == nil {
			attempt = 0
			l.serve(ctx, conn)
		} else {
			l.log.V(1).Info("relay connect failed", "attempt", attempt+1, "error", err.Error())
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := l.opts.Backoff[min(attempt, len(l.opts.Backoff)-1)]
		attempt++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	if l.opts.Token != "" {
		headers.Set("Authorization", "Bearer "+l.opts.Token)
	}
	if l.opts.HostID != "" {
		headers.Set("X-Host-Id", l.opts.HostID)
	}
	conn, _, err := l.dialer.DialContext(ctx, l.opts.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// serve replays the outbox and reads until the connection drops.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()
		_ = conn.Close()
	}()

	// The replay runs under the lock so that envelopes published meanwhile
	// follow it on the wire. They may be sent twice; consumers drop
	// sequence numbers they have already seen.
	l.mu.Lock()
	err := l.resendLocked(conn)
	if err == nil {
		l.conn = conn
	}
	onConnect := l.onConnect
	l.mu.Unlock()
	if err != nil {
		l.log.Info("relay replay failed", "error", err.Error())
		return
	}
	l.log.Info("relay connected", "url", l.opts.URL)
	if onConnect != nil {
		go onConnect()
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.log.Info("relay read failed", "error", err.Error())
			}
			return
		}
		l.receive(message)
	}
}

func (l *Link) receive(message []byte) {
	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		l.log.Info("dropping malformed relay message", "error", err.Error())
		return
	}

	if envelope.Type == TypeAck {
		var ack struct {
			AckSeq int64  `json:"ack_seq"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(envelope.Payload, &ack); err != nil {
			l.log.Info("dropping malformed ack", "error", err.Error())
			return
		}
		if ack.Status == "error" {
			l.log.Info("consumer reported an error", "seq", ack.AckSeq, "error", ack.Error)
		}
		l.mu.Lock()
		advanced := ack.AckSeq > l.lastAcked
		if advanced {
			l.lastAcked = ack.AckSeq
		}
		l.mu.Unlock()
		if advanced {
			if err := l.outbox.AckUpto(ack.AckSeq); err != nil {
				l.log.Error(err, "failed to prune outbox", "seq", ack.AckSeq)
			}
		}
		return
	}

	l.mu.Lock()
	handler := l.onMessage
	l.mu.Unlock()
	if handler != nil {
		handler(envelope.Type, envelope.Payload)
	}
}

func (l *Link) resendLocked(conn *websocket.Conn) error {
	for _, env := range l.outbox.Unacked() {
		if err := writeEnvelope(conn, env); err != nil {
			return err
		}
	}
	return nil
}

func writeEnvelope(conn *websocket.Conn, env queue.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Publish stores the envelope in the outbox and sends it when connected.
// Envelopes published while disconnected go out on the next replay.
func (l *Link) Publish(msgType string, payload any) (queue.Envelope, error) {
	env, err := l.outbox.Append(msgType, payload)
	if err != nil {
		return env, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return env, nil
	}
	if err := writeEnvelope(l.conn, env); err != nil {
		l.log.V(1).Info("relay send failed, will replay", "seq", env.Seq, "error", err.Error())
	}
	return env, nil
}
