// Package client is the ACP client end of the bridge: it answers the agent's
// callbacks, drives prompt turns and publishes everything that happens as
// an ordered event stream.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.lsp.dev/jsonrpc2"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/apperr"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/hooks"
	"github.com/agent-command/acpbridge/internal/pathmap"
	"github.com/agent-command/acpbridge/internal/permission"
	"github.com/agent-command/acpbridge/internal/session"
	"github.com/agent-command/acpbridge/internal/terminal"
)

// HookOptions configures the hook engine loaded for each working directory.
type HookOptions struct {
	Files          []string
	Timeout        time.Duration
	FeedbackBudget int
	// Watch reloads hook files when they change.
	Watch    bool
	Debounce time.Duration
}

// Options configures a Client.
type Options struct {
	Translator pathmap.Translator
	Terminals  *terminal.Manager
	Hooks      HookOptions
	ClientInfo acp.Implementation
	Metrics    Metrics
	// TransportErr explains a closed connection, typically the agent
	// process exit status.
	TransportErr func() error
	Log          logr.Logger
}

// Metrics receives client counters. The metrics package implements it.
type Metrics interface {
	hooks.Observer
	CapabilityCall(method, result string)
	FeedbackResubmitted()
	FeedbackSurfaced()
	SetOpenTerminals(n int)
	SetPendingPermissions(n int)
}

type noopMetrics struct{}

func (noopMetrics) HookExecuted(hooks.Event, string, time.Duration) {}
func (noopMetrics) CapabilityCall(string, string)                  {}
func (noopMetrics) FeedbackResubmitted()                           {}
func (noopMetrics) FeedbackSurfaced()                              {}
func (noopMetrics) SetOpenTerminals(int)                           {}
func (noopMetrics) SetPendingPermissions(int)                      {}

// scope is what request goroutines need of the current session.
type scope struct {
	cwd    string
	engine *hooks.Engine
}

// Client owns one connection to an agent. State that belongs to the session
// is only touched by the loop goroutine; everything else posts closures to
// it.
type Client struct {
	opts      Options
	log       logr.Logger
	tr        pathmap.Translator
	conn      jsonrpc2.Conn
	events    *events.Queue
	terminals *terminal.Manager
	broker    *permission.Broker
	runner    *hooks.Runner
	metrics   Metrics

	ctx    context.Context
	cancel context.CancelFunc

	ops      chan func()
	stop     chan struct{}
	loopDone chan struct{}
	connDone chan struct{}

	current  atomic.Pointer[scope]
	promptMu sync.Mutex
	agent    atomic.Pointer[acp.InitializeResponse]

	closeOnce sync.Once

	// Loop-owned.
	sess         *session.Context
	tracker      *session.Tracker
	turn         *hooks.TurnRecord
	feedback     *hooks.FeedbackQueue
	engines      map[string]*hooks.Engine
	pendingHooks int
	hookWaiters  []chan struct{}
}

// New starts a client over stream. Close must be called to release it.
func New(stream jsonrpc2.Stream, opts Options) *Client {
	if opts.Translator == nil {
		opts.Translator = pathmap.Identity{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Log.GetSink() == nil {
		opts.Log = logr.Discard()
	}
	if opts.Terminals == nil {
		opts.Terminals = terminal.NewManager(terminal.Options{}, opts.Log)
	}
	if opts.Hooks.FeedbackBudget < 0 {
		opts.Hooks.FeedbackBudget = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:      opts,
		log:       opts.Log.WithName("client"),
		tr:        opts.Translator,
		conn:      jsonrpc2.NewConn(stream),
		events:    events.NewQueue(),
		terminals: opts.Terminals,
		broker:    permission.NewBroker(),
		runner:    hooks.NewRunner(opts.Terminals.Shell()),
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(chan func(), 256),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		connDone:  make(chan struct{}),
		sess:      session.NewContext(""),
		tracker:   session.NewTracker(),
		turn:      hooks.NewTurnRecord(),
		feedback:  hooks.NewFeedbackQueue(opts.Hooks.FeedbackBudget),
		engines:   make(map[string]*hooks.Engine),
	}
	c.current.Store(&scope{})
	c.terminals.SetExitHandler(c.onTerminalExit)

	go c.run()
	c.conn.Go(ctx, c.handle)
	go c.watchConn()
	return c
}

func (c *Client) run() {
	defer close(c.loopDone)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.stop:
			return
		}
	}
}

// post queues op on the loop. It reports false once the client stopped.
func (c *Client) post(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.stop:
		return false
	}
}

// do runs op on the loop and waits for it. It must not be called from the
// loop itself.
func (c *Client) do(op func()) bool {
	done := make(chan struct{})
	if !c.post(func() {
		op()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.stop:
		return false
	}
}

// emit pushes an event. Loop only.
func (c *Client) emit(ev events.Event) {
	c.events.Push(ev)
}

func (c *Client) watchConn() {
	<-c.conn.Done()
	err := c.transportErr()
	c.log.Info("agent connection closed", "error", errString(err))
	c.broker.CancelAll()
	c.do(func() {
		c.emit(events.TransportClosed{Err: err})
		c.events.Close()
	})
	close(c.connDone)
}

func (c *Client) transportErr() error {
	if c.opts.TransportErr != nil {
		if err := c.opts.TransportErr(); err != nil {
			return err
		}
	}
	if err := c.conn.Err(); err != nil {
		return apperr.New(apperr.Transport, "agent connection lost", err)
	}
	return apperr.Newf(apperr.Transport, "agent connection closed")
}

// Events is the ordered event stream. It is closed after TransportClosed.
func (c *Client) Events() *events.Queue {
	return c.events
}

// Done is closed when the agent connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.connDone
}

// Session returns a copy of the session state.
func (c *Client) Session() session.Info {
	var info session.Info
	c.do(func() { info = c.sess.Snapshot() })
	return info
}

// ToolCalls returns the tool calls that have not finished.
func (c *Client) ToolCalls() []session.ToolCall {
	var out []session.ToolCall
	c.do(func() { out = c.tracker.Open() })
	return out
}

// PendingPermissions lists unanswered permission requests, oldest first.
func (c *Client) PendingPermissions() []*permission.Request {
	return c.broker.Pending()
}

// ResolvePermission answers a permission request with one of its options.
func (c *Client) ResolvePermission(requestID, optionID string) error {
	return c.broker.Resolve(requestID, permission.Selected(optionID))
}

// CancelPermission answers a permission request without choosing an option.
func (c *Client) CancelPermission(requestID string) error {
	return c.broker.Resolve(requestID, permission.Cancelled())
}

// Close shuts the connection down, kills running terminals and stops the
// loop once the final event has been queued.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		<-c.connDone
		c.terminals.Close()
		close(c.stop)
		<-c.loopDone
	})
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
