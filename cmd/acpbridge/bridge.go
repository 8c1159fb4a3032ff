package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/agent-command/acpbridge/internal/acp"
	"github.com/agent-command/acpbridge/internal/client"
	"github.com/agent-command/acpbridge/internal/config"
	"github.com/agent-command/acpbridge/internal/console"
	"github.com/agent-command/acpbridge/internal/events"
	"github.com/agent-command/acpbridge/internal/logging"
	"github.com/agent-command/acpbridge/internal/metrics"
	"github.com/agent-command/acpbridge/internal/pathmap"
	"github.com/agent-command/acpbridge/internal/queue"
	"github.com/agent-command/acpbridge/internal/relay"
	"github.com/agent-command/acpbridge/internal/session"
	"github.com/agent-command/acpbridge/internal/terminal"
	"github.com/agent-command/acpbridge/internal/transport"
)

const hostIDFile = "host-id"

// Bridge is one running agent with everything attached to it.
type Bridge struct {
	cfg *config.Config
	cwd string
	log logr.Logger

	logCloser     io.Closer
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	proc          *transport.Process
	client        *client.Client
	printer       *console.Printer

	outbox    *queue.Queue
	relay     *relay.Relay
	relayStop context.CancelFunc
	relayDone chan struct{}

	// prompts feeds serveTurns; turns counts prompts not yet finished.
	prompts chan string
	turns   sync.WaitGroup

	closing  atomic.Bool
	pumping  bool
	pumpDone chan struct{}
}

type bridgeOptions struct {
	cfg       *config.Config
	cwd       string
	sessionID string
	verbose   bool
	out       io.Writer
}

// startBridge launches the agent, completes the handshake and opens (or
// loads) a session.
func startBridge(ctx context.Context, opts bridgeOptions) (_ *Bridge, err error) {
	cfg := opts.cfg
	log, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, os.Stderr)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:       cfg,
		cwd:       opts.cwd,
		log:       log,
		logCloser: logCloser,
		metrics:   metrics.New(),
		printer:   console.NewPrinter(opts.out, opts.verbose),
		prompts:   make(chan string, 16),
		pumpDone:  make(chan struct{}),
	}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	if cfg.Metrics.Listen != "" {
		b.metricsServer = metrics.NewServer(cfg.Metrics.Listen, b.metrics, log)
		if err := b.metricsServer.Start(); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	b.proc, err = transport.Start(ctx, transport.Options{
		Command:      cfg.Agent.Command,
		Args:         cfg.Agent.Args,
		Env:          cfg.Agent.Env,
		Dir:          opts.cwd,
		StartupGrace: cfg.Agent.StartupGrace(),
		MaxLine:      cfg.Agent.MaxLineBytes,
	}, log)
	if err != nil {
		return nil, err
	}

	terms := terminal.NewManager(terminal.Options{
		Shell:       cfg.Terminal.Shell,
		OutputLimit: cfg.Terminal.OutputLimit,
		PTY:         cfg.Terminal.PTY,
	}, log)
	b.client = client.New(b.proc.Stream(), client.Options{
		Translator: pathmap.New(cfg.Paths.Mode, cfg.Paths.MountPrefix),
		Terminals:  terms,
		Hooks: client.HookOptions{
			Files:          cfg.Hooks.Files,
			Timeout:        cfg.Hooks.Timeout(),
			FeedbackBudget: *cfg.Hooks.FeedbackBudget,
			Watch:          cfg.Hooks.Watch,
			Debounce:       cfg.Hooks.Debounce(),
		},
		ClientInfo:   acp.Implementation{Name: cfg.Agent.ClientName, Version: Version},
		Metrics:      b.metrics,
		TransportErr: b.proc.Err,
		Log:          log,
	})

	if cfg.Relay.WSURL != "" {
		if err := b.startRelay(); err != nil {
			return nil, err
		}
	}
	b.pumping = true
	go b.pump()

	if _, err := b.client.Initialize(ctx); err != nil {
		return nil, err
	}
	if opts.sessionID != "" {
		_, err = b.client.LoadSession(ctx, opts.sessionID, opts.cwd)
	} else {
		_, err = b.client.NewSession(ctx, opts.cwd, nil)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) startRelay() error {
	hostID := b.cfg.Relay.HostID
	if hostID == "" {
		id, err := loadHostID(b.cfg.Storage.StateDir)
		if err != nil {
			return err
		}
		hostID = id
	}
	outbox, err := queue.NewQueue(b.cfg.Storage.StateDir, b.cfg.Storage.OutboundQueueMax)
	if err != nil {
		return fmt.Errorf("failed to open relay outbox: %w", err)
	}
	b.outbox = outbox

	link := relay.NewLink(relay.LinkOptions{
		URL:     b.cfg.Relay.WSURL,
		Token:   b.cfg.Relay.Token,
		HostID:  hostID,
		Backoff: b.cfg.Relay.Backoff(),
	}, outbox, b.log)
	b.relay = relay.New(link, &controller{b: b}, b.log)

	ctx, cancel := context.WithCancel(context.Background())
	b.relayStop = cancel
	b.relayDone = make(chan struct{})
	go func() {
		defer close(b.relayDone)
		_ = link.Run(ctx)
	}()
	return nil
}

// loadHostID returns the relay host id stored in stateDir, creating one on
// first use.
func loadHostID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, hostIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to store host id: %w", err)
	}
	return id, nil
}

// pump hands every client event to the printer and the relay, in order.
func (b *Bridge) pump() {
	defer close(b.pumpDone)
	for {
		ev, err := b.client.Events().Next(context.Background())
		if err != nil {
			return
		}
		if _, ok := ev.(events.TransportClosed); !ok || !b.closing.Load() {
			b.printer.Print(ev)
		}
		if b.relay != nil {
			if err := b.relay.Publish(ev); err != nil {
				b.log.Error(err, "failed to relay event", "event", ev.Name())
			}
		}
	}
}

// Session returns the current session state.
func (b *Bridge) Session() session.Info { return b.client.Session() }

// Close stops the agent and everything attached to it.
func (b *Bridge) Close() error {
	b.closing.Store(true)
	var result *multierror.Error
	if b.client != nil {
		if err := b.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, fmt.Errorf("close client: %w", err))
		}
	}
	if b.pumping {
		select {
		case <-b.pumpDone:
		case <-time.After(2 * time.Second):
			b.log.Info("event pump did not drain")
		}
	}
	if b.proc != nil {
		if err := b.proc.Close(); err != nil {
			b.log.V(1).Info("agent exited", "error", err.Error())
		}
	}
	if b.relayStop != nil {
		b.relayStop()
		<-b.relayDone
	}
	if b.outbox != nil {
		if err := b.outbox.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close outbox: %w", err))
		}
	}
	if b.metricsServer != nil {
		if err := b.metricsServer.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if err := b.logCloser.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Submit queues a prompt without waiting. It reports false when the queue
// is full.
func (b *Bridge) Submit(text string) bool {
	b.turns.Add(1)
	select {
	case b.prompts <- text:
		return true
	default:
		b.turns.Done()
		return false
	}
}

// Enqueue queues a prompt, waiting for room.
func (b *Bridge) Enqueue(ctx context.Context, text string) error {
	b.turns.Add(1)
	select {
	case b.prompts <- text:
		return nil
	case <-ctx.Done():
		b.turns.Done()
		return ctx.Err()
	}
}

// serveTurns runs queued prompts one after another until ctx is done.
func (b *Bridge) serveTurns(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-b.prompts:
			if _, err := b.client.Prompt(ctx, text); err != nil {
				b.log.V(1).Info("prompt failed", "error", err.Error())
			}
			b.turns.Done()
		}
	}
}

// Idle is closed once every queued prompt has finished.
func (b *Bridge) Idle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.turns.Wait()
		close(done)
	}()
	return done
}

// controller lets the relay consumer drive the session.
type controller struct {
	b *Bridge
}

func (c *controller) ResolvePermission(requestID, optionID string) error {
	return c.b.client.ResolvePermission(requestID, optionID)
}

func (c *controller) CancelPermission(requestID string) error {
	return c.b.client.CancelPermission(requestID)
}

func (c *controller) Cancel(ctx context.Context) error {
	return c.b.client.Cancel(ctx)
}

func (c *controller) Submit(text string) {
	if !c.b.Submit(text) {
		c.b.log.Info("dropping relayed prompt, too many queued")
	}
}
