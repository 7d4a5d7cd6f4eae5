// Package app wires all voicelane subsystems into a running call session.
//
// The App struct owns the full lifecycle: New loads the agent registry and
// validates the wiring, Run dials the model connection and drives one call
// until it ends, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRegistry, WithCallState, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voicelane/voicelane/internal/agentdef"
	"github.com/voicelane/voicelane/internal/config"
	"github.com/voicelane/voicelane/internal/dispatch"
	"github.com/voicelane/voicelane/internal/observe"
	"github.com/voicelane/voicelane/internal/orchestrate"
	"github.com/voicelane/voicelane/internal/pipeline"
	"github.com/voicelane/voicelane/internal/router"
	"github.com/voicelane/voicelane/internal/terminate"
	"github.com/voicelane/voicelane/pkg/audio"
	"github.com/voicelane/voicelane/pkg/realtime"
)

// escalationPollInterval is how often the sequencer re-reads the shared call
// state for an escalation flag.
const escalationPollInterval = 100 * time.Millisecond

// Providers holds the external collaborators the app cannot build itself.
// Populated by main.go via the config registry.
type Providers struct {
	// Realtime dials the speech-model connection.
	Realtime realtime.Dialer

	// Device opens the local audio capture and playback handles.
	Device audio.Device

	// Business maps tool names to their in-process implementations.
	Business map[string]dispatch.BusinessFunc
}

// App owns all subsystem lifetimes and orchestrates one voice call.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	met       *observe.Metrics

	sessionID string
	registry  *agentdef.Registry
	state     *terminate.CallState

	// Run-scoped subsystems, torn down in Shutdown.
	conn      realtime.Conn
	pipeline  *pipeline.Pipeline
	sequencer *terminate.Sequencer

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects an agent registry instead of loading one from the
// configured file.
func WithRegistry(r *agentdef.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithCallState injects the shared escalation state instead of creating a
// fresh one.
func WithCallState(s *terminate.CallState) Option {
	return func(a *App) { a.state = s }
}

// WithMetrics wires the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by loading the agent registry and validating the wiring.
// The providers struct comes from main.go. New performs no network I/O; the
// model connection is dialed in Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		sessionID: uuid.NewString(),
	}
	for _, o := range opts {
		o(a)
	}

	if providers == nil || providers.Realtime == nil {
		return nil, fmt.Errorf("app: a realtime dialer is required")
	}
	if providers.Device == nil {
		return nil, fmt.Errorf("app: an audio device is required")
	}

	if a.registry == nil {
		reg, err := agentdef.LoadFile(cfg.Agents.File)
		if err != nil {
			return nil, fmt.Errorf("app: load agents: %w", err)
		}
		a.registry = reg
	}
	if !a.registry.Has(cfg.Agents.Entry) {
		return nil, fmt.Errorf("app: entry agent %q is not defined in the registry", cfg.Agents.Entry)
	}

	if a.state == nil {
		a.state = &terminate.CallState{}
	}
	return a, nil
}

// SessionID returns the identifier assigned to this call session.
func (a *App) SessionID() string { return a.sessionID }

// CallState returns the shared escalation state for this session. Business
// tools use it to flag the call for a human operator.
func (a *App) CallState() *terminate.CallState { return a.state }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run dials the model connection, wires the per-call subsystems, and drives
// the session until the context is cancelled or the termination sequencer
// completes its teardown. Run always leaves the app shut down on return.
func (a *App) Run(ctx context.Context) error {
	log := a.log.With("session_id", a.sessionID)

	conn, err := a.providers.Realtime.Dial(ctx)
	if err != nil {
		return fmt.Errorf("app: dial realtime: %w", err)
	}
	a.conn = conn

	a.pipeline = pipeline.New(a.providers.Device, conn, a.pipelineOptions(log)...)

	sb := orchestrate.NewSwitchboard(a.registry, conn,
		append(a.switchboardMetrics(), orchestrate.WithLogger(log))...)
	disp := dispatch.NewDispatcher(a.registry, conn, sb, a.providers.Business,
		append(a.dispatchMetrics(), dispatch.WithLogger(log))...)
	a.sequencer = terminate.NewSequencer(channelKind(a.cfg.Call.Channel), a.teardown,
		append(a.sequencerOptions(), terminate.WithLogger(log))...)

	rt := router.New(conn, a.pipeline, disp, a.sequencer, router.WithLogger(log))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		rt.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		a.sequencer.WatchEscalation(runCtx, conn, a.state, escalationPollInterval)
		return nil
	})

	if err := sb.SwitchTo(ctx, a.cfg.Agents.Entry, orchestrate.HandoffContext{}); err != nil {
		cancel()
		_ = g.Wait()
		a.Shutdown()
		return fmt.Errorf("app: entry agent: %w", err)
	}

	// A missing device direction degrades the session, it does not end it:
	// a capture-less call can still play prompts, and vice versa.
	if err := a.pipeline.StartCapture(); err != nil {
		log.Warn("capture unavailable; continuing without caller audio", "err", err)
	}
	if err := a.pipeline.StartPlayback(); err != nil {
		log.Warn("playback unavailable; continuing without assistant audio", "err", err)
	}

	log.Info("session running",
		"agent", a.cfg.Agents.Entry,
		"channel", string(a.cfg.Call.Channel),
	)

	select {
	case <-ctx.Done():
		a.sequencer.Close()
	case <-a.sequencer.Done():
	}

	cancel()
	_ = g.Wait()
	a.Shutdown()

	// The receive loop closes the event stream once the connection is down;
	// drain whatever it buffered so it can exit.
	audio.Drain(conn.Events())
	return ctx.Err()
}

// teardown is the sequencer's close function: it runs once, after the grace
// delay, with the winning reason.
func (a *App) teardown(reason terminate.Reason) error {
	a.log.Info("closing session", "session_id", a.sessionID, "reason", string(reason))
	a.pipeline.Shutdown()
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("app: close connection: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears the session down in order: pending deferred teardown is
// cancelled, the pipeline stops and releases its device handles, then the
// model connection closes. Idempotent; safe to call even if Run never ran.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		if a.sequencer != nil {
			a.sequencer.Close()
		}
		if a.pipeline != nil {
			a.pipeline.Shutdown()
		}
		if a.conn != nil {
			_ = a.conn.Close()
		}
		a.log.Info("shutdown complete", "session_id", a.sessionID)
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// pipelineOptions translates audio config into pipeline options.
func (a *App) pipelineOptions(log *slog.Logger) []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithLogger(log)}
	if a.met != nil {
		opts = append(opts, pipeline.WithMetrics(a.met))
	}
	if n := a.cfg.Audio.FrameSamples; n > 0 {
		opts = append(opts, pipeline.WithFrameSamples(n))
	}
	if n := a.cfg.Audio.QueueCapacity; n > 0 {
		opts = append(opts, pipeline.WithQueueCapacity(n))
	}
	if ms := a.cfg.Audio.EnqueueTimeoutMs; ms > 0 {
		opts = append(opts, pipeline.WithEnqueueTimeout(time.Duration(ms)*time.Millisecond))
	}
	return opts
}

func (a *App) switchboardMetrics() []orchestrate.Option {
	if a.met == nil {
		return nil
	}
	return []orchestrate.Option{orchestrate.WithMetrics(a.met)}
}

func (a *App) dispatchMetrics() []dispatch.Option {
	if a.met == nil {
		return nil
	}
	return []dispatch.Option{dispatch.WithMetrics(a.met)}
}

// sequencerOptions translates call config into sequencer options.
func (a *App) sequencerOptions() []terminate.Option {
	var opts []terminate.Option
	if a.met != nil {
		opts = append(opts, terminate.WithMetrics(a.met))
	}
	if ms := a.cfg.Call.GraceMs; ms > 0 {
		opts = append(opts, terminate.WithGrace(time.Duration(ms)*time.Millisecond))
	}
	return opts
}

// channelKind converts a config.Channel to terminate.ChannelKind.
func channelKind(c config.Channel) terminate.ChannelKind {
	if c == config.ChannelBrowser {
		return terminate.ChannelBrowser
	}
	return terminate.ChannelTelephony
}
