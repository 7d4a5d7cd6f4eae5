// Package orchestrate tracks which agent is driving the call and performs
// agent hand-offs: applying the target agent's configuration onto the live
// model connection and speaking the right greeting.
//
// The Switchboard's state (active agent, visited set) is mutated only from
// the event loop goroutine; it deliberately carries no lock. Components on
// worker goroutines never touch it directly — they communicate through the
// event stream.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voicelane/voicelane/internal/agentdef"
	"github.com/voicelane/voicelane/internal/observe"
	"github.com/voicelane/voicelane/pkg/realtime"
)

// genericReturnGreeting is spoken when a revisited agent configures no
// return greeting of its own.
const genericReturnGreeting = "Hi again, where were we?"

// HandoffContext carries the circumstances of an agent switch, assembled by
// the dispatcher from the hand-off tool's result and raw arguments.
type HandoffContext struct {
	// Reason is why the call is being handed off.
	Reason string

	// Details is free-text context for the receiving agent.
	Details string

	// PreviousAgent names the agent handing the call over. Empty on the
	// initial switch at session start.
	PreviousAgent string

	// Greeting, when non-empty, overrides the descriptor's greetings.
	Greeting string
}

// Option is a functional option for configuring a Switchboard.
type Option func(*Switchboard)

// WithMetrics wires the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Switchboard) { s.met = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Switchboard) { s.log = l }
}

// Switchboard owns the active-agent pointer and the visited-agent set for
// one call. Switching agents through [Switchboard.SwitchTo] is the only way
// the active agent changes.
type Switchboard struct {
	reg  *agentdef.Registry
	conn realtime.Conn
	log  *slog.Logger
	met  *observe.Metrics

	active  string
	visited map[string]bool
}

// NewSwitchboard creates a Switchboard over the given registry and live
// connection. No agent is active until the first SwitchTo.
func NewSwitchboard(reg *agentdef.Registry, conn realtime.Conn, opts ...Option) *Switchboard {
	s := &Switchboard{
		reg:     reg,
		conn:    conn,
		log:     slog.Default(),
		visited: make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	if s.met == nil {
		s.met, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	return s
}

// CurrentAgent returns the name of the active agent, or "" before the first
// switch.
func (s *Switchboard) CurrentAgent() string { return s.active }

// Visited reports whether the named agent has handled the call before.
func (s *Switchboard) Visited(name string) bool { return s.visited[name] }

// SwitchTo hands the call to the target agent: it selects a greeting, marks
// the target visited, applies the target's session configuration, and asks
// the model to speak the greeting as the agent's first utterance.
//
// An unknown target fails with [agentdef.ErrUnknownAgent] and leaves the
// active agent and session configuration untouched.
func (s *Switchboard) SwitchTo(ctx context.Context, target string, hc HandoffContext) error {
	ctx, span := observe.StartSpan(ctx, "orchestrate.switch")
	defer span.End()

	desc, err := s.reg.Get(target)
	if err != nil {
		return fmt.Errorf("orchestrate: switch to %q: %w", target, err)
	}

	greeting := s.selectGreeting(desc, hc)
	previous := s.active

	// Greeting choice depends on the visited set, so the mark happens after
	// selection but before any connection call: a failed apply must not let
	// a retry claim the first-visit greeting twice.
	s.visited[target] = true

	if err := desc.Apply(ctx, s.conn); err != nil {
		return fmt.Errorf("orchestrate: switch to %q: %w", target, err)
	}
	s.active = target

	if err := s.conn.CreateResponse(ctx, greeting); err != nil {
		// The agent is configured and active; a failed greeting trigger is
		// logged, not unwound.
		s.log.Warn("greeting response failed", "agent", target, "err", err)
	}

	s.met.RecordHandoff(ctx, previous, target)
	observe.Logger(ctx).Info("agent switch",
		"from", previous,
		"to", target,
		"reason", hc.Reason,
	)
	return nil
}

// selectGreeting picks the utterance the target opens with: an explicit
// greeting from the hand-off context wins, then the first-visit greeting for
// a new agent, then the return greeting, then the generic fallback.
func (s *Switchboard) selectGreeting(desc agentdef.Descriptor, hc HandoffContext) string {
	if hc.Greeting != "" {
		return hc.Greeting
	}
	if !s.visited[desc.Name] {
		return desc.Greeting
	}
	if desc.ReturnGreeting != "" {
		return desc.ReturnGreeting
	}
	return genericReturnGreeting
}
