// Package terminate sequences session teardown: exactly one deferred,
// reason-tagged close per call, no matter how many components ask for it.
package terminate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voicelane/voicelane/internal/observe"
	"github.com/voicelane/voicelane/pkg/realtime"
)

// Reason is the closed set of caller-visible termination causes.
type Reason string

const (
	ReasonHumanHandoff Reason = "human_handoff"
	ReasonVoicemail    Reason = "voicemail_confirmed"
	ReasonCallerHangup Reason = "caller_hangup"
	ReasonError        Reason = "error"
	ReasonCompleted    Reason = "completed"
)

// ChannelKind selects the grace delay before the deferred teardown fires.
type ChannelKind string

const (
	// ChannelTelephony legs buffer deeply in the carrier path; the longer
	// grace lets an in-flight hand-off notification reach the caller before
	// the transport closes.
	ChannelTelephony ChannelKind = "telephony"

	// ChannelBrowser legs have shallow buffers and tear down quickly.
	ChannelBrowser ChannelKind = "browser"
)

// GraceDelay returns the default teardown grace period for the channel.
func (k ChannelKind) GraceDelay() time.Duration {
	if k == ChannelBrowser {
		return 500 * time.Millisecond
	}
	return 2 * time.Second
}

// CloseFunc performs the actual session close with the recorded reason.
type CloseFunc func(reason Reason) error

// Option is a functional option for configuring a Sequencer.
type Option func(*Sequencer)

// WithGrace overrides the channel's default grace delay.
func WithGrace(d time.Duration) Option {
	return func(s *Sequencer) { s.grace = d }
}

// WithMetrics wires the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sequencer) { s.met = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.log = l }
}

// Sequencer performs at most one deferred session teardown. The first
// [Sequencer.RequestTermination] wins; later requests are no-ops regardless
// of reason. The pending flag is the one piece of state touched from
// multiple logical call sites, so it is an atomic test-and-set.
type Sequencer struct {
	closeFn CloseFunc
	grace   time.Duration
	log     *slog.Logger
	met     *observe.Metrics

	pending atomic.Bool

	mu     sync.Mutex
	reason Reason
	timer  *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

// NewSequencer creates a Sequencer for the given channel kind. closeFn runs
// once, after the grace delay, with the winning reason.
func NewSequencer(channel ChannelKind, closeFn CloseFunc, opts ...Option) *Sequencer {
	s := &Sequencer{
		closeFn: closeFn,
		grace:   channel.GraceDelay(),
		log:     slog.Default(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.met == nil {
		s.met, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	return s
}

// RequestTermination schedules the deferred teardown. It reports whether
// this call won; a false return means a teardown is already pending or has
// already run, which is not an error for the caller.
func (s *Sequencer) RequestTermination(reason Reason) bool {
	if !s.pending.CompareAndSwap(false, true) {
		s.log.Debug("termination already requested", "ignored_reason", string(reason))
		return false
	}

	s.mu.Lock()
	s.reason = reason
	s.timer = time.AfterFunc(s.grace, s.teardown)
	s.mu.Unlock()

	s.log.Info("termination scheduled", "reason", string(reason), "grace", s.grace)
	return true
}

// Reason returns the winning termination reason, or "" if none was
// requested yet.
func (s *Sequencer) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the teardown has run, or once Close cancelled a
// pending teardown.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

// teardown performs the actual close. Failures are logged, never re-raised.
func (s *Sequencer) teardown() {
	defer s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	reason := s.reason
	s.mu.Unlock()

	ctx := context.Background()
	s.met.RecordTermination(ctx, string(reason))
	if err := s.closeFn(reason); err != nil {
		s.log.Error("session close failed", "reason", string(reason), "err", err)
		return
	}
	s.log.Info("session closed", "reason", string(reason))
}

// Close cancels a pending deferred teardown deterministically. If the
// teardown already fired, Close is a no-op. The sequencer accepts no further
// requests either way.
func (s *Sequencer) Close() {
	s.pending.Store(true)

	s.mu.Lock()
	t := s.timer
	s.timer = nil
	s.mu.Unlock()

	if t != nil && t.Stop() {
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// ── Escalation ─────────────────────────────────────────────────────────────────

// CallState is the shared conversation state readable by the sequencer: an
// escalation flag plus the reason recorded by whoever raised it. Safe for
// concurrent use.
type CallState struct {
	escalated atomic.Bool

	mu     sync.Mutex
	reason string
}

// Escalate marks the session as requiring a human operator.
func (c *CallState) Escalate(reason string) {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	c.escalated.Store(true)
}

// Escalated reports the flag and the recorded reason.
func (c *CallState) Escalated() (bool, string) {
	if !c.escalated.Load() {
		return false, ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return true, c.reason
}

// WatchEscalation polls state until it flips, the context ends, or a
// teardown completes. On escalation it best-effort notifies the remote peer
// of the hand-off, then requests termination with reason human_handoff.
func (s *Sequencer) WatchEscalation(ctx context.Context, conn realtime.Conn, state *CallState, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		escalated, reason := state.Escalated()
		if !escalated {
			continue
		}

		if err := conn.AppendConversationItem(ctx, "system",
			"The caller is being transferred to a human operator. Reason: "+reason); err != nil {
			s.log.Warn("escalation notification failed", "err", err)
		}
		s.RequestTermination(ReasonHumanHandoff)
		return
	}
}
