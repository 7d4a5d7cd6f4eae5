// Package pipeline moves audio between the local device and the model
// connection. It owns the bounded capture and playback frame queues and the
// worker goroutines that bridge blocking device I/O to the event-driven side.
//
// The pipeline is the only component that touches both worlds: dedicated
// workers perform blocking reads and writes against the device, while the
// event router calls [Pipeline.EnqueuePlayback] and the barge-in handlers
// from the event loop. The two sides meet exclusively at the frame queues.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voicelane/voicelane/internal/observe"
	"github.com/voicelane/voicelane/pkg/audio"
	"github.com/voicelane/voicelane/pkg/realtime"
)

// State describes the pipeline's lifecycle position.
type State int

const (
	// Idle means no direction is active yet.
	Idle State = iota

	// Capturing means only the capture direction is running.
	Capturing

	// Playing means only the playback direction is running.
	Playing

	// Both means capture and playback are running.
	Both

	// ShuttingDown means Shutdown has begun tearing workers down.
	ShuttingDown

	// Stopped means Shutdown completed. A stopped pipeline cannot be
	// restarted; create a fresh one.
	Stopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Playing:
		return "playing"
	case Both:
		return "both"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultFrameSamples   = 480
	defaultQueueCapacity  = 64
	defaultEnqueueTimeout = 5 * time.Millisecond
	defaultJoinTimeout    = 2 * time.Second

	// dequeueTick bounds how long a consumer loop blocks on an empty queue
	// before re-checking its stop signal.
	dequeueTick = 100 * time.Millisecond
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithFrameSamples sets the number of samples per capture read.
func WithFrameSamples(n int) Option {
	return func(p *Pipeline) { p.frameSamples = n }
}

// WithQueueCapacity bounds the capture and playback frame queues.
func WithQueueCapacity(n int) Option {
	return func(p *Pipeline) { p.queueCap = n }
}

// WithEnqueueTimeout bounds how long a producer waits on a full queue
// before dropping the frame.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.enqueueTimeout = d }
}

// WithJoinTimeout bounds how long Shutdown waits for each worker to exit.
func WithJoinTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.joinTimeout = d }
}

// WithMetrics wires the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.met = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// ── Pipeline ───────────────────────────────────────────────────────────────────

// Pipeline bridges a local audio device to a realtime model connection.
//
// StartCapture, StartPlayback, and the HandleSpeech* methods are invoked from
// the event loop; the worker goroutines they spawn are the only code that
// blocks on device I/O. Shutdown may be called from any goroutine, once.
type Pipeline struct {
	dev  audio.Device
	conn realtime.Conn
	log  *slog.Logger
	met  *observe.Metrics

	frameSamples   int
	queueCap       int
	enqueueTimeout time.Duration
	joinTimeout    time.Duration

	sendQ *audio.FrameQueue
	playQ *audio.FrameQueue

	// paused gates the playback writer during barge-in without tearing the
	// worker down.
	paused atomic.Bool

	mu       sync.Mutex
	shutdown bool
	stopped  bool

	capturing   bool
	in          audio.InputDevice
	capStop     chan struct{}
	capStopOnce *sync.Once
	capDone     chan struct{}
	bridgeDone  chan struct{}

	playing      bool
	out          audio.OutputDevice
	playStop     chan struct{}
	playStopOnce *sync.Once
	playDone     chan struct{}
}

// New creates a Pipeline over the given device and model connection.
func New(dev audio.Device, conn realtime.Conn, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:            dev,
		conn:           conn,
		log:            slog.Default(),
		frameSamples:   defaultFrameSamples,
		queueCap:       defaultQueueCapacity,
		enqueueTimeout: defaultEnqueueTimeout,
		joinTimeout:    defaultJoinTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.met == nil {
		p.met, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	p.sendQ = audio.NewFrameQueue(p.queueCap)
	p.playQ = audio.NewFrameQueue(p.queueCap)
	return p
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.stopped:
		return Stopped
	case p.shutdown:
		return ShuttingDown
	case p.capturing && p.playing:
		return Both
	case p.capturing:
		return Capturing
	case p.playing:
		return Playing
	default:
		return Idle
	}
}

// ── Capture ────────────────────────────────────────────────────────────────────

// StartCapture opens the input device and spawns the capture and send-bridge
// workers. It is a no-op when capture is already active or shutdown has been
// requested.
func (p *Pipeline) StartCapture() error {
	p.mu.Lock()
	if p.capturing || p.shutdown {
		p.mu.Unlock()
		return nil
	}
	in, err := p.dev.OpenInput()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: open input: %w", err)
	}

	p.in = in
	p.capturing = true
	p.capStop = make(chan struct{})
	p.capStopOnce = &sync.Once{}
	p.capDone = make(chan struct{})
	p.bridgeDone = make(chan struct{})

	stop, once := p.capStop, p.capStopOnce
	capDone, bridgeDone := p.capDone, p.bridgeDone
	p.mu.Unlock()

	go p.captureLoop(in, stop, once, capDone)
	go p.sendBridgeLoop(stop, bridgeDone)
	return nil
}

// captureLoop blocks on device reads and feeds the send queue. A read error
// ends only this direction: the capturing flag drops and the bridge is
// signalled to exit.
func (p *Pipeline) captureLoop(in audio.InputDevice, stop chan struct{}, once *sync.Once, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		default:
		}

		f, err := in.Read(p.frameSamples)
		if err != nil {
			select {
			case <-stop:
			default:
				p.log.Warn("capture read failed; capture direction stopping", "err", err)
			}
			p.mu.Lock()
			p.capturing = false
			p.mu.Unlock()
			once.Do(func() { close(stop) })
			return
		}

		f.Direction = audio.DirCapture
		if !p.sendQ.EnqueueTimeout(f, p.enqueueTimeout) {
			p.met.RecordDrop(ctx, "capture", "backpressure")
			continue
		}
		p.met.FramesCaptured.Add(ctx, 1)
	}
}

// sendBridgeLoop drains the send queue and submits frames to the model
// connection. Submission failures are logged and never propagate back into
// the capture path.
func (p *Pipeline) sendBridgeLoop(stop chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		f, ok := p.sendQ.Dequeue(dequeueTick)
		if !ok {
			continue
		}
		if err := p.conn.SubmitAudio(f.Data); err != nil {
			p.log.Warn("audio submit failed", "err", err)
		}
	}
}

// StopCapture signals the capture workers, unblocks any pending device read
// by closing the input handle, and joins the workers with a bounded timeout.
func (p *Pipeline) StopCapture() {
	p.mu.Lock()
	if p.capDone == nil {
		p.mu.Unlock()
		return
	}
	p.capturing = false
	in := p.in
	stop, once := p.capStop, p.capStopOnce
	capDone, bridgeDone := p.capDone, p.bridgeDone
	p.in = nil
	p.capStop, p.capStopOnce = nil, nil
	p.capDone, p.bridgeDone = nil, nil
	p.mu.Unlock()

	once.Do(func() { close(stop) })
	if in != nil {
		_ = in.Close()
	}
	if !waitTimeout(capDone, p.joinTimeout) {
		p.log.Warn("capture worker did not exit before deadline")
	}
	if !waitTimeout(bridgeDone, p.joinTimeout) {
		p.log.Warn("send bridge worker did not exit before deadline")
	}
	p.sendQ.Discard()
}

// ── Playback ───────────────────────────────────────────────────────────────────

// StartPlayback opens the output device and spawns the playback worker. It is
// a no-op when playback is already active or shutdown has been requested.
func (p *Pipeline) StartPlayback() error {
	p.mu.Lock()
	if p.playing || p.shutdown {
		p.mu.Unlock()
		return nil
	}
	out, err := p.dev.OpenOutput()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: open output: %w", err)
	}

	p.out = out
	p.playing = true
	p.playStop = make(chan struct{})
	p.playStopOnce = &sync.Once{}
	p.playDone = make(chan struct{})

	stop, once := p.playStop, p.playStopOnce
	done := p.playDone
	p.mu.Unlock()

	go p.playbackLoop(out, stop, once, done)
	return nil
}

// playbackLoop dequeues frames with a timeout and writes them to the device
// synchronously to preserve cadence. A write error ends only this direction.
func (p *Pipeline) playbackLoop(out audio.OutputDevice, stop chan struct{}, once *sync.Once, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if p.paused.Load() {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		f, ok := p.playQ.Dequeue(dequeueTick)
		if !ok {
			continue
		}
		p.met.QueueDepth.Add(ctx, -1)

		if err := out.Write(f); err != nil {
			select {
			case <-stop:
			default:
				p.log.Warn("playback write failed; playback direction stopping", "err", err)
			}
			p.mu.Lock()
			p.playing = false
			p.mu.Unlock()
			once.Do(func() { close(stop) })
			return
		}
		p.met.FramesPlayed.Add(ctx, 1)
	}
}

// StopPlayback signals the playback worker and joins it with a bounded
// timeout, then discards residual queued frames.
func (p *Pipeline) StopPlayback() {
	p.mu.Lock()
	if p.playDone == nil {
		p.mu.Unlock()
		return
	}
	p.playing = false
	out := p.out
	stop, once := p.playStop, p.playStopOnce
	done := p.playDone
	p.out = nil
	p.playStop, p.playStopOnce = nil, nil
	p.playDone = nil
	p.mu.Unlock()

	once.Do(func() { close(stop) })
	if !waitTimeout(done, p.joinTimeout) {
		p.log.Warn("playback worker did not exit before deadline")
	}
	if out != nil {
		_ = out.Close()
	}
	if n := p.playQ.Discard(); n > 0 {
		p.met.QueueDepth.Add(context.Background(), int64(-n))
	}
}

// EnqueuePlayback queues one assistant audio frame for the playback worker.
// Called from the event loop on every audio-delta event. Drops silently when
// the queue stays full past the enqueue timeout.
func (p *Pipeline) EnqueuePlayback(f audio.Frame) {
	p.mu.Lock()
	down := p.shutdown
	p.mu.Unlock()
	if down {
		return
	}

	f.Direction = audio.DirPlayback
	ctx := context.Background()
	if !p.playQ.EnqueueTimeout(f, p.enqueueTimeout) {
		p.met.RecordDrop(ctx, "playback", "backpressure")
		return
	}
	p.met.QueueDepth.Add(ctx, 1)
}

// ── Barge-in ───────────────────────────────────────────────────────────────────

// HandleSpeechStarted reacts to caller speech onset: playback is paused, the
// queued assistant audio is discarded outright, and the in-flight model
// generation is cancelled best-effort. Cancellation failures are swallowed.
func (p *Pipeline) HandleSpeechStarted(ctx context.Context) {
	p.paused.Store(true)

	if n := p.playQ.Discard(); n > 0 {
		p.met.QueueDepth.Add(ctx, int64(-n))
		for range n {
			p.met.RecordDrop(ctx, "playback", "barge_in")
		}
	}

	if err := p.conn.CancelResponse(ctx); err != nil {
		p.log.Debug("response cancel failed", "err", err)
	}
}

// HandleSpeechStopped resumes playback after the caller's turn ends. The
// queue is empty at this point; new assistant audio refills it.
func (p *Pipeline) HandleSpeechStopped() {
	p.paused.Store(false)
}

// ── Shutdown ───────────────────────────────────────────────────────────────────

// Shutdown tears the pipeline down: the one-way flag is set first, then
// capture stops, then playback, then residual frames are discarded. Workers
// are joined with a bounded timeout so Shutdown always makes forward
// progress. Idempotent.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	p.mu.Unlock()

	p.StopCapture()
	p.StopPlayback()

	p.sendQ.Discard()
	p.playQ.Discard()

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// waitTimeout waits for ch to close, giving up after d.
func waitTimeout(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
