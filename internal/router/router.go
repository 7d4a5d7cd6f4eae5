// Package router runs the session's event loop: it consumes the inbound
// protocol event stream and fans each event out to the audio pipeline, the
// tool dispatcher, or the termination sequencer. All orchestration state is
// mutated from this loop only.
package router

import (
	"context"
	"log/slog"

	"github.com/voicelane/voicelane/internal/terminate"
	"github.com/voicelane/voicelane/pkg/audio"
	"github.com/voicelane/voicelane/pkg/realtime"
)

// AudioSink receives speech signals and assistant audio from the event loop.
// *pipeline.Pipeline satisfies it.
type AudioSink interface {
	EnqueuePlayback(f audio.Frame)
	HandleSpeechStarted(ctx context.Context)
	HandleSpeechStopped()
}

// ToolHandler executes completed tool calls. *dispatch.Dispatcher satisfies it.
type ToolHandler interface {
	HandleToolCall(ctx context.Context, call realtime.ToolCall) bool
}

// Terminator schedules session teardown. *terminate.Sequencer satisfies it.
type Terminator interface {
	RequestTermination(reason terminate.Reason) bool
}

// Option is a functional option for configuring a Router.
type Option func(*Router)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// Router dispatches inbound model events. Create one per session.
type Router struct {
	conn  realtime.Conn
	sink  AudioSink
	tools ToolHandler
	term  Terminator
	log   *slog.Logger
}

// New creates a Router over the given connection and collaborators.
func New(conn realtime.Conn, sink AudioSink, tools ToolHandler, term Terminator, opts ...Option) *Router {
	r := &Router{
		conn:  conn,
		sink:  sink,
		tools: tools,
		term:  term,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run consumes events until the context ends or the event stream closes.
// When the stream closes because the connection failed, termination is
// requested with reason error; a clean close requests completed.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.conn.Events():
			if !ok {
				if err := r.conn.Err(); err != nil {
					r.log.Error("connection lost", "err", err)
					r.term.RequestTermination(terminate.ReasonError)
					return
				}
				r.log.Info("event stream ended")
				r.term.RequestTermination(terminate.ReasonCompleted)
				return
			}
			r.handle(ctx, ev)
		}
	}
}

// handle routes a single event. The switch is exhaustive over the closed
// event set; the wire decoder never emits a kind outside it.
func (r *Router) handle(ctx context.Context, ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindSessionReady:
		r.log.Info("session ready")

	case realtime.KindSpeechStarted:
		r.log.Debug("caller speech started")
		r.sink.HandleSpeechStarted(ctx)

	case realtime.KindSpeechStopped:
		r.log.Debug("caller speech stopped")
		r.sink.HandleSpeechStopped()

	case realtime.KindInputTranscriptCompleted:
		r.log.Info("transcript", "speaker", "caller", "text", ev.Transcript)

	case realtime.KindAudioDelta:
		r.sink.EnqueuePlayback(audio.Frame{Data: ev.Audio})

	case realtime.KindOutputTranscriptDelta:
		r.log.Debug("transcript delta", "speaker", "assistant", "text", ev.Transcript)

	case realtime.KindOutputTranscriptDone:
		r.log.Info("transcript", "speaker", "assistant", "text", ev.Transcript)

	case realtime.KindToolCallArgumentsDone:
		if ev.ToolCall == nil {
			r.log.Warn("tool event without call payload")
			return
		}
		r.tools.HandleToolCall(ctx, *ev.ToolCall)

	case realtime.KindResponseDone:
		r.log.Debug("response done")

	case realtime.KindError:
		r.log.Error("protocol error", "err", ev.Err)
		if r.conn.Err() != nil {
			r.term.RequestTermination(terminate.ReasonError)
		}
	}
}
