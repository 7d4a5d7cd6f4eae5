package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicelane/voicelane/internal/router"
	"github.com/voicelane/voicelane/internal/terminate"
	"github.com/voicelane/voicelane/pkg/audio"
	"github.com/voicelane/voicelane/pkg/realtime"
	rtmock "github.com/voicelane/voicelane/pkg/realtime/mock"
)

// sinkStub records the audio-side calls the router makes.
type sinkStub struct {
	mu      sync.Mutex
	frames  []audio.Frame
	started int
	stopped int
	onEvent chan struct{}
}

func newSinkStub() *sinkStub {
	return &sinkStub{onEvent: make(chan struct{}, 64)}
}

func (s *sinkStub) EnqueuePlayback(f audio.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.onEvent <- struct{}{}
}

func (s *sinkStub) HandleSpeechStarted(context.Context) {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	s.onEvent <- struct{}{}
}

func (s *sinkStub) HandleSpeechStopped() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	s.onEvent <- struct{}{}
}

func (s *sinkStub) snapshot() (frames []audio.Frame, started, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames = make([]audio.Frame, len(s.frames))
	copy(frames, s.frames)
	return frames, s.started, s.stopped
}

// toolStub records handled tool calls.
type toolStub struct {
	mu      sync.Mutex
	calls   []realtime.ToolCall
	onEvent chan struct{}
}

func newToolStub() *toolStub {
	return &toolStub{onEvent: make(chan struct{}, 64)}
}

func (s *toolStub) HandleToolCall(_ context.Context, call realtime.ToolCall) bool {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	s.onEvent <- struct{}{}
	return false
}

func (s *toolStub) handled() []realtime.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.ToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// termStub records termination requests.
type termStub struct {
	mu      sync.Mutex
	reasons []terminate.Reason
}

func (s *termStub) RequestTermination(reason terminate.Reason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
	return len(s.reasons) == 1
}

func (s *termStub) requested() []terminate.Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]terminate.Reason, len(s.reasons))
	copy(out, s.reasons)
	return out
}

type fixture struct {
	r    *router.Router
	conn *rtmock.Conn
	sink *sinkStub
	tool *toolStub
	term *termStub
	done chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		conn: rtmock.NewConn(),
		sink: newSinkStub(),
		tool: newToolStub(),
		term: &termStub{},
		done: make(chan struct{}),
	}
	fx.r = router.New(fx.conn, fx.sink, fx.tool, fx.term)
	return fx
}

// run starts the router and returns a cancel func; fx.done closes on exit.
func (fx *fixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(fx.done)
		fx.r.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel
}

func (fx *fixture) waitExit(t *testing.T) {
	t.Helper()
	select {
	case <-fx.done:
	case <-time.After(3 * time.Second):
		t.Fatal("router did not exit")
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the router to handle the event")
	}
}

func TestRun_SpeechEventsReachSink(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.run(t)

	fx.conn.Emit(realtime.Event{Kind: realtime.KindSpeechStarted})
	waitSignal(t, fx.sink.onEvent)
	fx.conn.Emit(realtime.Event{Kind: realtime.KindSpeechStopped})
	waitSignal(t, fx.sink.onEvent)

	_, started, stopped := fx.sink.snapshot()
	if started != 1 || stopped != 1 {
		t.Errorf("started = %d, stopped = %d; want 1, 1", started, stopped)
	}
}

func TestRun_AudioDeltasEnqueueInOrder(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.run(t)

	chunks := [][]byte{{1, 1}, {2, 2}, {3, 3}}
	for _, c := range chunks {
		fx.conn.Emit(realtime.Event{Kind: realtime.KindAudioDelta, Audio: c})
		waitSignal(t, fx.sink.onEvent)
	}

	frames, _, _ := fx.sink.snapshot()
	if len(frames) != len(chunks) {
		t.Fatalf("frames = %d; want %d", len(frames), len(chunks))
	}
	for i, f := range frames {
		if string(f.Data) != string(chunks[i]) {
			t.Errorf("frame %d data = %v; want %v", i, f.Data, chunks[i])
		}
	}
}

func TestRun_ToolCallReachesDispatcher(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.run(t)

	fx.conn.Emit(realtime.Event{
		Kind:     realtime.KindToolCallArgumentsDone,
		ToolCall: &realtime.ToolCall{CallID: "call-1", Name: "lookup_invoice", Arguments: `{}`},
	})
	waitSignal(t, fx.tool.onEvent)

	calls := fx.tool.handled()
	if len(calls) != 1 || calls[0].Name != "lookup_invoice" {
		t.Fatalf("handled = %+v; want one lookup_invoice call", calls)
	}
}

func TestRun_ToolEventWithoutPayloadIsDropped(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.run(t)

	fx.conn.Emit(realtime.Event{Kind: realtime.KindToolCallArgumentsDone})
	// A follow-up event proves the loop survived the malformed one.
	fx.conn.Emit(realtime.Event{Kind: realtime.KindSpeechStopped})
	waitSignal(t, fx.sink.onEvent)

	if calls := fx.tool.handled(); len(calls) != 0 {
		t.Errorf("handled = %+v; want none", calls)
	}
}

func TestRun_TransientProtocolErrorDoesNotTerminate(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.run(t)

	fx.conn.Emit(realtime.Event{Kind: realtime.KindError, Err: errors.New("rate limited")})
	fx.conn.Emit(realtime.Event{Kind: realtime.KindSpeechStopped})
	waitSignal(t, fx.sink.onEvent)

	if got := fx.term.requested(); len(got) != 0 {
		t.Errorf("termination requests = %v; want none while the connection is healthy", got)
	}
}

func TestRun_ConnectionFailureRequestsErrorTermination(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.conn.ConnErr = errors.New("websocket: broken pipe")
	fx.run(t)

	_ = fx.conn.Close()
	fx.waitExit(t)

	got := fx.term.requested()
	if len(got) != 1 || got[0] != terminate.ReasonError {
		t.Fatalf("termination requests = %v; want one with reason error", got)
	}
}

func TestRun_CleanStreamEndRequestsCompleted(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.run(t)

	_ = fx.conn.Close()
	fx.waitExit(t)

	got := fx.term.requested()
	if len(got) != 1 || got[0] != terminate.ReasonCompleted {
		t.Fatalf("termination requests = %v; want one with reason completed", got)
	}
}

func TestRun_ExitsOnContextCancel(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	cancel := fx.run(t)

	cancel()
	fx.waitExit(t)

	if got := fx.term.requested(); len(got) != 0 {
		t.Errorf("termination requests = %v; want none on external cancel", got)
	}
}
