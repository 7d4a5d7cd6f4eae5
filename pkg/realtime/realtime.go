// Package realtime defines the connection contract for bidirectional
// speech-model backends.
//
// A realtime connection is a single, stateful, full-duplex session with a
// speech-to-speech model: raw audio goes up, synthesised audio and protocol
// events come down. The central abstractions are [Conn] — the operations the
// orchestration core invokes on the model — and [Event], a closed tagged
// union over the inbound protocol event set. Consumers dispatch on
// [Event.Kind] with an exhaustive switch so a new event kind is a
// compile-time-visible change, never a silently ignored string tag.
//
// All implementations must be safe for concurrent use: audio frames are
// submitted from a dedicated capture worker while control operations run on
// the event loop.
package realtime

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by [Conn] operations invoked after Close, or
// after the underlying transport has failed.
var ErrConnClosed = errors.New("realtime: connection closed")

// EventKind enumerates the closed set of inbound protocol events.
type EventKind int

const (
	// KindSessionReady signals the session is configured and accepting audio.
	KindSessionReady EventKind = iota

	// KindSpeechStarted signals the model's VAD detected caller speech
	// (the barge-in trigger).
	KindSpeechStarted

	// KindSpeechStopped signals the model's VAD detected end of caller speech.
	KindSpeechStopped

	// KindInputTranscriptCompleted carries the final transcript of a caller turn.
	KindInputTranscriptCompleted

	// KindAudioDelta carries one chunk of synthesised assistant audio.
	KindAudioDelta

	// KindOutputTranscriptDelta carries an incremental piece of the
	// assistant's spoken-text transcript.
	KindOutputTranscriptDelta

	// KindOutputTranscriptDone carries the complete assistant transcript
	// for the finished utterance.
	KindOutputTranscriptDone

	// KindToolCallArgumentsDone signals the model finished streaming a tool
	// call; Event.ToolCall is populated.
	KindToolCallArgumentsDone

	// KindResponseDone signals the model finished generating a response turn.
	KindResponseDone

	// KindError carries a protocol-level error report; Event.Err is populated.
	KindError
)

// String returns the wire-independent name of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindSessionReady:
		return "session-ready"
	case KindSpeechStarted:
		return "speech-started"
	case KindSpeechStopped:
		return "speech-stopped"
	case KindInputTranscriptCompleted:
		return "input-transcript-completed"
	case KindAudioDelta:
		return "audio-delta"
	case KindOutputTranscriptDelta:
		return "output-transcript-delta"
	case KindOutputTranscriptDone:
		return "output-transcript-done"
	case KindToolCallArgumentsDone:
		return "tool-call-arguments-done"
	case KindResponseDone:
		return "response-done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCall describes a completed tool invocation requested by the model.
type ToolCall struct {
	// CallID is the model-assigned identifier; tool output must be keyed by it.
	CallID string

	// Name is the tool name as offered in the session tool set.
	Name string

	// Arguments is the raw JSON argument payload. It may fail to parse;
	// consumers must degrade to an empty argument set rather than abort.
	Arguments string
}

// Event is one inbound protocol event. Exactly the payload fields implied by
// Kind are populated; all others are zero.
type Event struct {
	Kind EventKind

	// Audio holds decoded PCM for KindAudioDelta.
	Audio []byte

	// Transcript holds text for the transcript event kinds.
	Transcript string

	// ToolCall is set for KindToolCallArgumentsDone.
	ToolCall *ToolCall

	// Err is set for KindError.
	Err error
}

// ToolDefinition declares one tool offered to the model.
type ToolDefinition struct {
	// Name is the function name the model invokes.
	Name string `yaml:"name"`

	// Description tells the model when to invoke the tool.
	Description string `yaml:"description"`

	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any `yaml:"parameters"`
}

// VADConfig holds the server-side voice-activity-detection thresholds that
// govern turn boundaries.
type VADConfig struct {
	// Threshold is the activation level in [0, 1]. Zero means provider default.
	Threshold float64 `yaml:"threshold"`

	// PrefixPaddingMs is audio retained before detected speech onset.
	PrefixPaddingMs int `yaml:"prefix_padding_ms"`

	// SilenceDurationMs is the silence needed to close a caller turn.
	SilenceDurationMs int `yaml:"silence_duration_ms"`
}

// SessionUpdate carries a mid-session reconfiguration: everything an agent
// descriptor pushes onto the live connection when it becomes active.
// Zero-valued fields are omitted from the wire message.
type SessionUpdate struct {
	// Modalities the model may respond with (e.g., "text", "audio").
	Modalities []string

	// Voice selects the synthesised output voice.
	Voice string

	// Instructions is the system-level prompt for the active agent.
	Instructions string

	// InputAudioFormat and OutputAudioFormat name the PCM encodings.
	InputAudioFormat  string
	OutputAudioFormat string

	// VAD configures server-side turn detection. Nil keeps the current value.
	VAD *VADConfig

	// Tools is the full replacement tool set.
	Tools []ToolDefinition

	// ToolChoice is the tool-choice policy (e.g., "auto").
	ToolChoice string
}

// Conn is an open realtime session. The orchestration core is its only
// consumer: the audio pipeline submits capture frames, the event router
// drains Events, and the state machine and dispatcher invoke the control
// operations.
//
// SubmitAudio is the hot path and is called from the capture bridge worker;
// it must return quickly and never block on in-flight control operations.
// Control operations accept a context and report errors to the caller.
//
// Callers must call Close when the session is no longer needed.
type Conn interface {
	// SubmitAudio delivers one raw PCM chunk to the model. Best-effort:
	// the caller logs and continues on error, so transient submission
	// failures never propagate into the capture path.
	SubmitAudio(chunk []byte) error

	// UpdateSession applies upd to the live session.
	UpdateSession(ctx context.Context, upd SessionUpdate) error

	// CreateResponse asks the model to generate a response turn. A non-empty
	// forced utterance constrains the turn to speak exactly that text
	// (used for agent greetings).
	CreateResponse(ctx context.Context, forcedUtterance string) error

	// CancelResponse aborts the in-flight model generation, if any.
	CancelResponse(ctx context.Context) error

	// SubmitToolOutput returns a structured tool result to the model, keyed
	// by the originating call identifier.
	SubmitToolOutput(ctx context.Context, callID string, payload map[string]any) error

	// AppendConversationItem inserts a text item into the conversation
	// without triggering a response (e.g., a hand-off notification).
	AppendConversationItem(ctx context.Context, role, text string) error

	// Events returns the inbound event stream. The channel is closed when
	// the session ends; call [Conn.Err] afterwards to distinguish a clean
	// close from a transport failure.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it is
	// still open or ended cleanly.
	Err() error

	// Close terminates the session and closes the Events channel.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Dialer establishes realtime sessions. Implementations wrap one model
// backend (OpenAI Realtime, a test double, …).
type Dialer interface {
	// Dial opens a new session. The returned Conn is ready to accept audio.
	// The caller owns the Conn and is responsible for calling Close.
	Dial(ctx context.Context) (Conn, error)
}
