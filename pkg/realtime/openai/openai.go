// Package openai implements the realtime.Dialer and realtime.Conn contracts
// for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as base64-encoded PCM16 chunks. Inbound wire events are
// decoded once, at this boundary, into the closed [realtime.Event] union —
// string-typed dispatch never leaks past this package.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voicelane/voicelane/pkg/realtime"
)

// Compile-time assertions that Dialer and conn satisfy the realtime interfaces.
var (
	_ realtime.Dialer = (*Dialer)(nil)
	_ realtime.Conn   = (*conn)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// eventBuf is the buffer depth of the inbound event channel. Audio deltas
	// dominate the stream; the router must drain promptly regardless.
	eventBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements realtime.Dialer for OpenAI's Realtime API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial establishes a new Realtime session. The returned connection is ready
// to accept audio immediately.
func (d *Dialer) Dial(ctx context.Context) (realtime.Conn, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		events: make(chan realtime.Event, eventBuf),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	go c.receiveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Tools             []oaiTool      `json:"tools,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createResponseMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done (field name differs per event)
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws     *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events so
	// response.audio_transcript.done can carry the full utterance even when
	// the wire event omits the transcript field.
	currentTxText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrConnClosed
	}
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads wire events, maps them onto the realtime.Event union,
// and forwards them. It owns c.events: it closes the channel when it exits.
func (c *conn) receiveLoop() {
	defer c.closeOnce.Do(func() { close(c.events) })

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if mapped, ok := c.mapServerEvent(&evt); ok {
			c.emit(mapped)
		}
	}
}

// mapServerEvent translates one wire event into the closed event union.
// Unknown wire types are dropped here; everything past this boundary is
// a typed EventKind.
func (c *conn) mapServerEvent(evt *serverEvent) (realtime.Event, bool) {
	switch evt.Type {
	case "session.created":
		return realtime.Event{Kind: realtime.KindSessionReady}, true

	case "input_audio_buffer.speech_started":
		return realtime.Event{Kind: realtime.KindSpeechStarted}, true

	case "input_audio_buffer.speech_stopped":
		return realtime.Event{Kind: realtime.KindSpeechStopped}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return realtime.Event{}, false
		}
		return realtime.Event{
			Kind:       realtime.KindInputTranscriptCompleted,
			Transcript: evt.Transcript,
		}, true

	case "response.audio.delta":
		if evt.Delta == "" {
			return realtime.Event{}, false
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return realtime.Event{}, false
		}
		return realtime.Event{Kind: realtime.KindAudioDelta, Audio: pcm}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return realtime.Event{}, false
		}
		c.mu.Lock()
		c.currentTxText += evt.Delta
		c.mu.Unlock()
		return realtime.Event{
			Kind:       realtime.KindOutputTranscriptDelta,
			Transcript: evt.Delta,
		}, true

	case "response.audio_transcript.done":
		c.mu.Lock()
		text := c.currentTxText
		c.currentTxText = ""
		c.mu.Unlock()
		if evt.Transcript != "" {
			text = evt.Transcript
		}
		return realtime.Event{
			Kind:       realtime.KindOutputTranscriptDone,
			Transcript: text,
		}, true

	case "response.function_call_arguments.done":
		return realtime.Event{
			Kind: realtime.KindToolCallArgumentsDone,
			ToolCall: &realtime.ToolCall{
				CallID:    evt.CallID,
				Name:      evt.Name,
				Arguments: evt.Arguments,
			},
		}, true

	case "response.done":
		return realtime.Event{Kind: realtime.KindResponseDone}, true

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return realtime.Event{
			Kind: realtime.KindError,
			Err:  fmt.Errorf("openai: %s", msg),
		}, true
	}

	return realtime.Event{}, false
}

// emit forwards ev unless the session is shutting down.
func (c *conn) emit(ev realtime.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

// ── Conn methods ───────────────────────────────────────────────────────────────

// SubmitAudio delivers one raw PCM16 chunk to the model.
func (c *conn) SubmitAudio(chunk []byte) error {
	encoded := base64.StdEncoding.EncodeToString(chunk)
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// UpdateSession applies upd by sending a session.update event.
func (c *conn) UpdateSession(ctx context.Context, upd realtime.SessionUpdate) error {
	params := sessionParams{
		Modalities:        upd.Modalities,
		Voice:             upd.Voice,
		Instructions:      upd.Instructions,
		ToolChoice:        upd.ToolChoice,
		InputAudioFormat:  upd.InputAudioFormat,
		OutputAudioFormat: upd.OutputAudioFormat,
	}
	if len(upd.Tools) > 0 {
		params.Tools = toOAITools(upd.Tools)
	}
	if upd.VAD != nil {
		params.TurnDetection = &turnDetection{
			Type:              "server_vad",
			Threshold:         upd.VAD.Threshold,
			PrefixPaddingMs:   upd.VAD.PrefixPaddingMs,
			SilenceDurationMs: upd.VAD.SilenceDurationMs,
		}
	}
	return c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// CreateResponse triggers a model response turn, optionally forcing the
// exact utterance to speak.
func (c *conn) CreateResponse(_ context.Context, forcedUtterance string) error {
	msg := createResponseMessage{Type: "response.create"}
	if forcedUtterance != "" {
		msg.Response = &responseParams{
			Instructions: fmt.Sprintf("Say exactly the following, verbatim: %q", forcedUtterance),
		}
	}
	return c.writeJSON(msg)
}

// CancelResponse sends a response.cancel event to stop the current response.
func (c *conn) CancelResponse(_ context.Context) error {
	return c.writeJSON(map[string]string{"type": "response.cancel"})
}

// SubmitToolOutput returns a structured tool result keyed by callID.
func (c *conn) SubmitToolOutput(_ context.Context, callID string, payload map[string]any) error {
	output, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: marshal tool output: %w", err)
	}
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(output),
		},
	})
}

// AppendConversationItem inserts a text message into the conversation.
func (c *conn) AppendConversationItem(_ context.Context, role, text string) error {
	// The Realtime API accepts "user", "assistant", and "system" roles.
	// Unknown roles are coerced to "user".
	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: role,
			Content: []conversationPart{
				{Type: partType, Text: text},
			},
		},
	})
}

// Events returns the inbound event stream.
func (c *conn) Events() <-chan realtime.Event { return c.events }

// Err returns the first error that terminated the session.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// toOAITools converts realtime.ToolDefinition values to the wire tool format.
func toOAITools(tools []realtime.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}
