// Package mock provides test doubles for the realtime package interfaces.
//
// Conn records every operation invoked on it and exposes EventsCh for tests
// to script the inbound event stream. Dialer returns a scripted Conn (or
// error) and counts Dial invocations.
package mock

import (
	"context"
	"sync"

	"github.com/voicelane/voicelane/pkg/realtime"
)

// Compile-time interface assertions.
var (
	_ realtime.Conn   = (*Conn)(nil)
	_ realtime.Dialer = (*Dialer)(nil)
)

// UpdateSessionCall records one UpdateSession invocation.
type UpdateSessionCall struct {
	Update realtime.SessionUpdate
}

// CreateResponseCall records one CreateResponse invocation.
type CreateResponseCall struct {
	ForcedUtterance string
}

// ToolOutputCall records one SubmitToolOutput invocation.
type ToolOutputCall struct {
	CallID  string
	Payload map[string]any
}

// AppendItemCall records one AppendConversationItem invocation.
type AppendItemCall struct {
	Role string
	Text string
}

// Conn is a mock implementation of realtime.Conn.
type Conn struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. Tests write scripted
	// events to it and close it to simulate session end.
	EventsCh chan realtime.Event

	// SubmitAudioCalls records every chunk passed to SubmitAudio.
	SubmitAudioCalls [][]byte

	// UpdateSessionCalls records every UpdateSession invocation.
	UpdateSessionCalls []UpdateSessionCall

	// CreateResponseCalls records every CreateResponse invocation.
	CreateResponseCalls []CreateResponseCall

	// CancelResponseCount counts CancelResponse invocations.
	CancelResponseCount int

	// ToolOutputCalls records every SubmitToolOutput invocation.
	ToolOutputCalls []ToolOutputCall

	// AppendItemCalls records every AppendConversationItem invocation.
	AppendItemCalls []AppendItemCall

	// CloseCalls counts Close invocations.
	CloseCalls int

	// SubmitAudioErr, if non-nil, is returned by every SubmitAudio call.
	SubmitAudioErr error

	// UpdateSessionErr, if non-nil, is returned by every UpdateSession call.
	UpdateSessionErr error

	// CreateResponseErr, if non-nil, is returned by every CreateResponse call.
	CreateResponseErr error

	// CancelResponseErr, if non-nil, is returned by every CancelResponse call.
	CancelResponseErr error

	// ToolOutputErr, if non-nil, is returned by every SubmitToolOutput call.
	ToolOutputErr error

	// AppendItemErr, if non-nil, is returned by every AppendConversationItem call.
	AppendItemErr error

	// ConnErr is returned by Err.
	ConnErr error

	closeOnce sync.Once
}

// NewConn creates a Conn with a buffered event channel.
func NewConn() *Conn {
	return &Conn{EventsCh: make(chan realtime.Event, 64)}
}

// Emit writes ev to the event channel.
func (c *Conn) Emit(ev realtime.Event) {
	c.EventsCh <- ev
}

// SubmitAudio records chunk and returns SubmitAudioErr.
func (c *Conn) SubmitAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.SubmitAudioCalls = append(c.SubmitAudioCalls, cp)
	return c.SubmitAudioErr
}

// UpdateSession records the call and returns UpdateSessionErr.
func (c *Conn) UpdateSession(_ context.Context, upd realtime.SessionUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdateSessionCalls = append(c.UpdateSessionCalls, UpdateSessionCall{Update: upd})
	return c.UpdateSessionErr
}

// CreateResponse records the call and returns CreateResponseErr.
func (c *Conn) CreateResponse(_ context.Context, forcedUtterance string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateResponseCalls = append(c.CreateResponseCalls, CreateResponseCall{ForcedUtterance: forcedUtterance})
	return c.CreateResponseErr
}

// CancelResponse records the call and returns CancelResponseErr.
func (c *Conn) CancelResponse(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CancelResponseCount++
	return c.CancelResponseErr
}

// SubmitToolOutput records the call and returns ToolOutputErr.
func (c *Conn) SubmitToolOutput(_ context.Context, callID string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ToolOutputCalls = append(c.ToolOutputCalls, ToolOutputCall{CallID: callID, Payload: payload})
	return c.ToolOutputErr
}

// AppendConversationItem records the call and returns AppendItemErr.
func (c *Conn) AppendConversationItem(_ context.Context, role, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AppendItemCalls = append(c.AppendItemCalls, AppendItemCall{Role: role, Text: text})
	return c.AppendItemErr
}

// Events returns EventsCh.
func (c *Conn) Events() <-chan realtime.Event { return c.EventsCh }

// Err returns ConnErr.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ConnErr
}

// Close records the call and closes the event channel. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.CloseCalls++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.EventsCh) })
	return nil
}

// ── Snapshot accessors ─────────────────────────────────────────────────────────

// Updates returns a snapshot of UpdateSessionCalls.
func (c *Conn) Updates() []UpdateSessionCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UpdateSessionCall, len(c.UpdateSessionCalls))
	copy(out, c.UpdateSessionCalls)
	return out
}

// Responses returns a snapshot of CreateResponseCalls.
func (c *Conn) Responses() []CreateResponseCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CreateResponseCall, len(c.CreateResponseCalls))
	copy(out, c.CreateResponseCalls)
	return out
}

// ToolOutputs returns a snapshot of ToolOutputCalls.
func (c *Conn) ToolOutputs() []ToolOutputCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolOutputCall, len(c.ToolOutputCalls))
	copy(out, c.ToolOutputCalls)
	return out
}

// AppendedItems returns a snapshot of AppendItemCalls.
func (c *Conn) AppendedItems() []AppendItemCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AppendItemCall, len(c.AppendItemCalls))
	copy(out, c.AppendItemCalls)
	return out
}

// Cancels returns CancelResponseCount.
func (c *Conn) Cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CancelResponseCount
}

// SubmittedAudio returns a snapshot of SubmitAudioCalls.
func (c *Conn) SubmittedAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.SubmitAudioCalls))
	copy(out, c.SubmitAudioCalls)
	return out
}

// Dialer is a mock implementation of realtime.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Conn is returned by Dial. If nil and DialErr is nil, Dial returns a
	// fresh NewConn.
	Conn *Conn

	// DialErr, if non-nil, is returned by every Dial call.
	DialErr error

	// DialCalls counts Dial invocations.
	DialCalls int
}

// Dial records the call and returns Conn, DialErr.
func (d *Dialer) Dial(context.Context) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Conn == nil {
		d.Conn = NewConn()
	}
	return d.Conn, nil
}
