// Package mock provides test doubles for the audio package interfaces.
//
// Use Device to script which handles OpenInput/OpenOutput return, Input to
// feed controlled capture frames (or read errors) into a pipeline, and
// Output to inspect everything the pipeline played.
//
// Example:
//
//	in := mock.NewInput(8)
//	in.Feed([]byte{1, 2, 3, 4})
//	dev := &mock.Device{Input: in, Output: mock.NewOutput()}
package mock

import (
	"errors"
	"sync"

	"github.com/voicelane/voicelane/pkg/audio"
)

// Device is a mock implementation of audio.Device.
type Device struct {
	mu sync.Mutex

	// Input is the handle returned by OpenInput. If nil and OpenInputErr is
	// nil, OpenInput returns a new empty Input.
	Input *Input

	// Output is the handle returned by OpenOutput. If nil and OpenOutputErr
	// is nil, OpenOutput returns a new Output.
	Output *Output

	// OpenInputErr, if non-nil, is returned by every OpenInput call.
	OpenInputErr error

	// OpenOutputErr, if non-nil, is returned by every OpenOutput call.
	OpenOutputErr error

	// OpenInputCalls counts OpenInput invocations.
	OpenInputCalls int

	// OpenOutputCalls counts OpenOutput invocations.
	OpenOutputCalls int
}

// OpenInput records the call and returns Input, OpenInputErr.
func (d *Device) OpenInput() (audio.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenInputCalls++
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	if d.Input == nil {
		d.Input = NewInput(0)
	}
	return d.Input, nil
}

// OpenOutput records the call and returns Output, OpenOutputErr.
func (d *Device) OpenOutput() (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenOutputCalls++
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	if d.Output == nil {
		d.Output = NewOutput()
	}
	return d.Output, nil
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)

// Input is a mock implementation of audio.InputDevice. Read blocks on an
// internal channel fed by [Input.Feed] and [Input.FeedErr]; Close unblocks
// any pending Read.
type Input struct {
	frames chan readResult

	mu     sync.Mutex
	closed bool

	// ReadCalls counts Read invocations.
	ReadCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

type readResult struct {
	data []byte
	err  error
}

// NewInput creates an Input that can buffer up to n pending reads.
func NewInput(n int) *Input {
	if n < 1 {
		n = 16
	}
	return &Input{frames: make(chan readResult, n)}
}

// Feed queues one chunk of PCM to be returned by a future Read.
func (in *Input) Feed(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	in.frames <- readResult{data: cp}
}

// FeedErr queues an error to be returned by a future Read.
func (in *Input) FeedErr(err error) {
	in.frames <- readResult{err: err}
}

// Read blocks until a fed chunk or error is available, or the input is closed.
func (in *Input) Read(n int) (audio.Frame, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return audio.Frame{}, errors.New("mock: input closed")
	}
	in.ReadCalls++
	in.mu.Unlock()

	r, ok := <-in.frames
	if !ok {
		return audio.Frame{}, errors.New("mock: input closed")
	}
	if r.err != nil {
		return audio.Frame{}, r.err
	}
	return audio.Frame{Data: r.data, Direction: audio.DirCapture}, nil
}

// Close marks the input closed and unblocks pending reads. Idempotent.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CloseCalls++
	if !in.closed {
		in.closed = true
		close(in.frames)
	}
	return nil
}

// Ensure Input implements audio.InputDevice at compile time.
var _ audio.InputDevice = (*Input)(nil)

// Output is a mock implementation of audio.OutputDevice. Every written frame
// is recorded and can be inspected with [Output.Written].
type Output struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// CloseCalls counts Close invocations.
	CloseCalls int

	written []audio.Frame
}

// NewOutput creates an empty Output.
func NewOutput() *Output {
	return &Output{}
}

// Write records f and returns WriteErr.
func (o *Output) Write(f audio.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.WriteErr != nil {
		return o.WriteErr
	}
	o.written = append(o.written, f)
	return nil
}

// Written returns a snapshot of all frames written so far.
func (o *Output) Written() []audio.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]audio.Frame, len(o.written))
	copy(out, o.written)
	return out
}

// Close records the call. Idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCalls++
	return nil
}

// Ensure Output implements audio.OutputDevice at compile time.
var _ audio.OutputDevice = (*Output)(nil)
