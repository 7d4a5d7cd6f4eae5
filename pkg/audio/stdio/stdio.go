// Package stdio implements the audio.Device contract on top of standard
// input and output streams. It exists so voicelane can be driven without a
// native audio backend: pipe raw PCM in from a capture tool (arecord, sox,
// a telephony media fork) and pipe the playback stream out the same way.
//
//	arecord -f S16_LE -r 24000 -c 1 | voicelane | aplay -f S16_LE -r 24000 -c 1
package stdio

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/voicelane/voicelane/pkg/audio"
)

// Compile-time assertions for the audio contracts.
var (
	_ audio.Device       = (*Device)(nil)
	_ audio.InputDevice  = (*input)(nil)
	_ audio.OutputDevice = (*output)(nil)
)

// bytesPerSample is fixed: streams carry 16-bit little-endian PCM.
const bytesPerSample = 2

// Device adapts an io.Reader/io.Writer pair to the audio.Device contract.
// The zero value is not usable; call [New] or [NewStd].
type Device struct {
	r          io.Reader
	w          io.Writer
	sampleRate int
	channels   int
}

// New creates a Device reading capture PCM from r and writing playback PCM
// to w. Either side may be nil, in which case the corresponding Open call
// fails with [audio.ErrDeviceUnavailable].
func New(r io.Reader, w io.Writer, sampleRate, channels int) *Device {
	return &Device{r: r, w: w, sampleRate: sampleRate, channels: channels}
}

// NewStd creates a Device bound to os.Stdin and os.Stdout.
func NewStd(sampleRate, channels int) *Device {
	return New(os.Stdin, os.Stdout, sampleRate, channels)
}

// OpenInput returns a capture handle over the reader side.
func (d *Device) OpenInput() (audio.InputDevice, error) {
	if d.r == nil {
		return nil, fmt.Errorf("stdio: no capture stream: %w", audio.ErrDeviceUnavailable)
	}
	return &input{r: d.r, sampleRate: d.sampleRate, channels: d.channels}, nil
}

// OpenOutput returns a playback handle over the writer side.
func (d *Device) OpenOutput() (audio.OutputDevice, error) {
	if d.w == nil {
		return nil, fmt.Errorf("stdio: no playback stream: %w", audio.ErrDeviceUnavailable)
	}
	return &output{w: d.w}, nil
}

type input struct {
	r          io.Reader
	sampleRate int
	channels   int

	mu     sync.Mutex
	closed bool
}

// Read blocks until n samples have been read from the stream.
func (in *input) Read(n int) (audio.Frame, error) {
	in.mu.Lock()
	closed := in.closed
	in.mu.Unlock()
	if closed {
		return audio.Frame{}, fmt.Errorf("stdio: input closed")
	}

	buf := make([]byte, n*bytesPerSample*in.channels)
	if _, err := io.ReadFull(in.r, buf); err != nil {
		return audio.Frame{}, fmt.Errorf("stdio: read: %w", err)
	}
	return audio.Frame{
		Data:       buf,
		SampleRate: in.sampleRate,
		Channels:   in.channels,
		Direction:  audio.DirCapture,
	}, nil
}

func (in *input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	if c, ok := in.r.(io.Closer); ok {
		_ = c.Close()
	}
	return nil
}

type output struct {
	mu sync.Mutex
	w  io.Writer
}

// Write plays one frame by writing it to the stream synchronously.
func (o *output) Write(f audio.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.w == nil {
		return fmt.Errorf("stdio: output closed")
	}
	if _, err := o.w.Write(f.Data); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}

func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.w.(io.Closer); ok {
		_ = c.Close()
	}
	o.w = nil
	return nil
}
