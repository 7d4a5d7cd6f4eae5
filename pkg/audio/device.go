package audio

import "errors"

// ErrDeviceUnavailable is returned by [Device.OpenInput] and
// [Device.OpenOutput] when no device exposing the required channels exists.
// The pipeline treats it as fatal to the affected direction only: the other
// direction, if active, keeps running.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Device is the entry point for local audio hardware. Implementations wrap a
// host audio API or an I/O transport and resolve the default device for each
// direction, falling back to the first device exposing the required channels.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenInput opens the capture device. It returns [ErrDeviceUnavailable]
	// (possibly wrapped) when no input-capable device exists.
	OpenInput() (InputDevice, error)

	// OpenOutput opens the playback device. It returns [ErrDeviceUnavailable]
	// (possibly wrapped) when no output-capable device exists.
	OpenOutput() (OutputDevice, error)
}

// InputDevice is an open capture handle.
//
// Read is expected to be called from a dedicated worker goroutine; it blocks
// until a full frame of n samples is available. Close unblocks a pending Read.
type InputDevice interface {
	// Read blocks until n samples have been captured and returns them as a
	// single capture-bound frame.
	Read(n int) (Frame, error)

	// Close releases the device handle. Safe to call more than once.
	Close() error
}

// OutputDevice is an open playback handle.
//
// Write blocks until the frame has been handed to the device, which preserves
// a steady playback cadence without explicit pacing in the caller.
type OutputDevice interface {
	// Write plays one frame synchronously.
	Write(f Frame) error

	// Close releases the device handle. Safe to call more than once.
	Close() error
}
