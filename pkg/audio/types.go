// Package audio defines the frame type, the bounded frame queue, and the
// device collaborator contract used by the voicelane audio pipeline.
//
// The two primary abstractions are:
//
//   - [Device] — opens capture/playback handles on local audio hardware.
//   - [FrameQueue] — a fixed-capacity, single-producer/single-consumer FIFO
//     that never blocks its real-time producer: enqueueing on a full queue
//     drops the incoming frame and leaves the queue contents unchanged.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Device].
package audio

import "time"

// Direction tags a frame with the half of the pipeline it belongs to.
type Direction int

const (
	// DirCapture marks frames read from the input device, bound for the model.
	DirCapture Direction = iota

	// DirPlayback marks frames received from the model, bound for the output device.
	DirPlayback
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case DirCapture:
		return "capture"
	case DirPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// Frame is a fixed-size block of PCM samples flowing through the pipeline.
// Frames are immutable once enqueued — neither the queue nor any consumer
// mutates Data after the queue accepts the frame.
type Frame struct {
	// Data is raw PCM. Sample rate and channel count are fixed per pipeline.
	Data []byte

	// SampleRate in Hz (e.g., 24000 for OpenAI Realtime PCM16).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo playback devices.
	Channels int

	// Direction indicates whether the frame is capture- or playback-bound.
	Direction Direction

	// Timestamp marks when this frame was created, relative to stream start.
	Timestamp time.Duration
}
