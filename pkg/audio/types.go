package audio

import (
	"fmt"
	"time"
)

// Rates used on the wire to the live conversation endpoint.
const (
	// CaptureSampleRate is the rate microphone audio is encoded at before it
	// is sent upstream, regardless of the input device's native rate.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of model speech received from the endpoint.
	PlaybackSampleRate = 24000

	// DefaultBlockSize is the number of samples per captured frame.
	DefaultBlockSize = 4096
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders the format as "16000Hz/mono".
func (f Format) String() string {
	ch := "mono"
	switch f.Channels {
	case 1:
	case 2:
		ch = "stereo"
	default:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz/%s", f.SampleRate, ch)
}

// Frame is one captured block of microphone audio, already converted to
// 16-bit little-endian PCM and transport-encoded.
type Frame struct {
	// Data is the transport-encoded PCM payload.
	Data string

	// MIMEType announces the payload format, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// SampleRate of the encoded PCM in Hz.
	SampleRate int

	// Samples is the number of mono samples in the block.
	Samples int

	// Timestamp marks the position of the first sample relative to the
	// start of capture. Muted blocks still advance it.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(f.Samples, f.SampleRate)
}

// PCMMIMEType returns the MIME type of raw 16-bit PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// SamplesDuration converts a sample count at rate into a duration.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}
