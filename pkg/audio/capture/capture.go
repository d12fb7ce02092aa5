// Package capture turns microphone input into a stream of transport-encoded
// 16-bit PCM frames at a fixed target sample rate.
//
// A [Device] acquires the hardware and hands back a [Stream]. The [Pipeline]
// sits on top of a Stream: it downmixes, resamples to the target rate, slices
// the result into fixed-size blocks and delivers each block to a frame
// callback unless muted.
//
// Release is split into the same steps the session teardown performs, in
// order: [Pipeline.StopTracks], [Pipeline.Disconnect], [Pipeline.Close].
// Each is idempotent and safe before anything was acquired.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Acquisition failure categories. Errors returned by [Pipeline.Initialize]
// match exactly one of these with errors.Is.
var (
	// ErrPermissionDenied means the user or the OS refused microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceNotFound means there is no usable input device.
	ErrDeviceNotFound = errors.New("capture: no input device found")

	// ErrDeviceUnavailable means a device exists but could not be opened.
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")

	// ErrNotInitialized is returned by [Pipeline.Start] before a successful
	// [Pipeline.Initialize].
	ErrNotInitialized = errors.New("capture: pipeline not initialized")
)

// Constraints are the processing features requested from the input device.
// Backends apply what the platform supports and ignore the rest.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// DeviceName selects an input device by name. Empty means the default.
	DeviceName string
}

// Device acquires microphone input.
type Device interface {
	// Open acquires the microphone. The returned Stream is live but delivers
	// nothing until [Stream.Connect] is called.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired microphone input together with its processing graph
// and the device context it runs in.
type Stream interface {
	// SampleRate is the native rate of the delivered samples.
	SampleRate() int

	// Channels is the number of interleaved channels in the delivered samples.
	Channels() int

	// Connect attaches fn to the graph. fn receives interleaved float32
	// blocks on the device's goroutine, one call at a time.
	Connect(fn func(samples []float32)) error

	// StopTracks stops the hardware input.
	StopTracks() error

	// Disconnect detaches the callback from the graph.
	Disconnect() error

	// Close releases the input device context.
	Close() error
}

// Classify maps a backend error onto one of the acquisition sentinels. Errors
// that already match a sentinel are returned unchanged; anything else is
// sorted by its message and wrapped, falling back to [ErrDeviceUnavailable].
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "access denied", "not permitted", "not allowed", "notallowed"):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case containsAny(msg, "no device", "device not found", "does not exist", "no such device", "notfound"):
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
