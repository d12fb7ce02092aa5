// Package mock provides in-memory implementations of [capture.Device] and
// [capture.Stream] for unit tests.
//
// Both mocks are safe for concurrent use. Set the exported error fields
// before use; inspect the call counters after.
//
// Typical usage:
//
//	stream := &mock.Stream{Rate: 48000, Chans: 1}
//	dev := &mock.Device{Stream: stream}
//	p := capture.New(dev, capture.Config{})
//	_ = p.Initialize(ctx)
//	_ = p.Start(onFrame)
//	stream.Push(samples)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexicoach/pkg/audio/capture"
)

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock [capture.Device].
type Device struct {
	mu sync.Mutex

	// Stream is returned by Open when OpenErr is nil. A fresh 16 kHz mono
	// Stream is created if left nil.
	Stream *Stream

	// OpenErr is returned by Open.
	OpenErr error

	// Gate, when non-nil, makes Open block until it is closed or ctx is done.
	Gate chan struct{}

	openCalls   int
	constraints []capture.Constraints
}

var _ capture.Device = (*Device)(nil)

// Open implements [capture.Device].
func (d *Device) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	d.openCalls++
	d.constraints = append(d.constraints, c)
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = &Stream{Rate: 16000, Chans: 1}
	}
	return d.Stream, nil
}

// OpenCalls returns how many times Open was called.
func (d *Device) OpenCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCalls
}

// Constraints returns the constraints passed to every Open call.
func (d *Device) Constraints() []capture.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]capture.Constraints, len(d.constraints))
	copy(out, d.constraints)
	return out
}

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock [capture.Stream]. Push delivers samples to the connected
// callback synchronously.
type Stream struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// Chans is returned by Channels. Zero means mono.
	Chans int

	// ConnectErr, StopTracksErr, DisconnectErr and CloseErr are returned by
	// the corresponding methods.
	ConnectErr    error
	StopTracksErr error
	DisconnectErr error
	CloseErr      error

	// OnStopTracks, OnDisconnect and OnClose run inside the corresponding
	// method, before the error is returned. Tests use them to record order.
	OnStopTracks func()
	OnDisconnect func()
	OnClose      func()

	sink            func([]float32)
	connectCalls    int
	stopTracksCalls int
	disconnectCalls int
	closeCalls      int
}

var _ capture.Stream = (*Stream)(nil)

// SampleRate implements [capture.Stream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Channels implements [capture.Stream].
func (s *Stream) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Chans <= 0 {
		return 1
	}
	return s.Chans
}

// Connect implements [capture.Stream].
func (s *Stream) Connect(fn func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectCalls++
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.sink = fn
	return nil
}

// StopTracks implements [capture.Stream].
func (s *Stream) StopTracks() error {
	s.mu.Lock()
	s.stopTracksCalls++
	hook := s.OnStopTracks
	err := s.StopTracksErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Disconnect implements [capture.Stream].
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	s.disconnectCalls++
	s.sink = nil
	hook := s.OnDisconnect
	err := s.DisconnectErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Close implements [capture.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.sink = nil
	hook := s.OnClose
	err := s.CloseErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Push delivers samples to the connected callback, if any, and reports
// whether a callback was connected.
func (s *Stream) Push(samples []float32) bool {
	s.mu.Lock()
	fn := s.sink
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

// ConnectCalls returns the number of Connect calls.
func (s *Stream) ConnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCalls
}

// StopTracksCalls returns the number of StopTracks calls.
func (s *Stream) StopTracksCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopTracksCalls
}

// DisconnectCalls returns the number of Disconnect calls.
func (s *Stream) DisconnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectCalls
}

// CloseCalls returns the number of Close calls.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
