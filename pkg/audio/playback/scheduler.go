// Package playback schedules received speech chunks for gapless output.
//
// A [Scheduler] places each chunk at max(clock now, end of previous chunk)
// on a monotonic audio clock measured in output samples. Chunks are assumed
// to arrive in production order; nothing is reordered or deduplicated, and
// the cursor never moves backwards.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

// ErrClosed is returned when scheduling onto a closed output.
var ErrClosed = errors.New("playback: output closed")

// Clock is the output device's audio clock.
type Clock interface {
	// Position returns the number of samples rendered so far. It never
	// decreases.
	Position() int64
}

// Sink accepts decoded buffers placed on the clock.
type Sink interface {
	// Schedule plays samples starting at clock position start, or at the
	// current position if the clock already passed start. It returns the
	// position the buffer was placed at.
	Schedule(start int64, samples []float32) (int64, error)
}

// Output is an open audio output: its clock, its sink and the output
// context released by Close.
type Output interface {
	Clock
	Sink
	Close() error
}

// OpenFunc opens an [Output] at the given sample rate.
type OpenFunc func(sampleRate int) (Output, error)

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithDecodeErrorHandler registers fn to be called for every chunk dropped
// because it could not be decoded.
func WithDecodeErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onDecodeError = fn
	}
}

// WithScheduledHandler registers fn to be called after each chunk is placed,
// with its start position and length in samples.
func WithScheduledHandler(fn func(start, samples int64)) Option {
	return func(s *Scheduler) {
		s.onScheduled = fn
	}
}

// Scheduler assigns start times to chunks. It is safe for concurrent use,
// but concurrent Enqueue calls are ordered only by lock acquisition.
type Scheduler struct {
	clock Clock
	sink  Sink
	rate  int

	onDecodeError func(error)
	onScheduled   func(start, samples int64)

	mu        sync.Mutex
	nextStart int64
}

// NewScheduler returns a Scheduler for chunks at sampleRate, placing them on
// sink against clock. The cursor starts at zero.
func NewScheduler(clock Clock, sink Sink, sampleRate int, opts ...Option) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = audio.PlaybackSampleRate
	}
	s := &Scheduler{clock: clock, sink: sink, rate: sampleRate}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes a transport-encoded 16-bit PCM chunk and schedules it at
// max(clock now, NextStart), then advances the cursor by the chunk's length.
// It returns the start position in samples. A chunk that fails to decode is
// logged and dropped; the cursor is left untouched.
func (s *Scheduler) Enqueue(chunk string) (int64, error) {
	samples, err := audio.DecodePCM16(chunk)
	if err != nil {
		slog.Warn("playback: dropping undecodable chunk", "bytes", len(chunk), "err", err)
		if s.onDecodeError != nil {
			s.onDecodeError(err)
		}
		return 0, err
	}
	return s.EnqueueSamples(samples)
}

// EnqueueSamples schedules already decoded samples with the same rule as
// [Scheduler.Enqueue]. Empty input schedules nothing and returns NextStart.
func (s *Scheduler) EnqueueSamples(samples []float32) (int64, error) {
	n := int64(len(samples))

	s.mu.Lock()
	if n == 0 {
		next := s.nextStart
		s.mu.Unlock()
		return next, nil
	}
	start := max(s.clock.Position(), s.nextStart)
	// The device may render between Position and Schedule; the sink
	// reports where the chunk really landed. Scheduling under the lock
	// keeps chunks in cursor order.
	placed, err := s.sink.Schedule(start, samples)
	if err == nil {
		start = placed
	}
	s.nextStart = start + n
	s.mu.Unlock()

	if err != nil {
		return start, fmt.Errorf("playback: schedule: %w", err)
	}
	if s.onScheduled != nil {
		s.onScheduled(start, n)
	}
	return start, nil
}

// NextStart returns the cursor: the clock position at which the next chunk
// will start unless the clock has already passed it.
func (s *Scheduler) NextStart() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Buffered returns how much scheduled audio has not been rendered yet.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	ahead := s.nextStart - s.clock.Position()
	s.mu.Unlock()
	if ahead <= 0 {
		return 0
	}
	return audio.SamplesDuration(int(ahead), s.rate)
}

// SampleRate returns the rate chunks are interpreted at.
func (s *Scheduler) SampleRate() int { return s.rate }
