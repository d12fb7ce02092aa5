// Package mock provides a manual-clock implementation of [playback.Output]
// for unit tests.
package mock

import (
	"sync"

	"github.com/MrWong99/lexicoach/pkg/audio/playback"
)

// Chunk is one recorded Schedule call.
type Chunk struct {
	Start   int64
	Samples []float32
}

// Output is a mock [playback.Output] whose clock only moves when the test
// calls Advance or SetPosition. It is safe for concurrent use.
type Output struct {
	mu sync.Mutex

	// ScheduleErr is returned by Schedule.
	ScheduleErr error

	// CloseErr is returned by Close.
	CloseErr error

	// OnClose runs inside Close.
	OnClose func()

	pos        int64
	chunks     []Chunk
	closeCalls int
}

var _ playback.Output = (*Output)(nil)

// Position implements [playback.Clock].
func (o *Output) Position() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pos
}

// Schedule implements [playback.Sink]. Like a real output it places a late
// buffer at the current position.
func (o *Output) Schedule(start int64, samples []float32) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return start, o.ScheduleErr
	}
	start = max(start, o.pos)
	o.chunks = append(o.chunks, Chunk{Start: start, Samples: samples})
	return start, nil
}

// Close implements [playback.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	o.closeCalls++
	hook := o.OnClose
	err := o.CloseErr
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Advance moves the clock forward by n samples.
func (o *Output) Advance(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos += n
}

// SetPosition moves the clock to pos. Tests must not move it backwards.
func (o *Output) SetPosition(pos int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pos = pos
}

// Chunks returns a copy of every recorded Schedule call.
func (o *Output) Chunks() []Chunk {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Chunk, len(o.chunks))
	copy(out, o.chunks)
	return out
}

// CloseCalls returns the number of Close calls.
func (o *Output) CloseCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeCalls
}

// Opener returns a [playback.OpenFunc] that always yields o.
func (o *Output) Opener() playback.OpenFunc {
	return func(int) (playback.Output, error) { return o, nil }
}
