package playback

import (
	"io"
	"slices"
	"sync"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

type segment struct {
	start   int64
	samples []float32
}

func (s segment) end() int64 { return s.start + int64(len(s.samples)) }

// Timeline is a sample-accurate mono renderer. It is the [Clock] (samples
// rendered so far) and the [Sink] (buffers placed at absolute positions) of
// an output, and an [io.Reader] of float32 little-endian samples for the
// device to pull from. Gaps between buffers render as silence, so the clock
// keeps advancing while nothing is scheduled.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64
	queue   []segment
	scratch []float32
	closed  bool
}

var (
	_ Output    = (*Timeline)(nil)
	_ io.Reader = (*Timeline)(nil)
)

// NewTimeline returns an empty Timeline at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate}
}

// Position implements [Clock].
func (t *Timeline) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Schedule implements [Sink]. A buffer whose start was already rendered is
// moved to the current position instead of being cut.
func (t *Timeline) Schedule(start int64, samples []float32) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return start, ErrClosed
	}
	start = max(start, t.pos)
	if len(samples) == 0 {
		return start, nil
	}
	seg := segment{start: start, samples: samples}
	t.queue = append(t.queue, seg)
	if n := len(t.queue); n > 1 && t.queue[n-2].start > start {
		slices.SortStableFunc(t.queue, func(a, b segment) int {
			switch {
			case a.start < b.start:
				return -1
			case a.start > b.start:
				return 1
			}
			return 0
		})
	}
	return start, nil
}

// Render fills dst with the next len(dst) samples and advances the clock.
// Overlapping buffers are summed.
func (t *Timeline) Render(dst []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderLocked(dst)
}

func (t *Timeline) renderLocked(dst []float32) {
	clear(dst)
	from := t.pos
	to := from + int64(len(dst))

	keep := t.queue[:0]
	for _, seg := range t.queue {
		if seg.start < to {
			lo := max(seg.start, from)
			hi := min(seg.end(), to)
			for i := lo; i < hi; i++ {
				dst[i-from] += seg.samples[i-seg.start]
			}
		}
		if seg.end() > to {
			keep = append(keep, seg)
		}
	}
	clear(t.queue[len(keep):])
	t.queue = keep
	t.pos = to
}

// Read renders float32 little-endian samples into p. It returns io.EOF once
// the timeline is closed.
func (t *Timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	if cap(t.scratch) < frames {
		t.scratch = make([]float32, frames)
	}
	buf := t.scratch[:frames]
	t.renderLocked(buf)
	return audio.Float32LE(p, buf), nil
}

// Pending returns the number of samples scheduled but not yet rendered.
func (t *Timeline) Pending() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, seg := range t.queue {
		n += seg.end() - max(seg.start, t.pos)
	}
	return n
}

// SampleRate returns the rate the timeline renders at.
func (t *Timeline) SampleRate() int { return t.rate }

// Close drops everything scheduled. Later Schedule calls fail with
// [ErrClosed] and Read returns io.EOF. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.queue = nil
	return nil
}
