package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

// Config controls the frames a [Pipeline] produces.
type Config struct {
	// SampleRate is the target rate of encoded frames. Default: 16000.
	SampleRate int

	// BlockSize is the number of target-rate samples per frame. Default: 4096.
	BlockSize int

	// Constraints are passed to the device on acquisition.
	Constraints Constraints
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithBlockObserver registers fn to be called once per completed block with
// whether the block was dropped because the pipeline was muted. It runs on
// the device goroutine and must not block.
func WithBlockObserver(fn func(muted bool)) Option {
	return func(p *Pipeline) {
		p.observe = fn
	}
}

// Pipeline converts a microphone [Stream] into transport-encoded frames.
//
// Initialize, Start, SetMuted and the release methods are safe for
// concurrent use.
type Pipeline struct {
	device  Device
	cfg     Config
	observe func(muted bool)

	initMu sync.Mutex

	mu            sync.Mutex
	stream        Stream
	resampler     *audio.Resampler
	pending       []float32
	produced      int64
	onFrame       func(audio.Frame)
	connected     bool
	tracksStopped bool
	closed        bool

	muted atomic.Bool
}

// New returns a Pipeline reading from device. Zero Config fields take their
// defaults.
func New(device Device, cfg Config, opts ...Option) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = audio.DefaultBlockSize
	}
	p := &Pipeline{device: device, cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initialize acquires the microphone. Calling it again after success is a
// no-op. Failures match [ErrPermissionDenied], [ErrDeviceNotFound] or
// [ErrDeviceUnavailable].
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return fmt.Errorf("%w: pipeline closed", ErrDeviceUnavailable)
	case p.stream != nil:
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	stream, err := p.device.Open(ctx, p.cfg.Constraints)
	if err != nil {
		return Classify(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// Released while we were waiting on the device.
		_ = stream.StopTracks()
		_ = stream.Close()
		return fmt.Errorf("%w: pipeline closed", ErrDeviceUnavailable)
	}
	p.stream = stream
	p.resampler = audio.NewResampler(stream.SampleRate(), p.cfg.SampleRate)
	p.mu.Unlock()

	slog.Debug("capture: microphone acquired",
		"device_rate", stream.SampleRate(),
		"channels", stream.Channels(),
		"target_rate", p.cfg.SampleRate,
		"block_size", p.cfg.BlockSize,
	)
	return nil
}

// Start connects the processing graph and calls onFrame for every completed
// unmuted block, in production order. Calling Start again while running
// only replaces the callback.
func (p *Pipeline) Start(onFrame func(audio.Frame)) error {
	p.mu.Lock()
	if p.stream == nil {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.onFrame = onFrame
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = true
	stream := p.stream
	p.mu.Unlock()

	if err := stream.Connect(p.process); err != nil {
		p.mu.Lock()
		p.connected = false
		p.onFrame = nil
		p.mu.Unlock()
		return fmt.Errorf("capture: start: %w", err)
	}
	return nil
}

// SetMuted controls whether completed blocks are delivered. Muted blocks are
// still captured and advance frame timestamps.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Format is the format of produced frames.
func (p *Pipeline) Format() audio.Format {
	return audio.Format{SampleRate: p.cfg.SampleRate, Channels: 1}
}

func (p *Pipeline) process(samples []float32) {
	p.mu.Lock()
	if !p.connected || p.onFrame == nil || p.stream == nil {
		p.mu.Unlock()
		return
	}

	mono := audio.Downmix(samples, p.stream.Channels())
	p.pending = append(p.pending, p.resampler.Process(mono)...)

	var (
		frames []audio.Frame
		blocks []bool
		off    int
		bs     = p.cfg.BlockSize
		muted  = p.muted.Load()
	)
	for len(p.pending)-off >= bs {
		block := p.pending[off : off+bs]
		ts := audio.SamplesDuration(int(p.produced), p.cfg.SampleRate)
		p.produced += int64(bs)
		off += bs
		blocks = append(blocks, muted)
		if muted {
			continue
		}
		frames = append(frames, audio.Frame{
			Data:       audio.EncodePCM16(block),
			MIMEType:   audio.PCMMIMEType(p.cfg.SampleRate),
			SampleRate: p.cfg.SampleRate,
			Samples:    bs,
			Timestamp:  ts,
		})
	}
	if off > 0 {
		p.pending = append(p.pending[:0], p.pending[off:]...)
	}
	onFrame := p.onFrame
	p.mu.Unlock()

	if p.observe != nil {
		for _, m := range blocks {
			p.observe(m)
		}
	}
	for _, f := range frames {
		onFrame(f)
	}
}

// StopTracks stops the hardware input. It is a no-op when nothing was
// acquired or the tracks are already stopped.
func (p *Pipeline) StopTracks() error {
	p.mu.Lock()
	s := p.stream
	if s == nil || p.tracksStopped {
		p.mu.Unlock()
		return nil
	}
	p.tracksStopped = true
	p.mu.Unlock()

	if err := s.StopTracks(); err != nil {
		return fmt.Errorf("capture: stop tracks: %w", err)
	}
	return nil
}

// Disconnect detaches the frame callback and discards partial blocks. It is a
// no-op when the graph was never connected.
func (p *Pipeline) Disconnect() error {
	p.mu.Lock()
	s := p.stream
	was := p.connected
	p.connected = false
	p.onFrame = nil
	p.pending = nil
	if p.resampler != nil {
		p.resampler.Reset()
	}
	p.mu.Unlock()

	if s == nil || !was {
		return nil
	}
	if err := s.Disconnect(); err != nil {
		return fmt.Errorf("capture: disconnect: %w", err)
	}
	return nil
}

// Close releases the input device context. The pipeline cannot be
// re-initialized afterwards.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connected = false
	p.onFrame = nil
	s := p.stream
	p.stream = nil
	p.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

// Cleanup runs StopTracks, Disconnect and Close in order. Every step runs
// even if an earlier one fails; the failures are joined.
func (p *Pipeline) Cleanup() error {
	return errors.Join(p.StopTracks(), p.Disconnect(), p.Close())
}
