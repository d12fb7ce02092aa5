package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process, and its sample rate is fixed on
// creation. Outputs share it; each gets its own player.
var (
	otoMu   sync.Mutex
	otoCtx  *oto.Context
	otoRate int
)

func otoContext(sampleRate int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoRate != sampleRate {
			return nil, fmt.Errorf("playback: output already running at %d Hz, cannot open at %d Hz", otoRate, sampleRate)
		}
		return otoCtx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   80 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	<-ready
	otoCtx, otoRate = ctx, sampleRate
	return ctx, nil
}

// OtoOutput plays a [Timeline] through the system speaker.
type OtoOutput struct {
	*Timeline
	player *oto.Player

	closeOnce sync.Once
	closeErr  error
}

var _ Output = (*OtoOutput)(nil)

// OpenOto is an [OpenFunc] that starts a player pulling from a fresh
// Timeline at sampleRate.
func OpenOto(sampleRate int) (Output, error) {
	ctx, err := otoContext(sampleRate)
	if err != nil {
		return nil, err
	}
	tl := NewTimeline(sampleRate)
	player := ctx.NewPlayer(tl)
	player.Play()
	return &OtoOutput{Timeline: tl, player: player}, nil
}

// Close stops the player and closes the timeline. It is idempotent.
func (o *OtoOutput) Close() error {
	o.closeOnce.Do(func() {
		o.player.Pause()
		_ = o.Timeline.Close()
		if err := o.player.Close(); err != nil {
			o.closeErr = fmt.Errorf("playback: close player: %w", err)
		}
	})
	return o.closeErr
}
