package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

// MalgoDevice captures from the system microphone through miniaudio.
//
// miniaudio has no echo cancellation, noise suppression or gain control, so
// those constraints are reported at debug level and otherwise ignored.
type MalgoDevice struct {
	// PeriodMillis is the requested callback period. Zero picks miniaudio's
	// default.
	PeriodMillis uint32
}

var _ Device = (*MalgoDevice)(nil)

// NewMalgoDevice returns a [Device] backed by the default miniaudio backends.
func NewMalgoDevice() *MalgoDevice {
	return &MalgoDevice{PeriodMillis: 20}
}

// Open initializes a miniaudio context and a mono float32 capture device at
// the device's native rate and starts it.
func (d *MalgoDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		slog.Debug("capture: malgo backend captures raw input; platform processing not applied",
			"echo_cancellation", c.EchoCancellation,
			"noise_suppression", c.NoiseSuppression,
			"auto_gain_control", c.AutoGainControl,
		)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %w", ErrDeviceUnavailable, err)
	}
	release := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		release()
		return nil, Classify(fmt.Errorf("enumerate capture devices: %w", err))
	}
	if len(infos) == 0 {
		release()
		return nil, ErrDeviceNotFound
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = 0
	cfg.PeriodSizeInMilliseconds = d.PeriodMillis

	if c.DeviceName != "" {
		var found bool
		for _, info := range infos {
			if strings.EqualFold(info.Name(), c.DeviceName) {
				cfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			release()
			return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, c.DeviceName)
		}
	}

	s := &malgoStream{ctx: mctx}
	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		release()
		return nil, Classify(fmt.Errorf("init capture device: %w", err))
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		release()
		return nil, Classify(fmt.Errorf("start capture device: %w", err))
	}
	return s, nil
}

// malgoStream is a running miniaudio capture device.
type malgoStream struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	sink atomic.Pointer[func([]float32)]

	stopOnce  sync.Once
	closeOnce sync.Once
}

func (s *malgoStream) SampleRate() int { return int(s.dev.SampleRate()) }

func (s *malgoStream) Channels() int {
	if ch := int(s.dev.CaptureChannels()); ch > 0 {
		return ch
	}
	return 1
}

func (s *malgoStream) Connect(fn func([]float32)) error {
	if fn == nil {
		return errors.New("capture: nil callback")
	}
	s.sink.Store(&fn)
	return nil
}

func (s *malgoStream) Disconnect() error {
	s.sink.Store(nil)
	return nil
}

func (s *malgoStream) StopTracks() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.dev.Stop()
	})
	return err
}

func (s *malgoStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.StopTracks()
		s.dev.Uninit()
		err = s.ctx.Uninit()
		s.ctx.Free()
	})
	return err
}

func (s *malgoStream) onData(_, input []byte, _ uint32) {
	fn := s.sink.Load()
	if fn == nil || len(input) == 0 {
		return
	}
	(*fn)(audio.BytesToFloat32LE(input))
}
