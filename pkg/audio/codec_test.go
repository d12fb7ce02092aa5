package audio_test

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

func TestTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	inputs := [][]byte{nil, {}, {0}, {0xff, 0x00}, []byte("hello")}
	for range 64 {
		b := make([]byte, rng.IntN(8192))
		for i := range b {
			b[i] = byte(rng.UintN(256))
		}
		inputs = append(inputs, b)
	}

	for i, in := range inputs {
		got, err := audio.DecodeTransport(audio.EncodeTransport(in))
		if err != nil {
			t.Fatalf("input %d: DecodeTransport: %v", i, err)
		}
		if !bytes.Equal(got, in) {
			t.Errorf("input %d: round trip mismatch (len %d vs %d)", i, len(got), len(in))
		}
	}
}

func TestDecodeTransport_Malformed(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeTransport("AAA*")
	if err == nil {
		t.Fatal("expected error for malformed input")
	}
	if !errors.Is(err, audio.ErrDecode) {
		t.Errorf("errors.Is(err, ErrDecode) = false, err = %v", err)
	}
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("errors.As(*DecodeError) = false, err = %T", err)
	}
	if de.Offset != 3 {
		t.Errorf("Offset = %d, want 3", de.Offset)
	}
}

func TestFloatToInt16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{2, 32767},
		{-7.5, -32768},
		{float32(math.Inf(1)), 32767},
		{float32(math.Inf(-1)), -32768},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := audio.FloatToInt16(tt.in); got != tt.want {
			t.Errorf("FloatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFloatToInt16_AlwaysInRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	for range 10000 {
		f := float32((rng.Float64() - 0.5) * 1e6)
		got := int(audio.FloatToInt16(f))
		if got < -32768 || got > 32767 {
			t.Fatalf("FloatToInt16(%v) = %d out of range", f, got)
		}
		if f > 1 && got != 32767 {
			t.Fatalf("FloatToInt16(%v) = %d, want clamp to 32767", f, got)
		}
		if f < -1 && got != -32768 {
			t.Fatalf("FloatToInt16(%v) = %d, want clamp to -32768", f, got)
		}
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.25, 0.999, -1}
	out, err := audio.DecodePCM16(audio.EncodePCM16(in))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if d := math.Abs(float64(out[i] - in[i])); d > 1.0/16384 {
			t.Errorf("sample %d: got %v, want ~%v", i, out[i], in[i])
		}
	}
}

func TestPCM16ToFloat_Divisor(t *testing.T) {
	t.Parallel()

	// 0x8000 = -32768, 0x4000 = 16384 (little-endian).
	got, err := audio.PCM16ToFloat([]byte{0x00, 0x80, 0x00, 0x40})
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	if got[0] != -1 || got[1] != 0.5 {
		t.Errorf("got %v, want [-1 0.5]", got)
	}
}

func TestPCM16ToFloat_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.PCM16ToFloat([]byte{1, 2, 3})
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("want *DecodeError, got %v", err)
	}
	if de.Offset != 2 {
		t.Errorf("Offset = %d, want 2", de.Offset)
	}
}

func TestFloat32LE_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, -1, 0.125, float32(math.SmallestNonzeroFloat32)}
	buf := make([]byte, len(in)*4)
	if n := audio.Float32LE(buf, in); n != len(buf) {
		t.Fatalf("Float32LE wrote %d bytes, want %d", n, len(buf))
	}
	got := audio.BytesToFloat32LE(buf)
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], in[i])
		}
	}
}
