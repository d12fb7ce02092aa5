package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

func TestResampler_Passthrough(t *testing.T) {
	t.Parallel()

	r := audio.NewResampler(16000, 16000)
	in := []float32{0.1, 0.2, 0.3}
	out := r.Process(in)
	if len(out) != 3 || out[2] != 0.3 {
		t.Fatalf("got %v, want copy of input", out)
	}
	out[0] = 9
	if in[0] != 0.1 {
		t.Error("Process returned the input slice, want a copy")
	}
}

func TestResampler_StreamLengthTracksRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to int
		blocks   []int
	}{
		{48000, 16000, []int{480, 480, 480, 480}},
		{44100, 16000, []int{441, 1000, 17, 4096, 3}},
		{8000, 16000, []int{160, 160, 1}},
	}
	for _, tt := range tests {
		r := audio.NewResampler(tt.from, tt.to)
		var total, got int
		for _, n := range tt.blocks {
			got += len(r.Process(make([]float32, n)))
			total += n
		}
		want := float64(total) * float64(tt.to) / float64(tt.from)
		if math.Abs(float64(got)-want) > 1.5 {
			t.Errorf("%d->%d over %d samples: got %d outputs, want ~%.1f", tt.from, tt.to, total, got, want)
		}
	}
}

func TestResampler_BlockSplitInvariant(t *testing.T) {
	t.Parallel()

	signal := make([]float32, 3000)
	for i := range signal {
		signal[i] = float32(math.Sin(float64(i) / 20))
	}

	whole := audio.NewResampler(48000, 16000).Process(signal)

	split := audio.NewResampler(48000, 16000)
	var pieces []float32
	for start := 0; start < len(signal); start += 701 {
		end := min(start+701, len(signal))
		pieces = append(pieces, split.Process(signal[start:end])...)
	}

	if len(pieces) != len(whole) {
		t.Fatalf("split output len %d, whole output len %d", len(pieces), len(whole))
	}
	for i := range whole {
		if math.Abs(float64(pieces[i]-whole[i])) > 1e-5 {
			t.Fatalf("sample %d: split %v, whole %v", i, pieces[i], whole[i])
		}
	}
}

func TestResampler_ConstantSignal(t *testing.T) {
	t.Parallel()

	r := audio.NewResampler(48000, 16000)
	in := make([]float32, 960)
	for i := range in {
		in[i] = 0.5
	}
	for i, s := range r.Process(in) {
		if s != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, s)
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	got := audio.Downmix([]float32{0.2, 0.4, -1, 1}, 2)
	want := []float32{0.3, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{SampleRate: 16000, Samples: 4096}
	if got, want := f.Duration().Milliseconds(), int64(256); got != want {
		t.Errorf("Duration = %dms, want %dms", got, want)
	}
	if got := audio.PCMMIMEType(16000); got != "audio/pcm;rate=16000" {
		t.Errorf("PCMMIMEType = %q", got)
	}
}
