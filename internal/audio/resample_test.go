package audio

import (
	"math"
	"testing"
)

func TestResampler_StreamMatchesLength(t *testing.T) {
	r := NewResampler(48000, 16000)

	total := 0
	for i := 0; i < 10; i++ {
		frame := make([]float32, 480) // 10ms at 48kHz
		total += len(r.Process(frame))
	}

	if total != 1600 {
		t.Errorf("Expected 1600 output samples for 100ms, got %d", total)
	}
}

func TestResampler_OddFrameSizes(t *testing.T) {
	r := NewResampler(44100, 16000)

	total := 0
	in := 0
	for _, n := range []int{128, 1000, 333, 4096, 7} {
		in += n
		total += len(r.Process(make([]float32, n)))
	}

	expected := float64(in) * 16000 / 44100
	if math.Abs(float64(total)-expected) > 2 {
		t.Errorf("Expected about %.1f output samples, got %d", expected, total)
	}
}

func TestResampler_Downsample(t *testing.T) {
	r := NewResampler(48000, 16000)

	// 0.1 seconds of a 440Hz tone at 48kHz
	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 48000))
	}

	out := r.Process(samples)
	if len(out) != 1600 {
		t.Errorf("Expected 1600 samples, got %d", len(out))
	}
	for i, s := range out {
		if s < -1 || s > 1 {
			t.Fatalf("Sample %d out of range: %v", i, s)
		}
	}
}

func TestResampler_UpsampleInterpolates(t *testing.T) {
	r := NewResampler(8000, 16000)

	out := r.Process([]float32{0, 1})
	if len(out) < 3 {
		t.Fatalf("Expected at least 3 samples, got %d", len(out))
	}
	if out[0] != 0 || out[1] != 0.5 || out[2] != 1 {
		t.Errorf("Unexpected interpolation %v", out)
	}
}

func TestResampler_Passthrough(t *testing.T) {
	r := NewResampler(16000, 16000)
	frame := []float32{0.5, 0.25}
	out := r.Process(frame)
	if len(out) != 2 || out[0] != 0.5 {
		t.Errorf("Expected passthrough, got %v", out)
	}
}
