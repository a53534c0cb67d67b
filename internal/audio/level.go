package audio

import (
	"math"
	"sync"
)

// Level smoothing weights: new = old*LevelDecay + rms*(1-LevelDecay)
const LevelDecay = 0.8

// CalculateRMS calculates the root mean square of float samples.
// For samples in [-1, 1] the result is in [0, 1].
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// LevelMeter tracks an exponentially smoothed loudness value
type LevelMeter struct {
	mu    sync.Mutex
	level float64
}

// NewLevelMeter creates a meter starting at silence
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{}
}

// ProcessBlock folds one block's RMS into the level and returns the new level
func (m *LevelMeter) ProcessBlock(samples []float32) float64 {
	return m.Observe(CalculateRMS(samples))
}

// Observe folds a raw loudness sample into the level
func (m *LevelMeter) Observe(rms float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = clampUnit(m.level*LevelDecay + rms*(1-LevelDecay))
	return m.level
}

// Reset drops the level back to silence
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = 0
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
