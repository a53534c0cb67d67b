package audio

import (
	"sync"
)

// SampleRing is a thread-safe ring buffer of float samples used to re-block
// arbitrarily sized capture frames into fixed-size chunks
type SampleRing struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewSampleRing creates a ring able to hold size-1 samples
func NewSampleRing(size int) *SampleRing {
	if size < 2 {
		size = 2
	}
	return &SampleRing{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write writes samples to the ring
// Returns the number of samples written (may be less than len(data) if the ring is full)
func (rb *SampleRing) Write(data []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for i := 0; i < len(data); i++ {
		if (rb.write+1)%rb.size == rb.read {
			break // Ring full
		}

		rb.buffer[rb.write] = data[i]
		rb.write = (rb.write + 1) % rb.size
		written++
	}

	return written
}

// ReadBlock reads exactly n samples, or nothing if fewer are buffered
func (rb *SampleRing) ReadBlock(n int) ([]float32, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if n <= 0 || rb.availableLocked() < n {
		return nil, false
	}

	block := make([]float32, n)
	for i := range block {
		block[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
	}
	return block, true
}

// Available returns the number of samples available to read
func (rb *SampleRing) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

func (rb *SampleRing) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}
