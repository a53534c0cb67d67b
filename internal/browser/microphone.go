package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/lexiqai/live-tutor/internal/capture"
)

const micQueueSize = 64

// ErrFrameDropped is returned by Push when no session is reading or the
// reader has fallen behind
var ErrFrameDropped = errors.New("microphone frame dropped")

// Microphone is a capture.Device fed by media frames from the browser.
// Each Open creates a fresh source; frames pushed while no source is open
// are dropped.
type Microphone struct {
	mu      sync.Mutex
	current *micSource
}

// NewMicrophone creates a microphone with no open source
func NewMicrophone() *Microphone {
	return &Microphone{}
}

// Open waits for the first audio frame, which fixes the source sample rate,
// or for the browser to release the microphone
func (m *Microphone) Open(ctx context.Context) (capture.Source, error) {
	src := &micSource{
		mic:      m,
		frames:   make(chan []float32, micQueueSize),
		ready:    make(chan struct{}),
		released: make(chan struct{}),
		closed:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.current
	m.current = src
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	select {
	case <-src.ready:
		return src, nil
	case <-src.released:
		return src, nil
	case <-ctx.Done():
		src.Close()
		return nil, ctx.Err()
	}
}

// Push hands one frame of mono samples at sampleRate to the open source
func (m *Microphone) Push(samples []float32, sampleRate int) error {
	m.mu.Lock()
	src := m.current
	m.mu.Unlock()

	if src == nil {
		return ErrFrameDropped
	}
	return src.push(samples, sampleRate)
}

// Release ends the open source; its reader sees io.EOF
func (m *Microphone) Release() {
	m.mu.Lock()
	src := m.current
	m.mu.Unlock()

	if src != nil {
		src.release()
	}
}

func (m *Microphone) detach(src *micSource) {
	m.mu.Lock()
	if m.current == src {
		m.current = nil
	}
	m.mu.Unlock()
}

type micSource struct {
	mic    *Microphone
	frames chan []float32

	mu   sync.Mutex
	rate int

	ready       chan struct{}
	readyOnce   sync.Once
	released    chan struct{}
	releaseOnce sync.Once
	closed      chan struct{}
	closeOnce   sync.Once
}

func (s *micSource) push(samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	s.mu.Lock()
	if s.rate == 0 {
		s.rate = sampleRate
	}
	rate := s.rate
	s.mu.Unlock()

	if sampleRate != rate {
		return fmt.Errorf("sample rate changed from %d to %d", rate, sampleRate)
	}
	s.readyOnce.Do(func() { close(s.ready) })

	select {
	case <-s.closed:
		return ErrFrameDropped
	case <-s.released:
		return ErrFrameDropped
	default:
	}

	select {
	case s.frames <- samples:
		return nil
	default:
		return ErrFrameDropped
	}
}

func (s *micSource) release() {
	s.releaseOnce.Do(func() { close(s.released) })
}

// ReadFrame returns queued frames before reporting a release
func (s *micSource) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}

	select {
	case f := <-s.frames:
		return f, nil
	case <-s.released:
		return nil, io.EOF
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *micSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *micSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mic.detach(s)
	})
	return nil
}
