package browser

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/lexiqai/live-tutor/internal/capture"
)

func openAsync(m *Microphone, ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		_, err := m.Open(ctx)
		result <- err
	}()
	return result
}

func TestMicrophone_PushWithoutSource(t *testing.T) {
	m := NewMicrophone()
	if err := m.Push([]float32{0}, 16000); !errors.Is(err, ErrFrameDropped) {
		t.Errorf("Expected ErrFrameDropped, got %v", err)
	}
}

func TestMicrophone_OpenWaitsForFirstFrame(t *testing.T) {
	m := NewMicrophone()
	ctx := context.Background()

	opened := make(chan struct{})
	var src capture.Source
	go func() {
		s, err := m.Open(ctx)
		if err != nil {
			t.Errorf("Open failed: %v", err)
		}
		src = s
		close(opened)
	}()

	// Retry until Open has registered its source
	deadline := time.Now().Add(2 * time.Second)
	for m.Push([]float32{0.1, 0.2}, 48000) != nil {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for Open")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after first frame")
	}
	if src == nil {
		t.Fatal("Expected a source")
	}
	if src.SampleRate() != 48000 {
		t.Errorf("Expected rate 48000, got %d", src.SampleRate())
	}

	frame, err := src.ReadFrame(ctx)
	if err != nil || len(frame) != 2 {
		t.Errorf("Expected 2-sample frame, got %v (%v)", frame, err)
	}

	if err := m.Push([]float32{0}, 16000); err == nil {
		t.Error("Expected error for a changed sample rate")
	}
}

func TestMicrophone_ReleaseEndsSource(t *testing.T) {
	m := NewMicrophone()
	ctx := context.Background()

	result := make(chan struct{})
	var readErr error
	go func() {
		src, err := m.Open(ctx)
		if err != nil {
			readErr = err
			close(result)
			return
		}
		_, readErr = src.ReadFrame(ctx)
		close(result)
	}()

	// Release is a no-op until Open has registered its source
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.Release()
		select {
		case <-result:
			if !errors.Is(readErr, io.EOF) {
				t.Errorf("Expected io.EOF after release, got %v", readErr)
			}
			return
		case <-time.After(5 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for release")
		}
	}
}

func TestMicrophone_OpenCancelled(t *testing.T) {
	m := NewMicrophone()
	ctx, cancel := context.WithCancel(context.Background())

	result := openAsync(m, ctx)
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after cancel")
	}

	if err := m.Push([]float32{0}, 16000); !errors.Is(err, ErrFrameDropped) {
		t.Errorf("Expected cancelled source to be detached, got %v", err)
	}
}

func TestMicrophone_CloseDetaches(t *testing.T) {
	m := NewMicrophone()
	ctx := context.Background()

	sources := make(chan error, 1)
	go func() {
		src, err := m.Open(ctx)
		if err == nil {
			err = src.Close()
		}
		sources <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m.Push([]float32{0}, 16000) != nil {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for Open")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := <-sources; err != nil {
		t.Fatalf("Open/Close failed: %v", err)
	}

	if err := m.Push([]float32{0}, 16000); !errors.Is(err, ErrFrameDropped) {
		t.Errorf("Expected closed source to be detached, got %v", err)
	}
}
