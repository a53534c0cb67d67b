// Package capture pulls microphone samples, meters their loudness and hands
// fixed-size PCM blocks to the remote session.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// DeviceKind names the capture hardware that failed
type DeviceKind string

const (
	Microphone DeviceKind = "microphone"
	Camera     DeviceKind = "camera"
)

// Reason classifies a device failure
type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonNotFound         Reason = "not-found"
	ReasonUnavailable      Reason = "unavailable"
)

// ParseReason maps a client supplied reason onto a known Reason
func ParseReason(s string) Reason {
	switch Reason(s) {
	case ReasonPermissionDenied, ReasonNotFound:
		return Reason(s)
	}
	return ReasonUnavailable
}

// DeviceError reports that a microphone or camera could not be acquired or
// stopped delivering data. It is fatal to the session.
type DeviceError struct {
	Device DeviceKind
	Reason Reason
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Device, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Device, e.Reason)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// AsDeviceError converts err into a DeviceError for the given device,
// keeping an existing DeviceError intact
func AsDeviceError(device DeviceKind, err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return &DeviceError{Device: device, Reason: ReasonUnavailable, Err: err}
}

// Source is an open sample stream
type Source interface {
	// ReadFrame blocks until the next frame of mono float samples is available.
	// It returns io.EOF once the device has been released.
	ReadFrame(ctx context.Context) ([]float32, error)
	SampleRate() int
	Close() error
}

// Device opens a microphone stream
type Device interface {
	Open(ctx context.Context) (Source, error)
}

// Sender receives encoded PCM blocks
type Sender interface {
	SendAudioChunk(pcm []byte)
}

// SenderFunc adapts a function to Sender
type SenderFunc func(pcm []byte)

// SendAudioChunk calls f(pcm)
func (f SenderFunc) SendAudioChunk(pcm []byte) {
	f(pcm)
}
