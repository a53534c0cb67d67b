package tutor

import (
	"errors"
	"time"

	"github.com/lexiqai/live-tutor/internal/capture"
	"github.com/lexiqai/live-tutor/internal/transport"
)

// Status is the lifecycle state of the controller's session
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Active reports whether a session is connecting or connected
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}

// Failure kinds reported alongside StatusError
const (
	FailureDevice    = "device"
	FailureTransport = "transport"
)

// StatusUpdate is delivered to observers on every status change
type StatusUpdate struct {
	Status Status
	// Err is a *capture.DeviceError or *transport.TransportError when Status is StatusError
	Err error
	// Reason is the remote close reason when the remote side ended the session
	Reason string
}

// Failure tells device failures apart from remote failures
func (u StatusUpdate) Failure() string {
	if u.Err == nil {
		return ""
	}
	var de *capture.DeviceError
	if errors.As(u.Err, &de) {
		return FailureDevice
	}
	var te *transport.TransportError
	if errors.As(u.Err, &te) {
		return FailureTransport
	}
	return ""
}

// Message returns a human readable description of the update
func (u StatusUpdate) Message() string {
	if u.Err != nil {
		return u.Err.Error()
	}
	return u.Reason
}

// Session is a snapshot of the current or most recent session
type Session struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"startedAt"`
	NativeLanguage string    `json:"nativeLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
}
