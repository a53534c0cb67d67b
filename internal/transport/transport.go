// Package transport owns the duplex link to the remote multimodal model.
package transport

import (
	"context"
	"fmt"

	"github.com/lexiqai/live-tutor/internal/observability"
	"github.com/rs/zerolog"
)

// Params configures one remote session
type Params struct {
	NativeLanguage string
	TargetLanguage string
	SystemPrompt   string

	// Optional per-session observability
	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

// AudioPart is one chunk of model speech as 16-bit little-endian PCM
type AudioPart struct {
	Data       []byte
	SampleRate int
}

// ServerMessage is the subset of a remote event the tutor acts on
type ServerMessage struct {
	InputTranscription  string
	OutputTranscription string
	TurnComplete        bool
	Interrupted         bool
	Audio               []AudioPart
}

// Empty reports whether the message carries nothing to act on
func (m ServerMessage) Empty() bool {
	return m.InputTranscription == "" && m.OutputTranscription == "" &&
		!m.TurnComplete && !m.Interrupted && len(m.Audio) == 0
}

// Handler receives link events. Calls for one link are made from a single
// goroutine and never while the link holds a lock.
type Handler interface {
	OnOpen()
	OnMessage(msg ServerMessage)
	OnClose(reason string)
	OnError(err error)
}

// HandlerFuncs adapts plain functions to Handler; nil fields are skipped
type HandlerFuncs struct {
	Open    func()
	Message func(ServerMessage)
	Close   func(reason string)
	Error   func(error)
}

func (h HandlerFuncs) OnOpen() {
	if h.Open != nil {
		h.Open()
	}
}

func (h HandlerFuncs) OnMessage(msg ServerMessage) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnClose(reason string) {
	if h.Close != nil {
		h.Close(reason)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// Link is an established or pending remote session. Sends are
// fire-and-forget: before the session opens and after it closes they are
// dropped.
type Link interface {
	SendAudioChunk(pcm []byte)
	SendVideoFrame(jpeg []byte)
	Close() error
}

// Connector opens links. Connect returns immediately; the outcome is
// reported to the handler as OnOpen or OnError.
type Connector interface {
	Connect(ctx context.Context, params Params, handler Handler) Link
}

// TransportError reports that the remote session failed to open or failed
// mid-session
type TransportError struct {
	Op  string // "connect", "receive" or "send"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live session %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolAnomaly describes a remote message that could not be interpreted.
// Anomalies are logged and skipped; they never end a session.
type ProtocolAnomaly struct {
	Reason string
}

func (a *ProtocolAnomaly) Error() string {
	return "protocol anomaly: " + a.Reason
}
