// Package browser bridges a browser WebSocket to a tutor session: it feeds
// microphone and camera data in and streams status, transcript, level and
// playback events out.
package browser

import (
	"time"
)

// Client events
const (
	EventStart              = "start"
	EventMedia              = "media"
	EventDeviceError        = "device_error"
	EventMicrophoneReleased = "microphone_released"
	EventStop               = "stop"
)

// Server events
const (
	EventStatus       = "status"
	EventTranscript   = "transcript"
	EventLevel        = "level"
	EventPlayback     = "playback"
	EventPlaybackStop = "playback_stop"
	EventSession      = "session"
	EventError        = "error"
)

// Media kinds
const (
	MediaAudio = "audio"
	MediaVideo = "video"
)

// ClientMessage is one JSON text frame sent by the browser
type ClientMessage struct {
	Event string `json:"event"`

	// start
	NativeLanguage string `json:"nativeLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`

	// media: audio payloads are base64 float32LE mono samples, video
	// payloads are base64 JPEG frames
	Kind       string `json:"kind,omitempty"`
	Payload    string `json:"payload,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`

	// device_error
	Device  string `json:"device,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusMessage reports a controller status change
type StatusMessage struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	Failure string `json:"failure,omitempty"`
	Message string `json:"message,omitempty"`
}

// TranscriptMessage carries one finished utterance
type TranscriptMessage struct {
	Event     string    `json:"event"`
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LevelMessage carries the smoothed audio level in [0, 1]
type LevelMessage struct {
	Event string  `json:"event"`
	Level float64 `json:"level"`
}

// PlaybackMessage asks the browser to play PCM16LE audio at startMs on the
// session's output clock
type PlaybackMessage struct {
	Event      string `json:"event"`
	ID         uint64 `json:"id"`
	StartMs    int64  `json:"startMs"`
	DurationMs int64  `json:"durationMs"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Payload    string `json:"payload"`
}

// PlaybackStopMessage cancels a playback unit
type PlaybackStopMessage struct {
	Event string `json:"event"`
	ID    uint64 `json:"id"`
}

// SessionMessage describes a newly started session
type SessionMessage struct {
	Event          string    `json:"event"`
	ID             string    `json:"id"`
	NativeLanguage string    `json:"nativeLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	StartedAt      time.Time `json:"startedAt"`
}

// ErrorMessage rejects a client request without changing session state
type ErrorMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
