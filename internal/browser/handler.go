package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/live-tutor/internal/audio"
	"github.com/lexiqai/live-tutor/internal/capture"
	"github.com/lexiqai/live-tutor/internal/observability"
	"github.com/lexiqai/live-tutor/internal/playback"
	"github.com/lexiqai/live-tutor/internal/prompt"
	"github.com/lexiqai/live-tutor/internal/transcript"
	"github.com/lexiqai/live-tutor/internal/transport"
	"github.com/lexiqai/live-tutor/internal/tutor"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPingInterval    = 20 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultMaxMessageBytes = 4 << 20
)

// errClientClosed ends the connection's goroutine group on a clean close
var errClientClosed = errors.New("client closed connection")

// HandlerConfig configures the tutor WebSocket endpoint
type HandlerConfig struct {
	Connector transport.Connector
	Catalog   *prompt.Catalog

	Capture          capture.PipelineConfig
	OutputSampleRate int
	OutputChannels   int

	// AllowedOrigins restricts the Origin header; empty allows all
	AllowedOrigins []string

	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// Handler serves one tutor controller per WebSocket connection
type Handler struct {
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket handler
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the request and runs the bridge until the browser
// disconnects
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}
	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("component", "browser").
		Str("remote_addr", r.RemoteAddr).
		Logger()

	// The upgrader has already replied with an HTTP error
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	done := observability.TrackClientConnection()
	defer done()

	b := newBridge(conn, h.cfg, logger)
	ctrl, err := tutor.NewController(tutor.Options{
		Connector:        h.cfg.Connector,
		Microphone:       b.mic,
		Catalog:          h.cfg.Catalog,
		Sink:             b,
		Capture:          h.cfg.Capture,
		OutputSampleRate: h.cfg.OutputSampleRate,
		OutputChannels:   h.cfg.OutputChannels,
		CorrelationID:    correlationID,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create tutor controller")
		b.write(ErrorMessage{Event: EventError, Message: "tutor unavailable"})
		return
	}
	b.ctrl = ctrl
	unsubscribe := ctrl.Subscribe(b)

	logger.Info().Msg("Browser connected")

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return b.readLoop(ctx) })
	g.Go(func() error { return b.pingLoop(ctx) })
	err = g.Wait()

	unsubscribe()
	b.close()
	ctrl.Disconnect()

	if err != nil && !errors.Is(err, errClientClosed) {
		logger.Warn().Err(err).Msg("Browser connection ended with error")
		return
	}
	logger.Info().Msg("Browser disconnected")
}

// bridge is the per-connection state: it implements tutor.Observer and
// playback.Sink by writing events to the socket
type bridge struct {
	conn   *websocket.Conn
	cfg    HandlerConfig
	ctrl   *tutor.Controller
	mic    *Microphone
	logger zerolog.Logger

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex
	closed  bool
}

func newBridge(conn *websocket.Conn, cfg HandlerConfig, logger zerolog.Logger) *bridge {
	return &bridge{
		conn:   conn,
		cfg:    cfg,
		mic:    NewMicrophone(),
		logger: logger,
	}
}

func (b *bridge) readLoop(ctx context.Context) error {
	pongWait := b.cfg.PingInterval * 2
	b.conn.SetReadLimit(b.cfg.MaxMessageBytes)
	b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClientClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read client message: %w", err)
		}
		b.conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			b.logger.Debug().Int("type", messageType).Msg("Ignoring non-text frame")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to parse client message")
			b.write(ErrorMessage{Event: EventError, Message: "invalid message"})
			continue
		}
		b.handleMessage(ctx, msg)
	}
}

// pingLoop keeps the connection alive and closes it once the group ends so
// a blocked read returns
func (b *bridge) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	defer b.conn.Close()

	for {
		select {
		case <-ctx.Done():
			b.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(b.cfg.WriteTimeout))
			return nil
		case <-ticker.C:
			if err := b.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout)); err != nil {
				return fmt.Errorf("failed to ping client: %w", err)
			}
		}
	}
}

func (b *bridge) handleMessage(ctx context.Context, msg ClientMessage) {
	observability.RecordClientMessage(msg.Event)

	switch msg.Event {
	case EventStart:
		session, err := b.ctrl.Connect(ctx, msg.NativeLanguage, msg.TargetLanguage)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Rejected start request")
			b.write(ErrorMessage{Event: EventError, Message: err.Error()})
			return
		}
		b.write(SessionMessage{
			Event:          EventSession,
			ID:             session.ID,
			NativeLanguage: session.NativeLanguage,
			TargetLanguage: session.TargetLanguage,
			StartedAt:      session.StartedAt,
		})

	case EventMedia:
		b.handleMedia(msg)

	case EventDeviceError:
		device := capture.DeviceKind(msg.Device)
		if device != capture.Microphone {
			device = capture.Camera
		}
		deviceErr := &capture.DeviceError{Device: device, Reason: capture.ParseReason(msg.Reason)}
		if msg.Message != "" {
			deviceErr.Err = errors.New(msg.Message)
		}
		b.ctrl.ReportDeviceFailure(deviceErr)

	case EventMicrophoneReleased:
		b.mic.Release()

	case EventStop:
		b.ctrl.Disconnect()

	default:
		b.logger.Warn().Str("event", msg.Event).Msg("Unknown client event")
		b.write(ErrorMessage{Event: EventError, Message: fmt.Sprintf("unknown event %q", msg.Event)})
	}
}

func (b *bridge) handleMedia(msg ClientMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		b.logger.Debug().Err(err).Str("kind", msg.Kind).Msg("Dropping media with invalid payload")
		return
	}

	switch msg.Kind {
	case MediaAudio:
		samples, err := audio.DecodeFloat32(data)
		if err != nil {
			b.logger.Debug().Err(err).Msg("Dropping undecodable microphone frame")
			return
		}
		rate := msg.SampleRate
		if rate <= 0 {
			rate = b.cfg.Capture.SampleRate
		}
		if rate <= 0 {
			rate = capture.DefaultSampleRate
		}
		if err := b.mic.Push(samples, rate); err != nil {
			b.logger.Debug().Err(err).Msg("Dropping microphone frame")
		}

	case MediaVideo:
		b.ctrl.SendVideoFrame(data)

	default:
		b.logger.Debug().Str("kind", msg.Kind).Msg("Dropping media of unknown kind")
	}
}

func (b *bridge) write(v any) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.closed {
		return
	}
	b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	if err := b.conn.WriteJSON(v); err != nil {
		b.logger.Debug().Err(err).Msg("Failed to write client message")
	}
}

func (b *bridge) close() {
	b.writeMu.Lock()
	b.closed = true
	b.writeMu.Unlock()
}

func (b *bridge) OnStatusChange(u tutor.StatusUpdate) {
	b.write(StatusMessage{
		Event:   EventStatus,
		Status:  string(u.Status),
		Failure: u.Failure(),
		Message: u.Message(),
	})
}

func (b *bridge) OnTranscriptionUpdate(item transcript.Item) {
	b.write(TranscriptMessage{
		Event:     EventTranscript,
		ID:        item.ID,
		Speaker:   string(item.Speaker),
		Text:      item.Text,
		Timestamp: item.Timestamp,
	})
}

func (b *bridge) OnAudioLevel(level float64) {
	b.write(LevelMessage{Event: EventLevel, Level: level})
}

// Play sends a unit for the browser to schedule on its own output clock
func (b *bridge) Play(unit playback.Unit) {
	b.write(PlaybackMessage{
		Event:      EventPlayback,
		ID:         unit.ID,
		StartMs:    unit.StartAt.Milliseconds(),
		DurationMs: unit.Duration.Milliseconds(),
		SampleRate: unit.Buffer.SampleRate,
		Channels:   unit.Buffer.NumChannels(),
		Payload:    base64.StdEncoding.EncodeToString(audio.EncodeBlock(unit.Buffer.Interleaved())),
	})
}

func (b *bridge) Stop(unit playback.Unit) {
	b.write(PlaybackStopMessage{Event: EventPlaybackStop, ID: unit.ID})
}
