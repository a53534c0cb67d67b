package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/live-tutor/internal/observability"
	"github.com/lexiqai/live-tutor/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	defaultInputSampleRate = 16000
	videoFrameMIME         = "image/jpeg"
)

// LiveSession is the part of *genai.Session the link uses
type LiveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Dialer opens a live session with the remote model
type Dialer interface {
	Dial(ctx context.Context, model string, config *genai.LiveConnectConfig) (LiveSession, error)
}

type genaiDialer struct {
	client *genai.Client
}

func (d *genaiDialer) Dial(ctx context.Context, model string, config *genai.LiveConnectConfig) (LiveSession, error) {
	session, err := d.client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GeminiConfig configures the Gemini Live connector
type GeminiConfig struct {
	APIKey         string
	Model          string
	Voice          string
	ConnectTimeout time.Duration
	// InputSampleRate is the rate of PCM chunks passed to SendAudioChunk
	InputSampleRate int
}

// GeminiConnector opens links to the Gemini Live API
type GeminiConnector struct {
	cfg     GeminiConfig
	dialer  Dialer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewGeminiConnector creates a connector backed by the genai SDK
func NewGeminiConnector(ctx context.Context, cfg GeminiConfig, breaker *resilience.CircuitBreaker) (*GeminiConnector, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return NewGeminiConnectorWithDialer(cfg, &genaiDialer{client: client}, breaker), nil
}

// NewGeminiConnectorWithDialer creates a connector over an arbitrary dialer
func NewGeminiConnectorWithDialer(cfg GeminiConfig, dialer Dialer, breaker *resilience.CircuitBreaker) *GeminiConnector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = defaultInputSampleRate
	}
	return &GeminiConnector{
		cfg:     cfg,
		dialer:  dialer,
		breaker: breaker,
		logger:  observability.GetLogger().With().Str("component", "gemini").Logger(),
	}
}

// Ready reports whether new sessions can currently be opened
func (c *GeminiConnector) Ready(ctx context.Context) (bool, error) {
	if c.breaker != nil && !c.breaker.Healthy() {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// LiveConfig builds the session setup sent to the model
func (c *GeminiConnector) LiveConfig(params Params) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if params.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: params.SystemPrompt}},
		}
	}
	if c.cfg.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.Voice},
			},
		}
	}
	return cfg
}

// Connect starts dialing and returns the pending link
func (c *GeminiConnector) Connect(ctx context.Context, params Params, handler Handler) Link {
	logger := c.logger
	if params.Logger != nil {
		logger = params.Logger.With().Str("component", "gemini").Logger()
	}

	link := &geminiLink{
		handler:   handler,
		metrics:   params.Metrics,
		logger:    logger,
		audioMIME: fmt.Sprintf("audio/pcm;rate=%d", c.cfg.InputSampleRate),
	}
	go link.run(ctx, c, params)
	return link
}

// geminiLink is one remote session. The session handle is set once the
// dial succeeds; sends before that are dropped.
type geminiLink struct {
	handler   Handler
	metrics   *observability.Metrics
	logger    zerolog.Logger
	audioMIME string

	mu      sync.RWMutex
	session LiveSession

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (l *geminiLink) run(ctx context.Context, c *GeminiConnector, params Params) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	l.metrics.RecordConnectStart()
	l.logger.Info().
		Str("model", c.cfg.Model).
		Str("native_language", params.NativeLanguage).
		Str("target_language", params.TargetLanguage).
		Msg("Opening live session")

	var session LiveSession
	dial := func(ctx context.Context) error {
		s, err := c.dialer.Dial(ctx, c.cfg.Model, c.LiveConfig(params))
		if err != nil {
			return err
		}
		session = s
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(dialCtx, dial)
	} else {
		err = dial(dialCtx)
	}

	if err != nil {
		l.metrics.RecordConnectEnd(false)
		if l.closed.Load() {
			l.logger.Debug().Err(err).Msg("Dial finished after local close")
			return
		}
		if c.breaker != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(c.breaker.Name())
		}
		l.metrics.RecordError("connect_error", "gemini")
		l.logger.Error().Err(err).Msg("Failed to open live session")
		l.handler.OnError(&TransportError{Op: "connect", Err: err})
		return
	}
	l.metrics.RecordConnectEnd(true)

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		session.Close()
		return
	}
	l.session = session
	l.mu.Unlock()

	l.logger.Info().Msg("Live session opened")
	l.handler.OnOpen()
	l.readLoop(session)
}

func (l *geminiLink) readLoop(session LiveSession) {
	for {
		msg, err := session.Receive()
		if err != nil {
			l.handleReadError(err)
			return
		}

		if msg.GoAway != nil {
			l.logger.Warn().Msg("Remote announced session shutdown")
		}

		out, anomalies := translate(msg)
		for _, a := range anomalies {
			l.logger.Warn().Err(a).Msg("Ignoring unrecognised server content")
			l.metrics.RecordError("protocol_anomaly", "gemini")
		}
		if out.Empty() {
			continue
		}
		l.handler.OnMessage(out)
	}
}

func (l *geminiLink) handleReadError(err error) {
	if l.closed.Load() {
		l.handler.OnClose("closed by client")
		return
	}

	var closeErr *websocket.CloseError
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && errors.As(err, &closeErr) {
		reason := closeErr.Text
		if reason == "" {
			reason = fmt.Sprintf("closed by remote (%d)", closeErr.Code)
		}
		l.logger.Info().Int("code", closeErr.Code).Str("reason", reason).Msg("Live session closed")
		l.handler.OnClose(reason)
		return
	}

	l.metrics.RecordError("receive_error", "gemini")
	l.logger.Error().Err(err).Msg("Live session read failed")
	l.handler.OnError(&TransportError{Op: "receive", Err: err})
}

// SendAudioChunk forwards one PCM block at the configured input rate
func (l *geminiLink) SendAudioChunk(pcm []byte) {
	if l.send("audio", genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: l.audioMIME, Data: pcm},
	}) {
		l.metrics.RecordAudioBytes("in", int64(len(pcm)))
	}
}

// SendVideoFrame forwards one JPEG camera frame
func (l *geminiLink) SendVideoFrame(jpeg []byte) {
	if l.send("video", genai.LiveRealtimeInput{
		Video: &genai.Blob{MIMEType: videoFrameMIME, Data: jpeg},
	}) {
		l.metrics.RecordVideoFrame()
	}
}

func (l *geminiLink) send(kind string, input genai.LiveRealtimeInput) bool {
	l.mu.RLock()
	session := l.session
	l.mu.RUnlock()

	if session == nil || l.closed.Load() {
		l.metrics.RecordDroppedSend(kind)
		l.logger.Debug().Str("kind", kind).Msg("Dropping send, live session not open")
		return false
	}

	l.writeMu.Lock()
	err := session.SendRealtimeInput(input)
	l.writeMu.Unlock()

	if err != nil {
		// The read loop reports the failure that caused this
		l.metrics.RecordError("send_error", "gemini")
		l.logger.Warn().Err(err).Str("kind", kind).Msg("Failed to send realtime input")
		return false
	}
	return true
}

// Close ends the session. It does not wait for the read loop; the handler
// receives OnClose once the loop observes the close.
func (l *geminiLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		session := l.session
		l.mu.Unlock()

		if session != nil {
			l.writeMu.Lock()
			err = session.Close()
			l.writeMu.Unlock()
		}
	})
	return err
}
