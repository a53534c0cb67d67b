// Package tutor runs one live tutoring session: it owns the remote link,
// the microphone pipeline, playback and the transcript, and reports status,
// transcript items and audio level to observers.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/live-tutor/internal/audio"
	"github.com/lexiqai/live-tutor/internal/capture"
	"github.com/lexiqai/live-tutor/internal/observability"
	"github.com/lexiqai/live-tutor/internal/playback"
	"github.com/lexiqai/live-tutor/internal/prompt"
	"github.com/lexiqai/live-tutor/internal/transcript"
	"github.com/lexiqai/live-tutor/internal/transport"
	"github.com/rs/zerolog"
)

// ErrSessionActive is returned by Connect while a session is connecting or connected
var ErrSessionActive = errors.New("tutor session already active")

// Options wires a Controller to its collaborators
type Options struct {
	Connector  transport.Connector
	Microphone capture.Device
	Catalog    *prompt.Catalog

	// Playback output; Clock defaults to a monotonic clock
	Sink  playback.Sink
	Clock playback.Clock

	Capture          capture.PipelineConfig
	OutputSampleRate int
	OutputChannels   int

	// CorrelationID ties the controller's logs to the request that created it
	CorrelationID string
}

// Controller is the session state machine:
// disconnected -> connecting -> connected -> {error, disconnected}.
// At most one session is live per controller.
type Controller struct {
	connector        transport.Connector
	microphone       capture.Device
	catalog          *prompt.Catalog
	captureCfg       capture.PipelineConfig
	outputSampleRate int
	outputChannels   int
	correlationID    string

	scheduler  *playback.Scheduler
	aggregator *transcript.Aggregator
	meter      *audio.LevelMeter
	observers  *observerSet

	mu     sync.Mutex
	status Status
	// gen identifies the live session; it changes on every connect and teardown
	// so callbacks from an ended session are ignored
	gen     uint64
	session *Session
	link    transport.Link
	ctx     context.Context
	cancel  context.CancelFunc
	source  capture.Source
	metrics *observability.Metrics
	logger  zerolog.Logger

	// msgMu serializes remote message handling against teardown
	msgMu sync.Mutex
}

// NewController creates a disconnected controller
func NewController(opts Options) (*Controller, error) {
	if opts.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if opts.Microphone == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if opts.Catalog == nil {
		catalog, err := prompt.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load language catalog: %w", err)
		}
		opts.Catalog = catalog
	}
	if opts.OutputSampleRate <= 0 {
		opts.OutputSampleRate = transport.DefaultOutputSampleRate
	}
	if opts.OutputChannels <= 0 {
		opts.OutputChannels = 1
	}

	c := &Controller{
		connector:        opts.Connector,
		microphone:       opts.Microphone,
		catalog:          opts.Catalog,
		captureCfg:       opts.Capture,
		outputSampleRate: opts.OutputSampleRate,
		outputChannels:   opts.OutputChannels,
		correlationID:    opts.CorrelationID,
		aggregator:       transcript.NewAggregator(),
		meter:            audio.NewLevelMeter(),
		observers:        newObserverSet(),
		status:           StatusDisconnected,
		logger:           observability.WithCorrelationID(opts.CorrelationID),
	}
	c.scheduler = playback.NewScheduler(opts.Clock, opts.Sink, c.onPlaybackComplete)
	return c, nil
}

// Subscribe registers an observer and returns a function that removes it
func (c *Controller) Subscribe(o Observer) (unsubscribe func()) {
	return c.observers.add(o)
}

// Status returns the current status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a snapshot of the current or most recent session
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	s := *c.session
	s.Status = c.status
	return s, true
}

// InFlightPlayback returns the number of scheduled playback units
func (c *Controller) InFlightPlayback() int {
	return c.scheduler.InFlight()
}

// Connect starts a session for the language pair. It is allowed from
// disconnected or error and returns once the remote connect has been issued;
// OnStatusChange reports connected or error later.
func (c *Controller) Connect(ctx context.Context, nativeLanguage, targetLanguage string) (Session, error) {
	systemPrompt, err := c.catalog.Build(nativeLanguage, targetLanguage)
	if err != nil {
		return Session{}, err
	}
	pair, _ := c.catalog.Resolve(nativeLanguage, targetLanguage)

	c.mu.Lock()
	if c.status.Active() {
		c.mu.Unlock()
		return Session{}, ErrSessionActive
	}

	c.gen++
	gen := c.gen
	session := &Session{
		ID:             uuid.NewString(),
		Status:         StatusConnecting,
		StartedAt:      time.Now().UTC(),
		NativeLanguage: pair.Native.Code,
		TargetLanguage: pair.Target.Code,
	}
	c.session = session
	c.status = StatusConnecting
	c.logger = observability.SessionLogger(session.ID, c.correlationID)
	c.metrics = observability.NewSessionMetrics(session.ID)
	c.metrics.RecordSessionStart()
	c.metrics.RecordStatus(string(StatusConnecting))

	sessionCtx, cancel := context.WithCancel(ctx)
	c.ctx = sessionCtx
	c.cancel = cancel
	logger := c.logger
	metrics := c.metrics
	snapshot := *session
	c.mu.Unlock()

	logger.Info().
		Str("native_language", pair.Native.Code).
		Str("target_language", pair.Target.Code).
		Msg("Starting tutor session")
	c.observers.status(StatusUpdate{Status: StatusConnecting})

	link := c.connector.Connect(sessionCtx, transport.Params{
		NativeLanguage: pair.Native.Code,
		TargetLanguage: pair.Target.Code,
		SystemPrompt:   systemPrompt,
		Logger:         &logger,
		Metrics:        metrics,
	}, &linkHandler{c: c, gen: gen})

	c.mu.Lock()
	if c.gen == gen && c.status.Active() {
		c.link = link
		link = nil
	}
	c.mu.Unlock()

	// The session failed before the link was recorded
	if link != nil {
		link.Close()
	}

	return snapshot, nil
}

// Disconnect ends the session. It is idempotent: with no live session it
// only reports disconnected again.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		c.observers.status(StatusUpdate{Status: StatusDisconnected})
		return
	}
	res := c.detachLocked(StatusDisconnected)
	c.mu.Unlock()

	res.logger.Info().Msg("Tutor session ended by user")
	c.release(res)
	c.observers.status(StatusUpdate{Status: StatusDisconnected})
}

// ReportDeviceFailure moves a live session to error, typically after the
// browser lost camera access
func (c *Controller) ReportDeviceFailure(err *capture.DeviceError) {
	if err == nil {
		err = &capture.DeviceError{Device: capture.Camera, Reason: capture.ReasonUnavailable}
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.fail(gen, err)
}

// SendVideoFrame forwards a JPEG frame while connected and is a no-op otherwise
func (c *Controller) SendVideoFrame(jpeg []byte) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.send(gen, "video", jpeg)
}

func (c *Controller) send(gen uint64, kind string, data []byte) {
	c.mu.Lock()
	if c.gen != gen || c.status != StatusConnected || c.link == nil {
		metrics := c.metrics
		c.mu.Unlock()
		metrics.RecordDroppedSend(kind)
		return
	}
	link := c.link
	c.mu.Unlock()

	switch kind {
	case "audio":
		link.SendAudioChunk(data)
	case "video":
		link.SendVideoFrame(data)
	}
}

// resources are detached from the controller under lock and released after
type resources struct {
	link    transport.Link
	cancel  context.CancelFunc
	source  capture.Source
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// detachLocked moves to status and takes ownership of the session resources.
// c.mu must be held.
func (c *Controller) detachLocked(status Status) resources {
	res := resources{
		link:    c.link,
		cancel:  c.cancel,
		source:  c.source,
		metrics: c.metrics,
		logger:  c.logger,
	}
	c.link = nil
	c.ctx = nil
	c.cancel = nil
	c.source = nil
	c.status = status
	c.gen++
	c.metrics.RecordStatus(string(status))
	return res
}

func (c *Controller) release(res resources) {
	if res.cancel != nil {
		res.cancel()
	}
	if res.link != nil {
		if err := res.link.Close(); err != nil {
			res.logger.Warn().Err(err).Msg("Error closing live session")
		}
	}
	if res.source != nil {
		if err := res.source.Close(); err != nil {
			res.logger.Warn().Err(err).Msg("Error releasing microphone")
		}
	}

	c.msgMu.Lock()
	stopped := c.scheduler.StopAll()
	c.aggregator.Reset()
	c.msgMu.Unlock()
	c.meter.Reset()

	if stopped > 0 {
		res.logger.Debug().Int("units", stopped).Msg("Stopped playback")
	}
	res.metrics.RecordSessionEnd()
}

// fail moves a live session of generation gen to error
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || !c.status.Active() {
		c.mu.Unlock()
		return
	}
	res := c.detachLocked(StatusError)
	c.mu.Unlock()

	update := StatusUpdate{Status: StatusError, Err: err}
	res.metrics.RecordError(update.Failure()+"_error", "tutor")
	res.logger.Error().Err(err).Str("failure", update.Failure()).Msg("Tutor session failed")

	c.release(res)
	c.observers.status(update)
}

func (c *Controller) handleOpen(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnected
	c.metrics.RecordStatus(string(StatusConnected))
	ctx := c.ctx
	logger := c.logger
	c.mu.Unlock()

	logger.Info().Msg("Tutor session connected")
	c.observers.status(StatusUpdate{Status: StatusConnected})

	go c.runCapture(gen, ctx, logger)
}

func (c *Controller) runCapture(gen uint64, ctx context.Context, logger zerolog.Logger) {
	src, err := c.microphone.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(gen, capture.AsDeviceError(capture.Microphone, err))
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.status != StatusConnected {
		c.mu.Unlock()
		src.Close()
		return
	}
	c.source = src
	c.mu.Unlock()

	pipeline := capture.NewPipeline(
		c.captureCfg,
		capture.SenderFunc(func(pcm []byte) { c.send(gen, "audio", pcm) }),
		c.meter,
		c.observers.level,
		logger,
	)

	logger.Debug().Int("source_rate", src.SampleRate()).Msg("Microphone capture started")
	runErr := pipeline.Run(ctx, src)

	c.mu.Lock()
	owned := c.source == src
	if owned {
		c.source = nil
	}
	c.mu.Unlock()
	if owned {
		src.Close()
	}

	if runErr != nil {
		c.fail(gen, runErr)
		return
	}
	if ctx.Err() == nil {
		logger.Info().Msg("Microphone released, capture stopped")
	}
}

func (c *Controller) handleMessage(gen uint64, msg transport.ServerMessage) {
	var items []transcript.Item
	var units []playback.Unit

	c.msgMu.Lock()
	c.mu.Lock()
	if c.gen != gen || c.status != StatusConnected {
		c.mu.Unlock()
		c.msgMu.Unlock()
		return
	}
	logger := c.logger
	metrics := c.metrics
	c.mu.Unlock()

	c.aggregator.Append(transcript.SpeakerUser, msg.InputTranscription)
	c.aggregator.Append(transcript.SpeakerModel, msg.OutputTranscription)

	if msg.Interrupted {
		stopped := c.scheduler.StopAll()
		c.aggregator.DiscardModel()
		metrics.RecordInterruption()
		logger.Debug().Int("units", stopped).Msg("Model interrupted, playback stopped")
	}

	if msg.TurnComplete {
		items = c.aggregator.Flush()
	}

	if !msg.Interrupted {
		for _, part := range msg.Audio {
			rate := part.SampleRate
			if rate <= 0 {
				rate = c.outputSampleRate
			}
			buf, err := audio.DecodeBlock(part.Data, rate, c.outputChannels)
			if err != nil {
				logger.Warn().Err(err).Msg("Dropping undecodable model audio")
				metrics.RecordError("decode_error", "playback")
				continue
			}
			units = append(units, c.scheduler.Reserve(buf))
			metrics.RecordAudioBytes("out", int64(len(part.Data)))
			metrics.RecordPlayback(buf.Duration())
		}
	}
	c.msgMu.Unlock()

	// The sink may block on a slow client; teardown must not wait on it
	for _, unit := range units {
		c.scheduler.Play(unit)
	}

	for _, item := range items {
		metrics.RecordTranscriptItem(string(item.Speaker))
		c.observers.transcript(item)
	}
}

func (c *Controller) handleClose(gen uint64, reason string) {
	c.mu.Lock()
	if c.gen != gen || c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	res := c.detachLocked(StatusDisconnected)
	c.mu.Unlock()

	res.logger.Info().Str("reason", reason).Msg("Tutor session closed by remote")
	c.release(res)
	c.observers.status(StatusUpdate{Status: StatusDisconnected, Reason: reason})
}

func (c *Controller) onPlaybackComplete(playback.Unit) {
	c.meter.Reset()
	c.observers.level(0)
}

// linkHandler routes link events to the controller, tagged with the
// generation of the session that opened the link
type linkHandler struct {
	c   *Controller
	gen uint64
}

func (h *linkHandler) OnOpen() {
	h.c.handleOpen(h.gen)
}

func (h *linkHandler) OnMessage(msg transport.ServerMessage) {
	h.c.handleMessage(h.gen, msg)
}

func (h *linkHandler) OnClose(reason string) {
	h.c.handleClose(h.gen, reason)
}

func (h *linkHandler) OnError(err error) {
	var te *transport.TransportError
	if !errors.As(err, &te) {
		err = &transport.TransportError{Op: "session", Err: err}
	}
	h.c.fail(h.gen, err)
}
