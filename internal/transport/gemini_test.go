package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/live-tutor/internal/resilience"
	"google.golang.org/genai"
)

type fakeSession struct {
	mu      sync.Mutex
	inputs  []genai.LiveRealtimeInput
	recv    chan *genai.LiveServerMessage
	errs    chan error
	closed  chan struct{}
	once    sync.Once
	sendErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		recv:   make(chan *genai.LiveServerMessage, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) SendRealtimeInput(input genai.LiveRealtimeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.inputs = append(s.inputs, input)
	return nil
}

func (s *fakeSession) Receive() (*genai.LiveServerMessage, error) {
	select {
	case msg := <-s.recv:
		return msg, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) Inputs() []genai.LiveRealtimeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]genai.LiveRealtimeInput(nil), s.inputs...)
}

type fakeDialer struct {
	session *fakeSession
	err     error
	gate    chan struct{} // when set, Dial waits for it
	model   string
	config  *genai.LiveConnectConfig
	calls   int
	mu      sync.Mutex
}

func (d *fakeDialer) Dial(ctx context.Context, model string, config *genai.LiveConnectConfig) (LiveSession, error) {
	d.mu.Lock()
	d.calls++
	d.model = model
	d.config = config
	d.mu.Unlock()

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type event struct {
	kind   string
	msg    ServerMessage
	reason string
	err    error
}

// recordingHandler queues every link event for the test to inspect
type recordingHandler struct {
	HandlerFuncs
	events chan event
}

func newRecordingHandler() *recordingHandler {
	h := &recordingHandler{events: make(chan event, 32)}
	h.HandlerFuncs = HandlerFuncs{
		Open:    func() { h.events <- event{kind: "open"} },
		Message: func(msg ServerMessage) { h.events <- event{kind: "message", msg: msg} },
		Close:   func(reason string) { h.events <- event{kind: "close", reason: reason} },
		Error:   func(err error) { h.events <- event{kind: "error", err: err} },
	}
	return h
}

func (h *recordingHandler) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for handler event")
	}
	return event{}
}

func testConfig() GeminiConfig {
	return GeminiConfig{Model: "test-model", Voice: "Zephyr", ConnectTimeout: time.Second}
}

func TestGeminiLink_OpenAndSend(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session}
	c := NewGeminiConnectorWithDialer(testConfig(), dialer, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{SystemPrompt: "Be a tutor"}, h)
	defer link.Close()

	if ev := h.next(t); ev.kind != "open" {
		t.Fatalf("Expected open, got %s", ev.kind)
	}

	link.SendAudioChunk([]byte{1, 2, 3, 4})
	link.SendVideoFrame([]byte{0xff, 0xd8})

	inputs := session.Inputs()
	if len(inputs) != 2 {
		t.Fatalf("Expected 2 inputs, got %d", len(inputs))
	}
	if inputs[0].Audio == nil || inputs[0].Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected audio input %+v", inputs[0].Audio)
	}
	if inputs[1].Video == nil || inputs[1].Video.MIMEType != "image/jpeg" {
		t.Errorf("Unexpected video input %+v", inputs[1].Video)
	}

	if dialer.model != "test-model" {
		t.Errorf("Expected model test-model, got %s", dialer.model)
	}
	cfg := dialer.config
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("Expected audio response modality, got %v", cfg.ResponseModalities)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("Expected input and output transcription enabled")
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "Be a tutor" {
		t.Error("Expected system instruction to carry the prompt")
	}
	if cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Error("Expected prebuilt voice Zephyr")
	}
}

func TestGeminiLink_SendsBeforeOpenAreDropped(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session, gate: make(chan struct{})}
	c := NewGeminiConnectorWithDialer(testConfig(), dialer, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	defer link.Close()

	link.SendAudioChunk([]byte{1, 2})
	link.SendVideoFrame([]byte{3})

	close(dialer.gate)
	if ev := h.next(t); ev.kind != "open" {
		t.Fatalf("Expected open, got %s", ev.kind)
	}

	if n := len(session.Inputs()); n != 0 {
		t.Errorf("Expected sends before open to be dropped, got %d inputs", n)
	}
}

func TestGeminiLink_TranslatesMessages(t *testing.T) {
	session := newFakeSession()
	c := NewGeminiConnectorWithDialer(testConfig(), &fakeDialer{session: session}, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	defer link.Close()
	h.next(t) // open

	session.recv <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}
	session.recv <- &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription: &genai.Transcription{Text: "Hola"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 0, 2, 0}}},
			}},
		},
	}

	ev := h.next(t)
	if ev.kind != "message" {
		t.Fatalf("Expected message, got %s", ev.kind)
	}
	if ev.msg.InputTranscription != "Hola" {
		t.Errorf("Expected input transcription 'Hola', got '%s'", ev.msg.InputTranscription)
	}
	if len(ev.msg.Audio) != 1 || ev.msg.Audio[0].SampleRate != 24000 {
		t.Errorf("Expected one 24kHz audio part, got %+v", ev.msg.Audio)
	}
}

func TestGeminiLink_LocalCloseReportsClose(t *testing.T) {
	session := newFakeSession()
	c := NewGeminiConnectorWithDialer(testConfig(), &fakeDialer{session: session}, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	h.next(t) // open

	if err := link.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ev := h.next(t)
	if ev.kind != "close" {
		t.Fatalf("Expected close, got %s", ev.kind)
	}

	// Sends after close are dropped
	link.SendAudioChunk([]byte{1, 2})
	if n := len(session.Inputs()); n != 0 {
		t.Errorf("Expected no inputs after close, got %d", n)
	}

	// Second close is a no-op
	if err := link.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v", err)
	}
}

func TestGeminiLink_RemoteNormalClose(t *testing.T) {
	session := newFakeSession()
	c := NewGeminiConnectorWithDialer(testConfig(), &fakeDialer{session: session}, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	defer link.Close()
	h.next(t) // open

	session.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "session ended"}

	ev := h.next(t)
	if ev.kind != "close" || ev.reason != "session ended" {
		t.Errorf("Expected close 'session ended', got %s %q", ev.kind, ev.reason)
	}
}

func TestGeminiLink_RemoteErrorIsTransportError(t *testing.T) {
	session := newFakeSession()
	c := NewGeminiConnectorWithDialer(testConfig(), &fakeDialer{session: session}, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	defer link.Close()
	h.next(t) // open

	session.errs <- &websocket.CloseError{Code: 1011, Text: "internal error"}

	ev := h.next(t)
	if ev.kind != "error" {
		t.Fatalf("Expected error, got %s", ev.kind)
	}
	var te *TransportError
	if !errors.As(ev.err, &te) || te.Op != "receive" {
		t.Errorf("Expected receive TransportError, got %v", ev.err)
	}
}

func TestGeminiLink_DialFailure(t *testing.T) {
	dialErr := errors.New("websocket: bad handshake")
	c := NewGeminiConnectorWithDialer(testConfig(), &fakeDialer{err: dialErr}, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	defer link.Close()

	ev := h.next(t)
	if ev.kind != "error" {
		t.Fatalf("Expected error, got %s", ev.kind)
	}
	var te *TransportError
	if !errors.As(ev.err, &te) || te.Op != "connect" || !errors.Is(ev.err, dialErr) {
		t.Errorf("Expected connect TransportError wrapping the dial error, got %v", ev.err)
	}
}

func TestGeminiLink_CircuitBreakerFailsFast(t *testing.T) {
	breaker := resilience.NewCircuitBreaker("gemini_live", 1, time.Hour)
	dialer := &fakeDialer{err: errors.New("connection refused")}
	c := NewGeminiConnectorWithDialer(testConfig(), dialer, breaker)

	h := newRecordingHandler()
	c.Connect(context.Background(), Params{}, h)
	h.next(t) // first failure opens the circuit

	if ok, _ := c.Ready(context.Background()); ok {
		t.Error("Expected connector not ready with an open circuit")
	}

	h2 := newRecordingHandler()
	c.Connect(context.Background(), Params{}, h2)
	ev := h2.next(t)
	if !errors.Is(ev.err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", ev.err)
	}

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	if dialer.calls != 1 {
		t.Errorf("Expected 1 dial attempt, got %d", dialer.calls)
	}
}

func TestGeminiLink_CloseWhileDialing(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{session: session, gate: make(chan struct{})}
	c := NewGeminiConnectorWithDialer(testConfig(), dialer, nil)
	h := newRecordingHandler()

	link := c.Connect(context.Background(), Params{}, h)
	link.Close()
	close(dialer.gate)

	select {
	case <-session.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected late session to be closed")
	}
	select {
	case ev := <-h.events:
		t.Errorf("Expected no events after local close, got %s", ev.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerFuncs_NilFieldsSkipped(t *testing.T) {
	var closed string
	var h Handler = HandlerFuncs{Close: func(reason string) { closed = reason }}

	h.OnOpen()
	h.OnMessage(ServerMessage{TurnComplete: true})
	h.OnError(errors.New("boom"))
	h.OnClose("bye")

	if closed != "bye" {
		t.Errorf("Expected close reason bye, got %q", closed)
	}
}
