// Package realtime speaks the Gemini Live bidirectional streaming protocol
// for voice interviews.
package realtime

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
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

const (
	DefaultURL             = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel           = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice           = "Zephyr"
	DefaultMediaResolution = "MEDIA_RESOLUTION_MEDIUM"

	defaultTriggerTokens = 25600
	defaultTargetTokens  = 12800
	defaultDialTimeout   = 30 * time.Second
	defaultSetupTimeout  = 30 * time.Second
	maxMessageSize       = 16 * 1024 * 1024
)

// ErrInvalidPayload is returned when a payload carries neither or both of
// text and audio.
var ErrInvalidPayload = errors.New("realtime: payload must carry exactly one of text or audio")

// ChannelOpenError wraps any failure while establishing a channel.
type ChannelOpenError struct {
	Stage string
	Err   error
}

func (e *ChannelOpenError) Error() string {
	return fmt.Sprintf("realtime: open channel (%s): %v", e.Stage, e.Err)
}

func (e *ChannelOpenError) Unwrap() error { return e.Err }

// Config describes how to reach the Live endpoint and what to ask of it.
type Config struct {
	URL                string
	APIKey             string
	Model              string
	Voice              string
	ResponseModalities []string
	MediaResolution    string
	TriggerTokens      int
	TargetTokens       int
	DialTimeout        time.Duration
	SetupTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if !strings.HasPrefix(c.Model, "models/") {
		c.Model = "models/" + c.Model
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if len(c.ResponseModalities) == 0 {
		c.ResponseModalities = []string{"AUDIO"}
	}
	if c.MediaResolution == "" {
		c.MediaResolution = DefaultMediaResolution
	}
	if c.TriggerTokens == 0 {
		c.TriggerTokens = defaultTriggerTokens
	}
	if c.TargetTokens == 0 {
		c.TargetTokens = defaultTargetTokens
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	return c
}

// OpenOptions are the per-session parameters of a new channel.
type OpenOptions struct {
	PatientID         string
	SystemInstruction string
}

// Payload is one unit of client input: text or PCM audio, never both.
type Payload struct {
	Text     string
	Audio    []byte
	MimeType string
}

// Channel is an open realtime session with the model.
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Queue() *Queue
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Open(ctx context.Context, opts OpenOptions) (Channel, error)
}

// GeminiDialer opens Gemini Live channels over websocket.
type GeminiDialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *logging.Logger
}

func NewGeminiDialer(cfg Config, logger *logging.Logger) *GeminiDialer {
	if logger == nil {
		logger = logging.Default()
	}
	cfg = cfg.withDefaults()
	return &GeminiDialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logger,
	}
}

// Open dials the endpoint, sends the setup message and waits for the server
// to acknowledge it. The returned channel outlives ctx.
func (d *GeminiDialer) Open(ctx context.Context, opts OpenOptions) (Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if d.cfg.APIKey != "" {
		header.Set("x-goog-api-key", d.cfg.APIKey)
	}
	conn, resp, err := d.ws.DialContext(dialCtx, d.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &ChannelOpenError{Stage: "dial", Err: err}
	}
	conn.SetReadLimit(maxMessageSize)

	if err := conn.WriteJSON(d.setup(opts)); err != nil {
		_ = conn.Close()
		return nil, &ChannelOpenError{Stage: "setup", Err: err}
	}
	if err := d.awaitSetupComplete(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, &ChannelOpenError{Stage: "setup", Err: err}
	}

	s := &stream{
		conn:      conn,
		queue:     NewQueue(),
		logger:    d.logger.With("patient_id", opts.PatientID),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		patientID: opts.PatientID,
	}
	go s.readLoop()

	s.logger.Info("realtime: channel opened", "model", d.cfg.Model, "voice", d.cfg.Voice)
	return s, nil
}

func (d *GeminiDialer) setup(opts OpenOptions) setupMessage {
	cfg := setupConfig{
		Model: d.cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: d.cfg.ResponseModalities,
			MediaResolution:    d.cfg.MediaResolution,
		},
		ContextWindowCompression: &contextWindowCompression{
			TriggerTokens: d.cfg.TriggerTokens,
			SlidingWindow: &slidingWindow{TargetTokens: d.cfg.TargetTokens},
		},
	}
	for _, m := range d.cfg.ResponseModalities {
		if strings.EqualFold(m, "AUDIO") {
			cfg.GenerationConfig.SpeechConfig = &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: d.cfg.Voice}},
			}
			cfg.OutputAudioTranscription = &struct{}{}
		}
	}
	if strings.TrimSpace(opts.SystemInstruction) != "" {
		cfg.SystemInstruction = &content{Parts: []Part{{Text: opts.SystemInstruction}}}
	}
	return setupMessage{Setup: cfg}
}

func (d *GeminiDialer) awaitSetupComplete(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(d.cfg.SetupTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode setup response: %w", err)
		}
		if msg.SetupComplete != nil {
			return conn.SetReadDeadline(time.Time{})
		}
	}
}

type stream struct {
	conn      *websocket.Conn
	queue     *Queue
	logger    *logging.Logger
	patientID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

func (s *stream) Queue() *Queue { return s.queue }

// Send writes one realtimeInput frame.
func (s *stream) Send(ctx context.Context, p Payload) error {
	hasText := p.Text != ""
	hasAudio := len(p.Audio) > 0
	if hasText == hasAudio {
		return ErrInvalidPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var in realtimeInput
	if hasText {
		in.Text = p.Text
	} else {
		mime := p.MimeType
		if mime == "" {
			mime = "audio/pcm;rate=16000"
		}
		in.Audio = &InlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(p.Audio)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("realtime: send: %w", err)
	}
	if err := s.conn.WriteJSON(realtimeInputMessage{RealtimeInput: in}); err != nil {
		return fmt.Errorf("realtime: send: %w", err)
	}
	return nil
}

func (s *stream) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.queue.Close(nil)
				return
			}
			s.logger.Error("realtime: read loop stopped", "error", err)
			s.queue.Close(err)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("realtime: undecodable server message", "error", err, "bytes", len(data))
			continue
		}
		if msg.GoAway != nil {
			s.logger.Warn("realtime: server going away", "time_left", msg.GoAway.TimeLeft)
		}
		if sc := msg.ServerContent; sc != nil && sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					s.queue.AppendAudio(Fragment{Data: part.InlineData.Data, MimeType: part.InlineData.MimeType})
				}
			}
		}
		s.queue.Push(Event{Message: msg})
	}
}

func (s *stream) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Close sends a close frame and tears down the connection. Repeated calls
// return nil.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)

		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
		<-s.done
		s.queue.Close(nil)
		s.logger.Info("realtime: channel closed")
	})
	return err
}
