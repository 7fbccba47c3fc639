package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/telehealth-ai-platform/internal/audio"
	"github.com/wolfman30/telehealth-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/telehealth-ai-platform/internal/realtime"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/internal/turn"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// ServiceConfig wires the interview service. Registry is required; every
// other collaborator is optional, and the mode that needs a missing one
// fails at request time.
type ServiceConfig struct {
	Registry   *session.Registry
	TextModel  TextModel
	Dialer     realtime.Dialer
	Transcoder Transcoder
	Summaries  summary.Store
	Notifier   Notifier
	History    HistoryMirror
	Assembler  turn.Assembler
	Container  turn.Container
	// InputMIMEType tags PCM sent to the channel.
	InputMIMEType string
	Metrics       *metrics.ChatMetrics
	Logger        *logging.Logger
	Tracer        trace.Tracer
	Now           func() time.Time
}

// Service runs interview exchanges.
type Service struct {
	registry   *session.Registry
	text       TextModel
	dialer     realtime.Dialer
	transcoder Transcoder
	summaries  summary.Store
	notifier   Notifier
	history    HistoryMirror
	assembler  turn.Assembler
	container  turn.Container
	inputMIME  string
	metrics    *metrics.ChatMetrics
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Registry == nil {
		panic("chat: session registry required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("telehealth.internal.chat")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Container == "" {
		cfg.Container = turn.ContainerWAV
	}
	if cfg.InputMIMEType == "" {
		cfg.InputMIMEType = audio.ChannelFormat.MIMEType()
	}
	return &Service{
		registry:   cfg.Registry,
		text:       cfg.TextModel,
		dialer:     cfg.Dialer,
		transcoder: cfg.Transcoder,
		summaries:  cfg.Summaries,
		notifier:   cfg.Notifier,
		history:    cfg.History,
		assembler:  cfg.Assembler,
		container:  cfg.Container,
		inputMIME:  cfg.InputMIMEType,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
	}
}

// Handle runs one exchange for the request's patient.
func (s *Service) Handle(ctx context.Context, req Request) (resp *Response, err error) {
	mode := req.Mode
	if mode != ModeVoice {
		mode = ModeText
	}
	patientID := strings.TrimSpace(req.PatientID)

	ctx, span := s.tracer.Start(ctx, "chat.handle", trace.WithAttributes(
		attribute.String("chat.mode", string(mode)),
		attribute.Bool("chat.start_session", req.UserInput == StartSession),
	))
	started := s.now()
	defer func() {
		status := "ok"
		if err != nil {
			status = errorStatus(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			s.metrics.ObserveTurnLatency(string(mode), s.now().Sub(started).Seconds())
		}
		s.metrics.ObserveRequest(string(mode), status)
		span.End()
	}()

	sess, created, err := s.registry.GetOrCreate(patientID, req.Context)
	if err != nil {
		return nil, err
	}
	if err := sess.Acquire(); err != nil {
		return nil, err
	}
	defer sess.Release()

	logger := s.logger.With("patient_id", patientID, "mode", mode)
	if created {
		logger.Info("chat: session started", "has_context", req.Context != "")
	}

	if mode == ModeVoice {
		resp, err = s.handleVoice(ctx, sess, req, logger)
	} else {
		resp, err = s.handleText(ctx, sess, req, logger)
	}
	if err != nil {
		logger.Error("chat: exchange failed", "error", err)
		return nil, err
	}
	return resp, nil
}

func (s *Service) handleText(ctx context.Context, sess *session.Session, req Request, logger *logging.Logger) (*Response, error) {
	if s.text == nil {
		return nil, errors.New("chat: text model not configured")
	}
	input := req.UserInput
	if input == StartSession {
		input = textKickoff
	}
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: userInput is required", session.ErrInvalidArgument)
	}

	history := append(sess.Messages(), session.Message{Role: session.RoleUser, Content: input, At: s.now()})
	reply, err := s.text.Generate(ctx, sess.Context, history)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		return nil, ErrEmptyModelResponse
	}

	sess.Append(session.RoleUser, input)
	sess.Append(session.RoleAssistant, reply)
	logger.Info("chat: text reply", "reply_chars", len(reply), "assistant_turns", sess.AssistantTurns())

	return s.finish(ctx, sess, &Response{Reply: reply, SessionID: sess.PatientID}, true, logger)
}

func (s *Service) handleVoice(ctx context.Context, sess *session.Session, req Request, logger *logging.Logger) (*Response, error) {
	start := req.UserInput == StartSession

	// Decode before touching the channel so a bad recording never opens one.
	var pcm []byte
	if !start && req.AudioData != "" {
		compressed, err := base64.StdEncoding.DecodeString(req.AudioData)
		if err != nil {
			return nil, fmt.Errorf("%w: audioData is not valid base64", session.ErrInvalidArgument)
		}
		if s.transcoder == nil {
			return nil, errors.New("chat: audio transcoder not configured")
		}
		pcm, err = s.transcoder.Transcode(ctx, compressed)
		if err != nil {
			s.metrics.TranscodeFailed()
			return nil, err
		}
	}

	var payload realtime.Payload
	switch {
	case start:
		payload.Text = voiceKickoff
	case len(pcm) > 0:
		payload.Audio = pcm
		payload.MimeType = s.inputMIME
	case strings.TrimSpace(req.UserInput) != "":
		payload.Text = req.UserInput
	default:
		return nil, fmt.Errorf("%w: userInput or audioData is required", session.ErrInvalidArgument)
	}

	ch, err := s.channel(ctx, sess, logger)
	if err != nil {
		return nil, err
	}
	q := ch.Queue()
	// Events trailing a completed turn are not part of the next one.
	if n := q.Len(); n > 0 {
		logger.Debug("chat: discarding trailing channel events", "events", n)
	}
	q.Reset()

	if err := ch.Send(ctx, payload); err != nil {
		s.dropChannel(sess, logger)
		return nil, err
	}
	if !start {
		if payload.Audio != nil {
			sess.Append(session.RoleUser, placeholderUserAudio)
		} else {
			sess.Append(session.RoleUser, payload.Text)
		}
	}

	t, err := s.assembler.Await(ctx, q)
	if err != nil {
		// A timed-out turn may still complete later on this channel and would
		// be read as the answer to the next request, so the channel goes too.
		if errors.Is(err, realtime.ErrChannelClosed) || errors.Is(err, turn.ErrTurnTimeout) {
			s.dropChannel(sess, logger)
		}
		return nil, err
	}
	reply, err := turn.Extract(t, q.DrainAudio(), s.container)
	if err != nil {
		return nil, err
	}

	recorded := reply.Text
	if recorded == "" {
		recorded = placeholderAssistantAudio
	}
	sess.Append(session.RoleAssistant, recorded)
	logger.Info("chat: voice reply",
		"events", len(t.Events),
		"reply_chars", len(reply.Text),
		"audio_bytes", len(reply.Audio),
		"assistant_turns", sess.AssistantTurns(),
	)

	resp := &Response{
		Reply:         reply.Text,
		AudioData:     reply.Audio,
		AudioMimeType: reply.MIMEType,
		SessionID:     sess.PatientID,
	}
	return s.finish(ctx, sess, resp, reply.Text != "", logger)
}

// channel returns the session's open channel, opening one on first use. The
// patient context travels as the system instruction of the first channel.
func (s *Service) channel(ctx context.Context, sess *session.Session, logger *logging.Logger) (realtime.Channel, error) {
	if ch := sess.Channel(); ch != nil {
		return ch, nil
	}
	if sess.Ended() {
		return nil, session.ErrSessionEnded
	}
	if s.dialer == nil {
		return nil, errors.New("chat: realtime dialer not configured")
	}

	opts := realtime.OpenOptions{PatientID: sess.PatientID}
	deliver := !sess.ContextSent() && strings.TrimSpace(sess.Context) != ""
	if deliver {
		opts.SystemInstruction = sess.Context
	}
	ch, err := s.dialer.Open(context.WithoutCancel(ctx), opts)
	if err != nil {
		return nil, err
	}
	if !sess.SetChannel(ch) {
		if err := ch.Close(); err != nil {
			logger.Warn("chat: channel close failed", "error", err)
		}
		return nil, session.ErrSessionEnded
	}
	if deliver {
		sess.MarkContextSent()
	}
	logger.Info("chat: realtime channel attached", "context_delivered", deliver)
	return ch, nil
}

func (s *Service) dropChannel(sess *session.Session, logger *logging.Logger) {
	ch := sess.ResetChannel()
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		logger.Warn("chat: channel close failed", "error", err)
	}
}

// finish mirrors the transcript and, when the summary sentinel has appeared,
// persists the summary and ends the session.
func (s *Service) finish(ctx context.Context, sess *session.Session, resp *Response, hasText bool, logger *logging.Logger) (*Response, error) {
	messages := sess.Messages()
	if s.history != nil {
		if err := s.history.Save(ctx, sess.PatientID, messages); err != nil {
			logger.Warn("chat: history mirror failed", "error", err)
		}
	}

	text, summarizedAt, done := sess.Summary(SummarySentinel)
	if !done {
		if !hasText {
			resp.Reply = placeholderReply
		}
		return resp, nil
	}

	rec := summary.Record{
		PatientID:    sess.PatientID,
		Summary:      text,
		Conversation: messages,
		CreatedAt:    summarizedAt.UTC(),
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if s.summaries != nil {
		if err := s.summaries.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("chat: persist summary: %w", err)
		}
	}
	if s.notifier != nil {
		s.notifier.NotifySummary(ctx, rec)
	}
	s.metrics.InterviewCompleted()
	s.registry.Remove(sess)
	logger.Info("chat: interview completed", "messages", len(messages), "summary_chars", len(text))

	if !hasText {
		resp.Reply = placeholderFinalReply
	}
	resp.EndSession = true
	return resp, nil
}

// EndSession removes a session on request. It reports whether one existed.
func (s *Service) EndSession(patientID string) bool {
	return s.registry.Terminate(patientID)
}

// History returns the transcript for a patient, from the live session when
// one exists and from the mirror otherwise.
func (s *Service) History(ctx context.Context, patientID string) ([]session.Message, error) {
	if sess, ok := s.registry.Get(patientID); ok {
		return sess.Messages(), nil
	}
	if s.history == nil {
		return nil, session.ErrHistoryNotFound
	}
	return s.history.Load(ctx, patientID)
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, session.ErrSessionBusy):
		return "busy"
	case errors.Is(err, session.ErrSessionEnded):
		return "ended"
	case errors.Is(err, turn.ErrTurnTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// Summary returns the latest persisted summary for a patient.
func (s *Service) Summary(ctx context.Context, patientID string) (summary.Record, error) {
	reader, ok := s.summaries.(summary.Reader)
	if !ok {
		return summary.Record{}, summary.ErrNotFound
	}
	return reader.Get(ctx, strings.TrimSpace(patientID))
}
