package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/telehealth-ai-platform/internal/audio"
	"github.com/wolfman30/telehealth-ai-platform/internal/chat"
	appconfig "github.com/wolfman30/telehealth-ai-platform/internal/config"
	"github.com/wolfman30/telehealth-ai-platform/internal/notify"
	"github.com/wolfman30/telehealth-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/telehealth-ai-platform/internal/realtime"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/internal/turn"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// InterviewDeps are the process-level resources the interview service uses.
// Any of them may be nil.
type InterviewDeps struct {
	Registry  *session.Registry
	Redis     *redis.Client
	Summaries summary.Store
	Notifier  *notify.SummaryNotifier
	Metrics   *metrics.ChatMetrics
}

// Interview is the wired interview service plus whatever needs closing.
type Interview struct {
	Service *chat.Service
	text    *chat.GeminiTextModel
}

// Close releases the Gemini text client.
func (i *Interview) Close() error {
	if i == nil || i.text == nil {
		return nil
	}
	return i.text.Close()
}

// BuildInterview wires the text model, the Live dialer, the transcoder and
// the stores into a chat.Service. Without GEMINI_API_KEY the service still
// starts; model calls then fail with a configuration error.
func BuildInterview(ctx context.Context, cfg *appconfig.Config, deps InterviewDeps, logger *logging.Logger) (*Interview, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("bootstrap: session registry is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	transcoder := audio.NewTranscoder(audio.TranscoderConfig{
		FFmpegPath: cfg.FFmpegPath,
		Format:     audio.ChannelFormat,
		Logger:     logger,
	})
	svcCfg := chat.ServiceConfig{
		Registry:      deps.Registry,
		Transcoder:    transcoder,
		Assembler:     turn.Assembler{Timeout: cfg.TurnTimeout},
		Container:     turn.ParseContainer(cfg.ReplyAudioContainer),
		InputMIMEType: transcoder.Format().MIMEType(),
		Metrics:       deps.Metrics,
		Logger:        logger,
	}
	if deps.Summaries != nil {
		svcCfg.Summaries = deps.Summaries
	}
	if deps.Notifier != nil {
		svcCfg.Notifier = deps.Notifier
	}
	if deps.Redis != nil {
		svcCfg.History = session.NewHistoryStore(deps.Redis, nil)
	}

	out := &Interview{}
	if cfg.GeminiConfigured() {
		text, err := chat.NewGeminiTextModel(ctx, cfg.GeminiAPIKey, cfg.GeminiTextModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		out.text = text
		svcCfg.TextModel = text
		svcCfg.Dialer = realtime.NewGeminiDialer(realtime.Config{
			URL:    cfg.GeminiLiveURL,
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiLiveModel,
			Voice:  cfg.GeminiVoice,
		}, logger)
		logger.Info("gemini configured", "text_model", cfg.GeminiTextModel, "live_model", cfg.GeminiLiveModel)
	} else {
		logger.Warn("GEMINI_API_KEY not set, interview requests will fail")
	}

	out.Service = chat.NewService(svcCfg)
	return out, nil
}
