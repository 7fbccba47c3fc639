package bootstrap

import (
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/telehealth-ai-platform/internal/config"
	"github.com/wolfman30/telehealth-ai-platform/internal/notify"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// BuildSummaryStore fans summaries out to postgres and the S3 archive, in
// that order. Without postgres the primary copy is kept in memory.
func BuildSummaryStore(cfg *appconfig.Config, pool *pgxpool.Pool, s3Client summary.S3API, logger *logging.Logger) summary.Store {
	if logger == nil {
		logger = logging.Default()
	}

	var stores summary.Multi
	if pool != nil {
		stores = append(stores, summary.NewPostgresStore(pool))
	} else {
		logger.Warn("DATABASE_URL not set, summaries are kept in memory only")
		stores = append(stores, summary.NewMemoryStore())
	}

	if cfg != nil && s3Client != nil && strings.TrimSpace(cfg.SummaryArchiveBucket) != "" {
		archive := summary.NewArchiveStore(s3Client, cfg.SummaryArchiveBucket, logger)
		stores = append(stores, archive)
		logger.Info("summary archive enabled", "bucket", cfg.SummaryArchiveBucket)
	}

	if len(stores) == 1 {
		return stores[0]
	}
	return stores
}

// BuildNotifier picks SendGrid when credentials exist and a logging stub
// otherwise. It returns nil when no care-team address is configured.
func BuildNotifier(cfg *appconfig.Config, logger *logging.Logger) *notify.SummaryNotifier {
	if cfg == nil || strings.TrimSpace(cfg.CareTeamEmail) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sender notify.EmailSender = notify.NewStubEmailSender(logger)
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
		logger.Info("care team notifications via sendgrid")
	} else {
		logger.Warn("SENDGRID_API_KEY not set, care team emails are logged only")
	}
	return notify.NewSummaryNotifier(sender, cfg.CareTeamEmail, logger)
}
