package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/telehealth-ai-platform/internal/chat"
	httpmiddleware "github.com/wolfman30/telehealth-ai-platform/internal/http/middleware"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Chat               *chat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ChatRateLimiter throttles POST /chat per client IP. Nil disables it.
	ChatRateLimiter *httpmiddleware.RateLimiter

	// StaffJWTSecret signs the tokens accepted on the review routes. Empty
	// disables those routes.
	StaffJWTSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/", cfg.Chat.Root)
	r.Get("/health", cfg.Chat.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/chat", func(c chi.Router) {
		c.With(cfg.ChatRateLimiter.Middleware).Post("/", cfg.Chat.Chat)
		c.Delete("/{patientId}", cfg.Chat.EndSession)

		c.Group(func(staff chi.Router) {
			staff.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
			staff.Get("/sessions", cfg.Chat.Sessions)
			staff.Get("/{patientId}/history", cfg.Chat.History)
			staff.Get("/{patientId}/summary", cfg.Chat.Summary)
		})
	})

	return r
}
