package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/telehealth-ai-platform/internal/http/middleware"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/internal/turn"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

// maxBodyBytes bounds POST /chat; recordings arrive base64 encoded inline.
const maxBodyBytes = 32 << 20

// Interviewer is what the HTTP surface needs from the service.
type Interviewer interface {
	Handle(ctx context.Context, req Request) (*Response, error)
	EndSession(patientID string) bool
	History(ctx context.Context, patientID string) ([]session.Message, error)
	Summary(ctx context.Context, patientID string) (summary.Record, error)
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Service             Interviewer
	Registry            *session.Registry
	GeminiAPIConfigured bool
	Logger              *logging.Logger
	Now                 func() time.Time
}

// Handler serves the interview HTTP endpoints.
type Handler struct {
	service    Interviewer
	registry   *session.Registry
	configured bool
	logger     *logging.Logger
	now        func() time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		service:    cfg.Service,
		registry:   cfg.Registry,
		configured: cfg.GeminiAPIConfigured,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Info("chat request received",
		"patient_id", req.PatientID,
		"mode", req.Mode,
		"has_context", req.Context != "",
		"has_audio", req.AudioData != "",
		"start_session", req.UserInput == StartSession,
		"input_chars", len(req.UserInput),
	)

	resp, err := h.service.Handle(r.Context(), req)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// EndSession handles DELETE /chat/{patientId}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientId")
	if !h.service.EndSession(patientID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended successfully"})
}

// History handles GET /chat/{patientId}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientId")
	messages, err := h.service.History(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, session.ErrHistoryNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "History not found"})
			return
		}
		h.logger.Error("chat: load history failed", "error", err, "patient_id", patientID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.logReview(r, "history", patientID)
	writeJSON(w, http.StatusOK, map[string]any{"patientId": patientID, "messages": messages})
}

// logReview records which staff member read a patient's record.
func (h *Handler) logReview(r *http.Request, resource, patientID string) {
	reviewer := "anonymous"
	if claims, ok := httpmiddleware.StaffClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		reviewer = claims.Subject
	}
	h.logger.Info("chat: patient record reviewed", "resource", resource, "patient_id", patientID, "reviewer", reviewer)
}

// Summary handles GET /chat/{patientId}/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientId")
	rec, err := h.service.Summary(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, summary.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Summary not found"})
			return
		}
		h.logger.Error("chat: load summary failed", "error", err, "patient_id", patientID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.logReview(r, "summary", patientID)
	writeJSON(w, http.StatusOK, rec)
}

// Sessions handles GET /chat/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, _ *http.Request) {
	var snapshot []session.Info
	if h.registry != nil {
		snapshot = h.registry.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": snapshot})
}

type healthResponse struct {
	Status              string `json:"status"`
	Timestamp           string `json:"timestamp"`
	ActiveSessions      int    `json:"activeSessions"`
	GeminiAPIConfigured bool   `json:"geminiApiConfigured"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if h.registry != nil {
		active = h.registry.Len()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:              "healthy",
		Timestamp:           h.now().UTC().Format(time.RFC3339Nano),
		ActiveSessions:      active,
		GeminiAPIConfigured: h.configured,
	})
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Telehealth intake server is running\n")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionEnded):
		return http.StatusGone
	case errors.Is(err, turn.ErrTurnTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Reply string `json:"reply"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Reply: ApologyReply})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
