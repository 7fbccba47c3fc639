package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/telehealth-ai-platform/internal/audio"
	"github.com/wolfman30/telehealth-ai-platform/internal/realtime"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/internal/turn"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

type stubInterviewer struct {
	resp    *Response
	err     error
	ended   map[string]bool
	history []session.Message
	histErr error
	summary summary.Record
	sumErr  error
}

func (s *stubInterviewer) Handle(context.Context, Request) (*Response, error) { return s.resp, s.err }
func (s *stubInterviewer) EndSession(id string) bool                         { return s.ended[id] }
func (s *stubInterviewer) Summary(context.Context, string) (summary.Record, error) {
	return s.summary, s.sumErr
}

func (s *stubInterviewer) History(context.Context, string) ([]session.Message, error) {
	return s.history, s.histErr
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/chat", h.Chat)
	r.Get("/chat/sessions", h.Sessions)
	r.Delete("/chat/{patientId}", h.EndSession)
	r.Get("/chat/{patientId}/history", h.History)
	r.Get("/chat/{patientId}/summary", h.Summary)
	return r
}

func postChat(t *testing.T, srv http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", session.ErrInvalidArgument, http.StatusBadRequest},
		{"busy", session.ErrSessionBusy, http.StatusConflict},
		{"ended", session.ErrSessionEnded, http.StatusGone},
		{"timeout", turn.ErrTurnTimeout, http.StatusGatewayTimeout},
		{"transcode", &audio.TranscodeError{Err: errBoom}, http.StatusInternalServerError},
		{"open", &realtime.ChannelOpenError{Stage: "dial", Err: errBoom}, http.StatusInternalServerError},
		{"empty", ErrEmptyModelResponse, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(HandlerConfig{Service: &stubInterviewer{err: tc.err}, Logger: logging.Discard()})
			rec := postChat(t, newTestRouter(h), `{"patientId":"p1","userInput":"hi"}`)
			require.Equal(t, tc.want, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body.Error)
			assert.Equal(t, ApologyReply, body.Reply)
		})
	}
}

func TestChatRejectsMalformedBody(t *testing.T) {
	h := NewHandler(HandlerConfig{Service: &stubInterviewer{}, Logger: logging.Discard()})
	rec := postChat(t, newTestRouter(h), `{"patientId":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ApologyReply)
}

func TestChatSuccess(t *testing.T) {
	h := NewHandler(HandlerConfig{
		Service: &stubInterviewer{resp: &Response{Reply: "Hello", SessionID: "p1"}},
		Logger:  logging.Discard(),
	})
	rec := postChat(t, newTestRouter(h), `{"patientId":"p1","userInput":"START_SESSION","mode":"text","context":"ctx"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hello", body["reply"])
	assert.Equal(t, false, body["endSession"])
	assert.Equal(t, "p1", body["sessionId"])
	assert.NotContains(t, body, "audioData")
}

func TestEndSessionRoutes(t *testing.T) {
	h := NewHandler(HandlerConfig{Service: &stubInterviewer{ended: map[string]bool{"p2": true}}, Logger: logging.Discard()})
	srv := newTestRouter(h)

	// Scenario E.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/chat/p1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Session not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/chat/p2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Session ended successfully"}`, rec.Body.String())
}

func TestHistoryRoute(t *testing.T) {
	stub := &stubInterviewer{history: []session.Message{{Role: session.RoleUser, Content: "hi"}}}
	srv := newTestRouter(NewHandler(HandlerConfig{Service: stub, Logger: logging.Discard()}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/p1/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"hi"`)

	stub.histErr = session.ErrHistoryNotFound
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/p1/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummaryRoute(t *testing.T) {
	stub := &stubInterviewer{summary: summary.Record{PatientID: "p1", Summary: "Fever for 2 days."}}
	srv := newTestRouter(NewHandler(HandlerConfig{Service: stub, Logger: logging.Discard()}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/p1/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summary":"Fever for 2 days."`)

	stub.sumErr = summary.ErrNotFound
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/p1/summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Summary not found"}`, rec.Body.String())

	stub.sumErr = errBoom
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/p1/summary", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthAndSessions(t *testing.T) {
	registry := session.NewRegistry(session.Config{Logger: logging.Discard()})
	_, _, _ = registry.GetOrCreate("p1", "")
	_, _, _ = registry.GetOrCreate("p2", "")
	fixed := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	h := NewHandler(HandlerConfig{
		Service:             &stubInterviewer{},
		Registry:            registry,
		GeminiAPIConfigured: true,
		Logger:              logging.Discard(),
		Now:                 func() time.Time { return fixed },
	})
	srv := newTestRouter(h)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","timestamp":"2025-05-06T07:08:09Z","activeSessions":2,"geminiApiConfigured":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Sessions, 2)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatEndToEndWithService(t *testing.T) {
	h := newHarness()
	srv := newTestRouter(NewHandler(HandlerConfig{Service: h.service, Registry: h.registry, Logger: logging.Discard()}))

	body, _ := json.Marshal(Request{PatientID: "p2", Mode: ModeVoice, AudioData: webm})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AudioData)
	assert.Equal(t, "p2", resp.SessionID)
}
