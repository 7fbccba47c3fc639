package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wolfman30/telehealth-ai-platform/internal/chat"
	httpmiddleware "github.com/wolfman30/telehealth-ai-platform/internal/http/middleware"
	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

type stubInterviewer struct {
	ended map[string]bool
}

func (s *stubInterviewer) Handle(_ context.Context, req chat.Request) (*chat.Response, error) {
	return &chat.Response{Reply: "hello", SessionID: req.PatientID}, nil
}

func (s *stubInterviewer) EndSession(id string) bool { return s.ended[id] }

func (s *stubInterviewer) History(context.Context, string) ([]session.Message, error) {
	return []session.Message{{Role: session.RoleUser, Content: "hi"}}, nil
}

func (s *stubInterviewer) Summary(_ context.Context, id string) (summary.Record, error) {
	if id != "p1" {
		return summary.Record{}, summary.ErrNotFound
	}
	return summary.Record{PatientID: id, Summary: "Chief complaint: headache."}, nil
}

const testStaffSecret = "staff-secret"

func staffToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "nurse-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()

	logger := logging.Discard()
	registry := session.NewRegistry(session.Config{Logger: logger})
	handler := chat.NewHandler(chat.HandlerConfig{
		Service:  &stubInterviewer{ended: map[string]bool{"p1": true}},
		Registry: registry,
		Logger:   logger,
	})
	cfg := &Config{
		Logger: logger,
		Chat:   handler,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		CORSAllowedOrigins: []string{"https://intake.example"},
		StaffJWTSecret:     testStaffSecret,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func serve(router http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", resp["status"])
	}
}

func TestRouterRoutes(t *testing.T) {
	router := newTestRouter(t, nil)
	staff := map[string]string{"Authorization": staffToken(t, testStaffSecret)}

	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		headers map[string]string
		want    int
	}{
		{"root", http.MethodGet, "/", "", nil, http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", nil, http.StatusOK},
		{"chat", http.MethodPost, "/chat", `{"patientId":"p1","userInput":"hi"}`, nil, http.StatusOK},
		{"end known", http.MethodDelete, "/chat/p1", "", nil, http.StatusOK},
		{"end unknown", http.MethodDelete, "/chat/p2", "", nil, http.StatusNotFound},
		{"sessions", http.MethodGet, "/chat/sessions", "", staff, http.StatusOK},
		{"history", http.MethodGet, "/chat/p1/history", "", staff, http.StatusOK},
		{"summary", http.MethodGet, "/chat/p1/summary", "", staff, http.StatusOK},
		{"summary missing", http.MethodGet, "/chat/p2/summary", "", staff, http.StatusNotFound},
		{"wrong method", http.MethodPut, "/chat", "", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(router, tt.method, tt.target, tt.body, tt.headers)
			if rr.Code != tt.want {
				t.Fatalf("%s %s: expected %d, got %d (%s)", tt.method, tt.target, tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodOptions, "/chat", "", map[string]string{
		"Origin":                        "https://intake.example",
		"Access-Control-Request-Method": "POST",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://intake.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRouterStaffRoutesRequireJWT(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, target := range []string{"/chat/sessions", "/chat/p1/history", "/chat/p1/summary"} {
		if rr := serve(router, http.MethodGet, target, "", nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", target, rr.Code)
		}
		wrong := map[string]string{"Authorization": staffToken(t, "other-secret")}
		if rr := serve(router, http.MethodGet, target, "", wrong); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 with foreign token, got %d", target, rr.Code)
		}
		valid := map[string]string{"Authorization": staffToken(t, testStaffSecret)}
		if rr := serve(router, http.MethodGet, target, "", valid); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 with staff token, got %d (%s)", target, rr.Code, rr.Body.String())
		}
	}
	if rr := serve(router, http.MethodPost, "/chat", `{"patientId":"p1","userInput":"hi"}`, nil); rr.Code != http.StatusOK {
		t.Fatalf("chat must stay open to patients, got %d", rr.Code)
	}
}

func TestRouterStaffRoutesClosedWithoutSecret(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) { cfg.StaffJWTSecret = "" })

	rr := serve(router, http.MethodGet, "/chat/sessions", "", map[string]string{"Authorization": staffToken(t, testStaffSecret)})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when staff auth is unconfigured, got %d", rr.Code)
	}
}

func TestRouterRateLimitsChat(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.ChatRateLimiter = httpmiddleware.NewRateLimiter(1, 1)
	})

	body := `{"patientId":"p1","userInput":"hi"}`
	if rr := serve(router, http.MethodPost, "/chat", body, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected first chat allowed, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPost, "/chat", body, nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", rr.Code)
	}
}
