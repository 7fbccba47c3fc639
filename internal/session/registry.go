package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
)

const (
	DefaultMaxAge        = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Config configures a Registry.
type Config struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *logging.Logger
	// OnExpire is called for every session removed by Sweep.
	OnExpire func(patientID string)
}

// Registry owns every live session.
type Registry struct {
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *logging.Logger
	onExpire func(string)

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg Config) *Registry {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Registry{
		maxAge:   cfg.MaxAge,
		interval: cfg.SweepInterval,
		now:      cfg.Now,
		logger:   cfg.Logger,
		onExpire: cfg.OnExpire,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for patientID, creating it with the given
// context when absent. The context of an existing session is never replaced.
func (r *Registry) GetOrCreate(patientID, patientContext string) (*Session, bool, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, false, ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[patientID]; ok {
		return s, false, nil
	}
	s := newSession(patientID, patientContext, r.now)
	r.sessions[patientID] = s
	r.logger.Info("session: created", "patient_id", patientID)
	return s, true, nil
}

func (r *Registry) Get(patientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.TrimSpace(patientID)]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot lists the live sessions ordered by creation time.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Terminate removes the session and closes its channel. It reports whether a
// session existed.
func (r *Registry) Terminate(patientID string) bool {
	patientID = strings.TrimSpace(patientID)
	r.mu.Lock()
	s, ok := r.sessions[patientID]
	if ok {
		delete(r.sessions, patientID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.closeChannel(s)
	r.logger.Info("session: terminated", "patient_id", patientID)
	return true
}

// Remove terminates s only if it is still the registered session for its
// patient, so a stale handle never removes a newer session under the same ID.
// s is marked ended either way.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[s.PatientID]
	owned := ok && current == s
	if owned {
		delete(r.sessions, s.PatientID)
	}
	r.mu.Unlock()

	r.closeChannel(s)
	if owned {
		r.logger.Info("session: terminated", "patient_id", s.PatientID)
	}
	return owned
}

// Sweep terminates sessions older than MaxAge and returns their IDs.
func (r *Registry) Sweep() []string {
	now := r.now()

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if now.Sub(s.CreatedAt) > r.maxAge {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		r.closeChannel(s)
		ids = append(ids, s.PatientID)
		if r.onExpire != nil {
			r.onExpire(s.PatientID)
		}
	}
	if len(ids) > 0 {
		sort.Strings(ids)
		r.logger.Info("session: swept expired sessions", "count", len(ids), "patient_ids", ids)
	}
	return ids
}

// Run sweeps every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll terminates every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.closeChannel(s)
	}
	if len(sessions) > 0 {
		r.logger.Info("session: closed all sessions", "count", len(sessions))
	}
}

func (r *Registry) closeChannel(s *Session) {
	ch := s.end()
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		r.logger.Warn("session: channel close failed", "patient_id", s.PatientID, "error", err)
	}
}
