// Package session keeps the in-memory interview sessions keyed by patient ID.
package session

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wolfman30/telehealth-ai-platform/internal/realtime"
)

var (
	// ErrInvalidArgument is returned for a missing patient ID.
	ErrInvalidArgument = errors.New("session: patient id is required")
	// ErrSessionBusy is returned when a request is already in flight for the
	// same session.
	ErrSessionBusy = errors.New("session: another request is in progress")
	// ErrSessionEnded is returned when a session was terminated while a
	// request for it was still running.
	ErrSessionEnded = errors.New("session: session has ended")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is one patient's interview. The in-flight guard serialises
// requests; fields are additionally mutex-protected so the sweeper and the
// health surface can read them safely.
type Session struct {
	PatientID string
	Context   string
	CreatedAt time.Time

	busy atomic.Bool
	now  func() time.Time

	mu             sync.Mutex
	messages       []Message
	assistantTurns int
	channel        realtime.Channel
	contextSent    bool
	ended          bool
}

func newSession(patientID, patientContext string, now func() time.Time) *Session {
	return &Session{
		PatientID: patientID,
		Context:   patientContext,
		CreatedAt: now(),
		now:       now,
	}
}

// Acquire claims the session for one request.
func (s *Session) Acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrSessionBusy
	}
	return nil
}

func (s *Session) Release() {
	s.busy.Store(false)
}

// Append records a message; assistant messages count as turns.
func (s *Session) Append(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Content: content, At: s.now()})
	if role == RoleAssistant {
		s.assistantTurns++
	}
}

// Messages returns a copy of the history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) AssistantTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantTurns
}

// Channel returns the open realtime channel, or nil.
func (s *Session) Channel() realtime.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// SetChannel attaches ch. It is called under the in-flight guard only. It
// reports false, leaving ch unattached, once the session has ended; the
// caller then owns ch and must close it.
func (s *Session) SetChannel(ch realtime.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.channel = ch
	return true
}

// Ended reports whether the registry has terminated the session.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// ResetChannel detaches the channel and clears the context-delivered flag,
// so a replacement channel is opened with the context again. The caller
// closes the returned channel.
func (s *Session) ResetChannel() realtime.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channel
	s.channel = nil
	s.contextSent = false
	return ch
}

// end marks the session terminated and detaches its channel.
func (s *Session) end() realtime.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	ch := s.channel
	s.channel = nil
	return ch
}

// MarkContextSent records that the patient context reached the model. It
// reports false when it had already been delivered.
func (s *Session) MarkContextSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contextSent {
		return false
	}
	s.contextSent = true
	return true
}

func (s *Session) ContextSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextSent
}

// Summary finds the latest message carrying sentinel and returns the text
// after it along with that message's timestamp.
func (s *Session) Summary(sentinel string) (string, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if idx := strings.Index(msg.Content, sentinel); idx >= 0 {
			return strings.TrimSpace(msg.Content[idx+len(sentinel):]), msg.At, true
		}
	}
	return "", time.Time{}, false
}

// Info is a read-only view of a session.
type Info struct {
	PatientID      string    `json:"patientId"`
	CreatedAt      time.Time `json:"createdAt"`
	Messages       int       `json:"messages"`
	AssistantTurns int       `json:"assistantTurns"`
	VoiceOpen      bool      `json:"voiceOpen"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		PatientID:      s.PatientID,
		CreatedAt:      s.CreatedAt,
		Messages:       len(s.messages),
		AssistantTurns: s.assistantTurns,
		VoiceOpen:      s.channel != nil,
	}
}
