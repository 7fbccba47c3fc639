// Package chat runs the patient intake interview over text or realtime voice
// and exposes it over HTTP.
package chat

import (
	"context"
	"errors"

	"github.com/wolfman30/telehealth-ai-platform/internal/session"
	"github.com/wolfman30/telehealth-ai-platform/internal/summary"
)

// Mode selects the interview transport.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

const (
	// StartSession is the reserved userInput that asks the assistant to open
	// the interview.
	StartSession = "START_SESSION"
	// SummarySentinel marks the start of the structured summary in model
	// output and ends the interview.
	SummarySentinel = "SUMMARY_START"

	textKickoff  = "Please start the medical interview now."
	voiceKickoff = "Please start the medical interview now. Respond with audio."

	placeholderUserAudio      = "[Audio Message]"
	placeholderAssistantAudio = "[Audio Response]"
	placeholderReply          = "Audio response"
	placeholderFinalReply     = "Session completed"

	// ApologyReply is shown to the patient when a request fails.
	ApologyReply = "I apologize, but I encountered an error. Please try again."
)

// ErrEmptyModelResponse is returned when the text model replies with nothing.
var ErrEmptyModelResponse = errors.New("chat: empty response from model")

// Request is the body of POST /chat.
type Request struct {
	PatientID string `json:"patientId"`
	UserInput string `json:"userInput"`
	Mode      Mode   `json:"mode"`
	Context   string `json:"context,omitempty"`
	AudioData string `json:"audioData,omitempty"`
}

// Response is the reply to POST /chat.
type Response struct {
	Reply         string `json:"reply"`
	AudioData     string `json:"audioData,omitempty"`
	AudioMimeType string `json:"audioMimeType,omitempty"`
	EndSession    bool   `json:"endSession"`
	SessionID     string `json:"sessionId"`
}

// TextModel generates the next assistant message from the full history.
type TextModel interface {
	Generate(ctx context.Context, systemInstruction string, history []session.Message) (string, error)
}

// Transcoder decodes client recordings to channel PCM.
type Transcoder interface {
	Transcode(ctx context.Context, compressed []byte) ([]byte, error)
}

// Notifier tells the care team a summary is ready.
type Notifier interface {
	NotifySummary(ctx context.Context, rec summary.Record)
}

// HistoryMirror keeps transcripts readable after a session ends.
type HistoryMirror interface {
	Save(ctx context.Context, patientID string, history []session.Message) error
	Load(ctx context.Context, patientID string) ([]session.Message, error)
}
