package realtime

// Wire types for the Gemini Live BidiGenerateContent protocol. Field names
// are camelCase on the wire.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string                    `json:"model"`
	GenerationConfig         generationConfig          `json:"generationConfig"`
	SystemInstruction        *content                  `json:"systemInstruction,omitempty"`
	ContextWindowCompression *contextWindowCompression `json:"contextWindowCompression,omitempty"`
	OutputAudioTranscription *struct{}                 `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
	MediaResolution    string        `json:"mediaResolution,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type contextWindowCompression struct {
	TriggerTokens int            `json:"triggerTokens,omitempty"`
	SlidingWindow *slidingWindow `json:"slidingWindow,omitempty"`
}

type slidingWindow struct {
	TargetTokens int `json:"targetTokens,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Text  string      `json:"text,omitempty"`
	Audio *InlineData `json:"audio,omitempty"`
}

// ServerMessage is one decoded frame from the Live endpoint.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// ServerContent carries model output for the current turn.
type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64 media tagged with its mime type.
type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type Transcription struct {
	Text string `json:"text,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// GoAway warns that the server will drop the connection soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// Event is a server message as it sits in the inbound queue.
type Event struct {
	Message ServerMessage
}

// TurnComplete reports whether the event ends the model's turn.
func (e Event) TurnComplete() bool {
	return e.Message.ServerContent != nil && e.Message.ServerContent.TurnComplete
}

// FirstPart returns the first model-turn part, if the event carries one.
func (e Event) FirstPart() (Part, bool) {
	sc := e.Message.ServerContent
	if sc == nil || sc.ModelTurn == nil || len(sc.ModelTurn.Parts) == 0 {
		return Part{}, false
	}
	return sc.ModelTurn.Parts[0], true
}

// Transcription returns the output audio transcription text, if any.
func (e Event) Transcription() string {
	sc := e.Message.ServerContent
	if sc == nil || sc.OutputTranscription == nil {
		return ""
	}
	return sc.OutputTranscription.Text
}

// Fragment is one chunk of inline model audio, still base64 encoded.
type Fragment struct {
	Data     string
	MimeType string
}
