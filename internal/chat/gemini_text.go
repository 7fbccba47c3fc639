package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/wolfman30/telehealth-ai-platform/internal/session"
)

// DefaultTextModel is used when no model ID is configured.
const DefaultTextModel = "gemini-2.5-flash"

// GeminiTextModel generates text-mode replies with the Gemini API, streaming
// the response and joining the chunks.
type GeminiTextModel struct {
	client  *genai.Client
	modelID string
}

func NewGeminiTextModel(ctx context.Context, apiKey, modelID string) (*GeminiTextModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("chat: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultTextModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("chat: failed to create gemini client: %w", err)
	}
	return &GeminiTextModel{client: client, modelID: modelID}, nil
}

// Generate sends the full history; the last message is the new user turn.
func (g *GeminiTextModel) Generate(ctx context.Context, systemInstruction string, history []session.Message) (string, error) {
	past, last, err := splitHistory(history)
	if err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.modelID)
	if strings.TrimSpace(systemInstruction) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemInstruction))
	}
	cs := model.StartChat()
	cs.History = past

	iter := cs.SendMessageStream(ctx, genai.Text(last))
	var reply strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("chat: gemini stream failed: %w", err)
		}
		reply.WriteString(responseText(resp))
	}
	return reply.String(), nil
}

func (g *GeminiTextModel) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func splitHistory(history []session.Message) ([]*genai.Content, string, error) {
	if len(history) == 0 {
		return nil, "", errors.New("chat: gemini requires at least one message")
	}
	var past []*genai.Content
	for _, msg := range history[:len(history)-1] {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		past = append(past, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}
	return past, history[len(history)-1].Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
