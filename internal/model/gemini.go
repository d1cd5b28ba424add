package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/wellness/internal/domain"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// validationPrompt is sent once to prove the key works.
const validationPrompt = "Hello"

// Gemini is a Provider backed by Google's Gemini API.
type Gemini struct {
	model string
}

// NewGemini creates a Gemini provider for the given model name.
func NewGemini(modelName string) *Gemini {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &Gemini{model: modelName}
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.model
}

// Connect validates apiKey with a round-trip generate call.
func (g *Gemini) Connect(ctx context.Context, apiKey string) (Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: empty api key", ErrCredentialInvalid)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %w", ErrCredentialInvalid, err)
	}

	if _, err := client.Models.GenerateContent(ctx, g.model, genai.Text(validationPrompt), nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}

	return &geminiClient{client: client, model: g.model}, nil
}

type geminiClient struct {
	client *genai.Client
	model  string
}

func (c *geminiClient) StartConversation(ctx context.Context, systemPrompt string, seed []domain.Message) (Conversation, error) {
	history := make([]*genai.Content, 0, len(seed))
	for _, m := range seed {
		history = append(history, genai.NewContentFromText(m.Content, geminiRole(m.Role)))
	}

	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	chat, err := c.client.Chats.Create(ctx, c.model, cfg, history)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat: %w", err)
	}
	return &geminiConversation{chat: chat}, nil
}

type geminiConversation struct {
	chat *genai.Chat
}

func (c *geminiConversation) Send(ctx context.Context, text string, image *Image) (string, error) {
	parts := []genai.Part{{Text: text}}
	if image != nil {
		parts = append(parts, genai.Part{
			InlineData: &genai.Blob{MIMEType: image.MIMEType, Data: image.Data},
		})
	}

	resp, err := c.chat.SendMessage(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini send: %w", err)
	}

	out := resp.Text()
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func geminiRole(r domain.Role) genai.Role {
	if r == domain.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}
