// Package model is the boundary to the remote generative-language API.
//
// The core depends only on three operations: validating a credential
// (Provider.Connect), creating a conversation seeded with a persona
// (Client.StartConversation) and sending one turn (Conversation.Send).
package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/wellness/internal/domain"
)

var (
	// ErrCredentialInvalid is returned when the remote service rejects an API key.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrUnsupportedImage is returned for attachments that are not JPEG or PNG.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("empty model response")
)

// Provider validates credentials and hands out clients bound to them.
type Provider interface {
	Connect(ctx context.Context, apiKey string) (Client, error)
}

// Client is a validated connection to the remote model.
type Client interface {
	// StartConversation creates a remote conversational context. systemPrompt
	// and seed always precede the first real turn.
	StartConversation(ctx context.Context, systemPrompt string, seed []domain.Message) (Conversation, error)
}

// Conversation is a stateful remote context that retains prior turns.
type Conversation interface {
	Send(ctx context.Context, text string, image *Image) (string, error)
}

// Image is a single attachment for one turn.
type Image struct {
	MIMEType string
	Data     []byte
}

// DetectImage sniffs data and returns an Image if it is JPEG or PNG.
func DetectImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty attachment", ErrUnsupportedImage)
	}
	mime := http.DetectContentType(data)
	switch mime {
	case "image/jpeg", "image/png":
		return &Image{MIMEType: mime, Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mime)
	}
}
