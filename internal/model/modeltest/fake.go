// Package modeltest provides an in-memory model.Provider for tests.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/model"
)

// ValidKey is the only key the fake provider accepts unless Keys is set.
const ValidKey = "test-key"

// Started records one StartConversation call.
type Started struct {
	SystemPrompt string
	Seed         []domain.Message
}

// Sent records one Conversation.Send call.
type Sent struct {
	Conversation int
	Text         string
	Image        *model.Image
}

// Provider is a scriptable fake. Reply, when set, produces the model answer;
// otherwise the answer echoes the input. Err, when set, fails every send.
type Provider struct {
	mu       sync.Mutex
	Keys     map[string]bool
	Reply    func(text string) string
	Err      error
	StartErr error
	starts   []Started
	sends    []Sent
	connects int
}

// New returns a fake provider accepting ValidKey.
func New() *Provider {
	return &Provider{Keys: map[string]bool{ValidKey: true}}
}

// Connect implements model.Provider.
func (p *Provider) Connect(_ context.Context, apiKey string) (model.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if !p.Keys[apiKey] {
		return nil, fmt.Errorf("%w: key rejected", model.ErrCredentialInvalid)
	}
	return &client{p: p}, nil
}

// SetErr changes the send error under lock.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Starts returns every recorded conversation start.
func (p *Provider) Starts() []Started {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Started(nil), p.starts...)
}

// Sends returns every recorded send.
func (p *Provider) Sends() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sends...)
}

// Connects returns the number of validation attempts.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

type client struct {
	p *Provider
}

func (c *client) StartConversation(_ context.Context, systemPrompt string, seed []domain.Message) (model.Conversation, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.p.StartErr != nil {
		return nil, c.p.StartErr
	}
	c.p.starts = append(c.p.starts, Started{
		SystemPrompt: systemPrompt,
		Seed:         append([]domain.Message(nil), seed...),
	})
	return &conversation{p: c.p, index: len(c.p.starts) - 1}, nil
}

type conversation struct {
	p     *Provider
	index int
}

func (c *conversation) Send(ctx context.Context, text string, image *model.Image) (string, error) {
	c.p.mu.Lock()
	c.p.sends = append(c.p.sends, Sent{Conversation: c.index, Text: text, Image: image})
	err := c.p.Err
	reply := c.p.Reply
	c.p.mu.Unlock()

	if err != nil {
		return "", err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if reply != nil {
		return reply(text), nil
	}
	return "echo: " + text, nil
}
