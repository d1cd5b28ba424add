// Package persona holds the fixed catalog of assistant personas.
package persona

import (
	"errors"
	"fmt"

	"github.com/ashureev/wellness/internal/domain"
)

// ErrNotFound is returned when a persona ID is not part of the catalog.
var ErrNotFound = errors.New("persona not found")

// seedOpening is the synthetic user turn that opens every remote conversation.
const seedOpening = "Hello, I need help with family wellness and development."

// Persona is an assistant configuration: display identity plus system prompt.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Prompt      string `json:"-"`
}

// Greeting is the first assistant message shown after a conversation starts.
func (p Persona) Greeting() string {
	return fmt.Sprintf("Hello! I'm %s, your %s. How can I support you today?", p.Name, p.Role)
}

// SeedTurns returns the scripted exchange that precedes the first real turn:
// a synthetic user opening and an assistant reply carrying the full prompt
// followed by the greeting.
func (p Persona) SeedTurns() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleUser, Content: seedOpening},
		{Role: domain.RoleAssistant, Content: p.Prompt + "\n\n" + p.Greeting()},
	}
}

// Registry is an immutable lookup table of personas in display order.
type Registry struct {
	order []Persona
	byID  map[string]int
}

// NewRegistry builds a registry. The first persona is the default.
func NewRegistry(personas ...Persona) (*Registry, error) {
	if len(personas) == 0 {
		return nil, errors.New("persona registry needs at least one persona")
	}
	r := &Registry{
		order: make([]Persona, 0, len(personas)),
		byID:  make(map[string]int, len(personas)),
	}
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona %q has an empty id", p.Name)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		r.byID[p.ID] = len(r.order)
		r.order = append(r.order, p)
	}
	return r, nil
}

// Get returns the persona with the given ID.
func (r *Registry) Get(id string) (Persona, error) {
	i, ok := r.byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.order[i], nil
}

// Has reports whether id is in the catalog.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns all personas in display order.
func (r *Registry) List() []Persona {
	out := make([]Persona, len(r.order))
	copy(out, r.order)
	return out
}

// DefaultID is the persona a fresh session starts with.
func (r *Registry) DefaultID() string {
	return r.order[0].ID
}
