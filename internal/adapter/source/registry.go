// Package source adapts URL schemes to the domain.Source port. Factories
// register on a Registry; the first factory matching a parsed URL builds
// the source for it.
package source

import (
	"fmt"
	"net/url"

	"github.com/driftlake/intake/internal/domain"
)

// Factory builds Sources for the URL shapes it recognizes.
type Factory interface {
	Name() string
	Match(u *url.URL) bool
	New(u *url.URL) (domain.Source, error)
}

// Registry holds registered source factories.
type Registry struct {
	factories []Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a factory. Registration order decides match priority.
func (r *Registry) Register(f Factory) {
	r.factories = append(r.factories, f)
}

// Factories returns all registered factories.
func (r *Registry) Factories() []Factory {
	return r.factories
}

// Resolve implements domain.SourceResolver.
func (r *Registry) Resolve(rawURL string) (domain.Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	for _, f := range r.factories {
		if f.Match(u) {
			return f.New(u)
		}
	}
	return nil, fmt.Errorf("%w: no source handles %q", domain.ErrInvalidURL, rawURL)
}
