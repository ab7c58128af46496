package dispatcher

import (
	"sort"
	"strings"

	"github.com/dharmasatrya/awardsearch/internal/providers"
)

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]providers.Provider
}

func NewRegistry(list ...providers.Provider) *Registry {
	r := &Registry{providers: make(map[string]providers.Provider, len(list))}
	for _, p := range list {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p providers.Provider) {
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (providers.Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
