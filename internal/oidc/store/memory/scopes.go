package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
)

type scopeFile struct {
	Scopes []scopeEntry `yaml:"scopes"`
}

type scopeEntry struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// ScopeRegistry is a read-only store.ScopeRegistry backed by a YAML file.
type ScopeRegistry struct {
	scopes map[string]domain.Scope
	order  []string
}

// LoadScopeRegistry parses the scopes file.
func LoadScopeRegistry(path string) (*ScopeRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scopes file: %w", err)
	}
	return ParseScopeRegistry(raw)
}

// ParseScopeRegistry builds a registry from raw YAML. The openid scope is
// always present even when the file omits it.
func ParseScopeRegistry(raw []byte) (*ScopeRegistry, error) {
	var file scopeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse scopes file: %w", err)
	}

	reg := &ScopeRegistry{scopes: make(map[string]domain.Scope, len(file.Scopes)+1)}
	for _, e := range file.Scopes {
		if e.ID == "" {
			return nil, fmt.Errorf("scope entry missing id")
		}
		if _, dup := reg.scopes[e.ID]; dup {
			return nil, fmt.Errorf("duplicate scope id %q", e.ID)
		}
		reg.scopes[e.ID] = domain.Scope{ID: e.ID, Description: e.Description}
		reg.order = append(reg.order, e.ID)
	}

	if _, ok := reg.scopes[domain.ScopeOpenID]; !ok {
		reg.scopes[domain.ScopeOpenID] = domain.Scope{
			ID:          domain.ScopeOpenID,
			Description: "OpenID Connect authentication",
		}
		reg.order = append([]string{domain.ScopeOpenID}, reg.order...)
	}
	return reg, nil
}

func (r *ScopeRegistry) GetScopeByID(_ context.Context, id string) (domain.Scope, error) {
	s, ok := r.scopes[id]
	if !ok {
		return domain.Scope{}, store.ErrNotFound
	}
	return s, nil
}

func (r *ScopeRegistry) ListScopes(_ context.Context) ([]domain.Scope, error) {
	out := make([]domain.Scope, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.scopes[id])
	}
	return out, nil
}

func (r *ScopeRegistry) SaveScope(_ context.Context, _ domain.Scope) error {
	return store.ErrReadOnly
}

func (r *ScopeRegistry) RemoveScope(_ context.Context, _ string) error {
	return store.ErrReadOnly
}
