// Package memory implements the static client and scope registries. Both are
// loaded from YAML at startup and held immutable in memory; the provider has
// no dynamic client registration, so mutations return store.ErrReadOnly.
package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wintermoot/forumoidc/internal/oidc/domain"
	"github.com/wintermoot/forumoidc/internal/oidc/store"
)

type clientFile struct {
	Clients []clientEntry `yaml:"clients"`
}

type clientEntry struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	SecretHash   string   `yaml:"secret_hash"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
	Grants       []string `yaml:"grants"`

	AllowPlainPKCE       bool   `yaml:"allow_plain_pkce"`
	BackchannelLogoutURI string `yaml:"backchannel_logout_uri"`

	// Disabled keeps the entry on file while refusing new authorizations.
	Disabled bool `yaml:"disabled"`
}

// ClientRegistry is a read-only store.ClientRegistry backed by a YAML file.
type ClientRegistry struct {
	clients map[string]domain.Client
	order   []string
}

// LoadClientRegistry parses the clients file. Duplicate IDs and entries
// without an ID or redirect URIs are configuration errors.
func LoadClientRegistry(path string) (*ClientRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}
	return ParseClientRegistry(raw)
}

// ParseClientRegistry builds a registry from raw YAML.
func ParseClientRegistry(raw []byte) (*ClientRegistry, error) {
	var file clientFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse clients file: %w", err)
	}

	reg := &ClientRegistry{clients: make(map[string]domain.Client, len(file.Clients))}
	for _, e := range file.Clients {
		if e.ID == "" {
			return nil, fmt.Errorf("client entry missing id")
		}
		if _, dup := reg.clients[e.ID]; dup {
			return nil, fmt.Errorf("duplicate client id %q", e.ID)
		}
		if len(e.RedirectURIs) == 0 {
			return nil, fmt.Errorf("client %q has no redirect_uris", e.ID)
		}

		grants := e.Grants
		if len(grants) == 0 {
			grants = []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken}
		}

		reg.clients[e.ID] = domain.Client{
			ID:                   e.ID,
			Name:                 e.Name,
			SecretHash:           e.SecretHash,
			RedirectURIs:         e.RedirectURIs,
			Scopes:               e.Scopes,
			Grants:               grants,
			AllowPlainPKCE:       e.AllowPlainPKCE,
			BackchannelLogoutURI: e.BackchannelLogoutURI,
			Active:               !e.Disabled,
		}
		reg.order = append(reg.order, e.ID)
	}
	return reg, nil
}

func (r *ClientRegistry) GetClientByID(_ context.Context, id string) (domain.Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return domain.Client{}, store.ErrNotFound
	}
	return c, nil
}

func (r *ClientRegistry) ListClients(_ context.Context) ([]domain.Client, error) {
	out := make([]domain.Client, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.clients[id])
	}
	return out, nil
}

func (r *ClientRegistry) SaveClient(_ context.Context, _ domain.Client) error {
	return store.ErrReadOnly
}

func (r *ClientRegistry) RemoveClient(_ context.Context, _ string) error {
	return store.ErrReadOnly
}
