package identity

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type staticFile struct {
	Users []staticEntry `yaml:"users"`
}

type staticEntry struct {
	ID       string   `yaml:"id"`
	Username string   `yaml:"username"`
	Email    string   `yaml:"email"`
	Profile  string   `yaml:"profile"`
	Avatar   string   `yaml:"avatar"`
	Groups   []string `yaml:"groups"`
	Banned   bool     `yaml:"banned"`
}

// StaticProvider serves a fixed user set from a YAML file. It exists for
// local development and tests, where no forum database is around.
type StaticProvider struct {
	mu     sync.RWMutex
	users  map[string]Identity
	banned map[string]bool
}

// LoadStaticProvider parses a users file.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read users file: %w", err)
	}
	return ParseStaticProvider(raw)
}

// ParseStaticProvider builds a provider from raw YAML.
func ParseStaticProvider(raw []byte) (*StaticProvider, error) {
	var file staticFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("identity: parse users file: %w", err)
	}

	p := NewStaticProvider()
	for _, e := range file.Users {
		if e.ID == "" {
			return nil, fmt.Errorf("identity: user entry missing id")
		}
		p.Add(Identity{
			UserID:     e.ID,
			Username:   e.Username,
			Email:      e.Email,
			ProfileURL: e.Profile,
			AvatarURL:  e.Avatar,
			Groups:     e.Groups,
		})
		if e.Banned {
			p.SetBanned(e.ID, true)
		}
	}
	return p, nil
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		users:  make(map[string]Identity),
		banned: make(map[string]bool),
	}
}

// Add registers or replaces a user.
func (p *StaticProvider) Add(ident Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[ident.UserID] = ident
}

// SetBanned toggles the ban flag for a user.
func (p *StaticProvider) SetBanned(userID string, banned bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.banned[userID] = banned
}

func (p *StaticProvider) Lookup(_ context.Context, userID string) (Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ident, ok := p.users[userID]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return ident, nil
}

func (p *StaticProvider) IsBanned(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.users[userID]; !ok {
		return false, ErrUserNotFound
	}
	return p.banned[userID], nil
}
