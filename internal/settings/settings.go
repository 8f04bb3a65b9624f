// Package settings holds the user-facing replacement settings and the stores
// that persist them between page loads.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultReplacementRate is used when nothing has been saved yet.
const DefaultReplacementRate = 1

var ErrInvalidRate = errors.New("settings: replacement rate must be within [0,100]")

// Settings is the value handed to a replacement engine. Engines receive a
// copy; a new value is created for every update.
type Settings struct {
	ReplacementRate int `json:"replacementRate"`
}

// Default returns the settings used when the store is empty.
func Default() Settings {
	return Settings{ReplacementRate: DefaultReplacementRate}
}

// Normalize clamps the rate into [0,100].
func (s Settings) Normalize() Settings {
	switch {
	case s.ReplacementRate < 0:
		s.ReplacementRate = 0
	case s.ReplacementRate > 100:
		s.ReplacementRate = 100
	}
	return s
}

// Merge overlays the fields set in p.
func (s Settings) Merge(p Partial) Settings {
	if p.ReplacementRate != nil {
		s.ReplacementRate = *p.ReplacementRate
	}
	return s
}

// Partial is a sparse update. Nil fields are left untouched by Save.
type Partial struct {
	ReplacementRate *int `json:"replacementRate,omitempty"`
}

// PartialOf converts a full value into an update that sets every field.
func PartialOf(s Settings) Partial {
	rate := s.ReplacementRate
	return Partial{ReplacementRate: &rate}
}

func (p Partial) Validate() error {
	if p.ReplacementRate != nil && (*p.ReplacementRate < 0 || *p.ReplacementRate > 100) {
		return fmt.Errorf("%w: got %d", ErrInvalidRate, *p.ReplacementRate)
	}
	return nil
}

// Store persists settings. Get returns Default() when nothing was saved.
type Store interface {
	Get(ctx context.Context) (Settings, error)
	Save(ctx context.Context, p Partial) error
}

// MemoryStore keeps settings for the lifetime of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	cur *Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return Default(), nil
	}
	return *m.cur, nil
}

func (m *MemoryStore) Save(_ context.Context, p Partial) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	base := Default()
	if m.cur != nil {
		base = *m.cur
	}
	next := base.Merge(p)
	m.cur = &next
	return nil
}
