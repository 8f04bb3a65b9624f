package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"czcage/internal/settings"
)

var (
	ErrNoActiveTab = errors.New("controller: no active tab")
	ErrNotHandled  = errors.New("controller: message not handled")
)

// Tab receives messages from the settings surface.
type Tab interface {
	HandleMessage(ctx context.Context, m Message) (Response, bool)
}

// Registry tracks open tabs. The most recently registered or activated tab
// that is still open is the active one.
type Registry struct {
	mu    sync.Mutex
	tabs  map[string]Tab
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tabs: make(map[string]Tab)}
}

func (r *Registry) Register(id string, t Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[id] = t
	r.touch(id)
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tabs[id]; !ok {
		return fmt.Errorf("controller: unknown tab %s", id)
	}
	r.touch(id)
	return nil
}

func (r *Registry) touch(id string) {
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.order = append(r.order, id)
}

// Active returns the id of the active tab.
func (r *Registry) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return "", false
	}
	return r.order[len(r.order)-1], true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// Send delivers m to the active tab.
func (r *Registry) Send(ctx context.Context, m Message) (Response, error) {
	r.mu.Lock()
	var t Tab
	if n := len(r.order); n > 0 {
		t = r.tabs[r.order[n-1]]
	}
	r.mu.Unlock()
	if t == nil {
		return Response{}, ErrNoActiveTab
	}
	resp, ok := t.HandleMessage(ctx, m)
	if !ok {
		return Response{}, ErrNotHandled
	}
	return resp, nil
}

// Popup is the settings surface: it persists changes and tells the active
// tab about them.
type Popup struct {
	Store  settings.Store
	Tabs   *Registry
	Logger *log.Logger
}

func (p *Popup) logger() *log.Logger {
	if p.Logger == nil {
		return log.Default()
	}
	return p.Logger
}

// Load returns the saved settings.
func (p *Popup) Load(ctx context.Context) (settings.Settings, error) {
	s, err := p.Store.Get(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("controller: load settings: %w", err)
	}
	return s, nil
}

// Save persists the update and relays it. Only persistence errors are
// returned; a tab that cannot be reached is logged.
func (p *Popup) Save(ctx context.Context, update settings.Partial) (settings.Settings, error) {
	if err := p.Store.Save(ctx, update); err != nil {
		return settings.Settings{}, fmt.Errorf("controller: save settings: %w", err)
	}
	p.relay(ctx, update)
	return p.Load(ctx)
}

// Reset stores the defaults and relays them.
func (p *Popup) Reset(ctx context.Context) (settings.Settings, error) {
	return p.Save(ctx, settings.PartialOf(settings.Default()))
}

func (p *Popup) relay(ctx context.Context, update settings.Partial) {
	if p.Tabs == nil {
		return
	}
	resp, err := p.Tabs.Send(ctx, Message{Action: ActionUpdateSettings, Settings: &update})
	switch {
	case errors.Is(err, ErrNoActiveTab):
		p.logger().Printf("POPUP relay skipped: %v", err)
	case err != nil:
		p.logger().Printf("WARN popup relay: %v", err)
	case !resp.Success:
		p.logger().Printf("WARN popup relay: tab reported failure")
	}
}
