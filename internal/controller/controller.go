// Package controller runs one replacement engine per page load and routes
// settings messages to it.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/google/uuid"

	"czcage/internal/candidates"
	"czcage/internal/dom"
	"czcage/internal/replacer"
	"czcage/internal/settings"
)

// ActionUpdateSettings is the only message a page acts on.
const ActionUpdateSettings = "updateSettings"

// Message is what the settings surface sends to a page.
type Message struct {
	Action   string            `json:"action"`
	Settings *settings.Partial `json:"settings,omitempty"`
}

type Response struct {
	Success bool `json:"success"`
}

// Config describes one page load.
type Config struct {
	Store      settings.Store
	Candidates *candidates.Set
	Resolver   candidates.Resolver
	Document   dom.Document
	// Watcher may be nil for pages that never change after load.
	Watcher dom.Watcher
	Root    string
	// URL is only used in log lines.
	URL     string
	Logger  *log.Logger
	Rand    *rand.Rand
	Verbose bool
}

type Controller struct {
	id     string
	url    string
	engine *replacer.Engine
	logger *log.Logger
	first  replacer.Stats
}

// Load reads the saved settings and starts an engine on the page. A store
// failure is logged and the defaults are used instead.
func Load(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Document == nil {
		return nil, errors.New("controller: nil document")
	}
	s := settings.Default()
	if cfg.Store != nil {
		got, err := cfg.Store.Get(ctx)
		if err != nil {
			cfg.Logger.Printf("WARN load settings: %v; using defaults", err)
		} else {
			s = got
		}
	}
	c := &Controller{
		id:     newID(),
		url:    cfg.URL,
		logger: cfg.Logger,
	}
	c.engine = replacer.New(replacer.Config{
		Settings:   s,
		Candidates: cfg.Candidates,
		Resolver:   cfg.Resolver,
		Document:   cfg.Document,
		Watcher:    cfg.Watcher,
		Root:       cfg.Root,
		Logger:     cfg.Logger,
		Rand:       cfg.Rand,
		Verbose:    cfg.Verbose,
	})
	st, err := c.engine.Start(ctx)
	switch {
	case errors.Is(err, replacer.ErrWatch):
		cfg.Logger.Printf("WARN page %s %s: %v", c.id, c.url, err)
	case err != nil:
		c.engine.Close()
		return nil, fmt.Errorf("controller: start: %w", err)
	}
	c.first = st
	return c, nil
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) URL() string { return c.url }

// FirstPass is the result of the pass run by Load.
func (c *Controller) FirstPass() replacer.Stats { return c.first }

func (c *Controller) LastPass(ctx context.Context) (replacer.Stats, error) {
	return c.engine.LastPass(ctx)
}

func (c *Controller) Status(ctx context.Context) (replacer.Status, error) {
	return c.engine.Status(ctx)
}

// HandleMessage applies an updateSettings message. Any other message is not
// ours and is left unanswered (ok is false).
func (c *Controller) HandleMessage(ctx context.Context, m Message) (resp Response, ok bool) {
	if m.Action != ActionUpdateSettings || m.Settings == nil {
		return Response{}, false
	}
	cur, err := c.engine.Status(ctx)
	if err != nil {
		c.logger.Printf("WARN page %s: update settings: %v", c.id, err)
		return Response{Success: false}, true
	}
	next := cur.Settings.Merge(*m.Settings)
	if _, err := c.engine.UpdateSettings(ctx, next); err != nil {
		c.logger.Printf("WARN page %s: update settings: %v", c.id, err)
		return Response{Success: false}, true
	}
	return Response{Success: true}, true
}

// HandleJSON is HandleMessage on an encoded message. Malformed input is
// treated like an unknown message.
func (c *Controller) HandleJSON(ctx context.Context, raw []byte) ([]byte, bool) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	resp, ok := c.HandleMessage(ctx, m)
	if !ok {
		return nil, false
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Close stops the engine. Replaced images stay replaced.
func (c *Controller) Close() {
	c.engine.Close()
}
