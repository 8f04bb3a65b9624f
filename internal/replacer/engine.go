// Package replacer decides which images on a page are swapped for candidate
// images, performs the swap, and undoes it when settings change.
//
// All engine state is owned by one goroutine. Start, Stop, UpdateSettings and
// mutation batches are queued as tasks and run to completion in arrival
// order, so a pass never interleaves with another pass or with a revert.
package replacer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"

	"czcage/internal/candidates"
	"czcage/internal/dom"
	"czcage/internal/settings"
)

const (
	DefaultRoot      = "body"
	defaultQueueSize = 64
)

var (
	ErrClosed = errors.New("replacer: engine closed")
	// ErrWatch is returned by Start when the pass ran but the mutation
	// watch could not be installed.
	ErrWatch = errors.New("replacer: watch failed")
)

// Config wires an engine to one page.
type Config struct {
	Settings   settings.Settings
	Candidates *candidates.Set
	// Resolver turns candidate references into URLs. Nil resolves to
	// root-relative paths.
	Resolver candidates.Resolver
	Document dom.Document
	// Watcher is optional; without it Start performs a single pass.
	Watcher dom.Watcher
	Root    string
	Logger  *log.Logger
	Rand    *rand.Rand
	// Verbose logs every individual replacement.
	Verbose   bool
	QueueSize int
}

// Stats describes one pass.
type Stats struct {
	Eligible  int                `json:"eligible"`
	Target    int                `json:"target"`
	Attempted int                `json:"attempted"`
	Replaced  int                `json:"replaced"`
	Failed    int                `json:"failed"`
	Skipped   map[SkipReason]int `json:"skipped,omitempty"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Settings settings.Settings `json:"settings"`
	Passes   int               `json:"passes"`
	Tracked  int               `json:"tracked"`
	Watching bool              `json:"watching"`
	Last     Stats             `json:"last"`
}

type Engine struct {
	settings settings.Settings
	set      *candidates.Set
	resolver candidates.Resolver
	doc      dom.Document
	watcher  dom.Watcher
	root     string
	logger   *log.Logger
	rng      *rand.Rand
	verbose  bool

	tracked map[any]struct{}
	sub     dom.Subscription
	passes  int
	last    Stats

	// watchGen identifies the current watch; batches of older ones are dropped
	watchGen int

	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds an engine and starts its task loop. An empty candidate set is
// allowed; every pass is then a no-op.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = candidates.BaseURL("")
	}
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Candidates == nil {
		cfg.Candidates = candidates.New()
	}
	e := &Engine{
		settings: cfg.Settings.Normalize(),
		set:      cfg.Candidates,
		resolver: cfg.Resolver,
		doc:      cfg.Document,
		watcher:  cfg.Watcher,
		root:     cfg.Root,
		logger:   cfg.Logger,
		rng:      cfg.Rand,
		verbose:  cfg.Verbose,
		tracked:  make(map[any]struct{}),
		tasks:    make(chan func(), cfg.QueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Candidates.Len() == 0 {
		e.logger.Printf("WARN no candidate images available; replacement disabled")
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case task := <-e.tasks:
			task()
		}
	}
}

// do queues fn and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.tasks <- task:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs a pass over the current document and then watches Root for
// added images. Calling it again runs another pass without adding a second
// watch.
func (e *Engine) Start(ctx context.Context) (Stats, error) {
	var st Stats
	var werr error
	err := e.do(ctx, func() {
		st = e.pass("start")
		if e.watcher == nil || e.sub != nil || e.set.Len() == 0 {
			return
		}
		e.watchGen++
		gen := e.watchGen
		sub, err := e.watcher.Watch(e.root, func(b dom.Batch) { e.onBatch(gen, b) })
		if err != nil {
			werr = fmt.Errorf("%w: %s: %w", ErrWatch, e.root, err)
			return
		}
		e.sub = sub
	})
	if err != nil {
		return Stats{}, err
	}
	return st, werr
}

// Stop ends the mutation watch. Replaced images stay replaced.
func (e *Engine) Stop() {
	_ = e.do(context.Background(), e.unwatch)
}

func (e *Engine) unwatch() {
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
}

// UpdateSettings reverts every replaced image, adopts s and runs a fresh
// pass.
func (e *Engine) UpdateSettings(ctx context.Context, s settings.Settings) (Stats, error) {
	var st Stats
	err := e.do(ctx, func() {
		e.revert()
		e.settings = s.Normalize()
		st = e.pass("update")
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Wait returns once every task queued before it has run.
func (e *Engine) Wait(ctx context.Context) error {
	return e.do(ctx, func() {})
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func() {
		st = Status{
			Settings: e.settings,
			Passes:   e.passes,
			Tracked:  len(e.tracked),
			Watching: e.sub != nil,
			Last:     e.last,
		}
	})
	if err != nil {
		return Status{}, err
	}
	return st, nil
}

// LastPass returns the statistics of the most recent pass.
func (e *Engine) LastPass(ctx context.Context) (Stats, error) {
	st, err := e.Status(ctx)
	return st.Last, err
}

// Close stops the watch and the task loop. Later calls return ErrClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		_ = e.do(context.Background(), e.unwatch)
		close(e.quit)
		<-e.done
	})
}

func (e *Engine) onBatch(gen int, b dom.Batch) {
	task := func() {
		// a batch may still arrive from a watch that was already cancelled
		if e.sub == nil || gen != e.watchGen {
			return
		}
		if b.HasNewImages() {
			e.pass("mutation")
		}
	}
	select {
	case e.tasks <- task:
	case <-e.quit:
	}
}
