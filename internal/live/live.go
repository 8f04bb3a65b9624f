// Package live opens a real browser tab and keeps a replacement engine
// running against it for as long as the tab is open.
package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/chromedp/chromedp"

	"czcage/internal/candidates"
	"czcage/internal/controller"
	"czcage/internal/dom/cdpdoc"
	"czcage/internal/settings"
)

const defaultLoadTimeout = 30 * time.Second

type Config struct {
	URL string
	// Headful shows the browser window.
	Headful bool
	// Root is the container watched for added images; default body.
	Root        string
	LoadTimeout time.Duration

	Store      settings.Store
	Candidates *candidates.Set
	Resolver   candidates.Resolver
	Tabs       *controller.Registry
	Logger     *log.Logger
	Verbose    bool
}

// Session is one open tab with its controller.
type Session struct {
	ctrl        *controller.Controller
	tabs        *controller.Registry
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *log.Logger
}

// Open starts Chrome, loads cfg.URL, waits for the body to be ready and
// starts replacing images. The tab is registered with cfg.Tabs and becomes
// the active one.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("live: empty url")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), cdpdoc.AllocatorOptions(!cfg.Headful)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(cfg.Logger.Printf))
	s := &Session{
		tabs:        cfg.Tabs,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      cfg.Logger,
	}

	// the first Run starts the browser and binds it to its context, so it
	// must not carry the load timeout
	if err := chromedp.Run(tabCtx); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("live: start browser: %w", err)
	}
	loadCtx, cancelLoad := context.WithTimeout(tabCtx, cfg.LoadTimeout)
	stop := context.AfterFunc(ctx, cancelLoad)
	err := chromedp.Run(loadCtx,
		chromedp.Navigate(cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	stop()
	cancelLoad()
	if err != nil {
		s.shutdown()
		return nil, fmt.Errorf("live: open %s: %w", cfg.URL, err)
	}

	var location string
	if err := chromedp.Run(tabCtx, chromedp.Location(&location)); err != nil {
		location = cfg.URL
	}
	ctrl, err := controller.Load(ctx, controller.Config{
		Store:      cfg.Store,
		Candidates: cfg.Candidates,
		Resolver:   cfg.Resolver,
		Document:   cdpdoc.New(tabCtx),
		Watcher:    cdpdoc.NewWatcher(tabCtx, cfg.Logger),
		Root:       cfg.Root,
		URL:        location,
		Logger:     cfg.Logger,
		Rand:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		s.shutdown()
		return nil, fmt.Errorf("live: %w", err)
	}
	s.ctrl = ctrl
	if s.tabs != nil {
		s.tabs.Register(ctrl.ID(), ctrl)
	}
	st := ctrl.FirstPass()
	cfg.Logger.Printf("LIVE tab %s on %s: replaced %d of %d images", ctrl.ID(), location, st.Replaced, st.Eligible)
	return s, nil
}

func (s *Session) ID() string { return s.ctrl.ID() }

func (s *Session) Controller() *controller.Controller { return s.ctrl }

// Close unregisters the tab, stops its engine and closes the browser.
func (s *Session) Close() {
	if s.ctrl != nil {
		if s.tabs != nil {
			s.tabs.Unregister(s.ctrl.ID())
		}
		s.ctrl.Close()
	}
	s.shutdown()
}

func (s *Session) shutdown() {
	s.cancelTab()
	s.cancelAlloc()
}
