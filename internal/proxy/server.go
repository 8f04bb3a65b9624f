// Package proxy serves pages with a share of their images replaced, along
// with the candidate images themselves and the settings surface.
package proxy

import (
	"io/fs"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"czcage/internal/candidates"
	"czcage/internal/controller"
	"czcage/internal/settings"
)

const (
	defaultSitesDir     = "config/sites"
	defaultAssetsDir    = "public"
	defaultCacheTTL     = 5 * time.Minute
	defaultFetchTimeout = 25 * time.Second

	// AssetPrefix is where candidate images are served. Image sources under
	// it are never replaced.
	AssetPrefix = "/__czcage/"
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	SitesDir  string
	AssetsDir string
	// PublicURL overrides the per-request base for candidate image URLs,
	// e.g. when the proxy sits behind another host name.
	PublicURL    string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	Verbose      bool

	Store      settings.Store
	Tabs       *controller.Registry
	Candidates *candidates.Set
	// Transport is used for upstream requests; nil means the default.
	Transport http.RoundTripper
	Logger    *log.Logger
	Clock     func() time.Time
	Rand      *rand.Rand
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		Logger:       log.Default(),
		Clock:        time.Now,
		SitesDir:     strings.TrimSpace(os.Getenv("CZCAGE_SITES_DIR")),
		AssetsDir:    strings.TrimSpace(os.Getenv("CZCAGE_ASSETS")),
		PublicURL:    strings.TrimSpace(os.Getenv("CZCAGE_PUBLIC_URL")),
		CacheTTL:     defaultCacheTTL,
		FetchTimeout: defaultFetchTimeout,
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = defaultAssetsDir
	}
	if v := strings.TrimSpace(os.Getenv("CZCAGE_CACHE_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("CZCAGE_VERBOSE")); v != "" {
		cfg.Verbose, _ = strconv.ParseBool(v)
	}
	return cfg
}

// Server exposes the HTTP handlers.
type Server struct {
	cfg        Config
	router     chi.Router
	logger     *log.Logger
	cookieJars *cookieJarStore
	cache      *pageCache
	sites      *siteConfigStore
	popup      *controller.Popup
	candidates *candidates.Set
	assets     fs.FS
	transport  http.RoundTripper
	clock      func() time.Time

	bakerOnce sync.Once
	baker     *jsBaker

	// rand.Rand is not safe for concurrent use; requests share one source
	randMu sync.Mutex
	rng    *rand.Rand
}

// New wires a new server with the provided configuration. Candidate images
// are loaded from AssetsDir unless Candidates is set.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = defaultAssetsDir
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Store == nil {
		cfg.Store = settings.NewMemoryStore()
	}
	if cfg.Tabs == nil {
		cfg.Tabs = controller.NewRegistry()
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	assets := os.DirFS(cfg.AssetsDir)
	set := cfg.Candidates
	if set == nil {
		var err error
		set, err = candidates.Load(assets, ".")
		if err != nil {
			cfg.Logger.Printf("WARN load candidate images from %s: %v", cfg.AssetsDir, err)
			set = candidates.New()
		}
		for _, skipped := range set.Skipped() {
			cfg.Logger.Printf("WARN skipped candidate %s: not a decodable image", skipped)
		}
		cfg.Logger.Printf("Loaded %d candidate images from %s", set.Len(), cfg.AssetsDir)
	}
	s := &Server{
		cfg:        cfg,
		logger:     cfg.Logger,
		cookieJars: newCookieJarStore(),
		cache:      newPageCache(cfg.Clock, cfg.CacheTTL),
		sites:      newSiteConfigStore(cfg.SitesDir),
		popup:      &controller.Popup{Store: cfg.Store, Tabs: cfg.Tabs, Logger: cfg.Logger},
		candidates: set,
		assets:     assets,
		transport:  cfg.Transport,
		clock:      cfg.Clock,
		rng:        cfg.Rand,
	}
	s.router = s.routes()
	return s
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close shuts down the rendering browser, if one was started.
func (s *Server) Close() {
	if s.baker != nil {
		s.baker.Close()
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogging(s.logger))

	r.Get("/", s.handleRoot)
	r.Get("/ping", s.handlePing)
	r.Get("/fetch", s.handleFetch)
	r.Post("/fetch", s.handleFetch)
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.handleGetSettings)
		r.Post("/", s.handleSaveSettings)
		r.Post("/reset", s.handleResetSettings)
	})
	r.Get("/tabs", s.handleTabs)
	r.Handle(AssetPrefix+candidates.ImagesDir+"/*", http.StripPrefix(AssetPrefix, http.FileServerFS(s.assets)))
	return r
}

func (s *Server) jsBaker() *jsBaker {
	s.bakerOnce.Do(func() {
		s.baker = newJSBaker(s.logger)
	})
	return s.baker
}

// seed draws a per-page seed so concurrent pages get independent sources.
func (s *Server) seed() (uint64, uint64) {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rng.Uint64(), s.rng.Uint64()
}
