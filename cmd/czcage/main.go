package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"czcage/internal/candidates"
	"czcage/internal/config"
	"czcage/internal/controller"
	"czcage/internal/live"
	"czcage/internal/proxy"
	"czcage/internal/settings"
)

func main() {
	configFlag := flag.String("config", "", "path to a YAML config file")
	addrFlag := flag.String("addr", "", "listen address, e.g. :81 or 0.0.0.0:8081")
	assetsFlag := flag.String("assets", "", "directory holding images/ with candidate pictures")
	sitesFlag := flag.String("sites", "", "directory with per-site JSON configs")
	dbFlag := flag.String("db", "", "SQLite file for settings; empty keeps them in memory")
	publicFlag := flag.String("public-url", "", "absolute base URL candidate images are served from")
	liveFlag := flag.String("live", "", "open this URL in Chrome and replace images in the live tab")
	headfulFlag := flag.Bool("headful", false, "show the live browser window")
	verboseFlag := flag.Bool("verbose", false, "log every replacement")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.LoadFile(*configFlag); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addrFlag
		case "assets":
			cfg.Server.Assets = *assetsFlag
		case "sites":
			cfg.Server.Sites = *sitesFlag
		case "db":
			cfg.Server.DB = *dbFlag
		case "public-url":
			cfg.Server.PublicURL = *publicFlag
		case "live":
			cfg.Live.URL = *liveFlag
		case "headful":
			cfg.Live.Headful = *headfulFlag
		case "verbose":
			cfg.Server.Verbose = *verboseFlag
		}
	})
	if env := os.Getenv("PORT"); env != "" {
		cfg.Server.Addr = ":" + env
	}

	store, closeStore := openStore(cfg.Server.DB)
	defer closeStore()

	tabs := controller.NewRegistry()
	pcfg := proxyConfig(cfg)
	pcfg.Store = store
	pcfg.Tabs = tabs
	handler := proxy.New(pcfg)
	defer handler.Close()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
		// Conservative timeouts to avoid slowloris and leaked connections blocking the server
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		ConnState: func(c net.Conn, s http.ConnState) {
			if pcfg.Verbose {
				log.Printf("CONN %s %s", s.String(), c.RemoteAddr())
			}
		},
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		log.Fatalf("Listen error on %s: %v", cfg.Server.Addr, err)
	}
	log.Println("Listening on", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	if cfg.Live.URL != "" {
		set, err := candidates.Load(os.DirFS(pcfg.AssetsDir), ".")
		if err != nil {
			log.Printf("WARN load candidate images: %v", err)
			set = candidates.New()
		}
		sess, err := live.Open(ctx, live.Config{
			URL:         cfg.Live.URL,
			Headful:     cfg.Live.Headful,
			Root:        cfg.Live.Root,
			LoadTimeout: cfg.Live.LoadTimeout,
			Store:       store,
			Candidates:  set,
			Resolver:    liveResolver(pcfg.PublicURL, ln.Addr()),
			Tabs:        tabs,
			Verbose:     pcfg.Verbose,
		})
		if err != nil {
			log.Printf("WARN live tab: %v", err)
		} else {
			defer sess.Close()
		}
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case <-ctx.Done():
		log.Println("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

// proxyConfig starts from the environment and overrides what the config file
// or a flag set explicitly.
func proxyConfig(cfg *config.File) proxy.Config {
	pcfg := proxy.DefaultConfig()
	if cfg.Server.Sites != "" {
		pcfg.SitesDir = cfg.Server.Sites
	}
	if cfg.Server.Assets != "" {
		pcfg.AssetsDir = cfg.Server.Assets
	}
	if cfg.Server.PublicURL != "" {
		pcfg.PublicURL = cfg.Server.PublicURL
	}
	if cfg.Server.CacheTTL != 0 {
		pcfg.CacheTTL = max(cfg.Server.CacheTTL, 0)
	}
	if cfg.Server.Timeout > 0 {
		pcfg.FetchTimeout = cfg.Server.Timeout
	}
	pcfg.Verbose = pcfg.Verbose || cfg.Server.Verbose
	return pcfg
}

func openStore(path string) (settings.Store, func()) {
	if path == "" {
		return settings.NewMemoryStore(), func() {}
	}
	db, err := settings.OpenDB(path)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	log.Printf("Settings stored in %s", path)
	return settings.NewSQLiteStore(db), func() { db.Close() }
}

// liveResolver points a live tab at the images this process serves. A live
// page cannot use relative URLs since it lives on another origin.
func liveResolver(public string, addr net.Addr) candidates.BaseURL {
	if public != "" {
		return candidates.BaseURL(public)
	}
	port := 80
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return candidates.BaseURL("http://localhost:" + strconv.Itoa(port) + proxy.AssetPrefix)
}
