package proxy

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Site modes. Pages of js sites are rendered in headless Chrome before the
// replacement pass; everything else is fetched over plain HTTP.
const (
	ModeStatic = "static"
	ModeJS     = "js"
)

// SiteConfig is read from <SitesDir>/<host>.json. A config for a parent
// domain applies to its subdomains.
type SiteConfig struct {
	Mode         string            `json:"mode"`
	Headers      map[string]string `json:"headers,omitempty"`
	WaitSelector string            `json:"wait_selector,omitempty"`
	TimeoutMS    int               `json:"timeout_ms,omitempty"`
	// Root is the container watched for added images; default body.
	Root string `json:"root,omitempty"`
}

func (c *SiteConfig) mode() string {
	if c == nil || c.Mode == "" {
		return ModeStatic
	}
	return c.Mode
}

func (c *SiteConfig) timeout(def time.Duration) time.Duration {
	if c == nil || c.TimeoutMS <= 0 {
		return def
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type siteConfigStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*SiteConfig
}

func newSiteConfigStore(dir string) *siteConfigStore {
	return &siteConfigStore{
		dir:   dir,
		cache: make(map[string]*SiteConfig),
	}
}

// Find returns the config for the target's host, or nil.
func (s *siteConfigStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	cfg, ok := s.cache[host]
	s.mu.RUnlock()
	if ok {
		return cfg
	}

	labels := strings.Split(host, ".")
	for i := range labels {
		if cfg = s.load(strings.Join(labels[i:], ".")); cfg != nil {
			break
		}
	}
	s.mu.Lock()
	s.cache[host] = cfg
	s.mu.Unlock()
	return cfg
}

func (s *siteConfigStore) load(host string) *SiteConfig {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, host+".json"))
	if err != nil {
		return nil
	}
	var cfg SiteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	cfg.WaitSelector = strings.TrimSpace(cfg.WaitSelector)
	return &cfg
}
