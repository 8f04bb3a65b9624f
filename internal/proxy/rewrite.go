package proxy

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"

	"czcage/internal/candidates"
	"czcage/internal/controller"
	"czcage/internal/dom/htmldoc"
	"czcage/internal/replacer"
)

// resolver picks the base URL candidate images are served from for this
// request.
func (s *Server) resolver(r *http.Request) candidates.BaseURL {
	if s.cfg.PublicURL != "" {
		return candidates.BaseURL(s.cfg.PublicURL)
	}
	return candidates.BaseURL(serverBase(r) + AssetPrefix)
}

// rewrite runs one page load over an upstream HTML document: parse, pin
// relative URLs to the origin, replace images under the saved settings and
// serialize. The controller lives only for the duration of the request.
func (s *Server) rewrite(ctx context.Context, r *http.Request, doc *upstreamDoc, site *SiteConfig) ([]byte, replacer.Stats, error) {
	page, err := htmldoc.Parse(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, replacer.Stats{}, err
	}
	page.SetBase(doc.URL)

	root := ""
	if site != nil {
		root = site.Root
	}
	hi, lo := s.seed()
	c, err := controller.Load(ctx, controller.Config{
		Store:      s.cfg.Store,
		Candidates: s.candidates,
		Resolver:   s.resolver(r),
		Document:   page,
		Watcher:    page,
		Root:       root,
		URL:        doc.URL,
		Logger:     s.logger,
		Rand:       rand.New(rand.NewPCG(hi, lo)),
		Verbose:    s.cfg.Verbose,
	})
	if err != nil {
		return nil, replacer.Stats{}, err
	}
	defer c.Close()

	out, err := page.HTML()
	if err != nil {
		return nil, replacer.Stats{}, fmt.Errorf("render %s: %w", doc.URL, err)
	}
	return []byte(out), c.FirstPass(), nil
}

// load returns the upstream document for target, from the cache when
// possible.
func (s *Server) load(ctx context.Context, r *http.Request, target string, site *SiteConfig) (*upstreamDoc, error) {
	key := cacheKey(target, site.mode())
	if doc, ok := s.cache.Get(key); ok {
		s.logger.Printf("CACHE hit %s", target)
		return doc, nil
	}
	hdr := upstreamHeaders(r, site)
	jar := s.cookieJars.Get(deriveClientKey(r))
	timeout := site.timeout(s.cfg.FetchTimeout)

	var (
		doc *upstreamDoc
		err error
	)
	switch site.mode() {
	case ModeJS:
		doc, err = s.jsBaker().Fetch(ctx, target, hdr, jar, site, timeout)
	default:
		doc, err = s.fetchStatic(ctx, target, hdr, jar, timeout)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Store(key, doc)
	return doc, nil
}
