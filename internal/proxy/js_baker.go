package proxy

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"czcage/internal/dom/cdpdoc"
)

// jsBaker renders pages of js sites in a shared headless Chrome and returns
// the resulting DOM as HTML.
type jsBaker struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger
}

func newJSBaker(logger *log.Logger) *jsBaker {
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), cdpdoc.AllocatorOptions(true)...)
	return &jsBaker{
		allocator: allocCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

func (b *jsBaker) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *jsBaker) Fetch(ctx context.Context, target string, hdr http.Header, jar http.CookieJar, site *SiteConfig, timeout time.Duration) (*upstreamDoc, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("js fetch: empty target url")
	}
	taskCtx, cancelTab := chromedp.NewContext(b.allocator)
	defer cancelTab()
	// bounded by both the caller and the site timeout
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		mu          sync.Mutex
		mainID      network.RequestID
		mainStatus  int
		mainHeaders = http.Header{}
	)
	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Type == network.ResourceTypeDocument {
				mu.Lock()
				mainID = e.RequestID
				mu.Unlock()
			}
		case *network.EventResponseReceived:
			mu.Lock()
			defer mu.Unlock()
			if e.RequestID != mainID || e.Response == nil {
				return
			}
			mainStatus = int(e.Response.Status)
			mainHeaders = headersFromNetwork(e.Response.Headers)
		}
	})

	requestHeaders := cloneHeader(hdr)
	actions := []chromedp.Action{network.Enable()}
	if ua := requestHeaders.Get("User-Agent"); ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
		requestHeaders.Del("User-Agent")
	}
	if extra := networkHeaders(requestHeaders); len(extra) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(extra))
	}
	if params := cookieParams(jar, target); len(params) > 0 {
		actions = append(actions, network.SetCookies(params))
	}

	var finalURL, htmlContent string
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if site != nil && site.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(site.WaitSelector, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery),
	)
	var browserCookies []*network.Cookie
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		browserCookies, err = network.GetCookies().WithURLs([]string{firstNonEmpty(finalURL, target)}).Do(ctx)
		return err
	}))

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("js fetch %s: %w", target, err)
	}
	if finalURL == "" {
		finalURL = target
	}
	if jar != nil && len(browserCookies) > 0 {
		if u, err := url.Parse(finalURL); err == nil {
			cookies := make([]*http.Cookie, 0, len(browserCookies))
			for _, c := range browserCookies {
				if hc := cookieFromNetwork(c); hc != nil {
					cookies = append(cookies, hc)
				}
			}
			jar.SetCookies(u, cookies)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	doc := &upstreamDoc{
		URL:    finalURL,
		Status: mainStatus,
		Header: mainHeaders,
		Body:   []byte(htmlContent),
	}
	if doc.Status == 0 {
		doc.Status = http.StatusOK
	}
	// OuterHTML is serialized from the DOM, so it is always UTF-8 HTML
	doc.Header.Set("Content-Type", "text/html; charset=utf-8")
	doc.Header.Del("Content-Length")
	doc.Header.Del("Content-Encoding")
	b.logger.Printf("JS rendered %s -> %s (%d bytes)", target, finalURL, len(htmlContent))
	return doc, nil
}

func headersFromNetwork(h network.Headers) http.Header {
	out := http.Header{}
	for k, v := range h {
		switch hv := v.(type) {
		case string:
			// CDP joins repeated headers with newlines
			for _, item := range strings.Split(hv, "\n") {
				out.Add(k, item)
			}
		case []string:
			for _, item := range hv {
				out.Add(k, item)
			}
		default:
			out.Add(k, fmt.Sprint(hv))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	extra := network.Headers{}
	for k, vs := range h {
		name := http.CanonicalHeaderKey(k)
		if name == "Content-Length" || len(vs) == 0 {
			continue
		}
		extra[name] = strings.Join(vs, ", ")
	}
	return extra
}

func cookieParams(jar http.CookieJar, target string) []*network.CookieParam {
	if jar == nil {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	var params []*network.CookieParam
	for _, c := range jar.Cookies(u) {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   firstNonEmpty(c.Domain, u.Hostname()),
			Path:     firstNonEmpty(c.Path, "/"),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires.UTC())
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

func cookieFromNetwork(c *network.Cookie) *http.Cookie {
	if c == nil {
		return nil
	}
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	switch c.SameSite {
	case network.CookieSameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	case network.CookieSameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case network.CookieSameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}
