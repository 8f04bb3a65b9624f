package proxy

import (
	"net/http"
	"strings"
)

// forwardedHeaders are copied from the browser's request to the upstream one.
var forwardedHeaders = []string{"User-Agent", "Accept-Language", "Referer"}

func upstreamHeaders(r *http.Request, site *SiteConfig) http.Header {
	hdr := http.Header{}
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			hdr.Set(name, v)
		}
	}
	if ua := r.URL.Query().Get("ua"); ua != "" {
		hdr.Set("User-Agent", ua)
	}
	if lang := r.URL.Query().Get("lang"); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	if site != nil {
		for k, v := range site.Headers {
			hdr.Set(k, v)
		}
	}
	return hdr
}

// serverBase is the scheme and host the browser used to reach us.
func serverBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
