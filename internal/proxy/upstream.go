package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const (
	maxUpstreamBody  = 8 << 20
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// upstreamDoc is a fetched page. Body is UTF-8 when IsHTML reports true.
// Upstream cookies stay in the client's jar and are not forwarded.
type upstreamDoc struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func (d *upstreamDoc) IsHTML() bool {
	ct := d.Header.Get("Content-Type")
	if ct == "" {
		return bytes.Contains(bytes.ToLower(firstBytes(d.Body, 512)), []byte("<html"))
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func (d *upstreamDoc) clone() *upstreamDoc {
	out := *d
	out.Header = cloneHeader(d.Header)
	out.Body = append([]byte(nil), d.Body...)
	return &out
}

func firstBytes(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// fetchStatic loads target over plain HTTP with the client's cookie jar.
func (s *Server) fetchStatic(ctx context.Context, target string, hdr http.Header, jar http.CookieJar, timeout time.Duration) (*upstreamDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	copyHeader(req.Header, hdr)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	}
	client := &http.Client{Transport: s.transport, Jar: jar}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	doc := &upstreamDoc{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: cloneHeader(resp.Header),
	}
	if !doc.IsHTML() {
		// only the URL is needed to redirect the browser to it
		return doc, nil
	}
	body, err := readUTF8(io.LimitReader(resp.Body, maxUpstreamBody), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	doc.Body = body
	doc.Header.Set("Content-Type", "text/html; charset=utf-8")
	doc.Header.Del("Content-Length")
	return doc, nil
}

// readUTF8 converts a body in any encoding x/net/html/charset recognises,
// from the header or a <meta> tag, into UTF-8.
func readUTF8(r io.Reader, contentType string) ([]byte, error) {
	cr, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(cr)
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
