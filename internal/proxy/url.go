package proxy

import (
	neturl "net/url"
	"strings"
)

// urlDecode converts percent-encoded sequences like %2f into their byte
// values. Unlike url.QueryUnescape it never fails on stray percent signs.
func urlDecode(url string) string {
	b := make([]byte, 0, len(url))
	for i := 0; i < len(url); i++ {
		c := url[i]
		if c == '%' && i+2 < len(url) && isHex(url[i+1]) && isHex(url[i+2]) {
			b = append(b, fromHex(url[i+1])<<4|fromHex(url[i+2]))
			i += 2
		} else {
			b = append(b, c)
		}
	}
	return string(b)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// normalizeTarget turns whatever the user typed into an absolute http(s) URL.
func normalizeTarget(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "//") {
		return "http:" + s
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "http://" + s
	}
	return s
}

// buildURL resolves a form action against the page URL and appends the
// submitted query, the way a browser submits a GET form.
func buildURL(base, action, get string) string {
	target := normalizeTarget(urlDecode(urlDecode(base)))
	u, err := neturl.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	if action != "" {
		if ref, err := neturl.Parse(urlDecode(action)); err == nil {
			u = u.ResolveReference(ref)
		}
	}
	if get != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + get
		} else {
			u.RawQuery = get
		}
	}
	return u.String()
}
