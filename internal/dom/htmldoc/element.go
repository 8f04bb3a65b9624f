package htmldoc

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aymerick/douceur/parser"
	_ "golang.org/x/image/webp"
)

// Element wraps a single <img> node.
type Element struct {
	sel *goquery.Selection
}

func (e *Element) Key() any { return e.sel.Nodes[0] }

func (e *Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

func (e *Element) SetAttr(name, value string) error {
	e.sel.SetAttr(name, value)
	return nil
}

func (e *Element) RemoveAttr(name string) error {
	e.sel.RemoveAttr(name)
	return nil
}

// Size derives the layout size without a renderer: width/height attributes,
// overridden by inline style, with the intrinsic size of data: URIs filling
// in what is missing. Dimensions that cannot be derived are -1.
func (e *Element) Size() (float64, float64) {
	w, h := -1.0, -1.0
	if v, ok := e.sel.Attr("width"); ok {
		if px, ok := parsePx(v); ok {
			w = px
		}
	}
	if v, ok := e.sel.Attr("height"); ok {
		if px, ok := parsePx(v); ok {
			h = px
		}
	}
	if style, ok := e.sel.Attr("style"); ok && strings.TrimSpace(style) != "" {
		// douceur drops the value of a final declaration without ';'
		style = strings.TrimRight(strings.TrimSpace(style), "; ") + ";"
		if decls, err := parser.ParseDeclarations(style); err == nil {
			for _, d := range decls {
				px, ok := parsePx(d.Value)
				if !ok {
					continue
				}
				switch strings.ToLower(d.Property) {
				case "width":
					w = px
				case "height":
					h = px
				}
			}
		}
	}
	if w >= 0 && h >= 0 {
		return w, h
	}
	src, _ := e.sel.Attr("src")
	iw, ih, ok := dataURISize(src)
	if !ok {
		return w, h
	}
	switch {
	case w < 0 && h < 0:
		return float64(iw), float64(ih)
	case w < 0 && ih > 0:
		return h * float64(iw) / float64(ih), h
	case h < 0 && iw > 0:
		return w, w * float64(ih) / float64(iw)
	}
	return w, h
}

func parsePx(v string) (float64, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
	v = strings.TrimSuffix(v, "px")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

func dataURISize(src string) (int, int, bool) {
	src = strings.TrimSpace(src)
	if !strings.HasPrefix(strings.ToLower(src), "data:") {
		return 0, 0, false
	}
	meta, payload, ok := strings.Cut(src[len("data:"):], ",")
	if !ok {
		return 0, 0, false
	}
	var raw []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(payload)
			if err != nil {
				return 0, 0, false
			}
		}
		raw = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return 0, 0, false
		}
		raw = []byte(s)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
