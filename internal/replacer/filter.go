package replacer

import (
	"strings"

	"czcage/internal/dom"
)

// MinSize is the rendered size, in CSS pixels, below which an image counts
// as an icon when both dimensions are under it.
const MinSize = 50

// SkipReason explains why an attempted element was left alone.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipMarked   SkipReason = "marked"
	SkipTiny     SkipReason = "tiny"
	SkipInternal SkipReason = "internal"
	SkipVector   SkipReason = "svg"
	SkipLogo     SkipReason = "logo"
)

// exclusion applies the per-element filter in its fixed order. owns reports
// whether a source URL already points at a candidate image.
func exclusion(el dom.Element, tracked bool, owns func(string) bool) SkipReason {
	if tracked {
		return SkipMarked
	}
	if _, ok := el.Attr(dom.AttrReplaced); ok {
		return SkipMarked
	}
	if w, h := el.Size(); w >= 0 && h >= 0 && w < MinSize && h < MinSize {
		return SkipTiny
	}
	src, _ := el.Attr("src")
	if owns != nil && owns(src) {
		return SkipInternal
	}
	if isVector(src) {
		return SkipVector
	}
	alt, _ := el.Attr("alt")
	class, _ := el.Attr("class")
	if containsLogo(src) || containsLogo(alt) || containsLogo(class) {
		return SkipLogo
	}
	return SkipNone
}

func isVector(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasSuffix(lower, ".svg") || strings.Contains(lower, ".svg?")
}

func containsLogo(s string) bool {
	return strings.Contains(strings.ToLower(s), "logo")
}
