// Package htmldoc implements dom.Document and dom.Watcher over a parsed HTML
// tree. Mutations made through Append and Remove are reported to watchers
// synchronously, the way a MutationObserver would see them.
//
// A Document is not safe for concurrent use.
package htmldoc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"czcage/internal/dom"
)

var unmarkedSel = cascadia.MustCompile(dom.UnmarkedImages)

type Document struct {
	doc  *goquery.Document
	subs []*subscription
}

var (
	_ dom.Document = (*Document)(nil)
	_ dom.Watcher  = (*Document)(nil)
)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func (d *Document) UnmarkedImages() ([]dom.Element, error) {
	return d.elements(dom.UnmarkedImages), nil
}

func (d *Document) MarkedImages() ([]dom.Element, error) {
	return d.elements(dom.MarkedImages), nil
}

// Images returns every <img> in document order, marked or not.
func (d *Document) Images() []*Element {
	var out []*Element
	d.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{sel: s})
	})
	return out
}

func (d *Document) elements(selector string) []dom.Element {
	var out []dom.Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{sel: s})
	})
	return out
}

// SetBase adds <base href> to the head unless the page already declares one.
func (d *Document) SetBase(href string) {
	if href == "" || d.doc.Find("head base[href]").Length() > 0 {
		return
	}
	head := d.doc.Find("head").First()
	if head.Length() == 0 {
		return
	}
	head.PrependHtml(`<base href="` + html.EscapeString(href) + `">`)
}

// HTML renders the whole document.
func (d *Document) HTML() (string, error) {
	var buf bytes.Buffer
	for _, n := range d.doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("htmldoc: render: %w", err)
		}
	}
	return buf.String(), nil
}

// Append parses fragment and appends it to the first element matching
// parent, then notifies watchers with one childList record.
func (d *Document) Append(parent, fragment string) error {
	target := d.doc.Find(parent).First()
	if target.Length() == 0 {
		return fmt.Errorf("htmldoc: no element matches %q", parent)
	}
	node := target.Nodes[0]
	last := node.LastChild
	target.AppendHtml(fragment)

	start := node.FirstChild
	if last != nil {
		start = last.NextSibling
	}
	rec := dom.Record{Type: dom.RecordChildList}
	for c := start; c != nil; c = c.NextSibling {
		rec.Added = append(rec.Added, summarize(c))
	}
	if len(rec.Added) == 0 {
		return nil
	}
	d.notify([]change{{parent: node, rec: rec}})
	return nil
}

// Remove detaches every element matching selector and reports one record per
// affected parent. It returns the number of removed elements.
func (d *Document) Remove(selector string) int {
	sel := d.doc.Find(selector)
	var changes []change
	index := map[*html.Node]int{}
	sel.Each(func(_ int, s *goquery.Selection) {
		p := s.Nodes[0].Parent
		if p == nil {
			return
		}
		i, ok := index[p]
		if !ok {
			i = len(changes)
			index[p] = i
			changes = append(changes, change{parent: p, rec: dom.Record{Type: dom.RecordChildList}})
		}
		changes[i].rec.Removed++
	})
	n := sel.Length()
	sel.Remove()
	if len(changes) > 0 {
		d.notify(changes)
	}
	return n
}

func summarize(n *html.Node) dom.AddedNode {
	if n.Type != html.ElementNode {
		return dom.AddedNode{}
	}
	out := dom.AddedNode{Tag: strings.ToLower(n.Data)}
	if out.Tag == "img" {
		_, out.Marked = nodeAttr(n, dom.AttrReplaced)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.UnmarkedImages += len(unmarkedSel.MatchAll(c))
	}
	return out
}

func nodeAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}
