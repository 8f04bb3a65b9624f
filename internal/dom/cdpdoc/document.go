// Package cdpdoc implements dom.Document and dom.Watcher on a live browser
// tab driven over the Chrome DevTools Protocol.
package cdpdoc

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"czcage/internal/dom"
)

// Document queries the tab bound to ctx, which must come from
// chromedp.NewContext.
type Document struct {
	ctx context.Context
}

var _ dom.Document = (*Document)(nil)

func New(ctx context.Context) *Document {
	return &Document{ctx: ctx}
}

func (d *Document) UnmarkedImages() ([]dom.Element, error) {
	return d.query(dom.UnmarkedImages)
}

func (d *Document) MarkedImages() ([]dom.Element, error) {
	return d.query(dom.MarkedImages)
}

func (d *Document) query(selector string) ([]dom.Element, error) {
	var out []dom.Element
	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		root, err := cdpdom.GetDocument().WithDepth(0).Do(ctx)
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		ids, err := cdpdom.QuerySelectorAll(root.NodeID, selector).Do(ctx)
		if err != nil {
			return fmt.Errorf("query %s: %w", selector, err)
		}
		for _, id := range ids {
			node, err := cdpdom.DescribeNode().WithNodeID(id).Do(ctx)
			if err != nil {
				// removed between the query and the describe
				continue
			}
			out = append(out, &Element{
				doc:     d,
				backend: node.BackendNodeID,
				attrs:   attrPairs(node.Attributes),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("cdpdoc: %w", err)
	}
	return out, nil
}

// attrPairs turns CDP's flat [name, value, name, value...] list into a map.
func attrPairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

// Element is an <img> in the tab. Attributes are read from a snapshot taken
// when the element was queried and kept current by SetAttr and RemoveAttr.
type Element struct {
	doc     *Document
	backend cdp.BackendNodeID
	attrs   map[string]string
}

var _ dom.Element = (*Element)(nil)

// Key is the backend node id, which stays stable while the node lives.
func (e *Element) Key() any { return e.backend }

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *Element) SetAttr(name, value string) error {
	err := e.withNode(func(ctx context.Context, id cdp.NodeID) error {
		return cdpdom.SetAttributeValue(id, name, value).Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("cdpdoc: set %s: %w", name, err)
	}
	e.attrs[name] = value
	return nil
}

func (e *Element) RemoveAttr(name string) error {
	if _, ok := e.attrs[name]; !ok {
		return nil
	}
	err := e.withNode(func(ctx context.Context, id cdp.NodeID) error {
		return cdpdom.RemoveAttribute(id, name).Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("cdpdoc: remove %s: %w", name, err)
	}
	delete(e.attrs, name)
	return nil
}

// Size is the rendered box. Nodes without a layout box, such as those under
// display:none, report 0x0 just as HTMLImageElement.width does.
func (e *Element) Size() (float64, float64) {
	var w, h float64
	_ = chromedp.Run(e.doc.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := cdpdom.GetBoxModel().WithBackendNodeID(e.backend).Do(ctx)
		if err != nil {
			return err
		}
		w, h = float64(box.Width), float64(box.Height)
		return nil
	}))
	return w, h
}

// withNode resolves the backend id to a frontend node id; ids handed out by
// an earlier GetDocument do not survive the next one.
func (e *Element) withNode(fn func(context.Context, cdp.NodeID) error) error {
	return chromedp.Run(e.doc.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := cdpdom.GetDocument().WithDepth(0).Do(ctx); err != nil {
			return err
		}
		ids, err := cdpdom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{e.backend}).Do(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 || ids[0] == 0 {
			return fmt.Errorf("node %d is gone", e.backend)
		}
		return fn(ctx, ids[0])
	}))
}
