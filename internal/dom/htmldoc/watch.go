package htmldoc

import (
	"fmt"

	"golang.org/x/net/html"

	"czcage/internal/dom"
)

type change struct {
	parent *html.Node
	rec    dom.Record
}

type subscription struct {
	doc     *Document
	root    *html.Node
	onBatch func(dom.Batch)
}

// Watch subscribes to childList changes under the first element matching
// root. Subtree changes are included.
func (d *Document) Watch(root string, onBatch func(dom.Batch)) (dom.Subscription, error) {
	sel := d.doc.Find(root).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("htmldoc: watch root %q not found", root)
	}
	sub := &subscription{doc: d, root: sel.Nodes[0], onBatch: onBatch}
	d.subs = append(d.subs, sub)
	return sub, nil
}

func (s *subscription) Cancel() {
	subs := s.doc.subs
	for i, cur := range subs {
		if cur == s {
			s.doc.subs = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Watching reports how many subscriptions are live.
func (d *Document) Watching() int { return len(d.subs) }

func (d *Document) notify(changes []change) {
	subs := append([]*subscription(nil), d.subs...)
	for _, sub := range subs {
		var b dom.Batch
		for _, c := range changes {
			if within(sub.root, c.parent) {
				b.Records = append(b.Records, c.rec)
			}
		}
		if len(b.Records) > 0 {
			sub.onBatch(b)
		}
	}
}

func within(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}
