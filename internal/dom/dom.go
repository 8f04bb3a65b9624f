// Package dom describes the page surface the replacement engine works on.
// Implementations exist for a parsed HTML tree (htmldoc) and for a live
// browser tab (cdpdoc).
package dom

// Attributes written onto handled <img> elements. Their presence is the only
// record of what was replaced; nothing else survives DOM reordering.
const (
	AttrReplaced       = "data-czcage-replaced"
	AttrOriginal       = "data-czcage-original"
	AttrOriginalSrcset = "data-czcage-original-srcset"
)

// Selectors shared by all implementations.
const (
	UnmarkedImages = "img:not([" + AttrReplaced + "])"
	MarkedImages   = "img[" + AttrReplaced + `="true"]`
)

// Element is a single <img>.
type Element interface {
	// Key identifies the underlying node; equal keys mean the same node.
	Key() any
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	// Size reports the rendered size in CSS pixels. A negative dimension
	// means the size is not known.
	Size() (width, height float64)
}

// Document exposes the images of one page.
type Document interface {
	// UnmarkedImages returns <img> elements without AttrReplaced, in
	// document order.
	UnmarkedImages() ([]Element, error)
	// MarkedImages returns <img> elements with AttrReplaced="true".
	MarkedImages() ([]Element, error)
}

// Watcher delivers childList mutation batches observed under root, which is
// a CSS selector (normally "body").
type Watcher interface {
	Watch(root string, onBatch func(Batch)) (Subscription, error)
}

// Subscription ends a Watch. Cancel may be called more than once.
type Subscription interface {
	Cancel()
}

const RecordChildList = "childList"

// Batch is the set of mutation records delivered in one callback.
type Batch struct {
	Records []Record `json:"records"`
}

// Record is one mutation. Only childList records carry added nodes.
type Record struct {
	Type    string      `json:"type"`
	Added   []AddedNode `json:"added,omitempty"`
	Removed int         `json:"removed,omitempty"`
}

// AddedNode summarises an inserted node.
type AddedNode struct {
	// Tag is the lower-case element name, or "" for non-element nodes.
	Tag string `json:"tag"`
	// Marked reports whether the node itself carries AttrReplaced.
	Marked bool `json:"marked,omitempty"`
	// UnmarkedImages counts descendant <img> elements without AttrReplaced.
	UnmarkedImages int `json:"unmarked_images,omitempty"`
}

// HasNewImages reports whether any added node is an unmarked <img> or
// contains one.
func (b Batch) HasNewImages() bool {
	for _, rec := range b.Records {
		if rec.Type != RecordChildList {
			continue
		}
		for _, n := range rec.Added {
			if n.Tag == "img" && !n.Marked {
				return true
			}
			if n.UnmarkedImages > 0 {
				return true
			}
		}
	}
	return false
}
