package cdpdoc

import (
	"strings"
	"testing"
)

func TestDecodePayload(t *testing.T) {
	raw := `{"id":3,"records":[{"type":"childList","added":[{"tag":"img"},{"tag":"div","unmarked_images":2},{"tag":""}],"removed":1}]}`
	id, b, err := decodePayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	if id != 3 || len(b.Records) != 1 {
		t.Fatalf("id=%d batch=%+v", id, b)
	}
	rec := b.Records[0]
	if rec.Removed != 1 || len(rec.Added) != 3 || rec.Added[1].UnmarkedImages != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if !b.HasNewImages() {
		t.Fatal("batch should report new images")
	}

	_, b, _ = decodePayload(`{"id":1,"records":[{"type":"childList","added":[{"tag":"img","marked":true}]}]}`)
	if b.HasNewImages() {
		t.Fatal("a marked image is not new")
	}

	if _, _, err := decodePayload("not json"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAttrPairs(t *testing.T) {
	m := attrPairs([]string{"src", "a.jpg", "alt", "", "dangling"})
	if len(m) != 2 || m["src"] != "a.jpg" {
		t.Fatalf("attrs = %v", m)
	}
	if v, ok := m["alt"]; !ok || v != "" {
		t.Fatal("empty attribute lost")
	}
}

func TestObserverScriptUsesBinding(t *testing.T) {
	for _, want := range []string{bindingName, "__czcage_watch", "__czcage_unwatch", "img:not([data-czcage-replaced])", "unmarked_images"} {
		if !strings.Contains(observerJS, want) {
			t.Errorf("observer.js does not mention %s", want)
		}
	}
}
