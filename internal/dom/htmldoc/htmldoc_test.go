package htmldoc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"strings"
	"testing"

	"czcage/internal/dom"
)

const page = `<!DOCTYPE html><html><head><title>t</title></head><body>
<div id="feed"><img id="a" src="a.jpg"><img id="b" src="b.jpg" data-czcage-replaced="true"></div>
<img id="c" src="c.jpg" srcset="c-2x.jpg 2x">
</body></html>`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func ids(t *testing.T, els []dom.Element) []string {
	t.Helper()
	var out []string
	for _, el := range els {
		id, _ := el.Attr("id")
		out = append(out, id)
	}
	return out
}

func TestImageQueries(t *testing.T) {
	d := mustParse(t, page)
	un, err := d.UnmarkedImages()
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(ids(t, un), ","); got != "a,c" {
		t.Fatalf("unmarked = %s, want a,c", got)
	}
	marked, _ := d.MarkedImages()
	if got := strings.Join(ids(t, marked), ","); got != "b" {
		t.Fatalf("marked = %s, want b", got)
	}
	if n := len(d.Images()); n != 3 {
		t.Fatalf("Images = %d, want 3", n)
	}
}

func TestElementAttributes(t *testing.T) {
	d := mustParse(t, page)
	un, _ := d.UnmarkedImages()
	c := un[1]
	if v, ok := c.Attr("srcset"); !ok || v != "c-2x.jpg 2x" {
		t.Fatalf("srcset = %q,%v", v, ok)
	}
	if err := c.SetAttr(dom.AttrReplaced, "true"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveAttr("srcset"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Attr("srcset"); ok {
		t.Fatal("srcset still present")
	}
	un2, _ := d.UnmarkedImages()
	if len(un2) != 1 {
		t.Fatalf("unmarked after marking = %d, want 1", len(un2))
	}
	if un2[0].Key() != un[0].Key() {
		t.Fatal("same node produced different keys")
	}
}

func dataPNG(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestElementSize(t *testing.T) {
	cases := []struct {
		name   string
		img    string
		wW, wH float64
	}{
		{"attributes", `<img width="20" height="30">`, 20, 30},
		{"attributes with px", `<img width="120px" height="40">`, 120, 40},
		{"style overrides attributes", `<img width="10" height="10" style="width: 200px; height:100px">`, 200, 100},
		{"style without trailing semicolon", `<img style="width:16px;height:16px">`, 16, 16},
		{"style with trailing semicolon", `<img style="height:40px; width: 30px;">`, 30, 40},
		{"percent is unknown", `<img width="50%" height="10">`, -1, 10},
		{"nothing known", `<img src="x.jpg">`, -1, -1},
		{"data uri intrinsic", `<img src="` + dataPNG(t, 16, 8) + `">`, 16, 8},
		{"data uri scaled by width", `<img width="32" src="` + dataPNG(t, 16, 8) + `">`, 32, 16},
	}
	for _, tc := range cases {
		d := mustParse(t, "<html><body>"+tc.img+"</body></html>")
		un, _ := d.UnmarkedImages()
		if len(un) != 1 {
			t.Fatalf("%s: %d images", tc.name, len(un))
		}
		w, h := un[0].Size()
		if w != tc.wW || h != tc.wH {
			t.Errorf("%s: Size = %vx%v, want %vx%v", tc.name, w, h, tc.wW, tc.wH)
		}
	}
}

func TestAppendNotifiesWatchers(t *testing.T) {
	d := mustParse(t, page)
	var got []dom.Batch
	sub, err := d.Watch("body", func(b dom.Batch) { got = append(got, b) })
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Append("#feed", `<img id="d" src="d.jpg"><section><p>x</p><img src="e.jpg"></section>text`); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("batches = %d, want 1", len(got))
	}
	added := got[0].Records[0].Added
	if len(added) != 3 {
		t.Fatalf("added = %+v", added)
	}
	if added[0].Tag != "img" || added[0].Marked {
		t.Fatalf("first added = %+v", added[0])
	}
	if added[1].Tag != "section" || added[1].UnmarkedImages != 1 {
		t.Fatalf("second added = %+v", added[1])
	}
	if added[2].Tag != "" {
		t.Fatalf("text node summarised as %+v", added[2])
	}
	if !got[0].HasNewImages() {
		t.Fatal("batch should report new images")
	}

	sub.Cancel()
	sub.Cancel()
	if d.Watching() != 0 {
		t.Fatalf("Watching = %d after cancel", d.Watching())
	}
	_ = d.Append("body", `<img src="f.jpg">`)
	if len(got) != 1 {
		t.Fatal("cancelled subscription still notified")
	}
}

func TestWatchRootScopesNotifications(t *testing.T) {
	d := mustParse(t, `<html><body><div id="in"></div><div id="out"></div></body></html>`)
	n := 0
	if _, err := d.Watch("#in", func(dom.Batch) { n++ }); err != nil {
		t.Fatal(err)
	}
	_ = d.Append("#out", `<img src="x.jpg">`)
	if n != 0 {
		t.Fatal("mutation outside root was delivered")
	}
	_ = d.Append("#in", `<img src="x.jpg">`)
	if n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if _, err := d.Watch("#missing", func(dom.Batch) {}); err == nil {
		t.Fatal("watch on missing root succeeded")
	}
}

func TestRemove(t *testing.T) {
	d := mustParse(t, page)
	var got []dom.Batch
	_, _ = d.Watch("body", func(b dom.Batch) { got = append(got, b) })
	if n := d.Remove("#feed img"); n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	if len(got) != 1 || got[0].Records[0].Removed != 2 || got[0].HasNewImages() {
		t.Fatalf("batches = %+v", got)
	}
	if n := len(d.Images()); n != 1 {
		t.Fatalf("images left = %d, want 1", n)
	}
}

func TestSetBaseAndHTML(t *testing.T) {
	d := mustParse(t, page)
	d.SetBase("https://example.com/news/")
	d.SetBase("https://other.example/")
	out, err := d.HTML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "<base") != 1 || !strings.Contains(out, `<base href="https://example.com/news/"/>`) {
		t.Fatalf("unexpected base handling:\n%s", out)
	}
	if !strings.Contains(out, `srcset="c-2x.jpg 2x"`) {
		t.Fatalf("attributes lost in render:\n%s", out)
	}
}
