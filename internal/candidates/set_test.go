package candidates

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"reflect"
	"testing"
	"testing/fstest"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestLoad(t *testing.T) {
	data := pngBytes(t)
	fsys := fstest.MapFS{
		"public/images/b.png":      {Data: data},
		"public/images/a.PNG":      {Data: data},
		"public/images/broken.jpg": {Data: []byte("not an image")},
		"public/images/icon.svg":   {Data: []byte("<svg/>")},
		"public/images/notes.txt":  {Data: []byte("x")},
		"public/images/sub/c.png":  {Data: data},
		"public/other/d.png":       {Data: data},
	}
	s, err := Load(fsys, "/public/")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"images/a.PNG", "images/b.png"}
	if got := s.Refs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Refs = %v, want %v", got, want)
	}
	if got := s.Skipped(); !reflect.DeepEqual(got, []string{"public/images/broken.jpg"}) {
		t.Fatalf("Skipped = %v", got)
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	s, err := Load(fstest.MapFS{}, "public")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
	if _, ok := s.Pick(nil); ok {
		t.Fatal("Pick on empty set reported ok")
	}
}

func TestLoadAtFSRoot(t *testing.T) {
	fsys := fstest.MapFS{"images/x.png": {Data: pngBytes(t)}}
	s, err := Load(fsys, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.Refs(); len(got) != 1 || got[0] != "images/x.png" {
		t.Fatalf("Refs = %v", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct{ raw, root, want string }{
		{"/public/images/test1.jpg", "/public/", "images/test1.jpg"},
		{"public/images/test1.jpg", "public", "images/test1.jpg"},
		{"images/test1.jpg", "", "images/test1.jpg"},
		{"/assets/images/x.png", "public", "assets/images/x.png"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.raw, tc.root); got != tc.want {
			t.Errorf("Normalize(%q,%q) = %q, want %q", tc.raw, tc.root, got, tc.want)
		}
	}
}

func TestPickIsUniform(t *testing.T) {
	s := New("images/a.jpg", "images/b.jpg", "images/c.jpg", "images/d.jpg")
	r := rand.New(rand.NewPCG(7, 11))
	counts := map[string]int{}
	const n = 8000
	for i := 0; i < n; i++ {
		ref, ok := s.Pick(r)
		if !ok {
			t.Fatal("Pick failed")
		}
		counts[ref]++
	}
	for ref, c := range counts {
		if c < 1700 || c > 2300 {
			t.Errorf("%s picked %d times out of %d", ref, c, n)
		}
	}
	if len(counts) != 4 {
		t.Fatalf("picked %d distinct refs, want 4", len(counts))
	}
}

func TestNewCopiesInput(t *testing.T) {
	refs := []string{"images/a.jpg"}
	s := New(refs...)
	refs[0] = "mutated"
	if s.Refs()[0] != "images/a.jpg" {
		t.Fatal("set shares caller slice")
	}
}

func TestBaseURL(t *testing.T) {
	b := BaseURL("http://localhost:8081/__czcage")
	if got := b.Resolve("images/a.jpg"); got != "http://localhost:8081/__czcage/images/a.jpg" {
		t.Fatalf("Resolve = %q", got)
	}
	if !b.Owns("http://localhost:8081/__czcage/images/a.jpg") {
		t.Fatal("Owns(resolved) = false")
	}
	if b.Owns("http://localhost:8081/other.jpg") {
		t.Fatal("Owns(foreign) = true")
	}
	if BaseURL("").Owns("anything") {
		t.Fatal("empty base owns everything")
	}
}
