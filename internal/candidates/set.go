// Package candidates loads the fixed collection of replacement images and
// resolves them to URLs a page can load.
package candidates

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"math/rand/v2"
	"path"
	"sort"
	"strings"

	_ "golang.org/x/image/webp"
)

// ImagesDir is the directory under the resource root holding candidates.
const ImagesDir = "images"

// Extensions lists the file types accepted as candidates.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Set is an immutable, ordered list of resource references such as
// "images/a.jpg". It is safe to share between engines.
type Set struct {
	refs    []string
	skipped []string
}

// New builds a set from already-normalized references.
func New(refs ...string) *Set {
	return &Set{refs: append([]string(nil), refs...)}
}

// Load reads <root>/images from fsys once. Files whose header does not
// decode as an image are left out and reported by Skipped. A missing images
// directory yields an empty set.
func Load(fsys fs.FS, root string) (*Set, error) {
	root = strings.Trim(path.Clean("/"+root), "/")
	dir := path.Join(root, ImagesDir)
	if root == "" {
		dir = ImagesDir
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Set{}, nil
		}
		return nil, fmt.Errorf("candidates: read %s: %w", dir, err)
	}
	s := &Set{}
	for _, e := range entries {
		if e.IsDir() || !hasImageExt(e.Name()) {
			continue
		}
		raw := path.Join(dir, e.Name())
		if !decodes(fsys, raw) {
			s.skipped = append(s.skipped, raw)
			continue
		}
		s.refs = append(s.refs, Normalize(raw, root))
	}
	sort.Strings(s.refs)
	return s, nil
}

// Normalize strips the resource root from a raw resource path, turning
// "/public/images/a.jpg" into "images/a.jpg".
func Normalize(raw, root string) string {
	p := strings.TrimLeft(raw, "/")
	r := strings.Trim(root, "/")
	if r != "" && strings.HasPrefix(p, r+"/") {
		p = p[len(r)+1:]
	}
	return p
}

func hasImageExt(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, want := range Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func decodes(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = image.DecodeConfig(f)
	return err == nil
}

func (s *Set) Len() int { return len(s.refs) }

// Refs returns a copy of the references in load order.
func (s *Set) Refs() []string { return append([]string(nil), s.refs...) }

// Skipped lists raw paths that were rejected while loading.
func (s *Set) Skipped() []string { return append([]string(nil), s.skipped...) }

// Pick returns a uniformly chosen reference. It returns false on an empty set.
func (s *Set) Pick(r *rand.Rand) (string, bool) {
	if len(s.refs) == 0 {
		return "", false
	}
	if r == nil {
		return s.refs[rand.IntN(len(s.refs))], true
	}
	return s.refs[r.IntN(len(s.refs))], true
}
