package candidates

import "strings"

// Resolver turns a reference into a fully qualified URL and recognises URLs
// it produced itself.
type Resolver interface {
	Resolve(ref string) string
	Owns(src string) bool
}

// BaseURL resolves references by joining them onto a fixed prefix, for
// example "http://localhost:8081/__czcage/".
type BaseURL string

func (b BaseURL) prefix() string {
	return strings.TrimRight(string(b), "/") + "/"
}

func (b BaseURL) Resolve(ref string) string {
	return b.prefix() + strings.TrimLeft(ref, "/")
}

func (b BaseURL) Owns(src string) bool {
	if b == "" {
		return false
	}
	return strings.HasPrefix(src, b.prefix())
}
