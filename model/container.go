package model

import (
	"strings"

	"wildland.io/core/manifest"
)

const uuidPathPrefix = "/.uuid/"

// Container is a group of storage backends published under a set of
// namespace paths.
type Container struct {
	Owner string
	Paths []string
	Title string

	// Categories are absolute tag paths; combined with Title they
	// generate additional namespace paths, see ExpandedPaths.
	Categories []string

	// Backends are the ordered storage references, best first.
	Backends []manifest.Ref

	Manifest *manifest.Manifest
}

// NewContainer builds a Container from a trusted container manifest.
func NewContainer(m *manifest.Manifest) (*Container, error) {
	if !m.Trusted {
		return nil, ErrUntrusted
	}
	body, err := m.Container()
	if err != nil {
		return nil, err
	}
	return &Container{
		Owner:      m.Owner,
		Paths:      body.Paths,
		Title:      body.Title,
		Categories: body.Categories,
		Backends:   body.Backends.Storage,
		Manifest:   m,
	}, nil
}

// UUIDPath returns the container's /.uuid/... identity path, or "" when
// the container declares none.
func (c *Container) UUIDPath() string {
	for _, p := range c.Paths {
		if strings.HasPrefix(p, uuidPathPrefix) {
			return p
		}
	}
	return ""
}

// UUID returns the identifier from the container's identity path.
func (c *Container) UUID() string {
	return strings.TrimPrefix(c.UUIDPath(), uuidPathPrefix)
}

// ExpandedPaths returns every namespace path the container should appear
// under: the identity path first, then the other declared paths, then
// one path per category, then pairwise cross-category paths where the
// second category is embedded with a "@" marker. A container without a
// title gets no category-derived paths.
func (c *Container) ExpandedPaths() []string {
	var out []string
	if up := c.UUIDPath(); up != "" {
		out = append(out, up)
	}
	for _, p := range c.Paths {
		if !strings.HasPrefix(p, uuidPathPrefix) {
			out = append(out, p)
		}
	}
	if c.Title == "" {
		return out
	}
	for _, cat := range c.Categories {
		out = append(out, cat+"/"+c.Title)
	}
	for _, a := range c.Categories {
		for _, b := range c.Categories {
			if a == b {
				continue
			}
			out = append(out, a+"/@"+strings.TrimPrefix(b, "/")+"/"+c.Title)
		}
	}
	return out
}

// HasPath reports whether p is one of the container's expanded paths.
func (c *Container) HasPath(p string) bool {
	for _, ep := range c.ExpandedPaths() {
		if ep == p {
			return true
		}
	}
	return false
}
