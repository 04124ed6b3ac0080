// Package categorization is a read-only proxy backend that synthesizes
// containers from category tags embedded in directory names of a
// reference backend.
//
// A directory name containing a single "@" opens a category: the text
// after the "@" is a category path with "_" as separator. Deeper plain
// directories extend the open category; a deeper "@" closes it and
// opens a new one. A name with multiple "@" characters, or ending in
// "@", carries no tag and is a plain directory. The final directory of
// a file's path names the container title.
package categorization

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

func init() {
	registry.MustRegister("categorization", func(p storage.Params) (storage.Backend, error) {
		innerParams, err := p.Map("storage")
		if err != nil {
			return nil, err
		}
		if innerParams == nil {
			return nil, fmt.Errorf("categorization: missing reference storage")
		}
		inner, err := registry.FromParams(innerParams)
		if err != nil {
			return nil, err
		}
		b := New(inner, innerParams)
		if id := p.String("backend-id"); id != "" {
			ns, err := uuid.Parse(id)
			if err != nil {
				return nil, fmt.Errorf("categorization: bad backend-id: %w", err)
			}
			b.ns = ns
		}
		return b, nil
	})
}

// Backend proxies reads to the reference backend and implements
// SubcontainerLister over its directory names.
type Backend struct {
	inner storage.Backend

	// innerParams are the reference backend's inline storage fields,
	// embedded into synthesized delegate storages.
	innerParams storage.Params

	// ns is the UUID namespace for subcontainer identities.
	ns uuid.UUID
}

// New wraps a reference backend. innerParams may be nil when the
// synthesized containers are consumed in-process only.
func New(inner storage.Backend, innerParams storage.Params) *Backend {
	return &Backend{inner: inner, innerParams: innerParams, ns: uuid.NameSpaceURL}
}

func (b *Backend) Mount(ctx context.Context) error { return b.inner.Mount(ctx) }
func (b *Backend) Unmount() error                  { return b.inner.Unmount() }
func (b *Backend) ReadOnly() bool                  { return true }

func (b *Backend) Getattr(p string) (storage.FileInfo, error) { return b.inner.Getattr(p) }
func (b *Backend) List(p string) ([]storage.Entry, error)     { return b.inner.List(p) }

func (b *Backend) Open(p string, readOnly bool) (storage.File, error) {
	if !readOnly {
		return nil, storage.ErrReadOnly
	}
	return b.inner.Open(p, true)
}

func (b *Backend) Create(string) (storage.File, error) { return nil, storage.ErrReadOnly }
func (b *Backend) Unlink(string) error                 { return storage.ErrReadOnly }
func (b *Backend) Mkdir(string) error                  { return storage.ErrReadOnly }
func (b *Backend) Rmdir(string) error                  { return storage.ErrReadOnly }

// group is one synthesized container candidate: a source directory with
// its recorded categories and title.
type group struct {
	dirPath    string
	title      string
	categories []string
}

// ListSubcontainers walks the reference tree and yields one container
// per tagged directory holding files. Identical (categories, title)
// renderings from distinct directories are disambiguated with a
// generation suffix on the title, numbered first-seen over the sorted
// traversal order.
func (b *Backend) ListSubcontainers(ctx context.Context) ([]storage.Subcontainer, error) {
	var groups []group
	if err := b.walk(ctx, "", nil, nil, &groups); err != nil {
		return nil, err
	}

	seen := map[string]int{}
	out := make([]storage.Subcontainer, 0, len(groups))
	for _, g := range groups {
		key := strings.Join(g.categories, "\x00") + "\x00" + g.title
		if n := seen[key]; n > 0 {
			g.title = generationSuffix(g.title, n)
		}
		seen[key]++

		ident := uuid.NewMD5(b.ns, []byte(g.dirPath)).String()
		sub := storage.Subcontainer{
			UUID:       ident,
			Paths:      []string{"/.uuid/" + ident},
			Title:      g.title,
			Categories: g.categories,
			Storage: storage.Params{
				"type":         "delegate",
				"subdirectory": "/" + g.dirPath,
				"read-only":    true,
			},
		}
		if b.innerParams != nil {
			sub.Storage["storage"] = map[string]any(b.innerParams)
		}
		out = append(out, sub)
	}
	return out, nil
}

// walk carries the open categories (still extending with every plain
// directory) and the closed ones (sealed by a deeper tag). A directory
// with files emits one group; its title is the final segment, which is
// trimmed off the open categories.
func (b *Backend) walk(ctx context.Context, dir string, open, closed []string, out *[]group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	listPath := dir
	if listPath == "" {
		listPath = "/"
	}
	entries, err := b.inner.List(listPath)
	if err != nil {
		return err
	}
	emitted := false
	for _, e := range entries {
		child := e.Name
		if dir != "" {
			child = dir + "/" + e.Name
		}
		if e.IsDir {
			prefix, postfix := categoryInfo(e.Name)
			var nextOpen, nextClosed []string
			if postfix != "" {
				nextClosed = append(append(nextClosed, closed...), extend(open, prefix)...)
				nextOpen = []string{postfix}
			} else {
				nextClosed = closed
				nextOpen = extend(open, prefix)
			}
			if err := b.walk(ctx, child, nextOpen, nextClosed, out); err != nil {
				return err
			}
			continue
		}
		if emitted || dir == "" {
			continue
		}
		emitted = true

		title := titleFromDirName(path.Base(dir))
		cats := append([]string(nil), closed...)
		for _, c := range open {
			if trimmed := trimLastComponent(c); trimmed != "" {
				cats = append(cats, trimmed)
			}
		}
		cats = dedupSort(cats)
		if len(cats) == 0 {
			cats = []string{"/unclassified"}
		}
		*out = append(*out, group{dirPath: dir, title: title, categories: cats})
	}
	return nil
}

func extend(open []string, prefix string) []string {
	out := make([]string, 0, len(open))
	for _, c := range open {
		out = append(out, c+prefix)
	}
	return out
}

func dedupSort(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	var prev string
	for i, c := range in {
		if i == 0 || c != prev {
			out = append(out, c)
		}
		prev = c
	}
	return out
}

func trimLastComponent(c string) string {
	i := strings.LastIndex(c, "/")
	if i <= 0 {
		return ""
	}
	return c[:i]
}

// generationSuffix inserts ".wl_<n>" before the title's extension.
func generationSuffix(title string, n int) string {
	ext := path.Ext(title)
	stem := strings.TrimSuffix(title, ext)
	return fmt.Sprintf("%s.wl_%d%s", stem, n, ext)
}

// categoryInfo splits a directory name at its category tag. The first
// return is the category path of the text before the "@", the second of
// the text after it. A name without a tag, with several "@" characters,
// or ending in "@" yields the whole name as a plain path and an empty
// tag.
func categoryInfo(name string) (prefix, postfix string) {
	i := strings.Index(name, "@")
	if i < 0 {
		return filenameToCategoryPath(name), ""
	}
	pre, post := name[:i], name[i+1:]
	if strings.HasSuffix(name, "@") || strings.Contains(post, "@") {
		return "/" + name, ""
	}
	return filenameToCategoryPath(pre), filenameToCategoryPath(post)
}

// filenameToCategoryPath converts an underscore-joined category path to
// a slash-joined one. Of a run of adjacent underscores only the first
// becomes a slash; the rest stay part of the name.
func filenameToCategoryPath(s string) string {
	if s == "_" {
		return "/_"
	}
	var b strings.Builder
	if !strings.HasPrefix(s, "_") {
		b.WriteString("/")
	}
	idx, n := 0, len(s)
	for idx < n {
		sep := strings.Index(s[idx:], "_")
		if sep < 0 {
			b.WriteString(s[idx:])
			break
		}
		sep += idx
		b.WriteString(s[idx:sep])
		b.WriteString("/")
		idx = sep + 1
		for idx < n && s[idx] == '_' {
			b.WriteString("_")
			idx++
		}
	}
	out := b.String()
	return strings.TrimSuffix(out, "/")
}

// titleFromDirName extracts the container title: the text after the
// last underscore, with a leading "@" dropped.
func titleFromDirName(name string) string {
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimPrefix(name, "@")
}
