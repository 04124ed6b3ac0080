package resolver

import (
	"context"
	"fmt"
	"path"
	"strings"

	"wildland.io/core/manifest"
	"wildland.io/core/model"
	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

// Capability is the access a caller needs from the resolved storage.
type Capability int

const (
	CapabilityRead Capability = iota
	CapabilityWrite
)

func (c Capability) String() string {
	if c == CapabilityWrite {
		return "write"
	}
	return "read"
}

// mounted is a backend committed for one container during a session.
type mounted struct {
	storage *model.Storage
	backend storage.Backend
}

func containerKey(c *model.Container) string {
	if up := c.UUIDPath(); up != "" {
		return c.Owner + up
	}
	if len(c.Paths) > 0 {
		return c.Owner + c.Paths[0]
	}
	return fmt.Sprintf("%s%p", c.Owner, c)
}

// selectStorage returns the first of the container's storages that can
// be instantiated, mounted, and satisfies the capability. The choice is
// cached for the session; a read-capability mount is reused for write
// requests only if it is writable.
func (s *Session) selectStorage(ctx context.Context, c *model.Container, cap Capability) (*model.Storage, storage.Backend, error) {
	key := containerKey(c)
	s.mu.Lock()
	m, ok := s.mounts[key]
	s.mu.Unlock()
	if ok {
		if cap != CapabilityWrite || (!m.storage.ReadOnly && !m.backend.ReadOnly()) {
			return m.storage, m.backend, nil
		}
		// The cached mount cannot satisfy a write; scan the remaining
		// descriptors for a writable one and upgrade the cache entry.
		s.logger.Debug("cached storage is read-only, rescanning",
			"container", c.UUIDPath())
	}

	var firstErr error
	for i, ref := range c.Backends {
		st, err := s.loadStorage(ctx, ref, c)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Debug("storage candidate rejected",
				"container", c.UUIDPath(), "index", i, "err", err)
			continue
		}
		if cap == CapabilityWrite && st.ReadOnly {
			if firstErr == nil {
				firstErr = fmt.Errorf("storage %q is read-only", st.Type)
			}
			continue
		}
		backend, err := registry.FromParams(backendParams(st))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := backend.Mount(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mounting %q: %w", st.Type, err)
			}
			continue
		}
		if cap == CapabilityWrite && backend.ReadOnly() {
			backend.Unmount()
			if firstErr == nil {
				firstErr = fmt.Errorf("backend %q is read-only", st.Type)
			}
			continue
		}
		s.mu.Lock()
		s.mounts[key] = mounted{storage: st, backend: backend}
		s.mu.Unlock()
		return st, backend, nil
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("container %s declares no storage", c.UUIDPath())
	}
	return nil, nil, firstErr
}

// loadStorage materializes one storage reference of a container: inline
// mapping, link into another storage, or URL via the session fetcher.
func (s *Session) loadStorage(ctx context.Context, ref manifest.Ref, c *model.Container) (*model.Storage, error) {
	switch {
	case ref.Inline != nil:
		return model.InlineStorage(ref, c)
	case ref.Link != nil:
		data, err := readLink(ctx, ref.Link)
		if err != nil {
			return nil, err
		}
		return s.loadStorageManifest(data, c)
	case ref.URL != "":
		if s.fetch == nil {
			return nil, fmt.Errorf("no fetcher configured for storage url %s", ref.URL)
		}
		data, err := s.fetch(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
		return s.loadStorageManifest(data, c)
	default:
		return nil, fmt.Errorf("empty storage reference")
	}
}

func (s *Session) loadStorageManifest(data []byte, c *model.Container) (*model.Storage, error) {
	m, err := manifest.Load(data, manifest.TrustContext{Keys: s.library})
	if err != nil {
		return nil, err
	}
	body, err := m.Storage()
	if err != nil {
		return nil, err
	}
	return model.BindStorage(body, c)
}

// readLink reads a manifest file out of the storage named by a link
// reference.
func readLink(ctx context.Context, link *manifest.Link) ([]byte, error) {
	backend, err := registry.FromParams(storage.Params(link.Storage))
	if err != nil {
		return nil, err
	}
	if err := backend.Mount(ctx); err != nil {
		return nil, err
	}
	defer backend.Unmount()
	return storage.ReadFile(backend, link.File)
}

// backendParams rebuilds the flat parameter map a registry constructor
// expects from a bound storage descriptor.
func backendParams(st *model.Storage) storage.Params {
	p := storage.Params{}
	for k, v := range st.Params {
		p[k] = v
	}
	p["type"] = st.Type
	if st.ReadOnly {
		p["read-only"] = true
	}
	return p
}

// candidate is one manifest found while resolving a segment, before the
// owner and path checks.
type candidate struct {
	source    string
	container *model.Container
	bridge    *model.Bridge
	err       error
}

// lookupChildren enumerates the container's child manifests relevant to
// a segment: synthesized subcontainers when the backend lists them, and
// manifest files located by the storage's manifest-pattern.
func (s *Session) lookupChildren(ctx context.Context, c *model.Container, seg string) ([]candidate, error) {
	st, backend, err := s.selectStorage(ctx, c, CapabilityRead)
	if err != nil {
		return nil, err
	}

	var out []candidate
	if lister, ok := backend.(storage.SubcontainerLister); ok {
		subs, err := lister.ListSubcontainers(ctx)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			out = append(out, candidate{
				source:    "subcontainer " + sub.UUID,
				container: subcontainerCandidate(sub, c.Owner),
			})
		}
	}

	trustedOwner := ""
	if st.Trusted {
		trustedOwner = st.Owner
	}
	tc := manifest.TrustContext{Keys: s.library, TrustedOwner: trustedOwner}

	target := patternPath(st.Pattern, seg)
	var paths []string
	if strings.ContainsAny(target, "*?[") {
		paths, err = globWalk(backend, target)
		if err != nil {
			return nil, err
		}
	} else {
		paths = []string{target}
	}

	for _, p := range paths {
		data, err := storage.ReadFile(backend, p)
		if err != nil {
			if !storage.IsNotFound(err) {
				out = append(out, candidate{source: p, err: err})
			}
			continue
		}
		out = append(out, s.loadCandidate(p, data, tc))
	}
	return out, nil
}

func (s *Session) loadCandidate(source string, data []byte, tc manifest.TrustContext) candidate {
	m, err := manifest.Load(data, tc)
	if err != nil {
		return candidate{source: source, err: err}
	}
	switch m.Kind {
	case manifest.KindContainer:
		c, err := model.NewContainer(m)
		if err != nil {
			return candidate{source: source, err: err}
		}
		return candidate{source: source, container: c}
	case manifest.KindBridge:
		b, err := model.NewBridge(m)
		if err != nil {
			return candidate{source: source, err: err}
		}
		return candidate{source: source, bridge: b}
	default:
		return candidate{source: source, err: fmt.Errorf("unexpected %s manifest on resolution path", m.Kind)}
	}
}

// subcontainerCandidate turns a backend-synthesized subcontainer into a
// container candidate owned by the hosting container's owner.
func subcontainerCandidate(sub storage.Subcontainer, owner string) *model.Container {
	return &model.Container{
		Owner:      owner,
		Paths:      sub.Paths,
		Title:      sub.Title,
		Categories: sub.Categories,
		Backends:   []manifest.Ref{{Inline: map[string]any(sub.Storage)}},
	}
}

// patternPath renders a manifest-pattern for a segment. The braces
// placeholder takes the segment without its leading slash; a bare "*"
// segment leaves glob metacharacters in place for globWalk.
func patternPath(p manifest.Pattern, seg string) string {
	t := p.Path
	if t == "" {
		t = manifest.DefaultPattern.Path
	}
	return path.Clean(strings.ReplaceAll(t, "{path}", strings.TrimPrefix(seg, "/")))
}

// globWalk returns every file path under the backend matching the
// pattern, one path segment at a time. Directories that fail to list are
// skipped.
func globWalk(b storage.Backend, pattern string) ([]string, error) {
	segs := strings.Split(strings.TrimPrefix(path.Clean(pattern), "/"), "/")
	dirs := []string{"/"}
	for i, seg := range segs {
		last := i == len(segs)-1
		var next []string
		for _, dir := range dirs {
			if !strings.ContainsAny(seg, "*?[") {
				next = append(next, path.Join(dir, seg))
				continue
			}
			entries, err := b.List(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir == last {
					continue
				}
				ok, err := path.Match(seg, e.Name)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, path.Join(dir, e.Name))
				}
			}
		}
		dirs = next
	}
	// Literal segments were never checked against the backend; filter to
	// files that exist.
	out := dirs[:0]
	for _, p := range dirs {
		info, err := b.Getattr(p)
		if err != nil || info.IsDir {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
