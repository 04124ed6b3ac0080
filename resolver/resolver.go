// Package resolver walks Wildland paths. Starting from the locally
// known manifests of an owner, each path segment is resolved against the
// current frontier of candidate containers and bridges: containers are
// searched for child manifests through their storage, bridges switch the
// effective owner to their target user. The walk commits storage
// backends only for containers that survive to the end of the path.
package resolver

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"wildland.io/core/config"
	"wildland.io/core/keys"
	"wildland.io/core/manifest"
	"wildland.io/core/model"
	"wildland.io/core/storage"
	"wildland.io/core/wlpath"
)

// FetchFunc retrieves manifest bytes from a URL. The resolver itself
// performs no network I/O; callers wire in a fetcher when bridge or
// storage references use URLs.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Options configure a resolution session.
type Options struct {
	// Config supplies alias resolution and the default owner. Without
	// it, paths must name an explicit fingerprint owner.
	Config *config.Config

	Fetch FetchFunc

	// Logger receives per-candidate resolution decisions at debug
	// level. Nil discards.
	Logger *slog.Logger
}

// Request is one resolve call.
type Request struct {
	Path wlpath.Path

	// Capability the caller needs from the final storage; write
	// requests skip read-only storages.
	Capability Capability
}

// Match is one resolution result: a container with its committed
// storage, or a bridge when the path ends on one.
type Match struct {
	Owner     string
	Container *model.Container
	Bridge    *model.Bridge

	// Storage and Backend are set for container matches.
	Storage *model.Storage
	Backend storage.Backend
}

// Session resolves paths against one library, caching loaded catalogs
// and mounted storages until Refresh.
type Session struct {
	library *Library
	cfg     *config.Config
	fetch   FetchFunc
	logger  *slog.Logger

	mu       sync.Mutex
	mounts   map[string]mounted
	catalogs map[string][]*model.Container
}

// New returns a session over the library.
func New(library *Library, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		library:  library,
		cfg:      opts.Config,
		fetch:    opts.Fetch,
		logger:   logger,
		mounts:   map[string]mounted{},
		catalogs: map[string][]*model.Container{},
	}
}

// Refresh drops every cached mount and catalog, forcing the next resolve
// to re-read manifests.
func (s *Session) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mounts {
		m.backend.Unmount()
	}
	s.mounts = map[string]mounted{}
	s.catalogs = map[string][]*model.Container{}
}

// hop records a bridge transition for cycle detection.
type hop struct {
	owner   string
	segment string
}

// step is one frontier member: an owner context with the container or
// bridge that justified it. matched marks steps consistent with every
// segment consumed so far; unmatched steps are catalog roots that may
// still host later segments.
type step struct {
	owner     string
	container *model.Container
	bridge    *model.Bridge
	user      *model.User
	matched   bool
	hops      []hop
}

// walk is the per-call state.
type walk struct {
	parts      []string
	wildcard   bool
	exclusions []Exclusion
	trustHit   bool
}

func (w *walk) exclude(seg, owner, source string, cause error) {
	w.exclusions = append(w.exclusions, Exclusion{Segment: seg, Owner: owner, Source: source, Cause: cause})
	if manifest.IsKind(cause, manifest.KindTrust) || manifest.IsKind(cause, manifest.KindSignature) {
		w.trustHit = true
	}
}

func (w *walk) fail(err error, failIdx int, owner string) *Error {
	return &Error{
		Err:        err,
		Consumed:   w.parts[:failIdx],
		Segment:    w.parts[failIdx],
		Owner:      owner,
		Exclusions: w.exclusions,
	}
}

// Resolve walks every segment of the request's path and returns the
// matching containers (with committed storage) or, when the path ends on
// a bridge, the bridge itself. A trailing file path is not a resolution
// hop; use ReadFile and WriteFile to address it.
func (s *Session) Resolve(ctx context.Context, req Request) ([]Match, error) {
	owner, err := s.effectiveOwner(req.Path.Owner)
	if err != nil {
		return nil, err
	}
	if len(req.Path.Parts) == 0 {
		return nil, &wlpath.PathError{Path: req.Path.String(), Reason: "path has no containers"}
	}
	w := &walk{parts: req.Path.Parts}

	frontier, err := s.initial(ctx, w, owner, req.Path.Hint)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("initial frontier", "owner", owner, "segment", w.parts[0], "candidates", len(frontier))
	if len(frontier) == 0 {
		return nil, w.fail(s.emptyErr(w), 0, owner)
	}

	for i := 1; i < len(w.parts); i++ {
		frontier, err = s.expand(ctx, w, frontier, i)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("frontier", "segment", w.parts[i], "candidates", len(frontier))
		if len(frontier) == 0 {
			return nil, w.fail(s.emptyErr(w), i, owner)
		}
	}

	matches := s.commit(ctx, w, frontier, req.Capability)
	if len(matches) == 0 {
		return nil, w.fail(s.emptyErr(w), len(w.parts)-1, owner)
	}
	if !w.wildcard {
		for _, m := range matches[1:] {
			if m.Owner != matches[0].Owner {
				return nil, w.fail(ErrAmbiguousOwner, len(w.parts)-1, owner)
			}
		}
	}
	return matches, nil
}

func (s *Session) emptyErr(w *walk) error {
	if w.trustHit {
		return ErrUntrustedHop
	}
	return ErrNoSuchPath
}

// commit turns matched frontier steps into results, selecting and
// mounting a storage per container. Containers whose storages cannot
// satisfy the capability become exclusions.
func (s *Session) commit(ctx context.Context, w *walk, frontier []step, cap Capability) []Match {
	seg := w.parts[len(w.parts)-1]
	var out []Match
	seen := map[string]bool{}
	for _, st := range frontier {
		if !st.matched {
			continue
		}
		if st.container == nil {
			if st.bridge == nil {
				continue
			}
			key := "bridge\x00" + st.owner + st.bridge.Paths[0]
			if !seen[key] {
				seen[key] = true
				out = append(out, Match{Owner: st.owner, Bridge: st.bridge})
			}
			continue
		}
		key := containerKey(st.container)
		if seen[key] {
			continue
		}
		seen[key] = true
		stor, backend, err := s.selectStorage(ctx, st.container, cap)
		if err != nil {
			w.exclude(seg, st.owner, "container "+st.container.UUIDPath(), err)
			continue
		}
		out = append(out, Match{
			Owner:     st.owner,
			Container: st.container,
			Bridge:    st.bridge,
			Storage:   stor,
			Backend:   backend,
		})
	}
	return out
}

// initial builds the frontier for the first segment: the hint user's
// catalog, locally known containers and bridges of the owner, and the
// catalogs of locally known user manifests for the owner.
func (s *Session) initial(ctx context.Context, w *walk, owner, hint string) ([]step, error) {
	seg := w.parts[0]
	if seg == "*" {
		w.wildcard = true
	}
	hops := []hop{{owner: owner, segment: seg}}
	var frontier []step

	if hint != "" {
		if s.fetch == nil {
			w.exclude(seg, owner, "hint "+hint, fmt.Errorf("no fetcher configured"))
		} else if data, err := s.fetch(ctx, hint); err != nil {
			w.exclude(seg, owner, "hint "+hint, err)
		} else if m, pks, err := manifest.LoadSelfSigned(data); err != nil {
			w.exclude(seg, owner, "hint "+hint, err)
		} else if m.Owner != owner {
			w.exclude(seg, owner, "hint "+hint,
				fmt.Errorf("hint user owner %s does not match path owner %s", m.Owner, owner))
		} else {
			s.library.LearnKeys(m.Owner, pks)
			if u, err := model.NewUser(m); err != nil {
				w.exclude(seg, owner, "hint "+hint, err)
			} else {
				frontier = append(frontier, s.userSteps(ctx, w, u, nil, seg, hops)...)
			}
		}
	}

	local, err := s.localCandidates(ctx, w, owner, seg, hops)
	if err != nil {
		return nil, err
	}
	frontier = append(frontier, local...)

	for _, u := range s.library.Users(owner) {
		frontier = append(frontier, s.userSteps(ctx, w, u, nil, seg, hops)...)
	}
	return frontier, nil
}

// expand resolves segment i against the current frontier.
func (s *Session) expand(ctx context.Context, w *walk, frontier []step, i int) ([]step, error) {
	seg := w.parts[i]
	if seg == "*" {
		w.wildcard = true
	}
	var next []step
	localDone := map[string]bool{}
	for _, cur := range frontier {
		if !localDone[cur.owner] {
			localDone[cur.owner] = true
			local, err := s.localCandidates(ctx, w, cur.owner, seg, cur.hops)
			if err != nil {
				return nil, err
			}
			next = append(next, local...)
		}
		if cur.container == nil {
			continue
		}
		// A lookup-root container (an unmatched catalog entry) becomes
		// a result of its own when the segment names one of its paths.
		if !cur.matched && (seg == "*" || cur.container.HasPath(seg)) {
			root := cur
			root.matched = true
			next = append(next, root)
		}
		children, err := s.lookupChildren(ctx, cur.container, seg)
		if err != nil {
			w.exclude(seg, cur.owner, "container "+cur.container.UUIDPath(), err)
			continue
		}
		for _, cand := range children {
			admitted, err := s.admit(ctx, w, cur, cand, seg)
			if err != nil {
				return nil, err
			}
			next = append(next, admitted...)
		}
	}
	return dedupe(next), nil
}

// localCandidates enumerates the library's containers and bridges for an
// owner against a segment.
func (s *Session) localCandidates(ctx context.Context, w *walk, owner, seg string, hops []hop) ([]step, error) {
	var out []step
	for _, c := range s.library.Containers(owner) {
		if seg == "*" || c.HasPath(seg) {
			out = append(out, step{owner: owner, container: c, matched: true, hops: hops})
		}
	}
	for _, b := range s.library.Bridges(owner) {
		if seg != "*" && !contains(b.Paths, seg) {
			continue
		}
		hopped, err := s.bridgeHop(ctx, w, owner, b, seg, hops)
		if err != nil {
			return nil, err
		}
		out = append(out, hopped...)
	}
	return out, nil
}

// admit applies the owner and path checks to one looked-up candidate.
func (s *Session) admit(ctx context.Context, w *walk, cur step, cand candidate, seg string) ([]step, error) {
	if cand.err != nil {
		w.exclude(seg, cur.owner, cand.source, cand.err)
		return nil, nil
	}
	if cand.container != nil {
		if cand.container.Owner != cur.owner {
			w.exclude(seg, cur.owner, cand.source, fmt.Errorf(
				"unexpected owner %s (expected %s)", cand.container.Owner, cur.owner))
			w.trustHit = true
			return nil, nil
		}
		if seg != "*" && !cand.container.HasPath(seg) {
			return nil, nil
		}
		return []step{{owner: cur.owner, container: cand.container, matched: true, hops: cur.hops}}, nil
	}
	if cand.bridge.Owner != cur.owner {
		w.exclude(seg, cur.owner, cand.source, fmt.Errorf(
			"unexpected owner %s (expected %s)", cand.bridge.Owner, cur.owner))
		w.trustHit = true
		return nil, nil
	}
	if seg != "*" && !contains(cand.bridge.Paths, seg) {
		return nil, nil
	}
	return s.bridgeHop(ctx, w, cur.owner, cand.bridge, seg, cur.hops)
}

// bridgeHop follows a bridge: loads and verifies the target user, learns
// its keys, and seeds the frontier from its manifests catalog. This is
// the only owner-switching transition; trust in everything past this
// segment derives from the target user's keys.
func (s *Session) bridgeHop(ctx context.Context, w *walk, owner string, b *model.Bridge, seg string, hops []hop) ([]step, error) {
	source := "bridge " + firstPath(b.Paths)
	u, err := s.loadBridgeUser(ctx, b)
	if err != nil {
		w.exclude(seg, owner, source, err)
		return nil, nil
	}
	for _, h := range hops {
		if h.owner == u.Owner && h.segment == seg {
			return nil, &Error{
				Err:        ErrCycle,
				Segment:    seg,
				Owner:      u.Owner,
				Exclusions: w.exclusions,
			}
		}
	}
	next := make([]hop, len(hops), len(hops)+1)
	copy(next, hops)
	next = append(next, hop{owner: u.Owner, segment: seg})
	s.logger.Debug("bridge hop", "segment", seg, "from", owner, "to", u.Owner)
	return s.userSteps(ctx, w, u, b, seg, next), nil
}

// userSteps yields a user's contribution to the frontier: the user step
// itself (carrying the bridge that introduced it, if any) and the
// containers of its manifests catalog. Catalog containers whose paths
// contain the segment are matches; the rest stay as roots for later
// segments.
func (s *Session) userSteps(ctx context.Context, w *walk, u *model.User, via *model.Bridge, seg string, hops []hop) []step {
	out := []step{{owner: u.Owner, bridge: via, user: u, matched: via != nil, hops: hops}}
	for _, c := range s.catalog(ctx, w, u, seg) {
		if c.Owner != u.Owner {
			w.exclude(seg, u.Owner, "catalog container "+c.UUIDPath(), fmt.Errorf(
				"unexpected owner %s (expected %s)", c.Owner, u.Owner))
			w.trustHit = true
			continue
		}
		matched := seg == "*" || c.HasPath(seg)
		out = append(out, step{owner: u.Owner, container: c, user: u, matched: matched, hops: hops})
	}
	return out
}

// catalog loads and caches the containers of a user's manifests catalog.
func (s *Session) catalog(ctx context.Context, w *walk, u *model.User, seg string) []*model.Container {
	s.mu.Lock()
	cached, ok := s.catalogs[u.Owner]
	s.mu.Unlock()
	if ok {
		return cached
	}
	var out []*model.Container
	for i, ref := range u.Catalog {
		source := fmt.Sprintf("catalog entry %d of %s", i, u.Owner)
		c, err := s.loadCatalogContainer(ctx, ref, u)
		if err != nil {
			w.exclude(seg, u.Owner, source, err)
			continue
		}
		out = append(out, c)
	}
	s.mu.Lock()
	s.catalogs[u.Owner] = out
	s.mu.Unlock()
	return out
}

func (s *Session) loadCatalogContainer(ctx context.Context, ref manifest.Ref, u *model.User) (*model.Container, error) {
	switch {
	case ref.Inline != nil:
		m, err := inlineManifest(ref.Inline, manifest.KindContainer, u.Owner)
		if err != nil {
			return nil, err
		}
		return model.NewContainer(m)
	case ref.Link != nil:
		data, err := readLink(ctx, ref.Link)
		if err != nil {
			return nil, err
		}
		return s.containerFromBytes(data)
	case ref.URL != "":
		if s.fetch == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", ref.URL)
		}
		data, err := s.fetch(ctx, ref.URL)
		if err != nil {
			return nil, err
		}
		return s.containerFromBytes(data)
	default:
		return nil, fmt.Errorf("empty catalog reference")
	}
}

func (s *Session) containerFromBytes(data []byte) (*model.Container, error) {
	m, err := manifest.Load(data, manifest.TrustContext{Keys: s.library})
	if err != nil {
		return nil, err
	}
	return model.NewContainer(m)
}

// loadBridgeUser resolves a bridge's user reference. Inline manifests
// are vouched for by the verified bridge itself; the other forms carry
// their own self-signed verification. A pinned pubkey must match the
// loaded user's identity either way.
func (s *Session) loadBridgeUser(ctx context.Context, b *model.Bridge) (*model.User, error) {
	var (
		m   *manifest.Manifest
		pks []keys.PublicKey
		err error
	)
	switch {
	case b.User.Inline != nil:
		m, err = inlineManifest(b.User.Inline, manifest.KindUser, "")
		if err != nil {
			return nil, err
		}
	case b.User.Link != nil:
		var data []byte
		if data, err = readLink(ctx, b.User.Link); err != nil {
			return nil, err
		}
		if m, pks, err = manifest.LoadSelfSigned(data); err != nil {
			return nil, err
		}
	case b.User.URL != "":
		if s.fetch == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", b.User.URL)
		}
		var data []byte
		if data, err = s.fetch(ctx, b.User.URL); err != nil {
			return nil, err
		}
		if m, pks, err = manifest.LoadSelfSigned(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("bridge has no user reference")
	}

	if b.Pubkey != nil && b.Pubkey.Fingerprint() != m.Owner {
		return nil, fmt.Errorf("bridge pins key %s, user manifest is owned by %s",
			b.Pubkey.Fingerprint(), m.Owner)
	}
	u, err := model.NewUser(m)
	if err != nil {
		return nil, err
	}
	if len(pks) > 0 {
		s.library.LearnKeys(u.Owner, pks)
	} else {
		s.library.LearnKeys(u.Owner, u.Pubkeys)
	}
	return u, nil
}

// inlineManifest wraps a decoded mapping as a trusted manifest. Inline
// bodies appear inside already-verified manifests, which is what vouches
// for them; expectedOwner, when set, must match the declared owner.
func inlineManifest(fields map[string]any, kind manifest.Kind, expectedOwner string) (*manifest.Manifest, error) {
	body, err := yaml.Marshal(fields)
	if err != nil {
		return nil, err
	}
	owner, _ := fields["owner"].(string)
	if object, ok := fields["object"].(string); ok && manifest.Kind(object) != kind {
		return nil, fmt.Errorf("inline manifest is %q, expected %q", object, kind)
	}
	if owner == "" {
		return nil, fmt.Errorf("inline %s manifest has no owner", kind)
	}
	if expectedOwner != "" && owner != expectedOwner {
		return nil, fmt.Errorf("inline %s manifest owner %s, expected %s", kind, owner, expectedOwner)
	}
	return &manifest.Manifest{
		Kind:     kind,
		Owner:    owner,
		Body:     body,
		Fields:   fields,
		Trusted:  true,
		Unsigned: true,
	}, nil
}

func (s *Session) effectiveOwner(owner string) (string, error) {
	if s.cfg != nil {
		return s.cfg.ResolveAlias(owner)
	}
	if keys.IsFingerprint(owner) {
		return owner, nil
	}
	return "", fmt.Errorf("owner %q needs a config for alias resolution", owner)
}

// ReadFile resolves the path and reads its trailing file from the first
// match that has it.
func (s *Session) ReadFile(ctx context.Context, p wlpath.Path) ([]byte, error) {
	if p.File == "" {
		return nil, &wlpath.PathError{Path: p.String(), Reason: "expecting a file path"}
	}
	matches, err := s.Resolve(ctx, Request{Path: p, Capability: CapabilityRead})
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Backend == nil {
			continue
		}
		data, err := storage.ReadFile(m.Backend, p.File)
		if err == nil {
			return data, nil
		}
		if !storage.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", p.String(), fs.ErrNotExist)
}

// WriteFile resolves the path for write capability and writes the
// trailing file into the first writable match.
func (s *Session) WriteFile(ctx context.Context, p wlpath.Path, data []byte) error {
	if p.File == "" {
		return &wlpath.PathError{Path: p.String(), Reason: "expecting a file path"}
	}
	matches, err := s.Resolve(ctx, Request{Path: p, Capability: CapabilityWrite})
	if err != nil {
		return err
	}
	var lastErr error
	for _, m := range matches {
		if m.Backend == nil {
			continue
		}
		if err := storage.WriteFile(m.Backend, p.File, data); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("%s: no writable container", p.String())
}

func contains(paths []string, p string) bool {
	for _, x := range paths {
		if x == p {
			return true
		}
	}
	return false
}

func firstPath(paths []string) string {
	if len(paths) == 0 {
		return "?"
	}
	return paths[0]
}

func dedupe(steps []step) []step {
	seen := map[string]bool{}
	out := steps[:0]
	for _, st := range steps {
		var key string
		switch {
		case st.container != nil:
			key = "c\x00" + containerKey(st.container)
		case st.bridge != nil:
			key = "b\x00" + st.owner + firstPath(st.bridge.Paths)
		default:
			key = "u\x00" + st.owner
		}
		if st.matched {
			key += "\x00m"
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, st)
	}
	return out
}
