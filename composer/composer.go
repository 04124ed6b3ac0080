// Package composer merges mounted storage backends into one virtual
// directory tree. Every mount exposes its backend under a set of
// namespace paths; directories reachable from more than one mount are
// merged, with deterministic conflict names for colliding files and a
// strict no-structural-mutation rule for merged nodes.
package composer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"wildland.io/core/storage"
)

// ErrAmbiguousMutation rejects create, unlink, mkdir, rmdir, and rename
// on a merged directory. The same content stays mutable through the
// non-overlapping paths of whichever mount provides it.
var ErrAmbiguousMutation = errors.New("ambiguous mutation on merged directory")

// Mount is one activated (backend, paths) pairing. Fields are immutable
// after Add.
type Mount struct {
	// ID is a small integer unique for the process lifetime. IDs are
	// never reused, so a conflict-suffixed name observed before an
	// unmount can not silently rebind to a new mount.
	ID int

	// Paths are the absolute namespace paths the backend appears under.
	Paths []string

	Backend  storage.Backend
	ReadOnly bool
}

// Options configure a mount table.
type Options struct {
	// Logger receives mount lifecycle events. Nil discards.
	Logger *slog.Logger
}

// Table is the mount registry and the composed tree over it. Add and
// Remove are the single serialization point for mount-set changes;
// filesystem operations read a point-in-time snapshot and perform
// backend I/O without holding the table lock.
type Table struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	mounts map[int]*Mount
	root   *mountNode

	lockMu    sync.Mutex
	nodeLocks map[string]*nodeLock
}

// NewTable returns an empty mount table.
func NewTable(opts Options) *Table {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Table{
		logger:    logger,
		mounts:    map[int]*Mount{},
		root:      newMountNode(),
		nodeLocks: map[string]*nodeLock{},
	}
}

// Add registers a backend under the given namespace paths and returns
// its mount id. The backend must already be mounted.
func (t *Table) Add(paths []string, backend storage.Backend, readOnly bool) (int, error) {
	if len(paths) == 0 {
		return 0, fmt.Errorf("mount has no paths")
	}
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return 0, fmt.Errorf("mount path must be absolute: %s", p)
		}
		cleaned = append(cleaned, cleanPath(p))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	m := &Mount{
		ID:       t.nextID,
		Paths:    cleaned,
		Backend:  backend,
		ReadOnly: readOnly || backend.ReadOnly(),
	}
	t.mounts[m.ID] = m
	for _, p := range cleaned {
		t.root.mount(splitPath(p), m.ID)
	}
	t.logger.Debug("mount added", "id", m.ID, "paths", cleaned)
	return m.ID, nil
}

// Remove drops a mount from the table. The backend is not unmounted;
// that stays with whoever mounted it.
func (t *Table) Remove(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.mounts[id]
	if !ok {
		return fmt.Errorf("no mount with id %d", id)
	}
	for _, p := range m.Paths {
		t.root.unmount(splitPath(p), id)
	}
	delete(t.mounts, id)
	t.logger.Debug("mount removed", "id", id)
	return nil
}

// Mounts returns a snapshot of the current mounts, ordered by id.
func (t *Table) Mounts() []*Mount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Mount, 0, len(t.mounts))
	for id := 1; id <= t.nextID; id++ {
		if m, ok := t.mounts[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// nodeLock is a refcounted mutex; the table entry lives only while a
// mutation holds or waits on it.
type nodeLock struct {
	mu   sync.Mutex
	refs int
}

// lockNode serializes structural mutation per composed directory.
func (t *Table) lockNode(dir string) func() {
	t.lockMu.Lock()
	l, ok := t.nodeLocks[dir]
	if !ok {
		l = &nodeLock{}
		t.nodeLocks[dir] = l
	}
	l.refs++
	t.lockMu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.nodeLocks, dir)
		}
		t.lockMu.Unlock()
	}
}

// mountNode is the prefix tree over mount paths. Nodes exist only for
// mount anchors and the directories above them.
type mountNode struct {
	ids      []int
	children map[string]*mountNode
}

func newMountNode() *mountNode {
	return &mountNode{children: map[string]*mountNode{}}
}

func (n *mountNode) empty() bool {
	return len(n.ids) == 0 && len(n.children) == 0
}

func (n *mountNode) mount(parts []string, id int) {
	if len(parts) == 0 {
		n.ids = append(n.ids, id)
		return
	}
	child, ok := n.children[parts[0]]
	if !ok {
		child = newMountNode()
		n.children[parts[0]] = child
	}
	child.mount(parts[1:], id)
}

func (n *mountNode) unmount(parts []string, id int) {
	if len(parts) == 0 {
		for i, x := range n.ids {
			if x == id {
				n.ids = append(n.ids[:i], n.ids[i+1:]...)
				break
			}
		}
		return
	}
	child, ok := n.children[parts[0]]
	if !ok {
		return
	}
	child.unmount(parts[1:], id)
	if child.empty() {
		delete(n.children, parts[0])
	}
}

// walk returns the node at parts, nil when the tree does not reach it.
func (n *mountNode) walk(parts []string) *mountNode {
	for _, part := range parts {
		child, ok := n.children[part]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// synthetic reports whether the node is structural: more than one mount
// anchored here, or mounts anchored deeper. The root directory of a
// single mount with nothing below it is not synthetic.
func (n *mountNode) synthetic(parts []string) bool {
	node := n.walk(parts)
	if node == nil {
		return false
	}
	return len(node.children) != 0 || len(node.ids) != 1
}

// route is a mount claiming a composed path, with the path rebased into
// the mount's backend.
type route struct {
	mount *Mount
	rel   string
}

// resolve lists every mount whose anchor lies on the path, outermost
// first. The caller holds at least a read lock.
func (t *Table) resolve(parts []string) []route {
	var out []route
	node := t.root
	for i := 0; ; i++ {
		for _, id := range node.ids {
			if m, ok := t.mounts[id]; ok {
				out = append(out, route{mount: m, rel: "/" + strings.Join(parts[i:], "/")})
			}
		}
		if i == len(parts) {
			return out
		}
		child, ok := node.children[parts[i]]
		if !ok {
			return out
		}
		node = child
	}
}

// snapshot computes the routes and structural facts for one composed
// path under a single read lock.
type snapshot struct {
	routes    []route
	synthetic bool
	// children are the synthetic entries of the path, nil when the
	// prefix tree does not reach it.
	children []string
	inTree   bool
}

func (t *Table) snapshot(parts []string) snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := snapshot{
		routes:    t.resolve(parts),
		synthetic: t.root.synthetic(parts),
	}
	if node := t.root.walk(parts); node != nil {
		s.inTree = true
		for name := range node.children {
			s.children = append(s.children, name)
		}
	}
	return s
}

func cleanPath(p string) string {
	parts := splitPath(p)
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

func splitPath(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return out
}
