package composer

import (
	"errors"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"wildland.io/core/storage"
)

// conflictRe matches a conflict-suffixed name. The suffix sits after
// the whole name, extension included, so "b.jpg" from mount 3 lists as
// "b.jpg.wl.3".
var conflictRe = regexp.MustCompile(`^(.+)\.wl\.(\d+)$`)

func conflictName(name string, id int) string {
	return name + ".wl." + strconv.Itoa(id)
}

// splitConflict strips a conflict suffix, returning the plain name and
// the mount id, or (name, -1) when the name carries no suffix.
func splitConflict(name string) (string, int) {
	m := conflictRe.FindStringSubmatch(name)
	if m == nil {
		return name, -1
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return name, -1
	}
	return m[1], id
}

// List returns the composed directory listing. Entries with the same
// name from different mounts merge when they are directories; colliding
// non-directories list once per contributing mount under the conflict
// name, and the unsuffixed name is absent.
func (t *Table) List(p string) ([]storage.Entry, error) {
	parts := splitPath(p)
	s := t.snapshot(parts)

	type contrib struct {
		id    int
		isDir bool
	}
	byName := map[string][]contrib{}
	dirRoutes := 0
	found := s.inTree
	notDir := false
	var backendErr error
	for _, r := range s.routes {
		info, err := r.mount.Backend.Getattr(r.rel)
		if err != nil {
			continue
		}
		if !info.IsDir {
			notDir = true
			continue
		}
		entries, err := r.mount.Backend.List(r.rel)
		if err != nil {
			backendErr = err
			continue
		}
		found = true
		dirRoutes++
		for _, e := range entries {
			byName[e.Name] = append(byName[e.Name], contrib{id: r.mount.ID, isDir: e.IsDir})
		}
	}
	if !found {
		switch {
		case notDir:
			return nil, storage.ErrNotDir
		case backendErr != nil:
			return nil, backendErr
		}
		return nil, storage.ErrNotFound
	}

	result := map[string]bool{}
	for _, name := range s.children {
		result[name] = true
	}
	if dirRoutes == 1 && len(s.children) == 0 {
		for name, cs := range byName {
			result[name] = cs[0].isDir
		}
	} else {
		for name, cs := range byName {
			if _, taken := result[name]; len(cs) == 1 && !taken {
				result[name] = cs[0].isDir
				continue
			}
			for _, c := range cs {
				if c.isDir {
					if _, taken := result[name]; !taken {
						result[name] = true
					}
				} else {
					result[conflictName(name, c.id)] = false
				}
			}
		}
	}

	out := make([]storage.Entry, 0, len(result))
	for name, isDir := range result {
		out = append(out, storage.Entry{Name: name, IsDir: isDir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// locate resolves one composed path to its file info and, when a single
// mount serves it, the route to that mount. Merged and synthetic
// directories report info with a nil route.
func (t *Table) locate(p string) (storage.FileInfo, *route, error) {
	parts := splitPath(p)
	real := parts
	ident := -1
	if len(parts) > 0 {
		name, id := splitConflict(parts[len(parts)-1])
		if id >= 0 {
			ident = id
			real = append(append([]string{}, parts[:len(parts)-1]...), name)
		}
	}
	s := t.snapshot(real)

	if s.synthetic || (s.inTree && len(s.routes) == 0) {
		if ident >= 0 {
			return storage.FileInfo{}, nil, storage.ErrNotFound
		}
		return storage.FileInfo{IsDir: true}, nil, nil
	}
	if len(s.routes) == 0 {
		return storage.FileInfo{}, nil, storage.ErrNotFound
	}
	if len(s.routes) == 1 {
		if ident >= 0 {
			return storage.FileInfo{}, nil, storage.ErrNotFound
		}
		r := s.routes[0]
		info, err := r.mount.Backend.Getattr(r.rel)
		if err != nil {
			return storage.FileInfo{}, nil, err
		}
		return info, &r, nil
	}

	var files, dirs []struct {
		r    route
		info storage.FileInfo
	}
	for _, r := range s.routes {
		info, err := r.mount.Backend.Getattr(r.rel)
		if err != nil {
			continue
		}
		entry := struct {
			r    route
			info storage.FileInfo
		}{r, info}
		if info.IsDir {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	switch {
	case len(dirs) == 1 && len(files) == 0:
		if ident >= 0 {
			return storage.FileInfo{}, nil, storage.ErrNotFound
		}
		return dirs[0].info, &dirs[0].r, nil
	case len(dirs) > 0:
		// Directories merge; a file colliding with a directory is only
		// reachable under its conflict name.
		if ident < 0 {
			return storage.FileInfo{IsDir: true}, nil, nil
		}
		for _, f := range files {
			if f.r.mount.ID == ident {
				return f.info, &f.r, nil
			}
		}
		return storage.FileInfo{}, nil, storage.ErrNotFound
	case len(files) == 1:
		if ident >= 0 {
			return storage.FileInfo{}, nil, storage.ErrNotFound
		}
		return files[0].info, &files[0].r, nil
	case len(files) > 1:
		if ident < 0 {
			return storage.FileInfo{}, nil, storage.ErrNotFound
		}
		for _, f := range files {
			if f.r.mount.ID == ident {
				return f.info, &f.r, nil
			}
		}
		return storage.FileInfo{}, nil, storage.ErrNotFound
	}
	return storage.FileInfo{}, nil, storage.ErrNotFound
}

// Getattr stats a composed path.
func (t *Table) Getattr(p string) (storage.FileInfo, error) {
	info, _, err := t.locate(p)
	return info, err
}

// Open opens a file. Writable opens require a writable mount.
func (t *Table) Open(p string, readOnly bool) (storage.File, error) {
	info, r, err := t.locate(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, storage.ErrIsDir
	}
	if r == nil {
		return nil, storage.ErrNotFound
	}
	if !readOnly && r.mount.ReadOnly {
		return nil, storage.ErrReadOnly
	}
	return r.mount.Backend.Open(r.rel, readOnly)
}

// mutationTarget finds the single writable mount serving a directory.
// Directories fed by more than one mount reject structural mutation.
func (t *Table) mutationTarget(dirParts []string) (snapshot, *route, error) {
	s := t.snapshot(dirParts)
	var dirRoutes []route
	for _, r := range s.routes {
		info, err := r.mount.Backend.Getattr(r.rel)
		if err != nil || !info.IsDir {
			continue
		}
		dirRoutes = append(dirRoutes, r)
	}
	if len(dirRoutes) > 1 {
		return s, nil, ErrAmbiguousMutation
	}
	if len(dirRoutes) == 0 {
		if s.inTree {
			return s, nil, ErrAmbiguousMutation
		}
		return s, nil, storage.ErrNotFound
	}
	r := dirRoutes[0]
	if r.mount.ReadOnly {
		return s, nil, storage.ErrReadOnly
	}
	return s, &r, nil
}

func splitParent(p string) (dirParts []string, name string, err error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, "", storage.ErrIsDir
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

// Create makes a new file in a composed directory.
func (t *Table) Create(p string) (storage.File, error) {
	dirParts, name, err := splitParent(p)
	if err != nil {
		return nil, err
	}
	unlock := t.lockNode("/" + strings.Join(dirParts, "/"))
	defer unlock()
	s, r, err := t.mutationTarget(dirParts)
	if err != nil {
		return nil, err
	}
	for _, child := range s.children {
		if child == name {
			return nil, storage.ErrExists
		}
	}
	return r.mount.Backend.Create(path.Join(r.rel, name))
}

// Unlink removes a file. Any unlink inside a merged directory fails,
// including of conflict-suffixed names; the entry stays removable
// through a path where its mount is the sole contributor.
func (t *Table) Unlink(p string) error {
	dirParts, name, err := splitParent(p)
	if err != nil {
		return err
	}
	unlock := t.lockNode("/" + strings.Join(dirParts, "/"))
	defer unlock()
	_, r, err := t.mutationTarget(dirParts)
	if err != nil {
		return err
	}
	return r.mount.Backend.Unlink(path.Join(r.rel, name))
}

// Mkdir creates a directory in a composed directory.
func (t *Table) Mkdir(p string) error {
	dirParts, name, err := splitParent(p)
	if err != nil {
		return err
	}
	unlock := t.lockNode("/" + strings.Join(dirParts, "/"))
	defer unlock()
	s, r, err := t.mutationTarget(dirParts)
	if err != nil {
		return err
	}
	for _, child := range s.children {
		if child == name {
			return storage.ErrExists
		}
	}
	return r.mount.Backend.Mkdir(path.Join(r.rel, name))
}

// Rmdir removes an empty directory. Mount anchors and merged
// directories are structural and can not be removed here.
func (t *Table) Rmdir(p string) error {
	parts := splitPath(p)
	if len(parts) == 0 {
		return ErrAmbiguousMutation
	}
	dirParts, name := parts[:len(parts)-1], parts[len(parts)-1]
	unlock := t.lockNode("/" + strings.Join(dirParts, "/"))
	defer unlock()
	if func() bool {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.root.walk(parts) != nil
	}() {
		return ErrAmbiguousMutation
	}
	_, r, err := t.mutationTarget(dirParts)
	if err != nil {
		return err
	}
	return r.mount.Backend.Rmdir(path.Join(r.rel, name))
}

// Rename moves a file. Both endpoints must live in unambiguous
// writable directories. A backend advertising the Renamer capability
// moves natively; otherwise the move is a copy followed by an unlink,
// which also covers cross-mount renames. Directories are not renamed.
func (t *Table) Rename(oldPath, newPath string) error {
	oldDir, _, err := splitParent(oldPath)
	if err != nil {
		return err
	}
	newDir, newName, err := splitParent(newPath)
	if err != nil {
		return err
	}
	oldKey := "/" + strings.Join(oldDir, "/")
	newKey := "/" + strings.Join(newDir, "/")
	first, second := oldKey, newKey
	if second < first {
		first, second = second, first
	}
	unlock := t.lockNode(first)
	defer unlock()
	if first != second {
		unlock2 := t.lockNode(second)
		defer unlock2()
	}

	info, src, err := t.locate(oldPath)
	if err != nil {
		return err
	}
	if info.IsDir {
		return storage.ErrNotSupported
	}
	if src == nil {
		return storage.ErrNotFound
	}
	if _, _, err := t.mutationTarget(oldDir); err != nil {
		return err
	}
	s, dst, err := t.mutationTarget(newDir)
	if err != nil {
		return err
	}
	for _, child := range s.children {
		if child == newName {
			return storage.ErrExists
		}
	}

	if src.mount.ID == dst.mount.ID {
		if rn, ok := src.mount.Backend.(storage.Renamer); ok {
			return rn.Rename(src.rel, path.Join(dst.rel, newName))
		}
	}
	data, err := storage.ReadFile(src.mount.Backend, src.rel)
	if err != nil {
		return err
	}
	if err := storage.WriteFile(dst.mount.Backend, path.Join(dst.rel, newName), data); err != nil {
		return err
	}
	if err := src.mount.Backend.Unlink(src.rel); err != nil {
		if werr := dst.mount.Backend.Unlink(path.Join(dst.rel, newName)); werr != nil {
			return errors.Join(err, werr)
		}
		return err
	}
	return nil
}
