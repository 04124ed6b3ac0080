package resolver

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"wildland.io/core/keys"
	"wildland.io/core/manifest"
	"wildland.io/core/model"
)

// Library holds the locally known manifests a resolve call starts from:
// users, containers, and bridges loaded from the client's manifest
// directories. It also accumulates the public keys learned from
// self-signed user manifests, so it doubles as the key lookup for every
// later trust decision.
type Library struct {
	base manifest.KeyLookup

	mu         sync.RWMutex
	learned    map[string][]keys.PublicKey
	users      []*model.User
	containers []*model.Container
	bridges    []*model.Bridge
}

// NewLibrary returns an empty library. base supplies public keys from
// outside the library, typically the filesystem keystore; nil is allowed.
func NewLibrary(base manifest.KeyLookup) *Library {
	return &Library{base: base, learned: map[string][]keys.PublicKey{}}
}

// StoreKeys adapts a keystore to the manifest key lookup.
func StoreKeys(s *keys.Store) manifest.KeyLookup {
	return manifest.KeyLookupFunc(func(owner string) []keys.PublicKey {
		pk, err := s.PublicKey(owner)
		if err != nil {
			return nil
		}
		return []keys.PublicKey{pk}
	})
}

// PublicKeys returns every key bound to owner: keystore keys first, then
// keys learned from verified user manifests.
func (l *Library) PublicKeys(owner string) []keys.PublicKey {
	var out []keys.PublicKey
	if l.base != nil {
		out = append(out, l.base.PublicKeys(owner)...)
	}
	l.mu.RLock()
	out = append(out, l.learned[owner]...)
	l.mu.RUnlock()
	return out
}

// LearnKeys binds additional public keys to an owner for the rest of the
// library's lifetime.
func (l *Library) LearnKeys(owner string, pks []keys.PublicKey) {
	l.mu.Lock()
	l.learned[owner] = append(l.learned[owner], pks...)
	l.mu.Unlock()
}

// AddUserManifest verifies a self-signed user manifest, learns its keys,
// and registers the user.
func (l *Library) AddUserManifest(data []byte) (*model.User, error) {
	m, pks, err := manifest.LoadSelfSigned(data)
	if err != nil {
		return nil, err
	}
	l.LearnKeys(m.Owner, pks)
	u, err := model.NewUser(m)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.users = append(l.users, u)
	l.mu.Unlock()
	return u, nil
}

// AddManifest verifies a container or bridge manifest against the known
// keys and registers it. User manifests go through AddUserManifest so
// their keys are learned before anything depends on them.
func (l *Library) AddManifest(data []byte) error {
	m, err := manifest.Load(data, manifest.TrustContext{Keys: l})
	if err != nil {
		return err
	}
	switch m.Kind {
	case manifest.KindContainer:
		c, err := model.NewContainer(m)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.containers = append(l.containers, c)
		l.mu.Unlock()
		return nil
	case manifest.KindBridge:
		b, err := model.NewBridge(m)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.bridges = append(l.bridges, b)
		l.mu.Unlock()
		return nil
	case manifest.KindUser:
		_, err := l.AddUserManifest(data)
		return err
	default:
		return fmt.Errorf("manifest kind %q has no place in the library", m.Kind)
	}
}

// AddContainer registers an already constructed container.
func (l *Library) AddContainer(c *model.Container) {
	l.mu.Lock()
	l.containers = append(l.containers, c)
	l.mu.Unlock()
}

// AddBridge registers an already constructed bridge.
func (l *Library) AddBridge(b *model.Bridge) {
	l.mu.Lock()
	l.bridges = append(l.bridges, b)
	l.mu.Unlock()
}

// AddUser registers an already constructed user and its keys.
func (l *Library) AddUser(u *model.User) {
	l.LearnKeys(u.Owner, u.Pubkeys)
	l.mu.Lock()
	l.users = append(l.users, u)
	l.mu.Unlock()
}

// LoadDir loads every .yaml manifest under dir, users first so that
// container and bridge signatures can verify against their keys. A file
// that fails to load is skipped; the first error per file is collected
// into the returned error after everything loadable was loaded.
func (l *Library) LoadDir(dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".yaml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	type pending struct {
		path string
		data []byte
	}
	var rest []pending
	var errs []error
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m, err := manifest.Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		if m.Kind == manifest.KindUser {
			if _, err := l.AddUserManifest(data); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", f, err))
			}
			continue
		}
		rest = append(rest, pending{f, data})
	}
	for _, p := range rest {
		if err := l.AddManifest(p.data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("library: %d manifests failed to load, first: %w", len(errs), errs[0])
	}
	return nil
}

// Users returns the registered users with the given owner.
func (l *Library) Users(owner string) []*model.User {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*model.User
	for _, u := range l.users {
		if u.Owner == owner {
			out = append(out, u)
		}
	}
	return out
}

// Containers returns the registered containers with the given owner.
func (l *Library) Containers(owner string) []*model.Container {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*model.Container
	for _, c := range l.containers {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out
}

// Bridges returns the registered bridges with the given owner.
func (l *Library) Bridges(owner string) []*model.Bridge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*model.Bridge
	for _, b := range l.bridges {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	return out
}
