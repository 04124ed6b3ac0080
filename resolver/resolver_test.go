package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"wildland.io/core/config"
	"wildland.io/core/keys"
	"wildland.io/core/manifest"
	"wildland.io/core/model"
	"wildland.io/core/wlpath"

	_ "wildland.io/core/storage/staticfs"
)

func newKeypair(t *testing.T, seed byte) *keys.Keypair {
	t.Helper()
	kp, err := keys.FromEd25519Seed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return kp
}

func marshalBody(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := yaml.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return data
}

func signed(t *testing.T, kp *keys.Keypair, fields map[string]any) []byte {
	t.Helper()
	data, err := manifest.Sign(marshalBody(t, fields), kp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return data
}

func unsigned(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	return append([]byte("---\n"), marshalBody(t, fields)...)
}

// staticStorage returns an inline static-backend storage mapping.
func staticStorage(content map[string]any, trusted bool) map[string]any {
	st := map[string]any{
		"type":    "static",
		"content": content,
	}
	if trusted {
		st["trusted"] = true
	}
	return st
}

func containerFields(owner, id, path string, storage map[string]any) map[string]any {
	return map[string]any{
		"version": manifest.CurrentVersion,
		"object":  "container",
		"owner":   owner,
		"paths":   []string{"/.uuid/" + id, path},
		"backends": map[string]any{
			"storage": []any{storage},
		},
	}
}

func userFields(kp *keys.Keypair, catalog []any) map[string]any {
	return map[string]any{
		"version":           manifest.CurrentVersion,
		"object":            "user",
		"owner":             kp.Fingerprint(),
		"paths":             []string{"/users/me"},
		"pubkeys":           []string{kp.Public.String()},
		"manifests-catalog": catalog,
	}
}

func newLibrary(t *testing.T, kps ...*keys.Keypair) *Library {
	t.Helper()
	lib := NewLibrary(nil)
	for _, kp := range kps {
		lib.LearnKeys(kp.Fingerprint(), []keys.PublicKey{kp.Public})
	}
	return lib
}

func mustPath(t *testing.T, s string) wlpath.Path {
	t.Helper()
	p, err := wlpath.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return *p
}

func TestResolveLocalContainer(t *testing.T) {
	kp := newKeypair(t, 1)
	fp := kp.Fingerprint()
	lib := newLibrary(t, kp)
	if err := lib.AddManifest(signed(t, kp, containerFields(fp,
		"11111111-1111-1111-1111-111111111111", "/work",
		staticStorage(map[string]any{"readme.txt": "hi"}, false)))); err != nil {
		t.Fatal(err)
	}

	s := New(lib, Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":/work:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	if m.Owner != fp || m.Container == nil || m.Backend == nil {
		t.Fatalf("match = %+v", m)
	}
	if !m.Container.HasPath("/work") {
		t.Errorf("container paths = %v", m.Container.Paths)
	}
}

func TestResolveWithDefaultOwner(t *testing.T) {
	kp := newKeypair(t, 2)
	fp := kp.Fingerprint()
	lib := newLibrary(t, kp)
	if err := lib.AddManifest(signed(t, kp, containerFields(fp,
		"21111111-1111-1111-1111-111111111111", "/docs",
		staticStorage(map[string]any{}, false)))); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{DefaultOwner: fp}
	s := New(lib, Options{Config: cfg})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, ":/docs:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 || matches[0].Owner != fp {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestResolveChildManifest(t *testing.T) {
	kp := newKeypair(t, 3)
	fp := kp.Fingerprint()

	child := signed(t, kp, containerFields(fp,
		"32222222-2222-2222-2222-222222222222", "/inner",
		staticStorage(map[string]any{"data.txt": "inner content"}, false)))

	// Outer container without the child manifest published.
	empty := newLibrary(t, kp)
	if err := empty.AddManifest(signed(t, kp, containerFields(fp,
		"31111111-1111-1111-1111-111111111111", "/outer",
		staticStorage(map[string]any{}, false)))); err != nil {
		t.Fatal(err)
	}
	s := New(empty, Options{})
	_, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":/outer:/inner:")})
	if !errors.Is(err, ErrNoSuchPath) {
		t.Fatalf("err = %v, want ErrNoSuchPath", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("err %T is not *Error", err)
	}
	if len(rerr.Consumed) != 1 || rerr.Consumed[0] != "/outer" || rerr.Segment != "/inner" {
		t.Errorf("consumed = %v, segment = %q", rerr.Consumed, rerr.Segment)
	}

	// Publishing the child manifest makes the same path resolve.
	lib := newLibrary(t, kp)
	if err := lib.AddManifest(signed(t, kp, containerFields(fp,
		"31111111-1111-1111-1111-111111111111", "/outer",
		staticStorage(map[string]any{"inner.yaml": string(child)}, false)))); err != nil {
		t.Fatal(err)
	}
	s = New(lib, Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":/outer:/inner:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 || !matches[0].Container.HasPath("/inner") {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestResolveUnsignedChild(t *testing.T) {
	kp := newKeypair(t, 4)
	fp := kp.Fingerprint()
	child := unsigned(t, containerFields(fp,
		"42222222-2222-2222-2222-222222222222", "/inner",
		staticStorage(map[string]any{}, false)))

	outer := func(trusted bool) *Library {
		lib := newLibrary(t, kp)
		if err := lib.AddManifest(signed(t, kp, containerFields(fp,
			"41111111-1111-1111-1111-111111111111", "/outer",
			staticStorage(map[string]any{"inner.yaml": string(child)}, trusted)))); err != nil {
			t.Fatal(err)
		}
		return lib
	}

	// Untrusted storage: the unsigned child is excluded and the walk
	// reports the trust failure.
	s := New(outer(false), Options{})
	_, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":/outer:/inner:")})
	if !errors.Is(err, ErrUntrustedHop) {
		t.Fatalf("err = %v, want ErrUntrustedHop", err)
	}

	// Trusted storage with matching owner: accepted.
	s = New(outer(true), Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":/outer:/inner:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
}

// bridgeFixture wires U1 with a local bridge at /clients to U2, whose
// catalog holder publishes a container manifest for /projects.
func bridgeFixture(t *testing.T, kp1, kp2 *keys.Keypair) *Library {
	t.Helper()
	fp1, fp2 := kp1.Fingerprint(), kp2.Fingerprint()

	project := signed(t, kp2, containerFields(fp2,
		"52222222-2222-2222-2222-222222222222", "/projects",
		staticStorage(map[string]any{"notes.txt": "u2 notes"}, false)))

	holder := containerFields(fp2,
		"51111111-1111-1111-1111-111111111111", "/catalog",
		staticStorage(map[string]any{"projects.yaml": string(project)}, false))

	bridge := map[string]any{
		"version": manifest.CurrentVersion,
		"object":  "bridge",
		"owner":   fp1,
		"user":    userFields(kp2, []any{holder}),
		"pubkey":  kp2.Public.String(),
		"paths":   []string{"/clients"},
	}

	lib := newLibrary(t, kp1)
	if err := lib.AddManifest(signed(t, kp1, bridge)); err != nil {
		t.Fatal(err)
	}
	return lib
}

func TestBridgeSwitchesOwner(t *testing.T) {
	kp1, kp2 := newKeypair(t, 5), newKeypair(t, 6)
	fp1, fp2 := kp1.Fingerprint(), kp2.Fingerprint()
	lib := bridgeFixture(t, kp1, kp2)

	// A same-named container of U1 must not satisfy the post-bridge
	// segment.
	if err := lib.AddManifest(signed(t, kp1, containerFields(fp1,
		"53333333-3333-3333-3333-333333333333", "/projects",
		staticStorage(map[string]any{}, false)))); err != nil {
		t.Fatal(err)
	}

	s := New(lib, Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp1+":/clients:/projects:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Owner != fp2 {
		t.Errorf("owner = %s, want bridge target %s", matches[0].Owner, fp2)
	}
	if matches[0].Container == nil || !matches[0].Container.HasPath("/projects") {
		t.Errorf("container = %+v", matches[0].Container)
	}
}

func TestBridgeAsFinalSegment(t *testing.T) {
	kp1, kp2 := newKeypair(t, 7), newKeypair(t, 8)
	lib := bridgeFixture(t, kp1, kp2)

	s := New(lib, Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, kp1.Fingerprint()+":/clients:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 || matches[0].Bridge == nil {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Owner != kp2.Fingerprint() {
		t.Errorf("owner = %s", matches[0].Owner)
	}
}

func TestBridgeCatalogContainerAddressable(t *testing.T) {
	kp1, kp2 := newKeypair(t, 13), newKeypair(t, 14)
	lib := bridgeFixture(t, kp1, kp2)

	s := New(lib, Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, kp1.Fingerprint()+":/clients:/catalog:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 || matches[0].Container == nil {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].Owner != kp2.Fingerprint() {
		t.Errorf("owner = %s", matches[0].Owner)
	}
	if !matches[0].Container.HasPath("/catalog") {
		t.Errorf("container paths = %v", matches[0].Container.Paths)
	}
}

func TestAmbiguousOwner(t *testing.T) {
	kp1, kp2 := newKeypair(t, 9), newKeypair(t, 10)
	fp1 := kp1.Fingerprint()

	lib := newLibrary(t, kp1)
	bridge := map[string]any{
		"version": manifest.CurrentVersion,
		"object":  "bridge",
		"owner":   fp1,
		"user":    userFields(kp2, nil),
		"pubkey":  kp2.Public.String(),
		"paths":   []string{"/shared"},
	}
	if err := lib.AddManifest(signed(t, kp1, bridge)); err != nil {
		t.Fatal(err)
	}
	if err := lib.AddManifest(signed(t, kp1, containerFields(fp1,
		"91111111-1111-1111-1111-111111111111", "/shared",
		staticStorage(map[string]any{}, false)))); err != nil {
		t.Fatal(err)
	}

	s := New(lib, Options{})
	_, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp1+":/shared:")})
	if !errors.Is(err, ErrAmbiguousOwner) {
		t.Fatalf("err = %v, want ErrAmbiguousOwner", err)
	}
}

func TestBridgeCycle(t *testing.T) {
	kp1, kp2 := newKeypair(t, 11), newKeypair(t, 12)
	fp1, fp2 := kp1.Fingerprint(), kp2.Fingerprint()

	lib := newLibrary(t, kp1, kp2)
	lib.AddBridge(&model.Bridge{
		Owner: fp1,
		User:  manifest.Ref{Inline: userFields(kp2, nil)},
		Paths: []string{"/loop"},
	})
	lib.AddBridge(&model.Bridge{
		Owner: fp2,
		User:  manifest.Ref{Inline: userFields(kp1, nil)},
		Paths: []string{"/loop"},
	})

	s := New(lib, Options{})
	_, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp1+":/loop:/loop:")})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
}

func TestResolveWildcard(t *testing.T) {
	kp := newKeypair(t, 13)
	fp := kp.Fingerprint()
	lib := newLibrary(t, kp)
	for i, p := range []string{"/music", "/photos"} {
		id := fmt.Sprintf("d111111%d-1111-1111-1111-111111111111", i)
		if err := lib.AddManifest(signed(t, kp, containerFields(fp, id, p,
			staticStorage(map[string]any{}, false)))); err != nil {
			t.Fatal(err)
		}
	}

	s := New(lib, Options{})
	matches, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":*:")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
}

func TestReadWriteFile(t *testing.T) {
	kp := newKeypair(t, 14)
	fp := kp.Fingerprint()
	lib := newLibrary(t, kp)
	if err := lib.AddManifest(signed(t, kp, containerFields(fp,
		"e1111111-1111-1111-1111-111111111111", "/notes",
		staticStorage(map[string]any{"today.txt": "walk the dog"}, false)))); err != nil {
		t.Fatal(err)
	}

	s := New(lib, Options{})
	ctx := context.Background()
	data, err := s.ReadFile(ctx, mustPath(t, fp+":/notes:/today.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "walk the dog" {
		t.Errorf("content = %q", data)
	}

	if err := s.WriteFile(ctx, mustPath(t, fp+":/notes:/tomorrow.txt"), []byte("buy milk")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err = s.ReadFile(ctx, mustPath(t, fp+":/notes:/tomorrow.txt"))
	if err != nil {
		t.Fatalf("ReadFile after write: %v", err)
	}
	if string(data) != "buy milk" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteAfterReadOnlySelection(t *testing.T) {
	kp := newKeypair(t, 21)
	fp := kp.Fingerprint()
	lib := newLibrary(t, kp)

	frozen := staticStorage(map[string]any{"today.txt": "walk the dog"}, false)
	frozen["read-only"] = true
	writable := staticStorage(map[string]any{}, false)
	fields := map[string]any{
		"version": manifest.CurrentVersion,
		"object":  "container",
		"owner":   fp,
		"paths":   []string{"/.uuid/f2222222-2222-2222-2222-222222222222", "/notes"},
		"backends": map[string]any{
			"storage": []any{frozen, writable},
		},
	}
	if err := lib.AddManifest(signed(t, kp, fields)); err != nil {
		t.Fatal(err)
	}

	s := New(lib, Options{})
	ctx := context.Background()

	// A read commits the first storage, which happens to be read-only.
	data, err := s.ReadFile(ctx, mustPath(t, fp+":/notes:/today.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "walk the dog" {
		t.Errorf("content = %q", data)
	}

	// A later write in the same session must move on to the writable
	// storage rather than fail on the cached read-only mount.
	if err := s.WriteFile(ctx, mustPath(t, fp+":/notes:/tomorrow.txt"), []byte("buy milk")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err = s.ReadFile(ctx, mustPath(t, fp+":/notes:/tomorrow.txt"))
	if err != nil {
		t.Fatalf("ReadFile after write: %v", err)
	}
	if string(data) != "buy milk" {
		t.Errorf("content = %q", data)
	}
}

func TestResolveIdempotentAndRefresh(t *testing.T) {
	kp := newKeypair(t, 15)
	fp := kp.Fingerprint()
	lib := newLibrary(t, kp)
	if err := lib.AddManifest(signed(t, kp, containerFields(fp,
		"f1111111-1111-1111-1111-111111111111", "/stable",
		staticStorage(map[string]any{}, false)))); err != nil {
		t.Fatal(err)
	}

	s := New(lib, Options{})
	ctx := context.Background()
	req := Request{Path: mustPath(t, fp+":/stable:")}
	first, err := s.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Container.UUIDPath() != second[0].Container.UUIDPath() {
		t.Errorf("containers differ: %s vs %s",
			first[0].Container.UUIDPath(), second[0].Container.UUIDPath())
	}
	if first[0].Backend != second[0].Backend {
		t.Error("backend not reused within a session")
	}

	s.Refresh()
	third, err := s.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if third[0].Backend == first[0].Backend {
		t.Error("Refresh did not drop the cached mount")
	}
}

func TestLibraryLoadDir(t *testing.T) {
	kp := newKeypair(t, 16)
	fp := kp.Fingerprint()
	dir := t.TempDir()

	write := func(name string, data []byte) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("me.user.yaml", signed(t, kp, userFields(kp, nil)))
	write("work.container.yaml", signed(t, kp, containerFields(fp,
		"a2111111-1111-1111-1111-111111111111", "/work",
		staticStorage(map[string]any{}, false))))

	// User keys come from the user manifest itself, not the seed helper.
	lib := NewLibrary(nil)
	if err := lib.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(lib.Users(fp)) != 1 {
		t.Errorf("users = %d", len(lib.Users(fp)))
	}
	if len(lib.Containers(fp)) != 1 {
		t.Errorf("containers = %d", len(lib.Containers(fp)))
	}

	s := New(lib, Options{})
	if _, err := s.Resolve(context.Background(), Request{Path: mustPath(t, fp+":/work:")}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}
