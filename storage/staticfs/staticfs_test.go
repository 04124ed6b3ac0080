package staticfs

import (
	"testing"

	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
	"wildland.io/core/storage/testkit"
)

func TestConformance(t *testing.T) {
	testkit.RunBackendConformance(t, func(t *testing.T) storage.Backend {
		return New()
	})
}

func TestReadOnly(t *testing.T) {
	testkit.RunReadOnlyConformance(t, NewReadOnly())
}

func TestSeedFromParams(t *testing.T) {
	b, err := registry.New("static", storage.Params{
		"content": map[string]any{
			"readme.md": "hello",
			"docs": map[string]any{
				"a.txt": "aaa",
			},
		},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	got, err := storage.ReadFile(b, "/readme.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("ReadFile = %q", got)
	}

	entries, err := b.List("/docs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("List = %v", entries)
	}
}

func TestAddFile(t *testing.T) {
	b := New()
	b.AddFile("/deep/ly/nested.txt", []byte("data"))
	info, err := b.Getattr("/deep/ly")
	if err != nil || !info.IsDir {
		t.Fatalf("Getattr(/deep/ly) = %+v, %v", info, err)
	}
	got, err := storage.ReadFile(b, "/deep/ly/nested.txt")
	if err != nil || string(got) != "data" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
}
