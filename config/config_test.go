package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
key-dir: /home/u/.config/wl/keys
mount-dir: /home/u/wildland
manifest-dirs:
- /home/u/.config/wl/manifests
default-owner: '0xaabb'
aliases:
  work: '0xccdd'
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.KeyDir != "/home/u/.config/wl/keys" {
		t.Errorf("KeyDir = %q", cfg.KeyDir)
	}
	if cfg.DefaultOwner != "0xaabb" {
		t.Errorf("DefaultOwner = %q", cfg.DefaultOwner)
	}
	if cfg.Aliases["work"] != "0xccdd" {
		t.Errorf("Aliases = %v", cfg.Aliases)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"unknown field", "mount-point: /mnt\n"},
		{"alias with at", "aliases:\n  '@work': '0xcc'\n"},
		{"alias not fingerprint", "aliases:\n  work: alice\n"},
		{"bad default owner", "default-owner: alice\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.in)); err == nil {
				t.Fatalf("Parse accepted:\n%s", tc.in)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("mount-dir: /mnt/wl\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MountDir != "/mnt/wl" {
		t.Errorf("MountDir = %q", cfg.MountDir)
	}
}

func TestResolveAlias(t *testing.T) {
	cfg := &Config{
		DefaultOwner: "0xaabb",
		Aliases:      map[string]string{"work": "0xccdd"},
	}
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"", "0xaabb", false},
		{"@default", "0xaabb", false},
		{"@default-owner", "0xaabb", false},
		{"@work", "0xccdd", false},
		{"0xeeff", "0xeeff", false},
		{"@nope", "", true},
		{"alice", "", true},
	}
	for _, tc := range cases {
		got, err := cfg.ResolveAlias(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ResolveAlias(%q) succeeded", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveAlias(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ResolveAlias(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := (&Config{}).ResolveAlias("@default"); err == nil {
		t.Error("ResolveAlias with no default owner succeeded")
	}
}
