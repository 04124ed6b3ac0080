package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Ref points at another manifest: a URL string, a link object (file path
// inside an inline storage), or an inline manifest body.
type Ref struct {
	URL    string
	Link   *Link
	Inline map[string]any
}

// Link addresses a manifest file within an explicitly given storage.
type Link struct {
	Object  string         `yaml:"object"`
	File    string         `yaml:"file"`
	Storage map[string]any `yaml:"storage"`
}

func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		r.URL = s
		return nil
	case yaml.MappingNode:
		var probe struct {
			Object string `yaml:"object"`
		}
		if err := node.Decode(&probe); err != nil {
			return err
		}
		if probe.Object == "link" {
			var link Link
			if err := node.Decode(&link); err != nil {
				return err
			}
			r.Link = &link
			return nil
		}
		var inline map[string]any
		if err := node.Decode(&inline); err != nil {
			return err
		}
		r.Inline = inline
		return nil
	default:
		return fmt.Errorf("manifest reference must be a URL or a mapping")
	}
}

func (r Ref) MarshalYAML() (any, error) {
	switch {
	case r.URL != "":
		return r.URL, nil
	case r.Link != nil:
		return r.Link, nil
	default:
		return r.Inline, nil
	}
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r.URL == "" && r.Link == nil && r.Inline == nil
}

// Pattern locates child manifests within a container's storage during
// path resolution. Type "path" addresses a single expected manifest file
// directly; type "glob" lists a directory and matches by glob.
type Pattern struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// DefaultPattern is used when a storage declares no manifest-pattern:
// the next path segment addresses the manifest file directly.
var DefaultPattern = Pattern{Type: "path", Path: "/{path}.yaml"}

// UserBody is the decoded body of a user manifest.
type UserBody struct {
	Version string   `yaml:"version"`
	Object  string   `yaml:"object"`
	Owner   string   `yaml:"owner"`
	Paths   []string `yaml:"paths"`
	Pubkeys []string `yaml:"pubkeys"`
	// ManifestsCatalog lists the containers where this user's own
	// manifests are published.
	ManifestsCatalog []Ref `yaml:"manifests-catalog"`
}

// ContainerBody is the decoded body of a container manifest.
type ContainerBody struct {
	Version    string   `yaml:"version"`
	Object     string   `yaml:"object"`
	Owner      string   `yaml:"owner"`
	Paths      []string `yaml:"paths"`
	Title      string   `yaml:"title"`
	Categories []string `yaml:"categories"`
	Backends   struct {
		Storage []Ref `yaml:"storage"`
	} `yaml:"backends"`
}

// StorageBody is the decoded body of a storage manifest. Backend-specific
// parameters stay in Params.
type StorageBody struct {
	Version string `yaml:"version"`
	Object  string `yaml:"object"`
	Owner   string `yaml:"owner"`
	Type    string `yaml:"type"`
	// ContainerPath must equal one of the owning container's paths; the
	// back-reference prevents attaching a backend to the wrong container.
	ContainerPath   string         `yaml:"container-path"`
	ReadOnly        bool           `yaml:"read-only"`
	Trusted         bool           `yaml:"trusted"`
	ManifestPattern *Pattern       `yaml:"manifest-pattern"`
	Params          map[string]any `yaml:",inline"`
}

// BridgeBody is the decoded body of a bridge manifest.
type BridgeBody struct {
	Version string `yaml:"version"`
	Object  string `yaml:"object"`
	Owner   string `yaml:"owner"`
	// User references the target user whose forest becomes reachable
	// under Paths.
	User   Ref      `yaml:"user"`
	Pubkey string   `yaml:"pubkey"`
	Paths  []string `yaml:"paths"`
}

// User decodes the body as a user manifest.
func (m *Manifest) User() (*UserBody, error) {
	if m.Kind != KindUser {
		return nil, newError(KindSchema, "WL-MAN-020", "not a user manifest: "+m.describe())
	}
	var body UserBody
	if err := yaml.Unmarshal(m.Body, &body); err != nil {
		return nil, wrapError(KindSchema, "WL-MAN-021", "user body decode error", err)
	}
	return &body, nil
}

// Container decodes the body as a container manifest.
func (m *Manifest) Container() (*ContainerBody, error) {
	if m.Kind != KindContainer {
		return nil, newError(KindSchema, "WL-MAN-022", "not a container manifest: "+m.describe())
	}
	var body ContainerBody
	if err := yaml.Unmarshal(m.Body, &body); err != nil {
		return nil, wrapError(KindSchema, "WL-MAN-023", "container body decode error", err)
	}
	return &body, nil
}

// Storage decodes the body as a storage manifest.
func (m *Manifest) Storage() (*StorageBody, error) {
	if m.Kind != KindStorage {
		return nil, newError(KindSchema, "WL-MAN-024", "not a storage manifest: "+m.describe())
	}
	var body StorageBody
	if err := yaml.Unmarshal(m.Body, &body); err != nil {
		return nil, wrapError(KindSchema, "WL-MAN-025", "storage body decode error", err)
	}
	return &body, nil
}

// Bridge decodes the body as a bridge manifest.
func (m *Manifest) Bridge() (*BridgeBody, error) {
	if m.Kind != KindBridge {
		return nil, newError(KindSchema, "WL-MAN-026", "not a bridge manifest: "+m.describe())
	}
	var body BridgeBody
	if err := yaml.Unmarshal(m.Body, &body); err != nil {
		return nil, wrapError(KindSchema, "WL-MAN-027", "bridge body decode error", err)
	}
	return &body, nil
}
