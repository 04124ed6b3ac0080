package model

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"wildland.io/core/manifest"
)

// Storage describes one backend of a container: the driver type tag, its
// parameters, and flags affecting how manifests read from it are
// trusted.
type Storage struct {
	Owner string
	Type  string

	// ContainerPath is the back-reference to the owning container.
	ContainerPath string

	ReadOnly bool

	// Trusted marks a storage whose unsigned manifests are accepted,
	// provided their declared owner matches this storage's owner.
	Trusted bool

	// Pattern locates child manifests during path resolution.
	Pattern manifest.Pattern

	Params map[string]any
}

// BindStorage attaches a storage body to its container. The storage must
// share the container's owner, and when it declares a container-path the
// path must be one the container actually has.
func BindStorage(body *manifest.StorageBody, c *Container) (*Storage, error) {
	owner := body.Owner
	if owner == "" {
		owner = c.Owner
	}
	if owner != c.Owner {
		return nil, fmt.Errorf("storage owner %s does not match container owner %s", owner, c.Owner)
	}
	if body.ContainerPath != "" && !c.HasPath(body.ContainerPath) {
		return nil, fmt.Errorf("storage container-path %s is not a path of container %s",
			body.ContainerPath, c.UUIDPath())
	}
	pattern := manifest.DefaultPattern
	if body.ManifestPattern != nil {
		pattern = *body.ManifestPattern
	}
	return &Storage{
		Owner:         owner,
		Type:          body.Type,
		ContainerPath: body.ContainerPath,
		ReadOnly:      body.ReadOnly,
		Trusted:       body.Trusted,
		Pattern:       pattern,
		Params:        body.Params,
	}, nil
}

// InlineStorage decodes an inline storage reference from a container's
// backends list and binds it.
func InlineStorage(ref manifest.Ref, c *Container) (*Storage, error) {
	if ref.Inline == nil {
		return nil, fmt.Errorf("storage reference is not inline")
	}
	body, err := decodeStorageFields(ref.Inline)
	if err != nil {
		return nil, err
	}
	return BindStorage(body, c)
}

// decodeStorageFields round-trips a decoded mapping through YAML into
// the typed storage body, so inline backends share the manifest codec's
// field handling.
func decodeStorageFields(fields map[string]any) (*manifest.StorageBody, error) {
	data, err := yaml.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var body manifest.StorageBody
	if err := yaml.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("inline storage decode error: %w", err)
	}
	return &body, nil
}
