package model

import (
	"wildland.io/core/keys"
	"wildland.io/core/manifest"
)

// Bridge grafts another user's forest into the owner's namespace. The
// owner vouches for the target user's identity; following a bridge
// switches the resolution owner.
type Bridge struct {
	Owner string

	// User references the target user's manifest.
	User manifest.Ref

	// Pubkey, when set, pins the key the target user manifest must be
	// verified against.
	Pubkey *keys.PublicKey

	Paths []string

	Manifest *manifest.Manifest
}

// NewBridge builds a Bridge from a trusted bridge manifest.
func NewBridge(m *manifest.Manifest) (*Bridge, error) {
	if !m.Trusted {
		return nil, ErrUntrusted
	}
	body, err := m.Bridge()
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		Owner:    m.Owner,
		User:     body.User,
		Paths:    body.Paths,
		Manifest: m,
	}
	if body.Pubkey != "" {
		pk, err := keys.ParsePublicKey(body.Pubkey)
		if err != nil {
			return nil, err
		}
		b.Pubkey = &pk
	}
	return b, nil
}
