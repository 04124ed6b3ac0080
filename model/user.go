package model

import (
	"errors"

	"wildland.io/core/keys"
	"wildland.io/core/manifest"
)

// ErrUntrusted is returned when a domain object is constructed from a
// manifest that did not pass verification.
var ErrUntrusted = errors.New("manifest is not trusted")

// User is a forest owner: a key fingerprint, the keys that may sign on
// its behalf, and the catalog of containers its manifests are published
// in.
type User struct {
	Owner   string
	Paths   []string
	Pubkeys []keys.PublicKey

	// Catalog references the containers holding this user's published
	// manifests. Path resolution starts from these.
	Catalog []manifest.Ref

	Manifest *manifest.Manifest
}

// NewUser builds a User from a trusted user manifest.
func NewUser(m *manifest.Manifest) (*User, error) {
	if !m.Trusted {
		return nil, ErrUntrusted
	}
	body, err := m.User()
	if err != nil {
		return nil, err
	}
	pubkeys := make([]keys.PublicKey, 0, len(body.Pubkeys))
	for _, pk := range body.Pubkeys {
		parsed, err := keys.ParsePublicKey(pk)
		if err != nil {
			return nil, err
		}
		pubkeys = append(pubkeys, parsed)
	}
	return &User{
		Owner:    m.Owner,
		Paths:    body.Paths,
		Pubkeys:  pubkeys,
		Catalog:  body.ManifestsCatalog,
		Manifest: m,
	}, nil
}

// PrimaryKey returns the user's first declared public key.
func (u *User) PrimaryKey() keys.PublicKey {
	return u.Pubkeys[0]
}
