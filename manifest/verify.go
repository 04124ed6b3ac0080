package manifest

import (
	"fmt"

	"wildland.io/core/keys"
)

// KeyLookup supplies the public keys bound to an owner. Implementations
// typically consult the local keystore plus keys imported from verified
// user manifests.
type KeyLookup interface {
	PublicKeys(owner string) []keys.PublicKey
}

// KeyLookupFunc adapts a function to KeyLookup.
type KeyLookupFunc func(owner string) []keys.PublicKey

func (f KeyLookupFunc) PublicKeys(owner string) []keys.PublicKey { return f(owner) }

// TrustContext carries everything a trust decision needs. It is supplied
// by the caller; verification itself is a pure function of its inputs.
type TrustContext struct {
	Keys KeyLookup

	// TrustedOwner is the owner of the storage the manifest bytes were
	// read from, when that storage is marked trusted. An unsigned
	// manifest is accepted only when its declared owner equals this.
	TrustedOwner string
}

// Load parses manifest bytes and applies the trust rules.
//
// On trust failures the returned manifest is still non-nil (with
// Trusted == false) so callers can report the declared owner; the error
// describes why trust was refused. Parse and schema failures return a
// nil manifest.
func Load(data []byte, tc TrustContext) (*Manifest, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if m.Signature == "" {
		if tc.TrustedOwner != "" && m.Owner == tc.TrustedOwner {
			m.Trusted = true
			m.Unsigned = true
			return m, nil
		}
		return m, newError(KindTrust, "WL-TRUST-001", fmt.Sprintf(
			"unsigned %s not accepted: trusted owner %q, manifest owner %q",
			m.describe(), tc.TrustedOwner, m.Owner))
	}

	var candidates []keys.PublicKey
	if tc.Keys != nil {
		candidates = tc.Keys.PublicKeys(m.Owner)
	}
	if len(candidates) == 0 {
		return m, newError(KindTrust, "WL-TRUST-002", "no known public keys for owner "+m.Owner)
	}
	if _, err := keys.Verify(m.Signature, m.Body, candidates); err != nil {
		return m, wrapError(KindSignature, "WL-SIG-001",
			"signature verification failed for "+m.describe(), err)
	}
	m.Trusted = true
	return m, nil
}

// LoadSelfSigned parses a user manifest and verifies it against its own
// embedded pubkeys: the fingerprint of the primary key must equal the
// declared owner. It returns the embedded keys so the caller can bind
// them to the owner for later lookups.
func LoadSelfSigned(data []byte) (*Manifest, []keys.PublicKey, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if m.Kind != KindUser {
		return m, nil, newError(KindTrust, "WL-TRUST-010", "self-signed verification applies to user manifests only")
	}
	body, err := m.User()
	if err != nil {
		return m, nil, err
	}

	pubkeys := make([]keys.PublicKey, 0, len(body.Pubkeys))
	for _, pk := range body.Pubkeys {
		parsed, err := keys.ParsePublicKey(pk)
		if err != nil {
			return m, nil, wrapError(KindSchema, "WL-VAL-011", "invalid pubkey in user manifest", err)
		}
		pubkeys = append(pubkeys, parsed)
	}

	primary := pubkeys[0]
	if got := primary.Fingerprint(); got != m.Owner {
		return m, nil, newError(KindTrust, "WL-TRUST-011", fmt.Sprintf(
			"primary pubkey fingerprint %s does not match declared owner %s", got, m.Owner))
	}
	if m.Signature == "" {
		return m, nil, newError(KindTrust, "WL-TRUST-012", "self-signed user manifest must carry a signature")
	}
	if _, err := keys.Verify(m.Signature, m.Body, pubkeys); err != nil {
		return m, nil, wrapError(KindSignature, "WL-SIG-002",
			"self-signed user manifest signature failed", err)
	}
	m.Trusted = true
	return m, pubkeys, nil
}

// Sign signs body bytes with kp and returns the serialized two-part
// manifest. The body's declared owner must equal the keypair fingerprint.
func Sign(body []byte, kp *keys.Keypair) ([]byte, error) {
	m, err := Parse(append([]byte("---\n"), body...))
	if err != nil {
		return nil, err
	}
	if m.Owner != kp.Fingerprint() {
		return nil, newError(KindTrust, "WL-TRUST-020", fmt.Sprintf(
			"cannot sign manifest of %s with key %s", m.Owner, kp.Fingerprint()))
	}
	sig, err := kp.Sign(body)
	if err != nil {
		return nil, wrapError(KindSignature, "WL-SIG-003", "signing failed", err)
	}
	m.Signature = sig
	return m.Bytes()
}
