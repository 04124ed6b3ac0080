package manifest

import (
	"fmt"
	"strings"
	"testing"

	"wildland.io/core/keys"
)

func newKeypair(t *testing.T, seedByte byte) *keys.Keypair {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	kp, err := keys.FromEd25519Seed(seed)
	if err != nil {
		t.Fatalf("FromEd25519Seed: %v", err)
	}
	return kp
}

func containerBody(owner string) []byte {
	return []byte(fmt.Sprintf(`version: '1'
object: container
owner: '%s'
paths:
- /.uuid/11111111-2222-3333-4444-555555555555
- /work
backends:
  storage:
  - object: storage
    type: static
    owner: '%s'
    container-path: /work
    content: {}
`, owner, owner))
}

func lookupFor(kps ...*keys.Keypair) KeyLookup {
	return KeyLookupFunc(func(owner string) []keys.PublicKey {
		var out []keys.PublicKey
		for _, kp := range kps {
			if kp.Fingerprint() == owner {
				out = append(out, kp.Public)
			}
		}
		return out
	})
}

func TestSplit(t *testing.T) {
	header, body, err := Split([]byte("signature: |\n  sig\n---\nowner: '0xab'\n"))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if string(header) != "signature: |\n  sig" {
		t.Fatalf("header = %q", header)
	}
	if string(body) != "owner: '0xab'\n" {
		t.Fatalf("body = %q", body)
	}

	header, body, err = Split([]byte("---\nowner: '0xab'\n"))
	if err != nil {
		t.Fatalf("Split empty header: %v", err)
	}
	if len(header) != 0 {
		t.Fatalf("empty header = %q", header)
	}
	if string(body) != "owner: '0xab'\n" {
		t.Fatalf("body = %q", body)
	}

	if _, _, err := Split([]byte("owner: '0xab'\n")); err == nil {
		t.Fatal("Split without separator succeeded")
	} else if !IsKind(err, KindMalformed) {
		t.Fatalf("error kind = %v, want Malformed", err)
	}
}

func TestSignThenLoadVerifies(t *testing.T) {
	kp := newKeypair(t, 1)
	body := containerBody(kp.Fingerprint())

	data, err := Sign(body, kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	m, err := Load(data, TrustContext{Keys: lookupFor(kp)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !m.Trusted || m.Unsigned {
		t.Fatalf("manifest not trusted after valid signature: %+v", m)
	}
	if m.Kind != KindContainer || m.Owner != kp.Fingerprint() {
		t.Fatalf("kind/owner = %v/%v", m.Kind, m.Owner)
	}
	// The signature covers exactly the body bytes.
	if string(m.Body) != string(body) {
		t.Fatalf("body bytes changed across Sign/Load")
	}
}

func TestLoadRejectsTamperedBody(t *testing.T) {
	kp := newKeypair(t, 2)
	data, err := Sign(containerBody(kp.Fingerprint()), kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tampered := []byte(strings.Replace(string(data), "/work", "/home", 1))

	m, err := Load(tampered, TrustContext{Keys: lookupFor(kp)})
	if err == nil {
		t.Fatal("Load accepted tampered manifest")
	}
	if !IsKind(err, KindSignature) {
		t.Fatalf("error kind = %v, want Signature", err)
	}
	if m == nil || m.Trusted {
		t.Fatalf("tampered manifest should parse untrusted, got %+v", m)
	}
}

func TestLoadRejectsForeignSigner(t *testing.T) {
	owner := newKeypair(t, 3)
	imposter := newKeypair(t, 4)

	body := containerBody(owner.Fingerprint())
	sig, err := imposter.Sign(body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	data := append((&Header{Signature: sig}).Bytes(), []byte("\n---\n")...)
	data = append(data, body...)

	_, err = Load(data, TrustContext{Keys: lookupFor(owner, imposter)})
	if err == nil {
		t.Fatal("Load accepted a signature by a key not bound to the owner")
	}
}

func TestUnsignedTrustedStorage(t *testing.T) {
	kp := newKeypair(t, 5)
	owner := kp.Fingerprint()
	data := append([]byte("---\n"), containerBody(owner)...)

	// Accepted: trusted storage with matching owner.
	m, err := Load(data, TrustContext{TrustedOwner: owner})
	if err != nil {
		t.Fatalf("Load unsigned from trusted storage: %v", err)
	}
	if !m.Trusted || !m.Unsigned {
		t.Fatalf("expected trusted unsigned manifest, got %+v", m)
	}

	// Rejected: no trusted owner context.
	m, err = Load(data, TrustContext{})
	if err == nil {
		t.Fatal("Load accepted unsigned manifest without trusted storage")
	}
	if !IsKind(err, KindTrust) {
		t.Fatalf("error kind = %v, want Trust", err)
	}
	if m == nil || m.Owner != owner {
		t.Fatalf("untrusted result should still expose the owner, got %+v", m)
	}

	// Rejected: trusted storage owned by someone else.
	other := newKeypair(t, 6).Fingerprint()
	if _, err := Load(data, TrustContext{TrustedOwner: other}); err == nil {
		t.Fatal("Load accepted unsigned manifest from a differently-owned trusted storage")
	}
}

func TestSelfSignedUser(t *testing.T) {
	kp := newKeypair(t, 7)
	owner := kp.Fingerprint()
	body := []byte(fmt.Sprintf(`version: '1'
object: user
owner: '%s'
paths:
- /users/demo
pubkeys:
- %s
manifests-catalog: []
`, owner, kp.Public.String()))

	data, err := Sign(body, kp)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	m, pubkeys, err := LoadSelfSigned(data)
	if err != nil {
		t.Fatalf("LoadSelfSigned: %v", err)
	}
	if !m.Trusted {
		t.Fatal("self-signed user manifest not trusted")
	}
	if len(pubkeys) != 1 || pubkeys[0].Fingerprint() != owner {
		t.Fatalf("returned pubkeys = %v", pubkeys)
	}

	// Owner must match the primary key's fingerprint.
	foreign := newKeypair(t, 8)
	badBody := []byte(strings.Replace(string(body), kp.Public.String(), foreign.Public.String(), 1))
	badSig, err := foreign.Sign(badBody)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	badData := append((&Header{Signature: badSig}).Bytes(), []byte("\n---\n")...)
	badData = append(badData, badBody...)
	if _, _, err := LoadSelfSigned(badData); err == nil {
		t.Fatal("LoadSelfSigned accepted mismatched owner/pubkey")
	}
}

func TestValidateSchema(t *testing.T) {
	kp := newKeypair(t, 9)
	owner := kp.Fingerprint()
	cases := []struct {
		name string
		body string
	}{
		{"no object", "owner: '" + owner + "'\n"},
		{"no owner", "object: container\npaths: [/x]\n"},
		{"bad owner form", "object: container\nowner: alice\npaths: [/x]\nbackends: {storage: [{type: static}]}\n"},
		{"relative path", "object: container\nowner: '" + owner + "'\npaths: [work]\nbackends: {storage: [{type: static}]}\n"},
		{"no backends", "object: container\nowner: '" + owner + "'\npaths: [/x]\n"},
		{"user without pubkeys", "object: user\nowner: '" + owner + "'\npubkeys: []\n"},
		{"storage without type", "object: storage\nowner: '" + owner + "'\n"},
		{"bridge without user", "object: bridge\nowner: '" + owner + "'\npaths: [/x]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(append([]byte("---\n"), tc.body...))
			if err == nil {
				t.Fatalf("Parse accepted invalid body:\n%s", tc.body)
			}
			if !IsKind(err, KindSchema) {
				t.Fatalf("error kind = %v, want Schema", err)
			}
		})
	}
}
