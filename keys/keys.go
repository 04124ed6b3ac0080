package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a supported signature scheme.
type Algorithm string

const (
	AlgEd25519    Algorithm = "ed25519"
	AlgDilithium3 Algorithm = "dilithium3"
)

// PublicKey is a parsed public key together with its scheme.
type PublicKey struct {
	Alg Algorithm
	Raw []byte
}

// ParsePublicKey parses the textual key form "<alg>:<base64>".
func ParsePublicKey(s string) (PublicKey, error) {
	alg, enc, ok := strings.Cut(s, ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("keys: invalid public key encoding")
	}
	raw, err := decodeBase64(enc)
	if err != nil {
		return PublicKey{}, fmt.Errorf("keys: invalid public key base64: %w", err)
	}
	switch Algorithm(alg) {
	case AlgEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("keys: invalid ed25519 public key length %d", len(raw))
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(raw); err != nil {
			return PublicKey{}, fmt.Errorf("keys: invalid dilithium3 public key: %w", err)
		}
	default:
		return PublicKey{}, fmt.Errorf("keys: unsupported key algorithm %q", alg)
	}
	return PublicKey{Alg: Algorithm(alg), Raw: raw}, nil
}

// String renders the canonical "<alg>:<base64>" form.
func (k PublicKey) String() string {
	return string(k.Alg) + ":" + base64.StdEncoding.EncodeToString(k.Raw)
}

// Fingerprint returns the owner identifier for this key:
// "0x" + lowercase hex of sha3-256 over the raw public key bytes.
func (k PublicKey) Fingerprint() string {
	sum := sha3.Sum256(k.Raw)
	return "0x" + hex.EncodeToString(sum[:])
}

// IsFingerprint reports whether s has the canonical owner-fingerprint form.
func IsFingerprint(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return false
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Keypair holds a private key with its public counterpart.
type Keypair struct {
	Public PublicKey

	ed  ed25519.PrivateKey
	dil *mode3.PrivateKey
}

// Generate creates a fresh keypair for the given scheme.
func Generate(alg Algorithm, rng io.Reader) (*Keypair, error) {
	if rng == nil {
		rng = rand.Reader
	}
	switch alg {
	case AlgEd25519:
		pub, priv, err := ed25519.GenerateKey(rng)
		if err != nil {
			return nil, err
		}
		return &Keypair{Public: PublicKey{Alg: alg, Raw: pub}, ed: priv}, nil
	case AlgDilithium3:
		pub, priv, err := mode3.GenerateKey(rng)
		if err != nil {
			return nil, err
		}
		raw, err := pub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &Keypair{Public: PublicKey{Alg: alg, Raw: raw}, dil: priv}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported key algorithm %q", alg)
	}
}

// FromEd25519Seed builds an ed25519 keypair from a 32-byte seed.
func FromEd25519Seed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{Public: PublicKey{Alg: AlgEd25519, Raw: []byte(pub)}, ed: priv}, nil
}

// Fingerprint is shorthand for kp.Public.Fingerprint().
func (kp *Keypair) Fingerprint() string {
	return kp.Public.Fingerprint()
}

func decodeBase64(s string) ([]byte, error) {
	// Prefer standard padded encoding, but accept raw encoding too.
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
