package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// manifestHashAlg is the digest applied to body bytes before signing.
const manifestHashAlg = "sha256"

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("keys: unsupported hash algorithm %q", hashAlg)
	}
}

// Sign signs the raw body bytes and returns the signature in its textual
// form "<fingerprint>:<alg>:<base64>".
func (kp *Keypair) Sign(body []byte) (string, error) {
	digest, err := digestFor(manifestHashAlg, body)
	if err != nil {
		return "", err
	}
	var sig []byte
	switch kp.Public.Alg {
	case AlgEd25519:
		sig = ed25519.Sign(kp.ed, digest)
	case AlgDilithium3:
		sig = make([]byte, mode3.SignatureSize)
		mode3.SignTo(kp.dil, digest, sig)
	default:
		return "", fmt.Errorf("keys: unsupported key algorithm %q", kp.Public.Alg)
	}
	return kp.Fingerprint() + ":" + string(kp.Public.Alg) + ":" +
		base64.StdEncoding.EncodeToString(sig), nil
}

// Signature is a parsed manifest signature.
type Signature struct {
	Signer string
	Alg    Algorithm
	Raw    []byte
}

// ParseSignature parses "<fingerprint>:<alg>:<base64>".
func ParseSignature(s string) (Signature, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) != 3 {
		return Signature{}, fmt.Errorf("keys: invalid signature encoding")
	}
	if !IsFingerprint(parts[0]) {
		return Signature{}, fmt.Errorf("keys: invalid signer fingerprint %q", parts[0])
	}
	raw, err := decodeBase64(parts[2])
	if err != nil {
		return Signature{}, fmt.Errorf("keys: invalid signature base64: %w", err)
	}
	switch Algorithm(parts[1]) {
	case AlgEd25519:
		if len(raw) != ed25519.SignatureSize {
			return Signature{}, fmt.Errorf("keys: invalid ed25519 signature length %d", len(raw))
		}
	case AlgDilithium3:
		if len(raw) != mode3.SignatureSize {
			return Signature{}, fmt.Errorf("keys: invalid dilithium3 signature length %d", len(raw))
		}
	default:
		return Signature{}, fmt.Errorf("keys: unsupported signature algorithm %q", parts[1])
	}
	return Signature{Signer: parts[0], Alg: Algorithm(parts[1]), Raw: raw}, nil
}

// Verify checks the signature over body against the given candidate keys.
// It returns the fingerprint of the key that verified. Keys whose
// fingerprint does not match the signature's declared signer are skipped.
func Verify(signature string, body []byte, candidates []PublicKey) (string, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return "", err
	}
	digest, err := digestFor(manifestHashAlg, body)
	if err != nil {
		return "", err
	}
	for _, key := range candidates {
		if key.Alg != sig.Alg || key.Fingerprint() != sig.Signer {
			continue
		}
		if verifyWith(key, digest, sig.Raw) {
			return sig.Signer, nil
		}
	}
	return "", fmt.Errorf("keys: signature by %s did not verify against any candidate key", sig.Signer)
}

func verifyWith(key PublicKey, digest, sig []byte) bool {
	switch key.Alg {
	case AlgEd25519:
		return ed25519.Verify(ed25519.PublicKey(key.Raw), digest, sig)
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(key.Raw); err != nil {
			return false
		}
		return mode3.Verify(&pk, digest, sig)
	default:
		return false
	}
}
