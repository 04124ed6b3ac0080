package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Store is a filesystem-backed keystore.
//
// Layout: <dir>/<fingerprint>.sec holds the private key material
// ("<alg>:<base64>", mode 0600); <dir>/<fingerprint>.pub holds the public
// key in the same textual form. One owner may hold several keypairs; key
// rotation is a matter of publishing the new public key in the owner's
// user manifest.
type Store struct {
	Directory string
}

// OpenStore opens (creating if needed) a keystore rooted at dir.
func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("keys: store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{Directory: dir}, nil
}

// Generate creates a new keypair, persists it, and returns it.
func (s *Store) Generate(alg Algorithm) (*Keypair, error) {
	kp, err := Generate(alg, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Save(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// Save persists a keypair under its fingerprint.
func (s *Store) Save(kp *Keypair) error {
	fp := kp.Fingerprint()
	secret, err := kp.marshalSecret()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.secretPath(fp), []byte(secret+"\n"), 0o600); err != nil {
		return err
	}
	return os.WriteFile(s.publicPath(fp), []byte(kp.Public.String()+"\n"), 0o644)
}

// Load returns the keypair for a fingerprint, including private key material.
func (s *Store) Load(fingerprint string) (*Keypair, error) {
	data, err := os.ReadFile(s.secretPath(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keys: no private key for %s", fingerprint)
		}
		return nil, err
	}
	kp, err := unmarshalSecret(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if got := kp.Fingerprint(); got != fingerprint {
		return nil, fmt.Errorf("keys: key file for %s has fingerprint %s", fingerprint, got)
	}
	return kp, nil
}

// PublicKey returns the stored public key for a fingerprint.
func (s *Store) PublicKey(fingerprint string) (PublicKey, error) {
	data, err := os.ReadFile(s.publicPath(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return PublicKey{}, fmt.Errorf("keys: no public key for %s", fingerprint)
		}
		return PublicKey{}, err
	}
	return ParsePublicKey(strings.TrimSpace(string(data)))
}

// List returns the fingerprints of all stored keypairs, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".pub"))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) secretPath(fp string) string {
	return filepath.Join(s.Directory, fp+".sec")
}

func (s *Store) publicPath(fp string) string {
	return filepath.Join(s.Directory, fp+".pub")
}

func (kp *Keypair) marshalSecret() (string, error) {
	switch kp.Public.Alg {
	case AlgEd25519:
		return string(AlgEd25519) + ":" + encodeBase64(kp.ed.Seed()), nil
	case AlgDilithium3:
		raw, err := kp.dil.MarshalBinary()
		if err != nil {
			return "", err
		}
		return string(AlgDilithium3) + ":" + encodeBase64(raw), nil
	default:
		return "", fmt.Errorf("keys: unsupported key algorithm %q", kp.Public.Alg)
	}
}

func unmarshalSecret(s string) (*Keypair, error) {
	alg, enc, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.New("keys: invalid private key encoding")
	}
	raw, err := decodeBase64(enc)
	if err != nil {
		return nil, fmt.Errorf("keys: invalid private key base64: %w", err)
	}
	switch Algorithm(alg) {
	case AlgEd25519:
		return FromEd25519Seed(raw)
	case AlgDilithium3:
		var priv mode3.PrivateKey
		if err := priv.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("keys: invalid dilithium3 private key: %w", err)
		}
		pub := priv.Public().(*mode3.PublicKey)
		pubRaw, err := pub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &Keypair{Public: PublicKey{Alg: AlgDilithium3, Raw: pubRaw}, dil: &priv}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported key algorithm %q", alg)
	}
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
