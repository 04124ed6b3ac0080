package keys

import (
	"strings"
	"testing"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestFingerprintForm(t *testing.T) {
	kp, err := Generate(AlgEd25519, &deterministicReader{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fp := kp.Fingerprint()
	if !strings.HasPrefix(fp, "0x") {
		t.Fatalf("fingerprint missing 0x prefix: %q", fp)
	}
	if len(fp) != 2+64 {
		t.Fatalf("fingerprint length: got %d want %d", len(fp), 2+64)
	}
	if !IsFingerprint(fp) {
		t.Fatalf("IsFingerprint(%q) = false", fp)
	}
	if IsFingerprint("0xNOTHEX") || IsFingerprint("0x") || IsFingerprint("deadbeef") {
		t.Fatalf("IsFingerprint accepted malformed input")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgEd25519, AlgDilithium3} {
		kp, err := Generate(alg, &deterministicReader{})
		if err != nil {
			t.Fatalf("Generate(%s): %v", alg, err)
		}
		parsed, err := ParsePublicKey(kp.Public.String())
		if err != nil {
			t.Fatalf("ParsePublicKey(%s): %v", alg, err)
		}
		if parsed.Fingerprint() != kp.Fingerprint() {
			t.Fatalf("%s: fingerprint changed across round trip", alg)
		}
	}
}

func TestSignVerify(t *testing.T) {
	body := []byte("owner: \"0xaabb\"\nobject: container\n")
	for _, alg := range []Algorithm{AlgEd25519, AlgDilithium3} {
		kp, err := Generate(alg, &deterministicReader{})
		if err != nil {
			t.Fatalf("Generate(%s): %v", alg, err)
		}
		sig, err := kp.Sign(body)
		if err != nil {
			t.Fatalf("Sign(%s): %v", alg, err)
		}
		signer, err := Verify(sig, body, []PublicKey{kp.Public})
		if err != nil {
			t.Fatalf("Verify(%s): %v", alg, err)
		}
		if signer != kp.Fingerprint() {
			t.Fatalf("Verify returned signer %s, want %s", signer, kp.Fingerprint())
		}
		if _, err := Verify(sig, append(body, '\n'), []PublicKey{kp.Public}); err == nil {
			t.Fatalf("%s: signature verified over altered body", alg)
		}
	}
}

func TestVerifySkipsForeignKeys(t *testing.T) {
	body := []byte("data")
	signerKP, _ := Generate(AlgEd25519, &deterministicReader{})
	otherKP, _ := Generate(AlgEd25519, &deterministicReader{b: 100})

	sig, err := signerKP.Sign(body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := Verify(sig, body, []PublicKey{otherKP.Public}); err == nil {
		t.Fatalf("Verify succeeded with only an unrelated key")
	}
	if _, err := Verify(sig, body, []PublicKey{otherKP.Public, signerKP.Public}); err != nil {
		t.Fatalf("Verify failed with signer key present: %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	for _, alg := range []Algorithm{AlgEd25519, AlgDilithium3} {
		kp, err := store.Generate(alg)
		if err != nil {
			t.Fatalf("Generate(%s): %v", alg, err)
		}
		fp := kp.Fingerprint()

		loaded, err := store.Load(fp)
		if err != nil {
			t.Fatalf("Load(%s): %v", alg, err)
		}
		sig, err := loaded.Sign([]byte("body"))
		if err != nil {
			t.Fatalf("Sign after Load(%s): %v", alg, err)
		}
		if _, err := Verify(sig, []byte("body"), []PublicKey{kp.Public}); err != nil {
			t.Fatalf("loaded key produced bad signature (%s): %v", alg, err)
		}

		pub, err := store.PublicKey(fp)
		if err != nil {
			t.Fatalf("PublicKey(%s): %v", alg, err)
		}
		if pub.Fingerprint() != fp {
			t.Fatalf("stored public key fingerprint mismatch (%s)", alg)
		}
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(list))
	}
}
