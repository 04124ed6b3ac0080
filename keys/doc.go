// Package keys provides signing keys and owner identity for Wildland manifests.
//
// An owner is identified by a fingerprint derived from its public key
// material: "0x" followed by the lowercase hex of sha3-256 over the raw
// public key bytes. Fingerprints are the only form in which owners appear
// in manifests and Wildland paths.
//
// Two signature schemes are supported: ed25519 and dilithium3
// (post-quantum). Signatures cover a sha256 digest of the raw manifest
// body bytes and are encoded as "<fingerprint>:<alg>:<base64>".
package keys
