// Package cidutil derives content identifiers and change tokens for
// storage backends that advertise the content-hash or change-token
// capability.
package cidutil

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// ContentCID returns a CIDv1 (raw + sha2-256) derived from data. The
// CID is the canonical content-hash form exposed by backends, chosen to
// be directly usable as an IPFS identifier.
func ContentCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ChangeToken derives an opaque token from file metadata. Two calls return
// the same token iff size and modification time are unchanged; the token
// carries no ordering semantics.
func ChangeToken(size int64, modTime time.Time) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(size))
	binary.BigEndian.PutUint64(buf[8:], uint64(modTime.UnixNano()))
	sum := blake3.Sum256(buf[:])
	return hex.EncodeToString(sum[:16])
}
