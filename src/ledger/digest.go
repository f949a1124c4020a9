package ledger

import (
	"encoding/binary"

	"github.com/attestnetworks/factum/src/crypto"
)

// DigestSize is the size in bytes of a fact digest (SHA256).
const DigestSize = 32

// ZeroDigest returns the zero-valued digest used as the prev_hash of the
// first fact in a scope.
func ZeroDigest() []byte {
	return make([]byte, DigestSize)
}

/*
FactDigest computes the content-addressed digest of a fact. It is the only
hashing contract in the ledger: deterministic, order-sensitive, and free of
encoding ambiguity.

Every variable-length field is framed with a fixed-width big-endian length
prefix before being fed to the hash, and the sequence number is encoded as a
fixed 8 bytes. Length-prefixed framing means no concatenation of two encoded
inputs can be re-read as a different split of the same bytes, which rules out
the delimiter-collision and length-extension style confusions that plague
string-joined hash inputs.

Field order: content, prev_hash, sequence, scope (tenant, then project).
*/
func FactDigest(content []byte, prevHash []byte, sequence int, scope Scope) []byte {
	buf := make([]byte, 0, len(content)+len(prevHash)+len(scope.TenantID)+len(scope.Project)+4*4+8)

	buf = appendFramed(buf, content)
	buf = appendFramed(buf, prevHash)

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	buf = append(buf, seq[:]...)

	buf = appendFramed(buf, []byte(scope.TenantID))
	buf = appendFramed(buf, []byte(scope.Project))

	return crypto.SHA256(buf)
}

// ContentDigest computes the digest used by the deduplication index. It binds
// the content to its scope so identical payloads in different scopes are not
// considered duplicates.
func ContentDigest(scope Scope, content []byte) []byte {
	buf := make([]byte, 0, len(content)+len(scope.TenantID)+len(scope.Project)+3*4)

	buf = appendFramed(buf, []byte(scope.TenantID))
	buf = appendFramed(buf, []byte(scope.Project))
	buf = appendFramed(buf, content)

	return crypto.SHA256(buf)
}

// appendFramed appends a 4-byte big-endian length prefix followed by the data.
func appendFramed(buf []byte, data []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}
