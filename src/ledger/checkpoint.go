package ledger

import (
	"time"

	"github.com/attestnetworks/factum/src/common"
)

// Checkpoint is a sealed integrity snapshot: the Merkle root of the fact
// hashes in a contiguous sequence range. Checkpoints for a scope are
// non-overlapping and contiguous, and are never mutated once sealed.
type Checkpoint struct {
	Scope         Scope
	StartSequence int
	EndSequence   int //inclusive
	MerkleRoot    []byte
	SealedAt      time.Time
}

// Covers reports whether the checkpoint's range contains the sequence.
func (c *Checkpoint) Covers(seq int) bool {
	return seq >= c.StartSequence && seq <= c.EndSequence
}

// RootHex returns a hex string representation of the Merkle root.
func (c *Checkpoint) RootHex() string {
	return common.EncodeToString(c.MerkleRoot)
}

// Copy returns a copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	nc := *c
	nc.MerkleRoot = append([]byte(nil), c.MerkleRoot...)
	return &nc
}

// Marshal returns the canonical JSON encoding of the checkpoint.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return marshalCanonical(c)
}

// Unmarshal decodes a canonical JSON encoded checkpoint.
func (c *Checkpoint) Unmarshal(data []byte) error {
	return unmarshalCanonical(data, c)
}
