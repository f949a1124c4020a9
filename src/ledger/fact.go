package ledger

import (
	"time"

	"github.com/attestnetworks/factum/src/common"
)

// Fact is the fundamental unit of the ledger: an immutable-once-written
// record chained to its predecessor by hash. The consensus fields (Status,
// ConsensusScore, ReputationApplied) are the only mutable parts and are owned
// by the consensus engine; everything else is fixed at append time.
type Fact struct {
	// ID is a store-wide monotonically increasing identifier. It is what
	// votes reference, so it must be unambiguous across scopes.
	ID int64

	// Scope is the isolation boundary the fact belongs to.
	Scope Scope

	// Sequence is the fact's position in its scope's chain: 0-based,
	// contiguous, no gaps.
	Sequence int

	// Content is the opaque payload, validated and sanitized upstream.
	Content []byte

	// PrevHash is the digest of the fact at Sequence-1 in the same scope, or
	// the zero digest for Sequence 0.
	PrevHash []byte

	// Hash is FactDigest(Content, PrevHash, Sequence, Scope).
	Hash []byte

	// Author is the ID of the agent that wrote the record. It is not part of
	// the digest; it exists to enforce the no-self-vote policy.
	Author string

	// Status is owned by the consensus engine.
	Status Status

	// ConsensusScore is the weighted approval ratio in [0,1], recomputed on
	// every vote.
	ConsensusScore float64

	// ReputationApplied guards the one-time reputation adjustment: it is set
	// on the first transition into a terminal status and never cleared.
	ReputationApplied bool

	// Deprecated marks a fact as superseded. Facts are never deleted, so the
	// chain's hash linkage survives deprecation.
	Deprecated   bool
	DeprecatedAt time.Time

	CreatedAt time.Time

	hex string
}

// Hex returns a hex string representation of the fact's hash.
func (f *Fact) Hex() string {
	if f.hex == "" {
		f.hex = common.EncodeToString(f.Hash)
	}
	return f.hex
}

// Digest recomputes the fact's digest from its stored fields. It does not
// compare against the stored Hash; that is the verifier's job.
func (f *Fact) Digest() []byte {
	return FactDigest(f.Content, f.PrevHash, f.Sequence, f.Scope)
}

// Copy returns a deep copy of the fact. Stores hand out copies so a reader
// never observes a write in progress.
func (f *Fact) Copy() *Fact {
	nf := *f
	nf.Content = append([]byte(nil), f.Content...)
	nf.PrevHash = append([]byte(nil), f.PrevHash...)
	nf.Hash = append([]byte(nil), f.Hash...)
	return &nf
}

// Marshal returns the canonical JSON encoding of the fact.
func (f *Fact) Marshal() ([]byte, error) {
	return marshalCanonical(f)
}

// Unmarshal decodes a canonical JSON encoded fact.
func (f *Fact) Unmarshal(data []byte) error {
	return unmarshalCanonical(data, f)
}
