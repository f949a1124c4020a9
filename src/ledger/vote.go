package ledger

import (
	"fmt"
	"time"
)

// Vote is an agent's attestation about a fact. There is at most one active
// vote per (FactID, AgentID) pair; a later vote from the same agent replaces
// the earlier one, modelling opinion revision rather than ballot stuffing.
type Vote struct {
	FactID  int64
	AgentID string
	Approve bool
	CastAt  time.Time

	// Signature is the agent's ECDSA signature over the vote digest. It is
	// required when the voting agent registered a public key.
	Signature string
}

// Key returns the unique key of the vote.
func (v *Vote) Key() string {
	return fmt.Sprintf("%d-%s", v.FactID, v.AgentID)
}

// Copy returns a copy of the vote.
func (v *Vote) Copy() *Vote {
	nv := *v
	return &nv
}

// Marshal returns the canonical JSON encoding of the vote.
func (v *Vote) Marshal() ([]byte, error) {
	return marshalCanonical(v)
}

// Unmarshal decodes a canonical JSON encoded vote.
func (v *Vote) Unmarshal(data []byte) error {
	return unmarshalCanonical(data, v)
}
