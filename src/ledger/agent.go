package ledger

import (
	"time"
)

// Agent is a voting identity. Reputation is mutated only by the consensus
// engine after a fact reaches a terminal status, never by the agent itself;
// the only other write is the initial weight at registration.
type Agent struct {
	ID string

	// PubKeyHex is the agent's secp256k1 public key in uncompressed hex form.
	// Optional; when set, votes from this agent must be signed.
	PubKeyHex string

	// ReputationWeight is the agent's voting weight in (0, 1].
	ReputationWeight float64

	// VotesCast and VotesAligned track outcome history for operators.
	VotesCast    int
	VotesAligned int

	CreatedAt time.Time
}

// Copy returns a copy of the agent.
func (a *Agent) Copy() *Agent {
	na := *a
	return &na
}

// Marshal returns the canonical JSON encoding of the agent.
func (a *Agent) Marshal() ([]byte, error) {
	return marshalCanonical(a)
}

// Unmarshal decodes a canonical JSON encoded agent.
func (a *Agent) Unmarshal(data []byte) error {
	return unmarshalCanonical(data, a)
}
