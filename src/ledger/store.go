package ledger

// Store is an interface for backend stores. Implementations must guarantee
// that SetFact commits the fact row and its indexes atomically, that
// ApplyVote commits the vote and the fact's consensus fields atomically, and
// that reads are snapshot-isolated: a reader never observes a partially
// written record.
type Store interface {
	// CacheSize retrieves the cacheSize setting that determines the maximum
	// number of items that caches can contain.
	CacheSize() int
	// LastFactID returns the highest fact ID ever assigned, or -1.
	LastFactID() int64
	// GetFact returns a fact by ID.
	GetFact(id int64) (*Fact, error)
	// GetFactBySequence returns the fact at a given position in a scope's
	// chain.
	GetFactBySequence(scope Scope, seq int) (*Fact, error)
	// SetFact inserts a fact, committing the row, the sequence index, and
	// the content index together. Inserting a sequence that already exists
	// fails with KeyAlreadyExists; a sequence that would leave a gap fails
	// with SkippedIndex.
	SetFact(fact *Fact) error
	// ApplyVote commits a vote (insert-or-replace) together with the fact's
	// updated consensus fields. Either both are visible or neither is.
	ApplyVote(fact *Fact, vote *Vote) error
	// DeprecateFact flags a fact as deprecated. The fact is never removed.
	DeprecateFact(id int64) error
	// LastSequence returns the last assigned sequence in a scope, or -1.
	LastSequence(scope Scope) int
	// RangeFacts returns the facts of a scope with from <= sequence <= to,
	// ordered by sequence.
	RangeFacts(scope Scope, from, to int) ([]*Fact, error)
	// HasContent looks up the deduplication index; it returns the ID of the
	// fact holding an identical (scope, content) digest, if any.
	HasContent(scope Scope, digest []byte) (int64, bool)
	// Scopes returns every scope that holds at least one fact.
	Scopes() []Scope
	// GetCheckpoint returns the checkpoint starting at a given sequence.
	GetCheckpoint(scope Scope, startSeq int) (*Checkpoint, error)
	// LastCheckpoint returns the scope's most recent checkpoint.
	LastCheckpoint(scope Scope) (*Checkpoint, error)
	// SetCheckpoint stores a sealed checkpoint. Overlapping or
	// non-contiguous ranges fail with KeyAlreadyExists / SkippedIndex.
	SetCheckpoint(checkpoint *Checkpoint) error
	// Checkpoints returns all of a scope's checkpoints ordered by start
	// sequence.
	Checkpoints(scope Scope) ([]*Checkpoint, error)
	// GetVote returns an agent's active vote on a fact.
	GetVote(factID int64, agentID string) (*Vote, error)
	// FactVotes returns all active votes on a fact.
	FactVotes(factID int64) ([]*Vote, error)
	// GetAgent returns an agent by ID.
	GetAgent(id string) (*Agent, error)
	// SetAgent inserts or updates an agent.
	SetAgent(agent *Agent) error
	// Agents returns all registered agents.
	Agents() ([]*Agent, error)
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}
