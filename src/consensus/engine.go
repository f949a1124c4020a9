package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/attestnetworks/factum/src/ledger"
	"github.com/attestnetworks/factum/src/reputation"
)

// Engine runs reputation-weighted voting over facts. Every vote triggers a
// full recomputation of the fact's weighted approval score; the score only
// translates into a status once a quorum of distinct agents has voted.
//
// Statuses are soft-terminal: later votes can still move a fact between
// bands, but the reputation adjustment fires exactly once, on the first
// transition into Verified or Rejected.
type Engine struct {
	store    ledger.Store
	registry *reputation.Registry

	// quorum is the minimum number of distinct voting agents before a fact
	// can leave Pending.
	quorum int

	// verifyThreshold and rejectThreshold bound the three bands: a score at
	// or above verifyThreshold verifies the fact, strictly below
	// rejectThreshold rejects it, anything between disputes it.
	verifyThreshold float64
	rejectThreshold float64

	factLocksLock sync.Mutex
	factLocks     map[int64]*sync.Mutex

	logger *logrus.Entry
}

// NewEngine creates an Engine.
func NewEngine(store ledger.Store, registry *reputation.Registry, quorum int, verifyThreshold, rejectThreshold float64, logger *logrus.Entry) (*Engine, error) {
	if quorum < 1 {
		return nil, fmt.Errorf("quorum %d below 1", quorum)
	}
	if rejectThreshold <= 0 || verifyThreshold > 1 || rejectThreshold >= verifyThreshold {
		return nil, fmt.Errorf("thresholds (%f, %f) not ordered in (0, 1]", rejectThreshold, verifyThreshold)
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Engine{
		store:           store,
		registry:        registry,
		quorum:          quorum,
		verifyThreshold: verifyThreshold,
		rejectThreshold: rejectThreshold,
		factLocks:       make(map[int64]*sync.Mutex),
		logger:          logger.WithField("prefix", "consensus"),
	}, nil
}

func (e *Engine) factLock(factID int64) *sync.Mutex {
	e.factLocksLock.Lock()
	defer e.factLocksLock.Unlock()

	lock, ok := e.factLocks[factID]
	if !ok {
		lock = &sync.Mutex{}
		e.factLocks[factID] = lock
	}
	return lock
}

// Vote records an agent's attestation on a fact and recomputes the fact's
// consensus state. A repeat vote from the same agent replaces the previous
// one. The fact's author cannot vote on it.
func (e *Engine) Vote(factID int64, agentID string, approve bool, signature string) (*ledger.Fact, error) {
	agent, err := e.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	fact, err := e.store.GetFact(factID)
	if err != nil {
		return nil, err
	}

	if fact.Author != "" && fact.Author == agentID {
		return nil, fmt.Errorf("agent %s cannot vote on its own fact %d", agentID, factID)
	}

	if agent.PubKeyHex != "" {
		if err := VerifyVoteSignature(agent.PubKeyHex, fact.Hash, approve, signature); err != nil {
			return nil, err
		}
	}

	lock := e.factLock(factID)
	lock.Lock()
	defer lock.Unlock()

	// re-read under the lock; a concurrent vote may have moved the fact
	fact, err = e.store.GetFact(factID)
	if err != nil {
		return nil, err
	}

	vote := &ledger.Vote{
		FactID:    factID,
		AgentID:   agentID,
		Approve:   approve,
		CastAt:    time.Now().UTC(),
		Signature: signature,
	}

	votes, err := e.mergedVotes(factID, vote)
	if err != nil {
		return nil, err
	}

	approveWeight, totalWeight, err := e.weigh(votes)
	if err != nil {
		return nil, err
	}

	score := 0.0
	if totalWeight > 0 {
		score = approveWeight / totalWeight
	}

	status := ledger.Pending
	if len(votes) >= e.quorum {
		switch {
		case score >= e.verifyThreshold:
			status = ledger.Verified
		case score < e.rejectThreshold:
			status = ledger.Rejected
		default:
			status = ledger.Disputed
		}
	}

	adjustReputation := status.Terminal() && !fact.ReputationApplied

	fact.Status = status
	fact.ConsensusScore = score
	if adjustReputation {
		fact.ReputationApplied = true
	}

	if err := e.store.ApplyVote(fact, vote); err != nil {
		return nil, err
	}

	if adjustReputation {
		e.applyReputation(votes, status)
	}

	e.logger.WithFields(logrus.Fields{
		"fact":   factID,
		"agent":  agentID,
		"score":  score,
		"status": status.String(),
	}).Debug("Applied vote")

	return fact, nil
}

// mergedVotes returns the fact's active vote set with the incoming vote
// replacing any previous vote by the same agent.
func (e *Engine) mergedVotes(factID int64, incoming *ledger.Vote) ([]*ledger.Vote, error) {
	votes, err := e.store.FactVotes(factID)
	if err != nil {
		return nil, err
	}

	merged := make([]*ledger.Vote, 0, len(votes)+1)
	replaced := false
	for _, v := range votes {
		if v.AgentID == incoming.AgentID {
			merged = append(merged, incoming)
			replaced = true
		} else {
			merged = append(merged, v)
		}
	}
	if !replaced {
		merged = append(merged, incoming)
	}

	return merged, nil
}

// weigh sums the current reputation weights behind the vote set.
func (e *Engine) weigh(votes []*ledger.Vote) (approveWeight, totalWeight float64, err error) {
	for _, v := range votes {
		agent, err := e.store.GetAgent(v.AgentID)
		if err != nil {
			return 0, 0, err
		}
		totalWeight += agent.ReputationWeight
		if v.Approve {
			approveWeight += agent.ReputationWeight
		}
	}
	return approveWeight, totalWeight, nil
}

// applyReputation runs the one-time adjustment for every voter once a fact
// first reaches a terminal status. An agent is aligned when its vote matches
// the outcome.
func (e *Engine) applyReputation(votes []*ledger.Vote, status ledger.Status) {
	outcome := status == ledger.Verified
	for _, v := range votes {
		aligned := v.Approve == outcome
		if _, err := e.registry.Adjust(v.AgentID, aligned); err != nil {
			e.logger.WithField("agent", v.AgentID).WithError(err).Error("Reputation adjustment")
		}
	}
}

// Tally is a read-only snapshot of a fact's consensus state.
type Tally struct {
	Fact          *ledger.Fact
	Votes         []*ledger.Vote
	ApproveWeight float64
	TotalWeight   float64
	QuorumMet     bool
}

// Status returns the current consensus snapshot of a fact.
func (e *Engine) Status(factID int64) (*Tally, error) {
	lock := e.factLock(factID)
	lock.Lock()
	defer lock.Unlock()

	fact, err := e.store.GetFact(factID)
	if err != nil {
		return nil, err
	}

	votes, err := e.store.FactVotes(factID)
	if err != nil {
		return nil, err
	}

	approveWeight, totalWeight, err := e.weigh(votes)
	if err != nil {
		return nil, err
	}

	return &Tally{
		Fact:          fact,
		Votes:         votes,
		ApproveWeight: approveWeight,
		TotalWeight:   totalWeight,
		QuorumMet:     len(votes) >= e.quorum,
	}, nil
}

// Quorum returns the configured quorum.
func (e *Engine) Quorum() int {
	return e.quorum
}
