package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	cm "github.com/attestnetworks/factum/src/common"
)

// InmemStore implements the Store interface with in-memory maps. It keeps the
// whole history, so it is suitable for tests and for deployments that accept
// losing the ledger on restart; long running deployments should use the
// BadgerStore.
//
// A single RWMutex guards all maps. Writers mutate under the write lock and
// readers receive copies, which is what gives the snapshot-read guarantee:
// a fact handed to a reader can never change under it.
type InmemStore struct {
	sync.RWMutex

	cacheSize    int
	facts        map[int64]*Fact            //ID => Fact
	chains       map[string][]*Fact         //scope key => facts ordered by sequence
	scopes       map[string]Scope           //scope key => Scope
	contentIndex map[string]int64           //scope key + content digest => fact ID
	checkpoints  map[string][]*Checkpoint   //scope key => checkpoints ordered by start
	votes        map[int64]map[string]*Vote //fact ID => agent ID => Vote
	agents       map[string]*Agent          //agent ID => Agent
	lastFactID   int64
}

// NewInmemStore creates a new InmemStore.
func NewInmemStore(cacheSize int) *InmemStore {
	return &InmemStore{
		cacheSize:    cacheSize,
		facts:        make(map[int64]*Fact),
		chains:       make(map[string][]*Fact),
		scopes:       make(map[string]Scope),
		contentIndex: make(map[string]int64),
		checkpoints:  make(map[string][]*Checkpoint),
		votes:        make(map[int64]map[string]*Vote),
		agents:       make(map[string]*Agent),
		lastFactID:   -1,
	}
}

// CacheSize implements the Store interface.
func (s *InmemStore) CacheSize() int {
	return s.cacheSize
}

// LastFactID implements the Store interface.
func (s *InmemStore) LastFactID() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.lastFactID
}

// GetFact implements the Store interface.
func (s *InmemStore) GetFact(id int64) (*Fact, error) {
	s.RLock()
	defer s.RUnlock()

	fact, ok := s.facts[id]
	if !ok {
		return nil, cm.NewStoreErr("Fact", cm.UnknownFact, fmt.Sprint(id))
	}
	return fact.Copy(), nil
}

// GetFactBySequence implements the Store interface.
func (s *InmemStore) GetFactBySequence(scope Scope, seq int) (*Fact, error) {
	s.RLock()
	defer s.RUnlock()

	chain := s.chains[scope.Key()]
	if seq < 0 || seq >= len(chain) {
		return nil, cm.NewStoreErr("Fact", cm.KeyNotFound, fmt.Sprintf("%s@%d", scope.Key(), seq))
	}
	return chain[seq].Copy(), nil
}

// SetFact implements the Store interface.
func (s *InmemStore) SetFact(fact *Fact) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.facts[fact.ID]; ok {
		return cm.NewStoreErr("Fact", cm.KeyAlreadyExists, fmt.Sprint(fact.ID))
	}

	key := fact.Scope.Key()
	chain := s.chains[key]

	if fact.Sequence < len(chain) {
		return cm.NewStoreErr("Fact", cm.KeyAlreadyExists, fmt.Sprintf("%s@%d", key, fact.Sequence))
	}
	if fact.Sequence > len(chain) {
		return cm.NewStoreErr("Fact", cm.SkippedIndex, fmt.Sprintf("%s@%d", key, fact.Sequence))
	}

	stored := fact.Copy()

	//fact row + sequence index + content index commit together under the
	//write lock
	s.facts[stored.ID] = stored
	s.chains[key] = append(chain, stored)
	s.scopes[key] = stored.Scope
	s.contentIndex[contentKey(stored.Scope, ContentDigest(stored.Scope, stored.Content))] = stored.ID

	if stored.ID > s.lastFactID {
		s.lastFactID = stored.ID
	}

	return nil
}

// ApplyVote implements the Store interface.
func (s *InmemStore) ApplyVote(fact *Fact, vote *Vote) error {
	s.Lock()
	defer s.Unlock()

	stored, ok := s.facts[fact.ID]
	if !ok {
		return cm.NewStoreErr("Fact", cm.UnknownFact, fmt.Sprint(fact.ID))
	}

	factVotes, ok := s.votes[fact.ID]
	if !ok {
		factVotes = make(map[string]*Vote)
		s.votes[fact.ID] = factVotes
	}

	//vote and consensus fields update together or not at all
	factVotes[vote.AgentID] = vote.Copy()
	stored.Status = fact.Status
	stored.ConsensusScore = fact.ConsensusScore
	stored.ReputationApplied = fact.ReputationApplied

	return nil
}

// DeprecateFact implements the Store interface.
func (s *InmemStore) DeprecateFact(id int64) error {
	s.Lock()
	defer s.Unlock()

	fact, ok := s.facts[id]
	if !ok {
		return cm.NewStoreErr("Fact", cm.UnknownFact, fmt.Sprint(id))
	}
	if !fact.Deprecated {
		fact.Deprecated = true
		fact.DeprecatedAt = time.Now().UTC()
	}
	return nil
}

// LastSequence implements the Store interface.
func (s *InmemStore) LastSequence(scope Scope) int {
	s.RLock()
	defer s.RUnlock()
	return len(s.chains[scope.Key()]) - 1
}

// RangeFacts implements the Store interface.
func (s *InmemStore) RangeFacts(scope Scope, from, to int) ([]*Fact, error) {
	s.RLock()
	defer s.RUnlock()

	chain := s.chains[scope.Key()]

	if from < 0 {
		from = 0
	}
	if to >= len(chain) {
		to = len(chain) - 1
	}

	res := []*Fact{}
	for i := from; i <= to; i++ {
		res = append(res, chain[i].Copy())
	}
	return res, nil
}

// HasContent implements the Store interface.
func (s *InmemStore) HasContent(scope Scope, digest []byte) (int64, bool) {
	s.RLock()
	defer s.RUnlock()

	id, ok := s.contentIndex[contentKey(scope, digest)]
	return id, ok
}

// Scopes implements the Store interface.
func (s *InmemStore) Scopes() []Scope {
	s.RLock()
	defer s.RUnlock()

	keys := make([]string, 0, len(s.scopes))
	for k := range s.scopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := make([]Scope, 0, len(keys))
	for _, k := range keys {
		res = append(res, s.scopes[k])
	}
	return res
}

// GetCheckpoint implements the Store interface.
func (s *InmemStore) GetCheckpoint(scope Scope, startSeq int) (*Checkpoint, error) {
	s.RLock()
	defer s.RUnlock()

	for _, cp := range s.checkpoints[scope.Key()] {
		if cp.StartSequence == startSeq {
			return cp.Copy(), nil
		}
	}
	return nil, cm.NewStoreErr("Checkpoint", cm.KeyNotFound, fmt.Sprintf("%s@%d", scope.Key(), startSeq))
}

// LastCheckpoint implements the Store interface.
func (s *InmemStore) LastCheckpoint(scope Scope) (*Checkpoint, error) {
	s.RLock()
	defer s.RUnlock()

	cps := s.checkpoints[scope.Key()]
	if len(cps) == 0 {
		return nil, cm.NewStoreErr("Checkpoint", cm.Empty, scope.Key())
	}
	return cps[len(cps)-1].Copy(), nil
}

// SetCheckpoint implements the Store interface.
func (s *InmemStore) SetCheckpoint(checkpoint *Checkpoint) error {
	s.Lock()
	defer s.Unlock()

	key := checkpoint.Scope.Key()
	cps := s.checkpoints[key]

	expectedStart := 0
	if len(cps) > 0 {
		expectedStart = cps[len(cps)-1].EndSequence + 1
	}

	if checkpoint.StartSequence < expectedStart {
		return cm.NewStoreErr("Checkpoint", cm.KeyAlreadyExists, fmt.Sprintf("%s@%d", key, checkpoint.StartSequence))
	}
	if checkpoint.StartSequence > expectedStart {
		return cm.NewStoreErr("Checkpoint", cm.SkippedIndex, fmt.Sprintf("%s@%d", key, checkpoint.StartSequence))
	}

	s.checkpoints[key] = append(cps, checkpoint.Copy())
	return nil
}

// Checkpoints implements the Store interface.
func (s *InmemStore) Checkpoints(scope Scope) ([]*Checkpoint, error) {
	s.RLock()
	defer s.RUnlock()

	cps := s.checkpoints[scope.Key()]
	res := make([]*Checkpoint, 0, len(cps))
	for _, cp := range cps {
		res = append(res, cp.Copy())
	}
	return res, nil
}

// GetVote implements the Store interface.
func (s *InmemStore) GetVote(factID int64, agentID string) (*Vote, error) {
	s.RLock()
	defer s.RUnlock()

	vote, ok := s.votes[factID][agentID]
	if !ok {
		return nil, cm.NewStoreErr("Vote", cm.KeyNotFound, strconv.FormatInt(factID, 10)+"-"+agentID)
	}
	return vote.Copy(), nil
}

// FactVotes implements the Store interface.
func (s *InmemStore) FactVotes(factID int64) ([]*Vote, error) {
	s.RLock()
	defer s.RUnlock()

	factVotes := s.votes[factID]

	agentIDs := make([]string, 0, len(factVotes))
	for id := range factVotes {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	res := make([]*Vote, 0, len(agentIDs))
	for _, id := range agentIDs {
		res = append(res, factVotes[id].Copy())
	}
	return res, nil
}

// GetAgent implements the Store interface.
func (s *InmemStore) GetAgent(id string) (*Agent, error) {
	s.RLock()
	defer s.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, cm.NewStoreErr("Agent", cm.UnknownAgent, id)
	}
	return agent.Copy(), nil
}

// SetAgent implements the Store interface.
func (s *InmemStore) SetAgent(agent *Agent) error {
	s.Lock()
	defer s.Unlock()

	s.agents[agent.ID] = agent.Copy()
	return nil
}

// Agents implements the Store interface.
func (s *InmemStore) Agents() ([]*Agent, error) {
	s.RLock()
	defer s.RUnlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	res := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		res = append(res, s.agents[id].Copy())
	}
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

func contentKey(scope Scope, digest []byte) string {
	return fmt.Sprintf("%s_%X", scope.Key(), digest)
}
