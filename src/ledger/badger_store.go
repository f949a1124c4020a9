package ledger

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger"

	cm "github.com/attestnetworks/factum/src/common"
)

const (
	factPrefix       = "f"
	sequencePrefix   = "s"
	contentPrefix    = "c"
	checkpointPrefix = "k"
	votePrefix       = "v"
	agentPrefix      = "a"
	scopePrefix      = "scope"
	metaLastFactKey  = "meta_lastfact"
)

func factKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s_%016x", factPrefix, uint64(id)))
}

// framedScope renders a scope for embedding in database keys. The fixed-width
// length prefix keeps prefix scans from matching a scope whose key merely
// extends this one's, like t/p and t/p_eu.
func framedScope(scope Scope) string {
	key := scope.Key()
	return fmt.Sprintf("%04x:%s", len(key), key)
}

func sequenceKey(scope Scope, seq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", sequencePrefix, framedScope(scope), seq))
}

func contentIndexKey(scope Scope, digest []byte) []byte {
	return []byte(fmt.Sprintf("%s_%s_%X", contentPrefix, framedScope(scope), digest))
}

func checkpointKey(scope Scope, startSeq int) []byte {
	return []byte(fmt.Sprintf("%s_%s_%09d", checkpointPrefix, framedScope(scope), startSeq))
}

func voteKey(factID int64, agentID string) []byte {
	return []byte(fmt.Sprintf("%s_%016x_%s", votePrefix, uint64(factID), agentID))
}

func agentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", agentPrefix, id))
}

func scopeKey(scope Scope) []byte {
	return []byte(fmt.Sprintf("%s_%s", scopePrefix, framedScope(scope)))
}

func metaLastSeqKey(scope Scope) []byte {
	return []byte(fmt.Sprintf("meta_lastseq_%s", framedScope(scope)))
}

func int64Bytes(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func bytesInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// BadgerStore is a durable implementation of the Store interface. Every write
// goes to disk in a single Badger transaction, so the atomicity guarantees of
// the interface fall out of Badger's transaction semantics. A bounded rolling
// cache keyed by scope serves hot sequence reads; anything evicted from the
// window is read back from disk.
type BadgerStore struct {
	db   *badger.DB
	path string

	cacheSize int
	seqCache  *cm.RollingIndexMap

	sync.RWMutex
	lastFactID int64
	lastSeq    map[string]int
	scopes     map[string]Scope
}

// NewBadgerStore opens a BadgerStore on a new database directory.
func NewBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		db:         db,
		path:       path,
		cacheSize:  cacheSize,
		seqCache:   cm.NewRollingIndexMap("FactSequence", cacheSize),
		lastFactID: -1,
		lastSeq:    make(map[string]int),
		scopes:     make(map[string]Scope),
	}

	return store, nil
}

// LoadBadgerStore opens a BadgerStore from an existing database directory and
// reloads the counters and scope index it needs to resume appending.
func LoadBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	store, err := NewBadgerStore(cacheSize, path)
	if err != nil {
		return nil, err
	}

	if err := store.loadMeta(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore loads a BadgerStore if the directory exists and
// creates a new one otherwise.
func LoadOrCreateBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(cacheSize, path)
	if err == nil {
		return store, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return NewBadgerStore(cacheSize, path)
}

func (s *BadgerStore) loadMeta() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaLastFactKey))
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			s.lastFactID = bytesInt64(val)
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(scopePrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			scope := Scope{}
			if err := unmarshalCanonical(val, &scope); err != nil {
				return err
			}
			s.scopes[scope.Key()] = scope

			seqItem, err := txn.Get(metaLastSeqKey(scope))
			if err != nil {
				return err
			}
			seqVal, err := seqItem.ValueCopy(nil)
			if err != nil {
				return err
			}
			s.lastSeq[scope.Key()] = int(bytesInt64(seqVal))
		}

		return nil
	})
}

// NeedBootstrap reports whether the database contains at least one fact.
func (s *BadgerStore) NeedBootstrap() bool {
	s.RLock()
	defer s.RUnlock()
	return s.lastFactID >= 0
}

// CacheSize implements the Store interface.
func (s *BadgerStore) CacheSize() int {
	return s.cacheSize
}

// LastFactID implements the Store interface.
func (s *BadgerStore) LastFactID() int64 {
	s.RLock()
	defer s.RUnlock()
	return s.lastFactID
}

// GetFact implements the Store interface.
func (s *BadgerStore) GetFact(id int64) (*Fact, error) {
	fact := &Fact{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(factKey(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return fact.Unmarshal(val)
	})
	if err != nil {
		return nil, mapBadgerErr(err, "Fact", cm.UnknownFact, fmt.Sprint(id))
	}
	return fact, nil
}

// GetFactBySequence implements the Store interface. It serves from the rolling
// cache when the sequence is still inside the window and falls back to disk.
func (s *BadgerStore) GetFactBySequence(scope Scope, seq int) (*Fact, error) {
	s.RLock()
	cached, err := s.seqCache.GetItem(scope.ID(), seq)
	s.RUnlock()

	if err == nil {
		return cached.(*Fact).Copy(), nil
	}

	return s.dbGetFactBySequence(scope, seq)
}

func (s *BadgerStore) dbGetFactBySequence(scope Scope, seq int) (*Fact, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sequenceKey(scope, seq))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = bytesInt64(val)
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err, "Fact", cm.KeyNotFound, fmt.Sprintf("%s@%d", scope.Key(), seq))
	}
	return s.GetFact(id)
}

// SetFact implements the Store interface. The fact row, the sequence index,
// the content index, and the counters commit in one transaction.
func (s *BadgerStore) SetFact(fact *Fact) error {
	s.Lock()
	defer s.Unlock()

	key := fact.Scope.Key()

	last, ok := s.lastSeq[key]
	if !ok {
		last = -1
	}

	if fact.Sequence <= last {
		return cm.NewStoreErr("Fact", cm.KeyAlreadyExists, fmt.Sprintf("%s@%d", key, fact.Sequence))
	}
	if fact.Sequence > last+1 {
		return cm.NewStoreErr("Fact", cm.SkippedIndex, fmt.Sprintf("%s@%d", key, fact.Sequence))
	}
	if fact.ID <= s.lastFactID {
		return cm.NewStoreErr("Fact", cm.KeyAlreadyExists, fmt.Sprint(fact.ID))
	}

	factBytes, err := fact.Marshal()
	if err != nil {
		return err
	}

	scopeBytes, err := marshalCanonical(fact.Scope)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(factKey(fact.ID), factBytes); err != nil {
			return err
		}
		if err := txn.Set(sequenceKey(fact.Scope, fact.Sequence), int64Bytes(fact.ID)); err != nil {
			return err
		}
		digest := ContentDigest(fact.Scope, fact.Content)
		if err := txn.Set(contentIndexKey(fact.Scope, digest), int64Bytes(fact.ID)); err != nil {
			return err
		}
		if err := txn.Set(scopeKey(fact.Scope), scopeBytes); err != nil {
			return err
		}
		if err := txn.Set(metaLastSeqKey(fact.Scope), int64Bytes(int64(fact.Sequence))); err != nil {
			return err
		}
		return txn.Set([]byte(metaLastFactKey), int64Bytes(fact.ID))
	})
	if err != nil {
		return err
	}

	s.lastSeq[key] = fact.Sequence
	s.scopes[key] = fact.Scope
	s.lastFactID = fact.ID
	s.seqCache.Set(fact.Scope.ID(), fact.Copy(), fact.Sequence)

	return nil
}

// ApplyVote implements the Store interface.
func (s *BadgerStore) ApplyVote(fact *Fact, vote *Vote) error {
	s.Lock()
	defer s.Unlock()

	stored, err := s.GetFact(fact.ID)
	if err != nil {
		return err
	}

	stored.Status = fact.Status
	stored.ConsensusScore = fact.ConsensusScore
	stored.ReputationApplied = fact.ReputationApplied

	factBytes, err := stored.Marshal()
	if err != nil {
		return err
	}
	voteBytes, err := vote.Marshal()
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(voteKey(vote.FactID, vote.AgentID), voteBytes); err != nil {
			return err
		}
		return txn.Set(factKey(stored.ID), factBytes)
	})
	if err != nil {
		return err
	}

	s.seqCache.Set(stored.Scope.ID(), stored.Copy(), stored.Sequence)

	return nil
}

// DeprecateFact implements the Store interface.
func (s *BadgerStore) DeprecateFact(id int64) error {
	s.Lock()
	defer s.Unlock()

	fact, err := s.GetFact(id)
	if err != nil {
		return err
	}

	if fact.Deprecated {
		return nil
	}

	fact.Deprecated = true
	fact.DeprecatedAt = time.Now().UTC()

	factBytes, err := fact.Marshal()
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(factKey(fact.ID), factBytes)
	})
	if err != nil {
		return err
	}

	s.seqCache.Set(fact.Scope.ID(), fact.Copy(), fact.Sequence)

	return nil
}

// LastSequence implements the Store interface.
func (s *BadgerStore) LastSequence(scope Scope) int {
	s.RLock()
	defer s.RUnlock()

	last, ok := s.lastSeq[scope.Key()]
	if !ok {
		return -1
	}
	return last
}

// RangeFacts implements the Store interface.
func (s *BadgerStore) RangeFacts(scope Scope, from, to int) ([]*Fact, error) {
	last := s.LastSequence(scope)

	if from < 0 {
		from = 0
	}
	if to > last {
		to = last
	}

	res := []*Fact{}
	for i := from; i <= to; i++ {
		fact, err := s.GetFactBySequence(scope, i)
		if err != nil {
			return nil, err
		}
		res = append(res, fact)
	}
	return res, nil
}

// HasContent implements the Store interface.
func (s *BadgerStore) HasContent(scope Scope, digest []byte) (int64, bool) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentIndexKey(scope, digest))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = bytesInt64(val)
		return nil
	})
	if err != nil {
		return 0, false
	}
	return id, true
}

// Scopes implements the Store interface.
func (s *BadgerStore) Scopes() []Scope {
	s.RLock()
	defer s.RUnlock()

	res := make([]Scope, 0, len(s.scopes))
	for _, scope := range s.scopes {
		res = append(res, scope)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key() < res[j].Key() })
	return res
}

// GetCheckpoint implements the Store interface.
func (s *BadgerStore) GetCheckpoint(scope Scope, startSeq int) (*Checkpoint, error) {
	checkpoint := &Checkpoint{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(scope, startSeq))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return checkpoint.Unmarshal(val)
	})
	if err != nil {
		return nil, mapBadgerErr(err, "Checkpoint", cm.KeyNotFound, fmt.Sprintf("%s@%d", scope.Key(), startSeq))
	}
	return checkpoint, nil
}

// LastCheckpoint implements the Store interface.
func (s *BadgerStore) LastCheckpoint(scope Scope) (*Checkpoint, error) {
	checkpoints, err := s.Checkpoints(scope)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, cm.NewStoreErr("Checkpoint", cm.Empty, scope.Key())
	}
	return checkpoints[len(checkpoints)-1], nil
}

// SetCheckpoint implements the Store interface.
func (s *BadgerStore) SetCheckpoint(checkpoint *Checkpoint) error {
	s.Lock()
	defer s.Unlock()

	expectedStart := 0
	last, err := s.LastCheckpoint(checkpoint.Scope)
	if err == nil {
		expectedStart = last.EndSequence + 1
	} else if !cm.IsStore(err, cm.Empty) {
		return err
	}

	key := checkpoint.Scope.Key()
	if checkpoint.StartSequence < expectedStart {
		return cm.NewStoreErr("Checkpoint", cm.KeyAlreadyExists, fmt.Sprintf("%s@%d", key, checkpoint.StartSequence))
	}
	if checkpoint.StartSequence > expectedStart {
		return cm.NewStoreErr("Checkpoint", cm.SkippedIndex, fmt.Sprintf("%s@%d", key, checkpoint.StartSequence))
	}

	cpBytes, err := checkpoint.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(checkpoint.Scope, checkpoint.StartSequence), cpBytes)
	})
}

// Checkpoints implements the Store interface. Checkpoint keys embed the
// zero-padded start sequence, so a prefix scan returns them in order.
func (s *BadgerStore) Checkpoints(scope Scope) ([]*Checkpoint, error) {
	res := []*Checkpoint{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("%s_%s_", checkpointPrefix, framedScope(scope)))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			checkpoint := &Checkpoint{}
			if err := checkpoint.Unmarshal(val); err != nil {
				return err
			}
			res = append(res, checkpoint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetVote implements the Store interface.
func (s *BadgerStore) GetVote(factID int64, agentID string) (*Vote, error) {
	vote := &Vote{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(voteKey(factID, agentID))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return vote.Unmarshal(val)
	})
	if err != nil {
		return nil, mapBadgerErr(err, "Vote", cm.KeyNotFound, fmt.Sprintf("%d-%s", factID, agentID))
	}
	return vote, nil
}

// FactVotes implements the Store interface. Vote keys embed the agent ID, so a
// prefix scan returns them ordered by agent.
func (s *BadgerStore) FactVotes(factID int64) ([]*Vote, error) {
	res := []*Vote{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("%s_%016x_", votePrefix, uint64(factID)))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			vote := &Vote{}
			if err := vote.Unmarshal(val); err != nil {
				return err
			}
			res = append(res, vote)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetAgent implements the Store interface.
func (s *BadgerStore) GetAgent(id string) (*Agent, error) {
	agent := &Agent{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(agentKey(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return agent.Unmarshal(val)
	})
	if err != nil {
		return nil, mapBadgerErr(err, "Agent", cm.UnknownAgent, id)
	}
	return agent, nil
}

// SetAgent implements the Store interface.
func (s *BadgerStore) SetAgent(agent *Agent) error {
	agentBytes, err := agent.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(agentKey(agent.ID), agentBytes)
	})
}

// Agents implements the Store interface.
func (s *BadgerStore) Agents() ([]*Agent, error) {
	res := []*Agent{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(agentPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			agent := &Agent{}
			if err := agent.Unmarshal(val); err != nil {
				return err
			}
			res = append(res, agent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func mapBadgerErr(err error, dataType string, t cm.StoreErrType, key string) error {
	if err == badger.ErrKeyNotFound {
		return cm.NewStoreErr(dataType, t, key)
	}
	return err
}
