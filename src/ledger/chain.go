package ledger

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	cm "github.com/attestnetworks/factum/src/common"
)

// Chain coordinates appends onto the per-scope hash chains held in a Store.
// Each scope has its own write lock, so writers in different scopes never
// block each other; within a scope, appends are strictly serialized, which is
// what makes the sequence numbers contiguous and the hash linkage sound.
type Chain struct {
	store Store

	// lockTimeout bounds how long a writer waits for a scope's write lock
	// before giving up with ScopeLockTimeout.
	lockTimeout time.Duration

	// dedup enables the identical-content check on append.
	dedup bool

	nextID int64

	scopeLocksLock sync.Mutex
	scopeLocks     map[string]chan struct{}

	quarantineLock sync.RWMutex
	quarantine     map[string]string

	logger *logrus.Entry
}

// NewChain creates a Chain on top of a Store. The next fact ID resumes from
// the store's counter, so IDs stay monotonic across restarts.
func NewChain(store Store, lockTimeout time.Duration, dedup bool, logger *logrus.Entry) *Chain {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Chain{
		store:       store,
		lockTimeout: lockTimeout,
		dedup:       dedup,
		nextID:      store.LastFactID(),
		scopeLocks:  make(map[string]chan struct{}),
		quarantine:  make(map[string]string),
		logger:      logger.WithField("prefix", "chain"),
	}
}

// Store returns the underlying store.
func (c *Chain) Store() Store {
	return c.store
}

func (c *Chain) scopeLock(scope Scope) chan struct{} {
	c.scopeLocksLock.Lock()
	defer c.scopeLocksLock.Unlock()

	lock, ok := c.scopeLocks[scope.Key()]
	if !ok {
		lock = make(chan struct{}, 1)
		c.scopeLocks[scope.Key()] = lock
	}
	return lock
}

func (c *Chain) acquire(scope Scope) (chan struct{}, error) {
	lock := c.scopeLock(scope)
	select {
	case lock <- struct{}{}:
		return lock, nil
	case <-time.After(c.lockTimeout):
		return nil, cm.NewStoreErr("Scope", cm.ScopeLockTimeout, scope.Key())
	}
}

// Append writes a new fact at the head of the scope's chain. It assigns the
// next sequence number, links the fact to its predecessor's hash, and computes
// the fact's own digest, all under the scope's write lock.
//
// Callers treat ScopeLockTimeout as transient and retry with backoff;
// DuplicateContent and ChainIntegrityViolation are permanent.
func (c *Chain) Append(scope Scope, content []byte, author string) (*Fact, error) {
	if scope.IsZero() {
		return nil, fmt.Errorf("empty scope")
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("empty content")
	}

	if reason, ok := c.Quarantined(scope); ok {
		return nil, cm.NewStoreErr("Scope", cm.ChainIntegrityViolation, fmt.Sprintf("%s: %s", scope.Key(), reason))
	}

	lock, err := c.acquire(scope)
	if err != nil {
		c.logger.WithField("scope", scope.Key()).Debug("Append lock timeout")
		return nil, err
	}
	defer func() { <-lock }()

	if c.dedup {
		digest := ContentDigest(scope, content)
		if id, ok := c.store.HasContent(scope, digest); ok {
			return nil, cm.NewStoreErr("Fact", cm.DuplicateContent, fmt.Sprint(id))
		}
	}

	sequence := c.store.LastSequence(scope) + 1

	prevHash := ZeroDigest()
	if sequence > 0 {
		prev, err := c.store.GetFactBySequence(scope, sequence-1)
		if err != nil {
			return nil, err
		}
		prevHash = prev.Hash
	}

	fact := &Fact{
		ID:        atomic.AddInt64(&c.nextID, 1),
		Scope:     scope,
		Sequence:  sequence,
		Content:   append([]byte(nil), content...),
		PrevHash:  prevHash,
		Author:    author,
		Status:    Pending,
		CreatedAt: time.Now().UTC(),
	}
	fact.Hash = fact.Digest()

	if err := c.store.SetFact(fact); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"scope":    scope.Key(),
		"id":       fact.ID,
		"sequence": fact.Sequence,
		"hash":     fact.Hex(),
	}).Debug("Appended fact")

	return fact, nil
}

// Get returns a fact by ID.
func (c *Chain) Get(id int64) (*Fact, error) {
	return c.store.GetFact(id)
}

// ReadRange returns the facts of a scope with from <= sequence <= to, in
// order. Bounds outside the chain are clamped.
func (c *Chain) ReadRange(scope Scope, from, to int) ([]*Fact, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range [%d, %d]", from, to)
	}
	return c.store.RangeFacts(scope, from, to)
}

// Deprecate flags a fact as superseded without touching the chain's hash
// linkage.
func (c *Chain) Deprecate(id int64) error {
	fact, err := c.store.GetFact(id)
	if err != nil {
		return err
	}

	if err := c.store.DeprecateFact(id); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"scope": fact.Scope.Key(),
		"id":    id,
	}).Debug("Deprecated fact")

	return nil
}

// Quarantine refuses further writes to a scope. It is called when an audit
// finds the scope's hash chain broken.
func (c *Chain) Quarantine(scope Scope, reason string) {
	c.quarantineLock.Lock()
	defer c.quarantineLock.Unlock()

	c.quarantine[scope.Key()] = reason

	c.logger.WithFields(logrus.Fields{
		"scope":  scope.Key(),
		"reason": reason,
	}).Error("Quarantined scope")
}

// LiftQuarantine re-enables writes to a scope after remediation.
func (c *Chain) LiftQuarantine(scope Scope) {
	c.quarantineLock.Lock()
	defer c.quarantineLock.Unlock()
	delete(c.quarantine, scope.Key())
}

// Quarantined returns the quarantine reason for a scope, if any.
func (c *Chain) Quarantined(scope Scope) (string, bool) {
	c.quarantineLock.RLock()
	defer c.quarantineLock.RUnlock()
	reason, ok := c.quarantine[scope.Key()]
	return reason, ok
}
