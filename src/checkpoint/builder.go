package checkpoint

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	cm "github.com/attestnetworks/factum/src/common"
	"github.com/attestnetworks/factum/src/ledger"
)

// pollInterval is how often the background loop inspects scopes for the size
// trigger. The time trigger is evaluated on the same tick against each scope's
// last seal time.
const pollInterval = time.Second

// Builder seals checkpoints over contiguous ranges of facts. A checkpoint is
// cut when a scope accumulates `size` unsealed facts, or when `interval` has
// elapsed since the scope's last seal and at least one fact is pending.
//
// Sealing is idempotent per range: concurrent Seal calls on the same scope
// serialize on a per-scope mutex and the second caller gets the checkpoint the
// first one cut.
type Builder struct {
	store ledger.Store

	size     int
	interval time.Duration

	sealLocksLock sync.Mutex
	sealLocks     map[string]*sync.Mutex

	lastSealLock sync.Mutex
	lastSeal     map[string]time.Time

	shutdownCh chan struct{}
	shutdownWG sync.WaitGroup

	logger *logrus.Entry
}

// NewBuilder creates a Builder.
func NewBuilder(store ledger.Store, size int, interval time.Duration, logger *logrus.Entry) *Builder {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Builder{
		store:      store,
		size:       size,
		interval:   interval,
		sealLocks:  make(map[string]*sync.Mutex),
		lastSeal:   make(map[string]time.Time),
		shutdownCh: make(chan struct{}),
		logger:     logger.WithField("prefix", "checkpoint"),
	}
}

// Run starts the background sealing loop. It returns immediately; call
// Shutdown to stop the loop.
func (b *Builder) Run() {
	b.shutdownWG.Add(1)
	go func() {
		defer b.shutdownWG.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweep()
			case <-b.shutdownCh:
				return
			}
		}
	}()
}

// Shutdown stops the background loop and waits for it to exit.
func (b *Builder) Shutdown() {
	close(b.shutdownCh)
	b.shutdownWG.Wait()
}

func (b *Builder) sweep() {
	for _, scope := range b.store.Scopes() {
		pending, start, err := b.pending(scope)
		if err != nil {
			b.logger.WithField("scope", scope.Key()).WithError(err).Error("Checkpoint sweep")
			continue
		}
		if pending <= 0 {
			continue
		}

		if pending >= b.size || b.intervalElapsed(scope) {
			if _, err := b.Seal(scope); err != nil && !cm.IsTransient(err) {
				b.logger.WithFields(logrus.Fields{
					"scope": scope.Key(),
					"start": start,
				}).WithError(err).Error("Seal checkpoint")
			}
		}
	}
}

func (b *Builder) intervalElapsed(scope ledger.Scope) bool {
	b.lastSealLock.Lock()
	defer b.lastSealLock.Unlock()

	last, ok := b.lastSeal[scope.Key()]
	if !ok {
		// first sighting of the scope starts the clock rather than sealing
		// a single fact immediately
		b.lastSeal[scope.Key()] = time.Now()
		return false
	}
	return time.Since(last) >= b.interval
}

// pending returns the number of unsealed facts in a scope and the sequence the
// next checkpoint would start at.
func (b *Builder) pending(scope ledger.Scope) (int, int, error) {
	start := 0
	last, err := b.store.LastCheckpoint(scope)
	if err == nil {
		start = last.EndSequence + 1
	} else if !cm.IsStore(err, cm.Empty) {
		return 0, 0, err
	}

	return b.store.LastSequence(scope) - start + 1, start, nil
}

func (b *Builder) sealLock(scope ledger.Scope) *sync.Mutex {
	b.sealLocksLock.Lock()
	defer b.sealLocksLock.Unlock()

	lock, ok := b.sealLocks[scope.Key()]
	if !ok {
		lock = &sync.Mutex{}
		b.sealLocks[scope.Key()] = lock
	}
	return lock
}

// Seal cuts a checkpoint over all of the scope's facts that are not yet
// covered by one. When there is nothing to seal it returns the scope's last
// checkpoint, making back-to-back seals idempotent. A range that cannot be
// read back contiguously fails with IncompleteRange; callers may retry.
func (b *Builder) Seal(scope ledger.Scope) (*ledger.Checkpoint, error) {
	lock := b.sealLock(scope)
	lock.Lock()
	defer lock.Unlock()

	start := 0
	last, err := b.store.LastCheckpoint(scope)
	if err == nil {
		start = last.EndSequence + 1
	} else if !cm.IsStore(err, cm.Empty) {
		return nil, err
	}

	end := b.store.LastSequence(scope)
	if end < start {
		if last != nil {
			return last, nil
		}
		return nil, cm.NewStoreErr("Checkpoint", cm.Empty, scope.Key())
	}

	facts, err := b.store.RangeFacts(scope, start, end)
	if err != nil {
		return nil, err
	}
	if len(facts) != end-start+1 {
		return nil, cm.NewStoreErr("Checkpoint", cm.IncompleteRange, fmt.Sprintf("%s[%d,%d]", scope.Key(), start, end))
	}

	leaves := make([][]byte, len(facts))
	for i, fact := range facts {
		if fact.Sequence != start+i {
			return nil, cm.NewStoreErr("Checkpoint", cm.IncompleteRange, fmt.Sprintf("%s@%d", scope.Key(), start+i))
		}
		leaves[i] = fact.Hash
	}

	root, err := MerkleRoot(leaves)
	if err != nil {
		return nil, err
	}

	checkpoint := &ledger.Checkpoint{
		Scope:         scope,
		StartSequence: start,
		EndSequence:   end,
		MerkleRoot:    root,
		SealedAt:      time.Now().UTC(),
	}

	if err := b.store.SetCheckpoint(checkpoint); err != nil {
		return nil, err
	}

	b.lastSealLock.Lock()
	b.lastSeal[scope.Key()] = time.Now()
	b.lastSealLock.Unlock()

	b.logger.WithFields(logrus.Fields{
		"scope": scope.Key(),
		"start": start,
		"end":   end,
		"root":  checkpoint.RootHex(),
	}).Debug("Sealed checkpoint")

	return checkpoint, nil
}

// Prove builds a Merkle inclusion proof for a fact against the checkpoint that
// covers it. Facts not yet covered by a checkpoint cannot be proven.
func (b *Builder) Prove(factID int64) (*Proof, error) {
	fact, err := b.store.GetFact(factID)
	if err != nil {
		return nil, err
	}

	covering, err := b.coveringCheckpoint(fact.Scope, fact.Sequence)
	if err != nil {
		return nil, err
	}

	facts, err := b.store.RangeFacts(fact.Scope, covering.StartSequence, covering.EndSequence)
	if err != nil {
		return nil, err
	}

	leaves := make([][]byte, len(facts))
	for i, f := range facts {
		leaves[i] = f.Hash
	}

	proof, err := BuildProof(leaves, fact.Sequence-covering.StartSequence)
	if err != nil {
		return nil, err
	}

	// a root mismatch means the stored facts no longer match what was sealed
	if !bytes.Equal(proof.Root, covering.MerkleRoot) {
		return nil, cm.NewStoreErr("Checkpoint", cm.ChainIntegrityViolation, fmt.Sprintf("%s@%d", fact.Scope.Key(), covering.StartSequence))
	}

	return proof, nil
}

func (b *Builder) coveringCheckpoint(scope ledger.Scope, seq int) (*ledger.Checkpoint, error) {
	checkpoints, err := b.store.Checkpoints(scope)
	if err != nil {
		return nil, err
	}
	for _, cp := range checkpoints {
		if cp.Covers(seq) {
			return cp, nil
		}
	}
	return nil, cm.NewStoreErr("Checkpoint", cm.KeyNotFound, fmt.Sprintf("%s@%d", scope.Key(), seq))
}
