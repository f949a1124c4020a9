package reputation

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	cm "github.com/attestnetworks/factum/src/common"
	"github.com/attestnetworks/factum/src/crypto/keys"
	"github.com/attestnetworks/factum/src/ledger"
)

// Registry manages agent identities and their reputation weights. Weights
// move by exponential smoothing: an agent that voted with the eventual
// consensus is pulled toward 1.0, an agent that voted against it is pulled
// toward the floor. The floor keeps every agent's vote worth something, so a
// long losing streak cannot silence an agent entirely, and the (0, 1] clamp
// keeps any single agent from accumulating unbounded influence.
type Registry struct {
	store ledger.Store

	floor   float64
	initial float64
	alpha   float64

	locksLock sync.Mutex
	locks     map[string]*sync.Mutex

	logger *logrus.Entry
}

// NewRegistry creates a Registry.
func NewRegistry(store ledger.Store, floor, initial, alpha float64, logger *logrus.Entry) (*Registry, error) {
	if floor <= 0 || floor > 1 {
		return nil, fmt.Errorf("reputation floor %f outside (0, 1]", floor)
	}
	if initial < floor || initial > 1 {
		return nil, fmt.Errorf("initial reputation %f outside [%f, 1]", initial, floor)
	}
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("smoothing factor %f outside (0, 1]", alpha)
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Registry{
		store:   store,
		floor:   floor,
		initial: initial,
		alpha:   alpha,
		locks:   make(map[string]*sync.Mutex),
		logger:  logger.WithField("prefix", "reputation"),
	}, nil
}

func (r *Registry) agentLock(id string) *sync.Mutex {
	r.locksLock.Lock()
	defer r.locksLock.Unlock()

	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

// Register creates an agent with the initial weight. The public key is
// optional; when provided, it must parse as a point on the curve and the
// agent's votes must carry a valid signature.
func (r *Registry) Register(id string, pubKeyHex string) (*ledger.Agent, error) {
	if id == "" {
		return nil, fmt.Errorf("empty agent ID")
	}

	if pubKeyHex != "" {
		if _, err := keys.ParsePublicKeyHex(pubKeyHex); err != nil {
			return nil, err
		}
	}

	lock := r.agentLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.store.GetAgent(id); err == nil {
		return nil, cm.NewStoreErr("Agent", cm.KeyAlreadyExists, id)
	}

	agent := &ledger.Agent{
		ID:               id,
		PubKeyHex:        pubKeyHex,
		ReputationWeight: r.initial,
		CreatedAt:        time.Now().UTC(),
	}

	if err := r.store.SetAgent(agent); err != nil {
		return nil, err
	}

	r.logger.WithField("agent", id).Debug("Registered agent")

	return agent, nil
}

// Get returns an agent by ID.
func (r *Registry) Get(id string) (*ledger.Agent, error) {
	return r.store.GetAgent(id)
}

// Agents returns all registered agents.
func (r *Registry) Agents() ([]*ledger.Agent, error) {
	return r.store.Agents()
}

// Adjust moves an agent's weight after a fact it voted on reached a terminal
// status. aligned is true when the agent's vote matched the outcome. It
// returns the new weight.
func (r *Registry) Adjust(id string, aligned bool) (float64, error) {
	lock := r.agentLock(id)
	lock.Lock()
	defer lock.Unlock()

	agent, err := r.store.GetAgent(id)
	if err != nil {
		return 0, err
	}

	target := r.floor
	if aligned {
		target = 1.0
	}

	weight := agent.ReputationWeight + r.alpha*(target-agent.ReputationWeight)
	if weight < r.floor {
		weight = r.floor
	}
	if weight > 1.0 {
		weight = 1.0
	}

	agent.ReputationWeight = weight
	agent.VotesCast++
	if aligned {
		agent.VotesAligned++
	}

	if err := r.store.SetAgent(agent); err != nil {
		return 0, err
	}

	r.logger.WithFields(logrus.Fields{
		"agent":   id,
		"aligned": aligned,
		"weight":  weight,
	}).Debug("Adjusted reputation")

	return weight, nil
}

// Floor returns the configured minimum weight.
func (r *Registry) Floor() float64 {
	return r.floor
}
