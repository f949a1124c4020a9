package factum

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/attestnetworks/factum/src/checkpoint"
	cm "github.com/attestnetworks/factum/src/common"
	"github.com/attestnetworks/factum/src/config"
	"github.com/attestnetworks/factum/src/consensus"
	"github.com/attestnetworks/factum/src/ledger"
	"github.com/attestnetworks/factum/src/reputation"
	"github.com/attestnetworks/factum/src/service"
	"github.com/attestnetworks/factum/src/verify"
)

// Factum is the ledger engine: it wires the store, the append path, the
// checkpoint builder, the reputation registry, the consensus engine, the
// verifier, and the HTTP service together.
type Factum struct {
	Config   *config.Config
	Store    ledger.Store
	Chain    *ledger.Chain
	Builder  *checkpoint.Builder
	Registry *reputation.Registry
	Engine   *consensus.Engine
	Verifier *verify.Verifier
	Service  *service.Service

	logger *logrus.Entry
}

// NewFactum creates a Factum engine from a config. Call Init before using it.
func NewFactum(config *config.Config) *Factum {
	return &Factum{
		Config: config,
		logger: config.Logger(),
	}
}

func (f *Factum) initStore() error {
	if !f.Config.Store {
		f.Store = ledger.NewInmemStore(f.Config.CacheSize)
		f.logger.Debug("created new in-mem store")
		return nil
	}

	f.logger.WithField("path", f.Config.DatabaseDir).Debug("Attempting to load or create database")

	var err error
	if f.Config.Bootstrap {
		f.Store, err = ledger.LoadBadgerStore(f.Config.CacheSize, f.Config.DatabaseDir)
	} else {
		f.Store, err = ledger.LoadOrCreateBadgerStore(f.Config.CacheSize, f.Config.DatabaseDir)
	}
	if err != nil {
		return err
	}

	if badgerStore, ok := f.Store.(*ledger.BadgerStore); ok && badgerStore.NeedBootstrap() {
		f.logger.Debug("loaded badger store from existing database")
	} else {
		f.logger.Debug("created new badger store from fresh database")
	}

	return nil
}

func (f *Factum) initComponents() error {
	f.Chain = ledger.NewChain(f.Store, f.Config.ScopeLockTimeout, f.Config.Dedup, f.logger)

	f.Builder = checkpoint.NewBuilder(f.Store, f.Config.CheckpointSize, f.Config.CheckpointInterval, f.logger)

	registry, err := reputation.NewRegistry(f.Store, f.Config.ReputationFloor, f.Config.InitialReputation, f.Config.ReputationAlpha, f.logger)
	if err != nil {
		return err
	}
	f.Registry = registry

	engine, err := consensus.NewEngine(f.Store, f.Registry, f.Config.Quorum, f.Config.VerifyThreshold, f.Config.RejectThreshold, f.logger)
	if err != nil {
		return err
	}
	f.Engine = engine

	f.Verifier = verify.NewVerifier(f.Store, f.logger)

	return nil
}

func (f *Factum) initService() error {
	if !f.Config.NoService {
		f.Service = service.NewService(f.Config.ServiceAddr, f, f.logger)
	}
	return nil
}

// Init initializes the engine. When bootstrapping from an existing database,
// every scope is audited before writes are accepted; broken scopes come up
// quarantined.
func (f *Factum) Init() error {
	if err := f.initStore(); err != nil {
		return err
	}

	if err := f.initComponents(); err != nil {
		return err
	}

	if f.Config.Bootstrap {
		if err := f.AuditAll(); err != nil {
			return err
		}
	}

	if err := f.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the checkpoint builder and, unless disabled, the HTTP service.
// It blocks until Shutdown.
func (f *Factum) Run() {
	f.Builder.Run()

	if f.Service != nil {
		f.Service.Serve()
	} else {
		select {}
	}
}

// Shutdown stops the background loops and closes the store.
func (f *Factum) Shutdown() {
	f.Builder.Shutdown()
	if err := f.Store.Close(); err != nil {
		f.logger.WithError(err).Error("Closing store")
	}
}

// Append writes a fact at the head of the scope's chain. Lock timeouts are
// retried with doubling backoff up to the configured attempt count; all other
// errors surface immediately.
func (f *Factum) Append(scope ledger.Scope, content []byte, author string) (*ledger.Fact, error) {
	backoff := f.Config.AppendBackoff

	var fact *ledger.Fact
	var err error
	for attempt := 0; ; attempt++ {
		fact, err = f.Chain.Append(scope, content, author)
		if err == nil || !cm.IsTransient(err) {
			return fact, err
		}
		if attempt >= f.Config.AppendRetries {
			break
		}

		f.logger.WithFields(logrus.Fields{
			"scope":   scope.Key(),
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Debug("Retrying append")

		time.Sleep(backoff)
		backoff *= 2
	}

	return nil, err
}

// Vote records an agent's attestation on a fact.
func (f *Factum) Vote(factID int64, agentID string, approve bool, signature string) (*ledger.Fact, error) {
	return f.Engine.Vote(factID, agentID, approve, signature)
}

// Status returns a fact's consensus snapshot.
func (f *Factum) Status(factID int64) (*consensus.Tally, error) {
	return f.Engine.Status(factID)
}

// GetFact returns a fact by ID.
func (f *Factum) GetFact(factID int64) (*ledger.Fact, error) {
	return f.Store.GetFact(factID)
}

// ReadRange returns a scope's facts with from <= sequence <= to.
func (f *Factum) ReadRange(scope ledger.Scope, from, to int) ([]*ledger.Fact, error) {
	return f.Chain.ReadRange(scope, from, to)
}

// Deprecate flags a fact as superseded.
func (f *Factum) Deprecate(factID int64) error {
	return f.Chain.Deprecate(factID)
}

// Seal cuts a checkpoint over the scope's unsealed facts.
func (f *Factum) Seal(scope ledger.Scope) (*ledger.Checkpoint, error) {
	return f.Builder.Seal(scope)
}

// Checkpoints returns a scope's sealed checkpoints.
func (f *Factum) Checkpoints(scope ledger.Scope) ([]*ledger.Checkpoint, error) {
	return f.Store.Checkpoints(scope)
}

// Prove builds a Merkle inclusion proof for a fact.
func (f *Factum) Prove(factID int64) (*checkpoint.Proof, error) {
	return f.Builder.Prove(factID)
}

// Verify audits a scope's chain and checkpoints. A failed audit quarantines
// the scope: appends are refused until the quarantine is lifted.
func (f *Factum) Verify(scope ledger.Scope) (*verify.Report, error) {
	report, err := f.Verifier.VerifyScope(scope)
	if err != nil {
		return nil, err
	}

	if !report.Valid {
		f.Chain.Quarantine(scope, report.Reason)
	}

	return report, nil
}

// VerifyFact checks a single fact's digest and predecessor link.
func (f *Factum) VerifyFact(factID int64) (bool, error) {
	return f.Verifier.VerifyFact(factID)
}

// AuditAll verifies every scope in the store.
func (f *Factum) AuditAll() error {
	for _, scope := range f.Store.Scopes() {
		report, err := f.Verify(scope)
		if err != nil {
			return err
		}
		if !report.Valid {
			f.logger.WithFields(logrus.Fields{
				"scope":  scope.Key(),
				"reason": report.Reason,
			}).Error("Audit failed; scope quarantined")
		}
	}
	return nil
}

// RegisterAgent creates a voting agent.
func (f *Factum) RegisterAgent(id string, pubKeyHex string) (*ledger.Agent, error) {
	return f.Registry.Register(id, pubKeyHex)
}

// Agents returns all registered agents.
func (f *Factum) Agents() ([]*ledger.Agent, error) {
	return f.Registry.Agents()
}

// Stats returns operational counters for the stats endpoint.
func (f *Factum) Stats() map[string]string {
	scopes := f.Store.Scopes()

	facts := int64(0)
	if last := f.Store.LastFactID(); last >= 0 {
		facts = last + 1
	}

	agents, err := f.Store.Agents()
	if err != nil {
		agents = nil
	}

	return map[string]string{
		"scopes":       fmt.Sprint(len(scopes)),
		"facts":        fmt.Sprint(facts),
		"agents":       fmt.Sprint(len(agents)),
		"quorum":       fmt.Sprint(f.Engine.Quorum()),
		"moniker":      f.Config.Moniker,
		"store_type":   storeType(f.Config.Store),
		"service_addr": f.Config.ServiceAddr,
	}
}

func storeType(persistent bool) string {
	if persistent {
		return "badger"
	}
	return "inmem"
}
