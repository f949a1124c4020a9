package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/attestnetworks/factum/src/checkpoint"
	"github.com/attestnetworks/factum/src/consensus"
	"github.com/attestnetworks/factum/src/ledger"
	"github.com/attestnetworks/factum/src/verify"
)

// Node is the engine surface the HTTP API exposes.
type Node interface {
	Append(scope ledger.Scope, content []byte, author string) (*ledger.Fact, error)
	Vote(factID int64, agentID string, approve bool, signature string) (*ledger.Fact, error)
	Status(factID int64) (*consensus.Tally, error)
	GetFact(factID int64) (*ledger.Fact, error)
	ReadRange(scope ledger.Scope, from, to int) ([]*ledger.Fact, error)
	Deprecate(factID int64) error
	Seal(scope ledger.Scope) (*ledger.Checkpoint, error)
	Checkpoints(scope ledger.Scope) ([]*ledger.Checkpoint, error)
	Prove(factID int64) (*checkpoint.Proof, error)
	Verify(scope ledger.Scope) (*verify.Report, error)
	VerifyFact(factID int64) (bool, error)
	RegisterAgent(id string, pubKeyHex string) (*ledger.Agent, error)
	Agents() ([]*ledger.Agent, error)
	Stats() map[string]string
}

// Service exposes the ledger over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        Node
	logger      *logrus.Entry
}

// NewService creates a Service and registers its handlers.
func NewService(bindAddress string, node Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        node,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of the
// http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when Factum is used
// in-memory and expected to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Factum API handlers")
	http.HandleFunc("/append", s.makeHandler(s.Append))
	http.HandleFunc("/vote", s.makeHandler(s.Vote))
	http.HandleFunc("/fact/", s.makeHandler(s.GetFact))
	http.HandleFunc("/status/", s.makeHandler(s.GetStatus))
	http.HandleFunc("/range", s.makeHandler(s.GetRange))
	http.HandleFunc("/deprecate/", s.makeHandler(s.Deprecate))
	http.HandleFunc("/checkpoint", s.makeHandler(s.Checkpoint))
	http.HandleFunc("/checkpoints", s.makeHandler(s.GetCheckpoints))
	http.HandleFunc("/proof/", s.makeHandler(s.GetProof))
	http.HandleFunc("/verify", s.makeHandler(s.Verify))
	http.HandleFunc("/verifyfact/", s.makeHandler(s.VerifyFact))
	http.HandleFunc("/agents", s.makeHandler(s.Agents))
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when Factum is used in-memory and another server has already been
// started with the DefaultServerMux and the same address:port combination.
// Indeed, Factum API handlers have already been registered when the service
// was instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Factum API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// AppendRequest is the payload of the append endpoint.
type AppendRequest struct {
	TenantID string `json:"tenant_id"`
	Project  string `json:"project"`
	Content  string `json:"content"`
	Author   string `json:"author"`
}

// Append writes a new fact.
func (s *Service) Append(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := AppendRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.WithError(err).Error("Decoding append request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fact, err := s.node.Append(ledger.NewScope(req.TenantID, req.Project), []byte(req.Content), req.Author)
	if err != nil {
		s.logger.WithError(err).Error("Appending fact")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, fact)
}

// VoteRequest is the payload of the vote endpoint.
type VoteRequest struct {
	FactID    int64  `json:"fact_id"`
	AgentID   string `json:"agent_id"`
	Approve   bool   `json:"approve"`
	Signature string `json:"signature"`
}

// Vote records an agent's attestation.
func (s *Service) Vote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := VoteRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.WithError(err).Error("Decoding vote request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fact, err := s.node.Vote(req.FactID, req.AgentID, req.Approve, req.Signature)
	if err != nil {
		s.logger.WithError(err).Error("Applying vote")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, fact)
}

// GetFact returns a fact by ID.
func (s *Service) GetFact(w http.ResponseWriter, r *http.Request) {
	factID, ok := s.pathID(w, r, "/fact/")
	if !ok {
		return
	}

	fact, err := s.node.GetFact(factID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving fact %d", factID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, fact)
}

// GetStatus returns a fact's consensus snapshot.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	factID, ok := s.pathID(w, r, "/status/")
	if !ok {
		return
	}

	tally, err := s.node.Status(factID)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving status of fact %d", factID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, tally)
}

// GetRange returns a scope's facts between the from and to sequences.
func (s *Service) GetRange(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.queryScope(w, r)
	if !ok {
		return
	}

	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, fmt.Sprintf("parsing from parameter: %v", err), http.StatusBadRequest)
		return
	}
	to, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, fmt.Sprintf("parsing to parameter: %v", err), http.StatusBadRequest)
		return
	}

	facts, err := s.node.ReadRange(scope, from, to)
	if err != nil {
		s.logger.WithError(err).Errorf("Reading range [%d, %d]", from, to)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, facts)
}

// Deprecate flags a fact as superseded.
func (s *Service) Deprecate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	factID, ok := s.pathID(w, r, "/deprecate/")
	if !ok {
		return
	}

	if err := s.node.Deprecate(factID); err != nil {
		s.logger.WithError(err).Errorf("Deprecating fact %d", factID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fact, err := s.node.GetFact(factID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, fact)
}

// Checkpoint seals a checkpoint over a scope's unsealed facts.
func (s *Service) Checkpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scope, ok := s.queryScope(w, r)
	if !ok {
		return
	}

	cp, err := s.node.Seal(scope)
	if err != nil {
		s.logger.WithError(err).Errorf("Sealing checkpoint on %s", scope.Key())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, cp)
}

// GetCheckpoints returns a scope's checkpoints.
func (s *Service) GetCheckpoints(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.queryScope(w, r)
	if !ok {
		return
	}

	checkpoints, err := s.node.Checkpoints(scope)
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving checkpoints of %s", scope.Key())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, checkpoints)
}

// GetProof returns a fact's Merkle inclusion proof.
func (s *Service) GetProof(w http.ResponseWriter, r *http.Request) {
	factID, ok := s.pathID(w, r, "/proof/")
	if !ok {
		return
	}

	proof, err := s.node.Prove(factID)
	if err != nil {
		s.logger.WithError(err).Errorf("Proving fact %d", factID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, proof)
}

// Verify audits a scope and returns the report.
func (s *Service) Verify(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.queryScope(w, r)
	if !ok {
		return
	}

	report, err := s.node.Verify(scope)
	if err != nil {
		s.logger.WithError(err).Errorf("Verifying %s", scope.Key())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, report)
}

// VerifyFact checks a single fact.
func (s *Service) VerifyFact(w http.ResponseWriter, r *http.Request) {
	factID, ok := s.pathID(w, r, "/verifyfact/")
	if !ok {
		return
	}

	valid, err := s.node.VerifyFact(factID)
	if err != nil {
		s.logger.WithError(err).Errorf("Verifying fact %d", factID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, map[string]bool{"valid": valid})
}

// AgentRequest is the payload of the agent registration endpoint.
type AgentRequest struct {
	ID     string `json:"id"`
	PubKey string `json:"pub_key"`
}

// Agents registers an agent on POST and lists agents on GET.
func (s *Service) Agents(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		req := AgentRequest{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.logger.WithError(err).Error("Decoding agent request")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		agent, err := s.node.RegisterAgent(req.ID, req.PubKey)
		if err != nil {
			s.logger.WithError(err).Errorf("Registering agent %s", req.ID)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		returnJSON(w, agent)
		return
	}

	agents, err := s.node.Agents()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving agents")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	returnJSON(w, agents)
}

// GetStats returns operational counters.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	returnJSON(w, s.node.Stats())
}

func (s *Service) pathID(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	param := r.URL.Path[len(prefix):]

	factID, err := strconv.ParseInt(param, 10, 64)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing fact_id parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}

	return factID, true
}

func (s *Service) queryScope(w http.ResponseWriter, r *http.Request) (ledger.Scope, bool) {
	scope := ledger.NewScope(r.URL.Query().Get("tenant_id"), r.URL.Query().Get("project"))
	if scope.TenantID == "" || scope.Project == "" {
		http.Error(w, "tenant_id and project parameters are required", http.StatusBadRequest)
		return scope, false
	}
	return scope, true
}

func returnJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
