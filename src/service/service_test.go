package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/attestnetworks/factum/src/checkpoint"
	cm "github.com/attestnetworks/factum/src/common"
	"github.com/attestnetworks/factum/src/consensus"
	"github.com/attestnetworks/factum/src/ledger"
	"github.com/attestnetworks/factum/src/verify"
)

// stubNode returns canned responses so the handlers can be exercised without
// a full engine.
type stubNode struct {
	fact  *ledger.Fact
	agent *ledger.Agent
}

func (n *stubNode) Append(scope ledger.Scope, content []byte, author string) (*ledger.Fact, error) {
	return n.fact, nil
}

func (n *stubNode) Vote(factID int64, agentID string, approve bool, signature string) (*ledger.Fact, error) {
	return n.fact, nil
}

func (n *stubNode) Status(factID int64) (*consensus.Tally, error) {
	return &consensus.Tally{Fact: n.fact, QuorumMet: true}, nil
}

func (n *stubNode) GetFact(factID int64) (*ledger.Fact, error) {
	if factID != n.fact.ID {
		return nil, cm.NewStoreErr("Fact", cm.UnknownFact, "stub")
	}
	return n.fact, nil
}

func (n *stubNode) ReadRange(scope ledger.Scope, from, to int) ([]*ledger.Fact, error) {
	return []*ledger.Fact{n.fact}, nil
}

func (n *stubNode) Deprecate(factID int64) error { return nil }

func (n *stubNode) Seal(scope ledger.Scope) (*ledger.Checkpoint, error) {
	return &ledger.Checkpoint{Scope: scope}, nil
}

func (n *stubNode) Checkpoints(scope ledger.Scope) ([]*ledger.Checkpoint, error) {
	return []*ledger.Checkpoint{}, nil
}

func (n *stubNode) Prove(factID int64) (*checkpoint.Proof, error) {
	return &checkpoint.Proof{Index: 0}, nil
}

func (n *stubNode) Verify(scope ledger.Scope) (*verify.Report, error) {
	return &verify.Report{Scope: scope, Valid: true}, nil
}

func (n *stubNode) VerifyFact(factID int64) (bool, error) { return true, nil }

func (n *stubNode) RegisterAgent(id string, pubKeyHex string) (*ledger.Agent, error) {
	return n.agent, nil
}

func (n *stubNode) Agents() ([]*ledger.Agent, error) {
	return []*ledger.Agent{n.agent}, nil
}

func (n *stubNode) Stats() map[string]string {
	return map[string]string{"facts": "1"}
}

func testService(t *testing.T) (*Service, *stubNode) {
	scope := ledger.NewScope("acme", "payments")
	fact := &ledger.Fact{
		ID:      7,
		Scope:   scope,
		Content: []byte("the shipment left the warehouse"),
	}
	fact.Hash = fact.Digest()

	node := &stubNode{
		fact:  fact,
		agent: &ledger.Agent{ID: "alice", ReputationWeight: 0.5},
	}

	// handlers are called directly; the service never binds a listener
	service := Service{
		bindAddress: "127.0.0.1:0",
		node:        node,
		logger:      cm.NewTestEntry(t, "service"),
	}

	return &service, node
}

func TestServiceAppend(t *testing.T) {
	service, node := testService(t)

	body, _ := json.Marshal(AppendRequest{
		TenantID: "acme",
		Project:  "payments",
		Content:  "the shipment left the warehouse",
		Author:   "author",
	})

	req := httptest.NewRequest(http.MethodPost, "/append", bytes.NewReader(body))
	w := httptest.NewRecorder()

	service.Append(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	fact := ledger.Fact{}
	if err := json.NewDecoder(w.Body).Decode(&fact); err != nil {
		t.Fatal(err)
	}
	if fact.ID != node.fact.ID {
		t.Fatalf("fact ID: got %d, want %d", fact.ID, node.fact.ID)
	}
}

func TestServiceAppendRejectsGet(t *testing.T) {
	service, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/append", nil)
	w := httptest.NewRecorder()

	service.Append(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: got %d, want 405", w.Code)
	}
}

func TestServiceVote(t *testing.T) {
	service, _ := testService(t)

	body, _ := json.Marshal(VoteRequest{FactID: 7, AgentID: "alice", Approve: true})

	req := httptest.NewRequest(http.MethodPost, "/vote", bytes.NewReader(body))
	w := httptest.NewRecorder()

	service.Vote(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
}

func TestServiceGetFact(t *testing.T) {
	service, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/fact/7", nil)
	w := httptest.NewRecorder()

	service.GetFact(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/fact/99", nil)
	w = httptest.NewRecorder()

	service.GetFact(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unknown fact status: got %d, want 500", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/fact/notanumber", nil)
	w = httptest.NewRecorder()

	service.GetFact(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status: got %d, want 400", w.Code)
	}
}

func TestServiceVerifyRequiresScope(t *testing.T) {
	service, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	w := httptest.NewRecorder()

	service.Verify(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing scope status: got %d, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/verify?tenant_id=acme&project=payments", nil)
	w = httptest.NewRecorder()

	service.Verify(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	report := verify.Report{}
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatal("stub report should be valid")
	}
}

func TestServiceStats(t *testing.T) {
	service, _ := testService(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()

	service.GetStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	stats := map[string]string{}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats["facts"] != "1" {
		t.Fatalf("stats: %#v", stats)
	}
}
