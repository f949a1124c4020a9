package factum

import (
	"bytes"
	"testing"

	cm "github.com/attestnetworks/factum/src/common"
	"github.com/attestnetworks/factum/src/config"
	"github.com/attestnetworks/factum/src/ledger"
)

func testEngine(t *testing.T) *Factum {
	conf := config.NewTestConfig(t)
	conf.NoService = true

	engine := NewFactum(conf)
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	return engine
}

func TestFactumLifecycle(t *testing.T) {
	engine := testEngine(t)
	scope := ledger.NewScope("acme", "payments")

	// agents
	if _, err := engine.RegisterAgent("alice", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RegisterAgent("bob", ""); err != nil {
		t.Fatal(err)
	}

	// append
	fact, err := engine.Append(scope, []byte("the shipment left the warehouse"), "author")
	if err != nil {
		t.Fatal(err)
	}
	if fact.Sequence != 0 || fact.Status != ledger.Pending {
		t.Fatalf("unexpected new fact: %#v", fact)
	}

	// vote to verified
	if _, err := engine.Vote(fact.ID, "alice", true, ""); err != nil {
		t.Fatal(err)
	}
	updated, err := engine.Vote(fact.ID, "bob", true, "")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != ledger.Verified {
		t.Fatalf("got %v, want verified", updated.Status)
	}

	tally, err := engine.Status(fact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !tally.QuorumMet || len(tally.Votes) != 2 {
		t.Fatalf("tally: %#v", tally)
	}

	// checkpoint and proof
	if _, err := engine.Append(scope, []byte("the shipment arrived"), "author"); err != nil {
		t.Fatal(err)
	}

	cp, err := engine.Seal(scope)
	if err != nil {
		t.Fatal(err)
	}
	if cp.StartSequence != 0 || cp.EndSequence != 1 {
		t.Fatalf("checkpoint range: [%d, %d]", cp.StartSequence, cp.EndSequence)
	}

	proof, err := engine.Prove(fact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !proof.Verify() || !bytes.Equal(proof.Root, cp.MerkleRoot) {
		t.Fatal("proof should verify against the checkpoint root")
	}

	// audit
	report, err := engine.Verify(scope)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("intact ledger should verify: %s", report.Reason)
	}

	ok, err := engine.VerifyFact(fact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("fact should verify")
	}

	stats := engine.Stats()
	if stats["facts"] != "2" || stats["agents"] != "2" || stats["scopes"] != "1" {
		t.Fatalf("stats: %#v", stats)
	}
}

func TestFactumQuarantineOnFailedAudit(t *testing.T) {
	engine := testEngine(t)
	scope := ledger.NewScope("acme", "payments")

	// build a corrupted chain directly in the store: the second fact's
	// content no longer matches its hash
	prevHash := ledger.ZeroDigest()
	for i := 0; i < 3; i++ {
		fact := &ledger.Fact{
			ID:       engine.Store.LastFactID() + 1,
			Scope:    scope,
			Sequence: i,
			Content:  []byte{byte('a' + i)},
			PrevHash: prevHash,
		}
		fact.Hash = fact.Digest()
		prevHash = fact.Hash

		if i == 1 {
			fact.Content = []byte("tampered")
		}
		if err := engine.Store.SetFact(fact); err != nil {
			t.Fatal(err)
		}
	}

	report, err := engine.Verify(scope)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("corrupted chain should fail the audit")
	}
	if report.FirstBreak == nil || *report.FirstBreak != 1 {
		t.Fatalf("first break: %v", report.FirstBreak)
	}

	// the scope is quarantined: appends are refused
	_, err = engine.Append(scope, []byte("more"), "author")
	if !cm.IsStore(err, cm.ChainIntegrityViolation) {
		t.Fatalf("got %v, want ChainIntegrityViolation", err)
	}

	// unrelated scopes keep accepting writes
	if _, err := engine.Append(ledger.NewScope("acme", "billing"), []byte("fine"), "author"); err != nil {
		t.Fatal(err)
	}
}

func TestFactumAppendDedup(t *testing.T) {
	engine := testEngine(t)
	scope := ledger.NewScope("acme", "payments")

	if _, err := engine.Append(scope, []byte("once"), "author"); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Append(scope, []byte("once"), "author"); !cm.IsStore(err, cm.DuplicateContent) {
		t.Fatalf("got %v, want DuplicateContent", err)
	}
}
