package ledger

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	cm "github.com/attestnetworks/factum/src/common"
)

func initBadgerStore(t *testing.T) (*BadgerStore, string) {
	t.Helper()

	dir, err := ioutil.TempDir("", "badger_test")
	if err != nil {
		t.Fatal(err)
	}

	store, err := NewBadgerStore(testCacheSize, filepath.Join(dir, "badger_db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}

	return store, dir
}

func TestBadgerSetFact(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)
	defer store.Close()

	scope := NewScope("acme", "payments")
	facts := fillChain(t, store, scope, 3)

	for i, expected := range facts {
		got, err := store.GetFactBySequence(scope, i)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Hash, expected.Hash) {
			t.Fatalf("fact %d hash mismatch", i)
		}

		byID, err := store.GetFact(expected.ID)
		if err != nil {
			t.Fatal(err)
		}
		if byID.Sequence != i {
			t.Fatalf("fact %d sequence: got %d", i, byID.Sequence)
		}
	}

	digest := ContentDigest(scope, facts[2].Content)
	if id, ok := store.HasContent(scope, digest); !ok || id != facts[2].ID {
		t.Fatal("content index should find the fact")
	}

	gap := testFact(10, scope, 7, ZeroDigest(), "gap")
	if err := store.SetFact(gap); !cm.IsStore(err, cm.SkippedIndex) {
		t.Fatalf("inserting a gap: got %v, want SkippedIndex", err)
	}
}

func TestBadgerReload(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)

	path := store.StorePath()
	scope := NewScope("acme", "payments")

	facts := fillChain(t, store, scope, 3)

	vote := &Vote{FactID: facts[0].ID, AgentID: "agent-1", Approve: true, CastAt: time.Now().UTC()}
	facts[0].Status = Verified
	facts[0].ConsensusScore = 1.0
	if err := store.ApplyVote(facts[0], vote); err != nil {
		t.Fatal(err)
	}

	cp := &Checkpoint{Scope: scope, StartSequence: 0, EndSequence: 2, MerkleRoot: []byte("root"), SealedAt: time.Now().UTC()}
	if err := store.SetCheckpoint(cp); err != nil {
		t.Fatal(err)
	}

	agent := &Agent{ID: "agent-1", ReputationWeight: 0.5, CreatedAt: time.Now().UTC()}
	if err := store.SetAgent(agent); err != nil {
		t.Fatal(err)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerStore(testCacheSize, path)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	if !reloaded.NeedBootstrap() {
		t.Fatal("reloaded store should report existing data")
	}
	if last := reloaded.LastFactID(); last != 2 {
		t.Fatalf("LastFactID after reload: got %d, want 2", last)
	}
	if last := reloaded.LastSequence(scope); last != 2 {
		t.Fatalf("LastSequence after reload: got %d, want 2", last)
	}

	scopes := reloaded.Scopes()
	if len(scopes) != 1 || scopes[0] != scope {
		t.Fatalf("Scopes after reload: %#v", scopes)
	}

	fact, err := reloaded.GetFact(facts[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if fact.Status != Verified || fact.ConsensusScore != 1.0 {
		t.Fatalf("consensus fields lost on reload: %#v", fact)
	}

	votes, err := reloaded.FactVotes(facts[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 1 || votes[0].AgentID != "agent-1" {
		t.Fatalf("votes after reload: %#v", votes)
	}

	lastCP, err := reloaded.LastCheckpoint(scope)
	if err != nil {
		t.Fatal(err)
	}
	if lastCP.EndSequence != 2 || !bytes.Equal(lastCP.MerkleRoot, []byte("root")) {
		t.Fatalf("checkpoint after reload: %#v", lastCP)
	}

	reloadedAgent, err := reloaded.GetAgent("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if reloadedAgent.ReputationWeight != 0.5 {
		t.Fatalf("agent after reload: %#v", reloadedAgent)
	}

	// appends resume where the old store left off
	next := testFact(reloaded.LastFactID()+1, scope, 3, facts[2].Hash, "resumed")
	if err := reloaded.SetFact(next); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerSequenceCacheFallback(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)
	defer store.Close()

	scope := NewScope("acme", "payments")

	// small cache so early sequences are evicted from the window
	small, err := NewBadgerStore(2, filepath.Join(dir, "small_db"))
	if err != nil {
		t.Fatal(err)
	}
	defer small.Close()

	facts := fillChain(t, small, scope, 10)

	// sequence 0 left the rolling window long ago; it must come from disk
	fact, err := small.GetFactBySequence(scope, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fact.Hash, facts[0].Hash) {
		t.Fatal("disk fallback returned the wrong fact")
	}
}

// Scope keys embed in database keys with a length frame, so a prefix scan for
// one scope must never match a scope whose key extends it.
func TestBadgerScopePrefixIsolation(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)
	defer store.Close()

	scope := NewScope("acme", "pay")
	extended := NewScope("acme", "pay_eu")

	fillChain(t, store, scope, 2)
	fillChain(t, store, extended, 2)

	// seal a checkpoint only in the extended scope
	cp := &Checkpoint{
		Scope:         extended,
		StartSequence: 0,
		EndSequence:   1,
		MerkleRoot:    []byte("root"),
		SealedAt:      time.Now().UTC(),
	}
	if err := store.SetCheckpoint(cp); err != nil {
		t.Fatal(err)
	}

	checkpoints, err := store.Checkpoints(scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(checkpoints) != 0 {
		t.Fatalf("scope %s leaked %d checkpoints from scope %s", scope.Key(), len(checkpoints), extended.Key())
	}

	if _, err := store.LastCheckpoint(scope); !cm.IsStore(err, cm.Empty) {
		t.Fatalf("got %v, want Empty", err)
	}

	// the extended scope still sees its own checkpoint
	last, err := store.LastCheckpoint(extended)
	if err != nil {
		t.Fatal(err)
	}
	if last.Scope != extended {
		t.Fatalf("checkpoint scope: got %s, want %s", last.Scope.Key(), extended.Key())
	}

	// sealing in the shorter scope starts at 0, not after the foreign range
	own := &Checkpoint{
		Scope:         scope,
		StartSequence: 0,
		EndSequence:   1,
		MerkleRoot:    []byte("own root"),
		SealedAt:      time.Now().UTC(),
	}
	if err := store.SetCheckpoint(own); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerCheckpointOrder(t *testing.T) {
	store, dir := initBadgerStore(t)
	defer os.RemoveAll(dir)
	defer store.Close()

	scope := NewScope("acme", "payments")

	for i := 0; i < 3; i++ {
		cp := &Checkpoint{
			Scope:         scope,
			StartSequence: i * 10,
			EndSequence:   i*10 + 9,
			MerkleRoot:    []byte{byte(i)},
			SealedAt:      time.Now().UTC(),
		}
		if err := store.SetCheckpoint(cp); err != nil {
			t.Fatal(err)
		}
	}

	checkpoints, err := store.Checkpoints(scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(checkpoints) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(checkpoints))
	}
	for i, cp := range checkpoints {
		if cp.StartSequence != i*10 {
			t.Fatalf("checkpoint %d start: got %d, want %d", i, cp.StartSequence, i*10)
		}
	}

	overlapping := &Checkpoint{Scope: scope, StartSequence: 15, EndSequence: 24}
	if err := store.SetCheckpoint(overlapping); !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("overlapping checkpoint: got %v, want KeyAlreadyExists", err)
	}
}
