package reputation

import (
	"math"
	"testing"

	cm "github.com/attestnetworks/factum/src/common"
	"github.com/attestnetworks/factum/src/crypto/keys"
	"github.com/attestnetworks/factum/src/ledger"
)

const (
	testFloor   = 0.10
	testInitial = 0.50
	testAlpha   = 0.20
)

func testRegistry(t *testing.T) *Registry {
	store := ledger.NewInmemStore(100)
	registry, err := NewRegistry(store, testFloor, testInitial, testAlpha, cm.NewTestEntry(t, "reputation"))
	if err != nil {
		t.Fatal(err)
	}
	return registry
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRegistryValidation(t *testing.T) {
	store := ledger.NewInmemStore(100)

	badCases := []struct {
		name                  string
		floor, initial, alpha float64
	}{
		{"zero floor", 0, 0.5, 0.2},
		{"floor above one", 1.5, 0.5, 0.2},
		{"initial below floor", 0.1, 0.05, 0.2},
		{"zero alpha", 0.1, 0.5, 0},
		{"alpha above one", 0.1, 0.5, 1.5},
	}

	for _, tc := range badCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(store, tc.floor, tc.initial, tc.alpha, nil); err == nil {
				t.Fatal("invalid parameters should be rejected")
			}
		})
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := testRegistry(t)

	agent, err := registry.Register("agent-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if agent.ReputationWeight != testInitial {
		t.Fatalf("initial weight: got %f, want %f", agent.ReputationWeight, testInitial)
	}

	if _, err := registry.Register("agent-1", ""); !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("duplicate registration: got %v, want KeyAlreadyExists", err)
	}

	if _, err := registry.Register("", ""); err == nil {
		t.Fatal("empty agent ID should be rejected")
	}
}

func TestRegistryRegisterPublicKey(t *testing.T) {
	registry := testRegistry(t)

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	agent, err := registry.Register("keyed", keys.PublicKeyHex(&key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if agent.PubKeyHex == "" {
		t.Fatal("public key should be stored")
	}

	// strings that do not decode to a curve point are refused at the boundary
	badKeys := []string{"A", "0Xzz", "deadbeef"}
	for _, bad := range badKeys {
		if _, err := registry.Register("bad-"+bad, bad); err == nil {
			t.Fatalf("public key %q should be rejected", bad)
		}
	}
}

func TestRegistryAdjustAligned(t *testing.T) {
	registry := testRegistry(t)
	registry.Register("agent-1", "")

	// w += alpha * (1 - w)
	weight, err := registry.Adjust("agent-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(weight, 0.60) {
		t.Fatalf("aligned adjustment: got %f, want 0.60", weight)
	}

	agent, _ := registry.Get("agent-1")
	if agent.VotesCast != 1 || agent.VotesAligned != 1 {
		t.Fatalf("counters: cast %d aligned %d", agent.VotesCast, agent.VotesAligned)
	}
}

func TestRegistryAdjustMisaligned(t *testing.T) {
	registry := testRegistry(t)
	registry.Register("agent-1", "")

	// w += alpha * (floor - w)
	weight, err := registry.Adjust("agent-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(weight, 0.42) {
		t.Fatalf("misaligned adjustment: got %f, want 0.42", weight)
	}

	agent, _ := registry.Get("agent-1")
	if agent.VotesCast != 1 || agent.VotesAligned != 0 {
		t.Fatalf("counters: cast %d aligned %d", agent.VotesCast, agent.VotesAligned)
	}
}

func TestRegistryFloorAndCeiling(t *testing.T) {
	registry := testRegistry(t)
	registry.Register("loser", "")
	registry.Register("winner", "")

	var weight float64
	for i := 0; i < 100; i++ {
		weight, _ = registry.Adjust("loser", false)
	}
	if weight < testFloor {
		t.Fatalf("weight fell below the floor: %f", weight)
	}

	for i := 0; i < 100; i++ {
		weight, _ = registry.Adjust("winner", true)
	}
	if weight > 1.0 {
		t.Fatalf("weight exceeded 1.0: %f", weight)
	}
	if weight < 0.99 {
		t.Fatalf("a long winning streak should approach 1.0: %f", weight)
	}
}

func TestRegistryAdjustUnknown(t *testing.T) {
	registry := testRegistry(t)

	if _, err := registry.Adjust("nobody", true); !cm.IsStore(err, cm.UnknownAgent) {
		t.Fatalf("got %v, want UnknownAgent", err)
	}
}
