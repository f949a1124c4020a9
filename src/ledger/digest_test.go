package ledger

import (
	"bytes"
	"testing"
)

func TestFactDigestDeterministic(t *testing.T) {
	scope := NewScope("acme", "payments")

	d1 := FactDigest([]byte("the eagle has landed"), ZeroDigest(), 0, scope)
	d2 := FactDigest([]byte("the eagle has landed"), ZeroDigest(), 0, scope)

	if !bytes.Equal(d1, d2) {
		t.Fatal("same inputs should produce the same digest")
	}
	if len(d1) != DigestSize {
		t.Fatalf("digest size: got %d, want %d", len(d1), DigestSize)
	}
}

func TestFactDigestFieldSensitivity(t *testing.T) {
	scope := NewScope("acme", "payments")
	base := FactDigest([]byte("content"), ZeroDigest(), 0, scope)

	testCases := []struct {
		name   string
		digest []byte
	}{
		{"content", FactDigest([]byte("Content"), ZeroDigest(), 0, scope)},
		{"prev hash", FactDigest([]byte("content"), bytes.Repeat([]byte{1}, DigestSize), 0, scope)},
		{"sequence", FactDigest([]byte("content"), ZeroDigest(), 1, scope)},
		{"tenant", FactDigest([]byte("content"), ZeroDigest(), 0, NewScope("emca", "payments"))},
		{"project", FactDigest([]byte("content"), ZeroDigest(), 0, NewScope("acme", "billing"))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if bytes.Equal(base, tc.digest) {
				t.Fatalf("changing %s should change the digest", tc.name)
			}
		})
	}
}

// Length-prefixed framing must distinguish inputs whose concatenation is
// identical.
func TestFactDigestFraming(t *testing.T) {
	d1 := FactDigest([]byte("ab"), ZeroDigest(), 0, NewScope("c", "d"))
	d2 := FactDigest([]byte("a"), ZeroDigest(), 0, NewScope("bc", "d"))

	if bytes.Equal(d1, d2) {
		t.Fatal("shifted field boundaries should produce different digests")
	}
}

func TestContentDigestScopeBinding(t *testing.T) {
	content := []byte("same payload")

	d1 := ContentDigest(NewScope("acme", "payments"), content)
	d2 := ContentDigest(NewScope("acme", "billing"), content)

	if bytes.Equal(d1, d2) {
		t.Fatal("identical content in different scopes should have different dedup digests")
	}
}

func TestFactDigestMethod(t *testing.T) {
	scope := NewScope("acme", "payments")

	fact := &Fact{
		Scope:    scope,
		Sequence: 3,
		Content:  []byte("content"),
		PrevHash: bytes.Repeat([]byte{7}, DigestSize),
	}
	fact.Hash = fact.Digest()

	if !bytes.Equal(fact.Hash, FactDigest(fact.Content, fact.PrevHash, fact.Sequence, scope)) {
		t.Fatal("Fact.Digest should match FactDigest over the stored fields")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for _, status := range []Status{Pending, Verified, Disputed, Rejected} {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatal(err)
		}
		if parsed != status {
			t.Fatalf("round trip: got %v, want %v", parsed, status)
		}
	}

	if _, err := ParseStatus("approved"); err == nil {
		t.Fatal("unknown status string should be rejected")
	}
}

func TestFactMarshal(t *testing.T) {
	fact := &Fact{
		ID:       42,
		Scope:    NewScope("acme", "payments"),
		Sequence: 7,
		Content:  []byte("content"),
		PrevHash: ZeroDigest(),
		Author:   "agent-1",
		Status:   Disputed,
	}
	fact.Hash = fact.Digest()

	raw, err := fact.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	decoded := &Fact{}
	if err := decoded.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}

	if decoded.ID != fact.ID ||
		decoded.Scope != fact.Scope ||
		decoded.Sequence != fact.Sequence ||
		decoded.Status != fact.Status ||
		!bytes.Equal(decoded.Hash, fact.Hash) {
		t.Fatalf("decoded fact does not match original: %#v", decoded)
	}
}
