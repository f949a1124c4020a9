package checkpoint

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/attestnetworks/factum/src/crypto"
)

func testLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = crypto.SHA256([]byte(fmt.Sprintf("leaf %d", i)))
	}
	return leaves
}

func TestMerkleRootDeterministic(t *testing.T) {
	leaves := testLeaves(7)

	r1, err := MerkleRoot(leaves)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := MerkleRoot(leaves)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(r1, r2) {
		t.Fatal("same leaves should produce the same root")
	}

	if _, err := MerkleRoot(nil); err == nil {
		t.Fatal("empty leaf set should have no root")
	}
}

func TestMerkleRootLeafSensitivity(t *testing.T) {
	leaves := testLeaves(5)
	base, _ := MerkleRoot(leaves)

	tampered := testLeaves(5)
	tampered[2] = crypto.SHA256([]byte("tampered"))

	root, _ := MerkleRoot(tampered)
	if bytes.Equal(base, root) {
		t.Fatal("changing a leaf should change the root")
	}
}

// Sentinel padding must distinguish a 3-leaf tree from a 4-leaf tree whose
// last leaf duplicates the third.
func TestMerkleSentinelPadding(t *testing.T) {
	three := testLeaves(3)
	four := append(testLeaves(3), three[2])

	r3, _ := MerkleRoot(three)
	r4, _ := MerkleRoot(four)

	if bytes.Equal(r3, r4) {
		t.Fatal("padded tree should not collide with duplicated-leaf tree")
	}
}

func TestMerkleProof(t *testing.T) {
	for _, n := range []int{1, 2, 3, 8, 13} {
		leaves := testLeaves(n)
		for i := 0; i < n; i++ {
			proof, err := BuildProof(leaves, i)
			if err != nil {
				t.Fatal(err)
			}
			if !proof.Verify() {
				t.Fatalf("proof for leaf %d of %d should verify", i, n)
			}
		}
	}

	if _, err := BuildProof(testLeaves(3), 3); err == nil {
		t.Fatal("out-of-range index should be rejected")
	}
}

func TestMerkleProofTamper(t *testing.T) {
	leaves := testLeaves(6)

	proof, err := BuildProof(leaves, 4)
	if err != nil {
		t.Fatal(err)
	}

	proof.Leaf = crypto.SHA256([]byte("other leaf"))
	if proof.Verify() {
		t.Fatal("tampered leaf should fail verification")
	}
}
