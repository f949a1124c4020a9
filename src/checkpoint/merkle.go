package checkpoint

import (
	"bytes"
	"fmt"

	"github.com/attestnetworks/factum/src/crypto"
)

// sentinelLeaf pads incomplete trees up to a power-of-two width. Using a fixed
// published constant, rather than duplicating the last real leaf, means a
// padded tree can never be confused with a tree that genuinely contains
// repeated entries.
var sentinelLeaf = crypto.SHA256([]byte("factum.merkle.sentinel.v1"))

// MerkleRoot computes the Merkle root of the given leaves. Leaves are padded
// with the sentinel up to the next power of two, then combined pairwise,
// bottom-up. An empty leaf set has no root.
func MerkleRoot(leaves [][]byte) ([]byte, error) {
	levels, err := buildLevels(leaves)
	if err != nil {
		return nil, err
	}
	top := levels[len(levels)-1]
	return top[0], nil
}

// Proof is a Merkle inclusion proof: the sibling hashes on the path from a
// leaf to the root. Siblings are ordered bottom-up.
type Proof struct {
	Index    int      `json:"index"`
	Leaf     []byte   `json:"leaf"`
	Root     []byte   `json:"root"`
	Siblings [][]byte `json:"siblings"`
}

// Verify recomputes the path from the leaf and reports whether it reproduces
// the root.
func (p *Proof) Verify() bool {
	if len(p.Leaf) == 0 || len(p.Root) == 0 {
		return false
	}

	hash := p.Leaf
	idx := p.Index
	for _, sibling := range p.Siblings {
		if idx%2 == 0 {
			hash = crypto.SimpleHashFromTwoHashes(hash, sibling)
		} else {
			hash = crypto.SimpleHashFromTwoHashes(sibling, hash)
		}
		idx /= 2
	}

	return bytes.Equal(hash, p.Root)
}

// BuildProof computes the inclusion proof for the leaf at the given index.
func BuildProof(leaves [][]byte, index int) (*Proof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", index, len(leaves))
	}

	levels, err := buildLevels(leaves)
	if err != nil {
		return nil, err
	}

	proof := &Proof{
		Index: index,
		Leaf:  append([]byte(nil), leaves[index]...),
		Root:  levels[len(levels)-1][0],
	}

	idx := index
	for _, level := range levels[:len(levels)-1] {
		sibling := idx ^ 1
		proof.Siblings = append(proof.Siblings, level[sibling])
		idx /= 2
	}

	return proof, nil
}

// buildLevels returns every level of the tree, leaves first, root last.
func buildLevels(leaves [][]byte) ([][][]byte, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("no leaves")
	}

	width := 1
	for width < len(leaves) {
		width *= 2
	}

	level := make([][]byte, width)
	for i := range level {
		if i < len(leaves) {
			level[i] = append([]byte(nil), leaves[i]...)
		} else {
			level[i] = sentinelLeaf
		}
	}

	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, len(level)/2)
		for i := range next {
			next[i] = crypto.SimpleHashFromTwoHashes(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}

	return levels, nil
}
