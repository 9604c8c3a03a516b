package merkle

import (
	"fmt"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// InclusionProof proves a leaf hash is committed to by a Merkle root.
type InclusionProof struct {
	LeafHash  string      `json:"leaf_hash"`
	Root      string      `json:"root"`
	ProofPath []ProofStep `json:"proof_path"`
}

// Prove constructs an inclusion proof for the leaf at index i.
func (t *Tree) Prove(i int) (*InclusionProof, error) {
	leaves := t.Levels[0]
	if i < 0 || i >= len(leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, len(leaves))
	}

	proof := &InclusionProof{LeafHash: leaves[i], Root: t.Root}
	idx := i
	for _, level := range t.Levels[:len(t.Levels)-1] {
		// Mirror the duplicate-last rule used during construction.
		padded := level
		if len(padded)%2 != 0 {
			padded = append(append([]string{}, padded...), padded[len(padded)-1])
		}
		if idx%2 == 0 {
			proof.ProofPath = append(proof.ProofPath, ProofStep{Side: "R", SiblingHash: padded[idx+1]})
		} else {
			proof.ProofPath = append(proof.ProofPath, ProofStep{Side: "L", SiblingHash: padded[idx-1]})
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyInclusion replays the proof path and checks it lands on expectedRoot.
func VerifyInclusion(proof *InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && proof.Root != expectedRoot {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.ProofPath {
		if step.Side == "L" {
			current = nodeHash(step.SiblingHash, current)
		} else {
			current = nodeHash(current, step.SiblingHash)
		}
	}
	return current == proof.Root
}
