// Package merkle builds Merkle trees over entry hash ranges for checkpoints.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a tree is requested over zero hashes.
var ErrEmptyInput = errors.New("merkle: no hashes to build tree from")

// Tree holds every level of a Merkle tree, leaves first.
type Tree struct {
	Levels [][]string
	Root   string
}

// Root computes the Merkle root over hex-encoded hashes.
// A single input is its own root. An odd trailing node at any level is
// paired with itself (duplicate-last rule).
func Root(hashes []string) (string, error) {
	t, err := Build(hashes)
	if err != nil {
		return "", err
	}
	return t.Root, nil
}

// Build constructs the full tree, keeping intermediate levels for proofs.
func Build(hashes []string) (*Tree, error) {
	if len(hashes) == 0 {
		return nil, ErrEmptyInput
	}
	for i, h := range hashes {
		if _, err := hex.DecodeString(h); err != nil {
			return nil, fmt.Errorf("merkle: hash %d is not hex: %w", i, err)
		}
	}

	tree := &Tree{}
	level := make([]string, len(hashes))
	copy(level, hashes)

	for {
		tree.Levels = append(tree.Levels, level)
		if len(level) == 1 {
			break
		}
		level = nextLevel(level)
	}

	tree.Root = tree.Levels[len(tree.Levels)-1][0]
	return tree, nil
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}

	next := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf []byte
	buf = append(buf, hexToBytes(left)...)
	buf = append(buf, hexToBytes(right)...)
	h := sha256.Sum256(buf)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
