// Package ensname implements the ENS namehash algorithm used to validate the
// optional `node` parameter on a lookup request, built directly on
// go-ethereum's keccak256.
package ensname

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Namehash computes the recursive ENS node identifier for a dotted name,
// e.g. Namehash("pricefeed.eth") == keccak256(keccak256(zero32 ‖ keccak256("eth")) ‖ keccak256("pricefeed")).
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256Hash(node[:], labelHash)
	}
	return node
}

// LooksLikeNamehashable reports whether s is syntactically acceptable input
// to Namehash: a non-empty, dot-separated sequence of labels with no empty
// label. It does not imply the name resolves to anything.
func LooksLikeNamehashable(s string) bool {
	if s == "" {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" {
			return false
		}
	}
	return true
}
