// Package taptree assembles taproot script trees from ordered leaf lists and
// computes the resulting output keys.
package taptree

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrNoLeaves is returned when a tree is assembled from an empty leaf
	// list but a script path is required.
	ErrNoLeaves = errors.New("no tapscript leaves")
)

// Leaf is one script leaf of the tree together with its depth. Only the
// parity of the depth matters for the fold: odd-depth leaves are paired with
// the leaf that follows them, even-depth leaves close the current subtree.
type Leaf struct {
	// Depth is the nesting depth of the leaf.
	Depth uint8

	// Script is the leaf script.
	Script []byte
}

// Fold assembles an ordered leaf list into a taproot script tree, pairing
// leaves from the deepest to the shallowest. A single leaf yields a leaf
// node; an empty list yields ErrNoLeaves.
func Fold(leaves []Leaf) (txscript.TapNode, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	var (
		tree txscript.TapNode
		prev *txscript.TapLeaf
	)

	for i := len(leaves) - 1; i >= 0; i-- {
		leaf := txscript.NewBaseTapLeaf(leaves[i].Script)

		switch {
		case tree == nil && prev == nil && leaves[i].Depth%2 == 1:
			prev = &leaf

		case tree == nil && prev == nil:
			tree = leaf

		case prev != nil:
			tree = txscript.NewTapBranch(leaf, *prev)
			prev = nil

		default:
			tree = txscript.NewTapBranch(leaf, tree)
		}
	}

	if tree == nil && prev != nil {
		tree = *prev
	}

	return tree, nil
}

// OutputKey computes the taproot output key for an internal key and an
// optional script tree. A nil tree produces a BIP-86 style key-only output.
func OutputKey(internal *btcec.PublicKey,
	tree txscript.TapNode) *btcec.PublicKey {

	if tree == nil {
		return txscript.ComputeTaprootKeyNoScript(internal)
	}

	root := tree.TapHash()

	return txscript.ComputeTaprootOutputKey(internal, root[:])
}
