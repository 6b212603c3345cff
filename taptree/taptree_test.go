package taptree

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/mycitadel/citadel/xkey"
)

// TestFoldEmpty checks that an empty leaf list is rejected.
func TestFoldEmpty(t *testing.T) {
	t.Parallel()

	_, err := Fold(nil)
	require.ErrorIs(t, err, ErrNoLeaves)
}

// TestFoldSingleLeaf checks that one leaf folds into itself.
func TestFoldSingleLeaf(t *testing.T) {
	t.Parallel()

	script := []byte{txscript.OP_1}

	tree, err := Fold([]Leaf{{Depth: 1, Script: script}})
	require.NoError(t, err)

	expected := txscript.NewBaseTapLeaf(script)
	require.Equal(t, expected.TapHash(), tree.TapHash())
}

// TestFoldPair checks that two sibling leaves fold into a branch.
func TestFoldPair(t *testing.T) {
	t.Parallel()

	first := []byte{txscript.OP_1}
	second := []byte{txscript.OP_2}

	tree, err := Fold([]Leaf{
		{Depth: 1, Script: first},
		{Depth: 1, Script: second},
	})
	require.NoError(t, err)

	expected := txscript.NewTapBranch(
		txscript.NewBaseTapLeaf(first),
		txscript.NewBaseTapLeaf(second),
	)
	require.Equal(t, expected.TapHash(), tree.TapHash())
}

// TestFoldThreeLeaves checks the nesting of an unbalanced three-leaf tree.
func TestFoldThreeLeaves(t *testing.T) {
	t.Parallel()

	a := []byte{txscript.OP_1}
	b := []byte{txscript.OP_2}
	c := []byte{txscript.OP_3}

	tree, err := Fold([]Leaf{
		{Depth: 1, Script: a},
		{Depth: 2, Script: b},
		{Depth: 2, Script: c},
	})
	require.NoError(t, err)

	// The deeper pair forms the inner branch, the shallow leaf tops the
	// tree.
	inner := txscript.NewTapBranch(
		txscript.NewBaseTapLeaf(b),
		txscript.NewBaseTapLeaf(c),
	)
	expected := txscript.NewTapBranch(txscript.NewBaseTapLeaf(a), inner)
	require.Equal(t, expected.TapHash(), tree.TapHash())
}

// TestOutputKey checks output key computation with and without a script
// tree.
func TestOutputKey(t *testing.T) {
	t.Parallel()

	internal := xkey.UnsatisfiablePubKey()

	keyOnly := OutputKey(internal, nil)
	require.Equal(t,
		txscript.ComputeTaprootKeyNoScript(internal).
			SerializeCompressed(),
		keyOnly.SerializeCompressed())

	tree, err := Fold([]Leaf{{Script: []byte{txscript.OP_1}}})
	require.NoError(t, err)

	withScript := OutputKey(internal, tree)
	require.NotEqual(t, keyOnly.SerializeCompressed(),
		withScript.SerializeCompressed())
}
