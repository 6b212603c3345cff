package wdesc

import (
	"fmt"

	"github.com/mycitadel/citadel/xkey"
)

// DescriptorClass is the script family a descriptor produces outputs for.
type DescriptorClass uint8

const (
	// ClassPreSegwit covers legacy P2PKH and P2SH outputs.
	ClassPreSegwit DescriptorClass = iota

	// ClassSegwitV0 covers native P2WPKH and P2WSH outputs.
	ClassSegwitV0

	// ClassNestedV0 covers segwit v0 outputs nested in P2SH.
	ClassNestedV0

	// ClassTaproot covers P2TR outputs.
	ClassTaproot
)

// String returns the class name.
func (c DescriptorClass) String() string {
	switch c {
	case ClassPreSegwit:
		return "pre-segwit"
	case ClassSegwitV0:
		return "segwit-v0"
	case ClassNestedV0:
		return "nested-v0"
	case ClassTaproot:
		return "taproot"
	default:
		return fmt.Sprintf("unknown class (%d)", uint8(c))
	}
}

// ClassOf maps a derivation standard to the descriptor class of the outputs
// it produces. The second return value is false for standards that do not
// define a script family (BIP-87).
func ClassOf(standard xkey.Standard) (DescriptorClass, bool) {
	switch standard {
	case xkey.Bip44, xkey.Bip45:
		return ClassPreSegwit, true
	case xkey.Bip48Nested, xkey.Bip49:
		return ClassNestedV0, true
	case xkey.Bip48Native, xkey.Bip84:
		return ClassSegwitV0, true
	case xkey.Bip86:
		return ClassTaproot, true
	default:
		return 0, false
	}
}
