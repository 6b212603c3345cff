package xkey

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// OriginKind classifies how a key origin derivation path should be
// displayed.
type OriginKind uint8

const (
	// OriginMaster is an empty path: the key is the master key itself.
	OriginMaster OriginKind = iota

	// OriginSubMaster is a single-segment path directly under the master.
	OriginSubMaster

	// OriginStandard is a path following a known derivation standard.
	OriginStandard

	// OriginCustom is any other path.
	OriginCustom
)

// OriginFormat is the classified form of a key origin derivation path.
type OriginFormat struct {
	Kind OriginKind

	// Path is the original derivation path.
	Path DerivationPath

	// Standard and Account are set for OriginStandard paths.
	Standard Standard
	Account  HardenedIndex

	// Testnet is set for OriginStandard paths from the coin-type segment.
	Testnet bool
}

// ClassifyOrigin recognizes the shape of a key origin path.
func ClassifyOrigin(path DerivationPath) OriginFormat {
	switch len(path) {
	case 0:
		return OriginFormat{Kind: OriginMaster, Path: path}

	case 1:
		return OriginFormat{Kind: OriginSubMaster, Path: path}
	}

	standard, ok := DeduceStandard(path)
	if !ok {
		return OriginFormat{Kind: OriginCustom, Path: path}
	}

	account, hasAccount, err := standard.ExtractAccount(path)
	if err != nil || (!hasAccount && standard != Bip45) {
		return OriginFormat{Kind: OriginCustom, Path: path}
	}

	testnet, _, err := standard.ExtractTestnet(path)
	if err != nil {
		return OriginFormat{Kind: OriginCustom, Path: path}
	}

	return OriginFormat{
		Kind:     OriginStandard,
		Path:     path,
		Standard: standard,
		Account:  account,
		Testnet:  testnet,
	}
}

// AccountIndex returns the hardened account index carried by the origin, when
// there is one.
func (o OriginFormat) AccountIndex() fn.Option[HardenedIndex] {
	switch o.Kind {
	case OriginSubMaster:
		account, hardened := NewHardenedIndex(o.Path[0])
		if !hardened {
			return fn.None[HardenedIndex]()
		}

		return fn.Some(account)

	case OriginStandard:
		if o.Standard == Bip45 {
			return fn.None[HardenedIndex]()
		}

		return fn.Some(o.Account)

	default:
		return fn.None[HardenedIndex]()
	}
}

// String renders the origin the way it is displayed next to a signer: "m/"
// for the master key, the single child for sub-master keys, and the full
// path otherwise.
func (o OriginFormat) String() string {
	if o.Kind == OriginMaster {
		return "m/"
	}

	return o.Path.String()
}
