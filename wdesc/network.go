// Package wdesc models the wallet descriptor: the set of signers, the
// spending conditions they participate in, and the derivation standard and
// network the wallet operates on. It validates the internal consistency of a
// descriptor (known signers, satisfiable signature thresholds, unique
// conditions) before any scripts are derived from it.
package wdesc

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// ErrUnknownNetwork is returned when a network name cannot be parsed.
var ErrUnknownNetwork = errors.New("unknown network")

// Network is a public bitcoin network a wallet can operate on.
type Network uint8

const (
	// Mainnet is the main bitcoin network.
	Mainnet Network = iota

	// Testnet is the testnet3 test network.
	Testnet

	// Signet is the default signet test network.
	Signet
)

// DefaultNetwork is the network used when none is configured.
const DefaultNetwork = Testnet

// ParseNetwork parses a network name.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "signet":
		return Signet, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}
}

// String returns the lowercase network name.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Signet:
		return "signet"
	default:
		return fmt.Sprintf("unknown network (%d)", uint8(n))
	}
}

// IsTestnet reports whether the network belongs to the testnet family.
func (n Network) IsTestnet() bool {
	return n == Testnet || n == Signet
}

// CoinType returns the BIP-44 coin type index for the network.
func (n Network) CoinType() uint32 {
	if n.IsTestnet() {
		return 1
	}

	return 0
}

// Params returns the chain parameters for the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Signet:
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}
