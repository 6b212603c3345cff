package xkey

import (
	"fmt"
	"strings"
)

// Standard is a BIP-43 based derivation standard that defines the shape of
// account-level derivation paths.
type Standard uint8

const (
	// Bip44 is the legacy P2PKH standard, m/44'/coin'/account'.
	Bip44 Standard = iota

	// Bip45 is the legacy multi-party P2SH standard, m/45'.
	Bip45

	// Bip48Nested is the multisig standard for P2WSH-in-P2SH outputs,
	// m/48'/coin'/account'/1'.
	Bip48Nested

	// Bip48Native is the multisig standard for native P2WSH outputs,
	// m/48'/coin'/account'/2'.
	Bip48Native

	// Bip49 is the P2WPKH-in-P2SH standard, m/49'/coin'/account'.
	Bip49

	// Bip84 is the native P2WPKH standard, m/84'/coin'/account'.
	Bip84

	// Bip86 is the single-key taproot standard, m/86'/coin'/account'.
	Bip86

	// Bip87 is the multisig descriptor standard, m/87'/coin'/account'.
	Bip87
)

// String returns the BIP name of the standard.
func (s Standard) String() string {
	switch s {
	case Bip44:
		return "BIP-44"
	case Bip45:
		return "BIP-45"
	case Bip48Nested:
		return "BIP-48-nested"
	case Bip48Native:
		return "BIP-48-native"
	case Bip49:
		return "BIP-49"
	case Bip84:
		return "BIP-84"
	case Bip86:
		return "BIP-86"
	case Bip87:
		return "BIP-87"
	default:
		return fmt.Sprintf("unknown standard (%d)", uint8(s))
	}
}

// ParseStandard parses a standard name as rendered by String, case
// insensitively and with or without the dash after "BIP".
func ParseStandard(s string) (Standard, error) {
	normalized := strings.Replace(strings.ToLower(s), "bip-", "bip", 1)
	switch normalized {
	case "bip44":
		return Bip44, nil
	case "bip45":
		return Bip45, nil
	case "bip48-nested":
		return Bip48Nested, nil
	case "bip48-native":
		return Bip48Native, nil
	case "bip49":
		return Bip49, nil
	case "bip84":
		return Bip84, nil
	case "bip86":
		return Bip86, nil
	case "bip87":
		return Bip87, nil
	default:
		return 0, fmt.Errorf("unknown derivation standard %q", s)
	}
}

// Purpose returns the hardened purpose child used by the standard.
func (s Standard) Purpose() HardenedIndex {
	switch s {
	case Bip44:
		return 44
	case Bip45:
		return 45
	case Bip48Nested, Bip48Native:
		return 48
	case Bip49:
		return 49
	case Bip84:
		return 84
	case Bip86:
		return 86
	case Bip87:
		return 87
	default:
		return 0
	}
}

// AccountDepth returns the depth at which account-level keys live for the
// standard.
func (s Standard) AccountDepth() uint8 {
	switch s {
	case Bip45:
		return 1
	case Bip48Nested, Bip48Native:
		return 4
	default:
		return 3
	}
}

// AccountDerivation constructs the account-level derivation path for the
// standard on the given network.
func (s Standard) AccountDerivation(account HardenedIndex,
	testnet bool) DerivationPath {

	coin := HardenedIndex(0)
	if testnet {
		coin = 1
	}

	switch s {
	case Bip45:
		return DerivationPath{s.Purpose().Child()}

	case Bip48Nested:
		return DerivationPath{
			s.Purpose().Child(), coin.Child(), account.Child(),
			HardenedIndex(1).Child(),
		}

	case Bip48Native:
		return DerivationPath{
			s.Purpose().Child(), coin.Child(), account.Child(),
			HardenedIndex(2).Child(),
		}

	default:
		return DerivationPath{
			s.Purpose().Child(), coin.Child(), account.Child(),
		}
	}
}

// DeduceStandard recognizes the derivation standard a path belongs to. The
// second return value is false when the path does not follow any known
// standard.
func DeduceStandard(path DerivationPath) (Standard, bool) {
	if len(path) == 0 {
		return 0, false
	}

	purpose, hardened := NewHardenedIndex(path[0])
	if !hardened {
		return 0, false
	}

	switch purpose {
	case 44:
		return Bip44, len(path) >= 3

	case 45:
		return Bip45, true

	case 48:
		if len(path) < 4 {
			return 0, false
		}
		script, hardened := NewHardenedIndex(path[3])
		if !hardened {
			return 0, false
		}
		switch script {
		case 1:
			return Bip48Nested, true
		case 2:
			return Bip48Native, true
		default:
			return 0, false
		}

	case 49:
		return Bip49, len(path) >= 3

	case 84:
		return Bip84, len(path) >= 3

	case 86:
		return Bip86, len(path) >= 3

	case 87:
		return Bip87, len(path) >= 3

	default:
		return 0, false
	}
}

// ExtractAccount returns the hardened account index encoded in a standard
// derivation path. It returns ErrUnhardenedAccount when the account segment
// exists but is not hardened, and ok=false when the standard does not encode
// an account (BIP-45) or the path is too short.
func (s Standard) ExtractAccount(
	path DerivationPath) (HardenedIndex, bool, error) {

	if s == Bip45 || len(path) < 3 {
		return 0, false, nil
	}

	account, hardened := NewHardenedIndex(path[2])
	if !hardened {
		return 0, false, &NonStandardDerivationError{
			Reason: NonStandardUnhardenedAccount,
			Index:  path[2],
		}
	}

	return account, true, nil
}

// ExtractTestnet reports the network encoded in the coin-type segment of a
// standard derivation path. It returns ErrUnhardenedCoinType when the segment
// is not hardened, and ok=false when the path does not carry a coin type.
func (s Standard) ExtractTestnet(path DerivationPath) (bool, bool, error) {
	if s == Bip45 || len(path) < 2 {
		return false, false, nil
	}

	coin, hardened := NewHardenedIndex(path[1])
	if !hardened {
		return false, false, &NonStandardDerivationError{
			Reason: NonStandardUnhardenedCoinType,
			Index:  path[1],
		}
	}

	return coin != 0, true, nil
}
