package xkey

import (
	"errors"
	"fmt"
)

var (
	// ErrRequirement is the base error for extended keys that fail the
	// consistency requirements checked by With and Deduce. Use errors.Is
	// against this to detect any requirement failure, and errors.As with
	// *RequirementError to inspect the details.
	ErrRequirement = errors.New("xpub does not satisfy requirements")

	// ErrNonStandardDerivation is the base error for derivation paths that
	// cannot be interpreted under any known standard.
	ErrNonStandardDerivation = errors.New("non-standard derivation")
)

// RequirementReason enumerates the specific requirement an extended key
// failed.
type RequirementReason uint8

const (
	// ReasonStandardMismatch means the SLIP-132 prefix implies a different
	// derivation standard than the one required.
	ReasonStandardMismatch RequirementReason = iota

	// ReasonShallowKey means the key's depth is above the account level
	// defined by the standard.
	ReasonShallowKey

	// ReasonNetworkMismatch means the SLIP-132 prefix and the BIP-32
	// serialization disagree about the network.
	ReasonNetworkMismatch

	// ReasonUnhardenedAccountKey means the key sits at the account depth
	// of the standard but was derived at a non-hardened index.
	ReasonUnhardenedAccountKey
)

// RequirementError describes why an extended public key cannot be used under
// the required derivation standard.
type RequirementError struct {
	Reason RequirementReason

	// ActualStandard and RequiredStandard are set for
	// ReasonStandardMismatch, and ActualStandard also names the standard
	// involved in depth and hardening failures.
	ActualStandard   string
	RequiredStandard string

	// RequiredDepth and ActualDepth are set for ReasonShallowKey.
	RequiredDepth uint8
	ActualDepth   uint8

	// SlipTestnet and BipTestnet are set for ReasonNetworkMismatch.
	SlipTestnet bool
	BipTestnet  bool

	// Index is the offending child number for ReasonUnhardenedAccountKey.
	Index uint32
}

// Error implements the error interface.
func (e *RequirementError) Error() string {
	switch e.Reason {
	case ReasonStandardMismatch:
		return fmt.Sprintf("xpub suits %s derivations while a key "+
			"for %s is needed", e.ActualStandard,
			e.RequiredStandard)

	case ReasonShallowKey:
		return fmt.Sprintf("xpub depth %d is less than the %s "+
			"account-level depth %d", e.ActualDepth,
			e.ActualStandard, e.RequiredDepth)

	case ReasonNetworkMismatch:
		return fmt.Sprintf("network in BIP-32 data (testnet=%v) does "+
			"not match the SLIP-132 key version prefix "+
			"(testnet=%v)", e.BipTestnet, e.SlipTestnet)

	case ReasonUnhardenedAccountKey:
		return fmt.Sprintf("account-level key for %s uses "+
			"non-hardened index %d", e.ActualStandard, e.Index)

	default:
		return "xpub does not satisfy requirements"
	}
}

// Is makes RequirementError match ErrRequirement.
func (e *RequirementError) Is(target error) bool {
	return target == ErrRequirement
}

// NonStandardReason enumerates why a derivation path is non-standard.
type NonStandardReason uint8

const (
	// NonStandardUnhardenedAccount means the account-level segment is not
	// hardened.
	NonStandardUnhardenedAccount NonStandardReason = iota

	// NonStandardUnhardenedCoinType means the coin-type segment is not
	// hardened.
	NonStandardUnhardenedCoinType
)

// NonStandardDerivationError reports a derivation path that violates the
// hardening rules of the deduced standard.
type NonStandardDerivationError struct {
	Reason NonStandardReason
	Index  uint32
}

// Error implements the error interface.
func (e *NonStandardDerivationError) Error() string {
	switch e.Reason {
	case NonStandardUnhardenedAccount:
		return fmt.Sprintf("account-level key derived at "+
			"non-hardened index %d", e.Index)

	case NonStandardUnhardenedCoinType:
		return fmt.Sprintf("coin type is a non-hardened index %d",
			e.Index)

	default:
		return "non-standard derivation"
	}
}

// Is makes NonStandardDerivationError match ErrNonStandardDerivation.
func (e *NonStandardDerivationError) Is(target error) bool {
	return target == ErrNonStandardDerivation
}
