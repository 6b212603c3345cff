package wdesc

import (
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/mycitadel/citadel/xkey"
)

// Ownership tells whether the wallet holds the signing key for a signer or
// only watches it.
type Ownership uint8

const (
	// OwnershipMine marks a signer whose key material is controlled by
	// this wallet's user (software or hardware).
	OwnershipMine Ownership = iota

	// OwnershipExternal marks a co-signer key that is only watched.
	OwnershipExternal
)

// String returns the ownership name.
func (o Ownership) String() string {
	if o == OwnershipMine {
		return "mine"
	}

	return "external"
}

// ParseOwnership parses an ownership name as rendered by String.
func ParseOwnership(s string) (Ownership, error) {
	switch s {
	case "mine":
		return OwnershipMine, nil
	case "external":
		return OwnershipExternal, nil
	default:
		return 0, fmt.Errorf("unknown ownership %q", s)
	}
}

// Signer is one participant key of a wallet descriptor: an account-level
// xpub together with its origin and display metadata.
type Signer struct {
	// Fingerprint is the master key fingerprint the signer derives from.
	// It is zero for keys whose master is unknown.
	Fingerprint xkey.Fingerprint

	// Origin is the derivation path from the master key to the account
	// xpub.
	Origin xkey.DerivationPath

	// Account is the hardened account index, when the origin follows a
	// standard that defines one.
	Account fn.Option[xkey.HardenedIndex]

	// Xpub is the account-level extended public key.
	Xpub *xkey.XpubDescriptor

	// Device identifies the hardware device type holding the key, empty
	// for software and watch-only signers.
	Device string

	// Name is the user-facing signer name.
	Name string

	// Ownership tells whether the key is ours or external.
	Ownership Ownership
}

// NewSignerFromXpub builds a signer from a bare account xpub, reconstructing
// the origin information the same way the key would have been derived under
// the given standard:
//
//   - a depth-0 key is its own master with an empty origin;
//   - a depth-1 key hangs directly under its parent;
//   - deeper keys are assumed to be account-level keys of the standard.
func NewSignerFromXpub(xpub *xkey.XpubDescriptor, standard xkey.Standard,
	network Network) (*Signer, error) {

	var (
		fingerprint xkey.Fingerprint
		origin      xkey.DerivationPath
	)

	switch xpub.Depth {
	case 0:
		fp, err := xpub.Fingerprint()
		if err != nil {
			return nil, err
		}
		fingerprint = fp
		origin = xkey.DerivationPath{}

	case 1:
		fingerprint = xpub.ParentFingerprint
		origin = xkey.DerivationPath{xpub.ChildNumber}

	default:
		account, hardened := xkey.NewHardenedIndex(xpub.ChildNumber)
		if !hardened {
			account = 0
		}
		origin = standard.AccountDerivation(
			account, network.IsTestnet(),
		)
	}

	return &Signer{
		Fingerprint: fingerprint,
		Origin:      origin,
		Account:     xkey.ClassifyOrigin(origin).AccountIndex(),
		Xpub:        xpub,
		Ownership:   OwnershipExternal,
	}, nil
}

// AccountString renders the account index, or "n/a" when the origin does not
// define one.
func (s *Signer) AccountString() string {
	if s.Account.IsNone() {
		return "n/a"
	}

	return s.Account.UnwrapOr(0).String()
}

// OriginFormat classifies the signer's origin path for display.
func (s *Signer) OriginFormat() xkey.OriginFormat {
	return xkey.ClassifyOrigin(s.Origin)
}

// Key returns the canonical serialization the signer is identified by.
func (s *Signer) Key() string {
	return s.Xpub.String()
}

// Equal reports signer identity. Two signers are the same when their xpubs
// are the same, regardless of metadata.
func (s *Signer) Equal(other *Signer) bool {
	return s.Key() == other.Key()
}

// Less orders signers by their xpub serialization, which keeps signer sets
// deterministic across runs.
func (s *Signer) Less(other *Signer) bool {
	return strings.Compare(s.Key(), other.Key()) < 0
}
