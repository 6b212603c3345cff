// Package xkey implements parsing, validation and origin tracking for the
// extended public keys a descriptor wallet is built from. It understands both
// plain BIP-32 serializations and SLIP-132 version prefixes, deduces the
// derivation standard a key is meant for, and provides provably unspendable
// keys for taproot internal key slots.
package xkey

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrPrivateKey is returned when an extended private key is supplied
	// where a public key is expected.
	ErrPrivateKey = errors.New("extended private key supplied where an " +
		"xpub is expected")
)

// XpubDescriptor is the deterministic part of an extended public key together
// with the origin information needed to use it inside a wallet descriptor.
type XpubDescriptor struct {
	// Testnet is true when the key is serialized for a testnet-family
	// network.
	Testnet bool

	// Depth is the BIP-32 derivation depth of the key.
	Depth uint8

	// ParentFingerprint is the fingerprint of the direct parent key.
	ParentFingerprint Fingerprint

	// ChildNumber is the raw child number the key was derived at.
	ChildNumber uint32

	// Key is the underlying extended public key.
	Key *hdkeychain.ExtendedKey

	// MasterFingerprint is the fingerprint of the master key this xpub
	// descends from, when known.
	MasterFingerprint fn.Option[Fingerprint]

	// Standard is the derivation standard the key is meant for, when
	// known.
	Standard fn.Option[Standard]

	// Account is the hardened account index the key was derived at, when
	// the standard defines one.
	Account fn.Option[HardenedIndex]
}

// netParams returns chain parameters matching the key's network. Signet and
// testnet share extended key serialization prefixes, so testnet params cover
// the whole testnet family here.
func netParams(testnet bool) *chaincfg.Params {
	if testnet {
		return &chaincfg.TestNet3Params
	}

	return &chaincfg.MainNetParams
}

// fromExtendedKey fills the deterministic fields from an hdkeychain key.
func fromExtendedKey(key *hdkeychain.ExtendedKey) (*XpubDescriptor, error) {
	if key.IsPrivate() {
		return nil, ErrPrivateKey
	}

	var parentFP Fingerprint
	pfp := key.ParentFingerprint()
	parentFP[0] = byte(pfp >> 24)
	parentFP[1] = byte(pfp >> 16)
	parentFP[2] = byte(pfp >> 8)
	parentFP[3] = byte(pfp)

	return &XpubDescriptor{
		Testnet:           !key.IsForNet(&chaincfg.MainNetParams),
		Depth:             key.Depth(),
		ParentFingerprint: parentFP,
		ChildNumber:       key.ChildIndex(),
		Key:               key,
	}, nil
}

// ParseXpub parses an extended public key string in either plain BIP-32 or
// SLIP-132 form, running the consistency checks of With against the SLIP-132
// version information when present.
func ParseXpub(s string) (*XpubDescriptor, error) {
	normalized, kv, err := normalizeSlip132(s)
	if err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewKeyFromString(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse xpub: %w", err)
	}

	return With(fn.None[Fingerprint](), key, fn.None[Standard](), &kv)
}

// With constructs origin information for an account-level (or deeper) xpub,
// cross-checking the BIP-32 serialization against an optional SLIP-132 key
// version and an optional required derivation standard:
//
//   - the SLIP-132 standard, when present, must match the required standard;
//   - the SLIP-132 network must match the BIP-32 network;
//   - when the SLIP-132 standard defines an account depth, the key must not
//     be shallower than it, and a key at the account depth must be derived
//     at a hardened index.
func With(masterFP fn.Option[Fingerprint], key *hdkeychain.ExtendedKey,
	required fn.Option[Standard], slip *KeyVersion) (*XpubDescriptor,
	error) {

	xd, err := fromExtendedKey(key)
	if err != nil {
		return nil, err
	}

	slipStandard := fn.None[Standard]()
	if slip != nil && slip.HasStandard {
		slipStandard = fn.Some(slip.Standard)
	}

	if required.IsSome() && slipStandard.IsSome() {
		req := required.UnwrapOr(0)
		act := slipStandard.UnwrapOr(0)
		if req != act {
			return nil, &RequirementError{
				Reason:           ReasonStandardMismatch,
				ActualStandard:   act.String(),
				RequiredStandard: req.String(),
			}
		}
	}

	if slip != nil && slip.Testnet != xd.Testnet {
		return nil, &RequirementError{
			Reason:      ReasonNetworkMismatch,
			SlipTestnet: slip.Testnet,
			BipTestnet:  xd.Testnet,
		}
	}

	if slipStandard.IsSome() {
		standard := slipStandard.UnwrapOr(0)
		requiredDepth := standard.AccountDepth()
		if xd.Depth < requiredDepth {
			return nil, &RequirementError{
				Reason:         ReasonShallowKey,
				ActualStandard: standard.String(),
				RequiredDepth:  requiredDepth,
				ActualDepth:    xd.Depth,
			}
		}

		account, hardened := NewHardenedIndex(xd.ChildNumber)
		if !hardened {
			return nil, &RequirementError{
				Reason:         ReasonUnhardenedAccountKey,
				ActualStandard: standard.String(),
				Index:          xd.ChildNumber,
			}
		}
		xd.Account = fn.Some(account)
	}

	xd.MasterFingerprint = masterFP
	xd.Standard = required
	if xd.Standard.IsNone() {
		xd.Standard = slipStandard
	}

	return xd, nil
}

// Deduce derives origin information from the derivation path the key was
// produced with, in addition to the checks performed by With. The path must
// follow the hardening rules of its standard (hardened account and coin-type
// segments), and the network encoded in the coin type must agree with the
// SLIP-132 prefix when one is present.
func Deduce(masterFP fn.Option[Fingerprint], source DerivationPath,
	key *hdkeychain.ExtendedKey, slip *KeyVersion) (*XpubDescriptor,
	error) {

	standard, ok := DeduceStandard(source)
	if ok {
		_, _, err := standard.ExtractAccount(source)
		if err != nil {
			return nil, err
		}

		pathTestnet, hasNet, err := standard.ExtractTestnet(source)
		if err != nil {
			return nil, err
		}
		if hasNet && slip != nil && slip.Testnet != pathTestnet {
			return nil, &RequirementError{
				Reason:      ReasonNetworkMismatch,
				SlipTestnet: slip.Testnet,
				BipTestnet:  pathTestnet,
			}
		}
	}

	required := fn.None[Standard]()
	if ok {
		required = fn.Some(standard)
	}

	xd, err := With(masterFP, key, required, slip)
	if err != nil {
		return nil, err
	}

	if xd.Account.IsNone() && ok {
		account, hasAccount, err := standard.ExtractAccount(source)
		if err == nil && hasAccount {
			xd.Account = fn.Some(account)
		}
	}

	return xd, nil
}

// Identifier returns the BIP-32 identifier (HASH160 of the serialized public
// key) of the xpub.
func (x *XpubDescriptor) Identifier() ([]byte, error) {
	pub, err := x.Key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("extract pubkey: %w", err)
	}

	return btcutil.Hash160(pub.SerializeCompressed()), nil
}

// Fingerprint returns the first four identifier bytes.
func (x *XpubDescriptor) Fingerprint() (Fingerprint, error) {
	id, err := x.Identifier()
	if err != nil {
		return Fingerprint{}, err
	}

	return FingerprintFromBytes(id[:4])
}

// String returns the plain BIP-32 serialization of the key.
func (x *XpubDescriptor) String() string {
	return x.Key.String()
}

// Params returns the chain parameters matching the key's network family.
func (x *XpubDescriptor) Params() *chaincfg.Params {
	return netParams(x.Testnet)
}
