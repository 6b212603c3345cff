package wdesc

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/mycitadel/citadel/xkey"
)

var (
	// ErrBadTemplateThreshold is returned when a template preset is
	// created with a signature threshold it cannot express.
	ErrBadTemplateThreshold = errors.New("invalid template signature " +
		"threshold")

	// ErrTemplateSignerCount is returned when resolving a template whose
	// signer count constraints are not met.
	ErrTemplateSignerCount = errors.New("signer count outside template " +
		"bounds")

	// ErrTemplateSignerKind is returned when a signer violates the
	// hardware/watch-only requirements of a template.
	ErrTemplateSignerKind = errors.New("signer kind not allowed by " +
		"template")
)

// Requirement is a three-state constraint used by templates for optional
// signer properties.
type Requirement uint8

const (
	// Allow permits but does not demand the property.
	Allow Requirement = iota

	// Require demands the property.
	Require

	// Deny forbids the property.
	Deny
)

// String returns the requirement name.
func (r Requirement) String() string {
	switch r {
	case Require:
		return "require"
	case Deny:
		return "deny"
	default:
		return "allow"
	}
}

// Template is a constrained pre-form of a wallet descriptor used by the
// setup flows. Unlike a Descriptor it does not require consistency between
// the signer set and the condition parameters: the consistency is enforced
// later, when the template is resolved against actual signers.
type Template struct {
	// Standard is the derivation standard of the future descriptor.
	Standard xkey.Standard

	// MinSignerCount and MaxSignerCount bound the signer set size.
	MinSignerCount fn.Option[uint16]
	MaxSignerCount fn.Option[uint16]

	// HardwareReq constrains hardware signers, WatchOnlyReq watch-only
	// ones.
	HardwareReq  Requirement
	WatchOnlyReq Requirement

	// Conditions are the spending conditions ordered by priority.
	Conditions []SpendingCondition

	// Network is the network of the future descriptor.
	Network Network
}

// escrowYears is the horizon used by the template presets for their
// escape-hatch conditions.
const (
	escrowMajorityYears = 3
	escrowAnybodyYears  = 5
)

// SinglesigTemplate is the preset for a wallet with exactly one signer,
// using taproot (BIP-86) or native segwit (BIP-84) derivation. When a
// hardware signer is required, watch-only keys are denied and vice versa.
func SinglesigTemplate(taproot bool, network Network,
	requireHardware bool) Template {

	standard := xkey.Bip84
	if taproot {
		standard = xkey.Bip86
	}

	hardwareReq, watchOnlyReq := Deny, Require
	if requireHardware {
		hardwareReq, watchOnlyReq = Require, Deny
	}

	return Template{
		Standard:       standard,
		MinSignerCount: fn.Some[uint16](1),
		MaxSignerCount: fn.Some[uint16](1),
		HardwareReq:    hardwareReq,
		WatchOnlyReq:   watchOnlyReq,
		Conditions:     []SpendingCondition{CondAll()},
		Network:        network,
	}
}

// MultisigTemplate is the preset for an N-signer wallet using BIP-48 native
// segwit derivation. The condition ladder depends on the requested
// threshold:
//
//   - no threshold: a single all-signatures condition;
//   - 2 signers: all signatures, or anybody after five years;
//   - 3 signers: any two, or anybody after five years;
//   - N signers: any N-1, a majority after three years, or anybody after
//     five years.
//
// Thresholds of zero or one are rejected: they do not describe a multisig.
func MultisigTemplate(network Network, sigsRequired fn.Option[uint16],
	hardwareReq, watchOnlyReq Requirement) (Template, error) {

	now := time.Now().UTC()
	anybodyAfter := now.AddDate(escrowAnybodyYears, 0, 0)
	majorityAfter := now.AddDate(escrowMajorityYears, 0, 0)

	var conditions []SpendingCondition
	count := sigsRequired.UnwrapOr(0)
	switch {
	case sigsRequired.IsNone():
		conditions = []SpendingCondition{CondAll()}

	case count <= 1:
		return Template{}, fmt.Errorf("%w: multisig requires more "+
			"than one signature, got %d", ErrBadTemplateThreshold,
			count)

	case count == 2:
		conditions = []SpendingCondition{
			CondAll(),
			CondAnybodyAfterDate(anybodyAfter),
		}

	case count == 3:
		conditions = []SpendingCondition{
			CondAtLeast(2),
			CondAnybodyAfterDate(anybodyAfter),
		}

	default:
		majority := count/2 + count%2
		conditions = []SpendingCondition{
			CondAtLeast(count - 1),
			CondAfterDate(ReqAtLeast(majority), majorityAfter),
			CondAnybodyAfterDate(anybodyAfter),
		}
	}

	minCount := sigsRequired
	if minCount.IsNone() {
		minCount = fn.Some[uint16](2)
	}

	return Template{
		Standard:       xkey.Bip48Native,
		MinSignerCount: minCount,
		MaxSignerCount: fn.None[uint16](),
		HardwareReq:    hardwareReq,
		WatchOnlyReq:   watchOnlyReq,
		Conditions:     conditions,
		Network:        network,
	}, nil
}

// HodlingTemplate is the preset for long-term storage wallets: all
// signatures, with an anybody escape hatch after five years. It requires at
// least three signers.
func HodlingTemplate(network Network, sigsRequired uint16,
	hardwareReq, watchOnlyReq Requirement) (Template, error) {

	if sigsRequired < 3 {
		return Template{}, fmt.Errorf("%w: hodling requires at "+
			"least 3 signers, got %d", ErrBadTemplateThreshold,
			sigsRequired)
	}

	now := time.Now().UTC()

	return Template{
		Standard:       xkey.Bip48Native,
		MinSignerCount: fn.Some(sigsRequired),
		MaxSignerCount: fn.None[uint16](),
		HardwareReq:    hardwareReq,
		WatchOnlyReq:   watchOnlyReq,
		Conditions: []SpendingCondition{
			CondAll(),
			CondAnybodyAfterDate(
				now.AddDate(escrowAnybodyYears, 0, 0),
			),
		},
		Network: network,
	}, nil
}

// Resolve validates a signer set against the template constraints and
// produces a full descriptor from it.
func (t Template) Resolve(signers []*Signer) (*Descriptor, error) {
	count := uint16(len(signers))
	if count < t.MinSignerCount.UnwrapOr(0) {
		return nil, fmt.Errorf("%w: got %d, need at least %d",
			ErrTemplateSignerCount, count,
			t.MinSignerCount.UnwrapOr(0))
	}
	max := t.MaxSignerCount.UnwrapOr(count)
	if count > max {
		return nil, fmt.Errorf("%w: got %d, need at most %d",
			ErrTemplateSignerCount, count, max)
	}

	for _, signer := range signers {
		hardware := signer.Device != ""
		watchOnly := !hardware &&
			signer.Ownership == OwnershipExternal

		if hardware && t.HardwareReq == Deny {
			return nil, fmt.Errorf("%w: hardware signer %s "+
				"denied", ErrTemplateSignerKind, signer.Name)
		}
		if !hardware && t.HardwareReq == Require {
			return nil, fmt.Errorf("%w: signer %s is not a "+
				"hardware signer", ErrTemplateSignerKind,
				signer.Name)
		}
		if watchOnly && t.WatchOnlyReq == Deny {
			return nil, fmt.Errorf("%w: watch-only signer %s "+
				"denied", ErrTemplateSignerKind, signer.Name)
		}
	}

	descriptor := NewDescriptor(t.Standard, t.Network)
	for _, signer := range signers {
		descriptor.AddSigner(signer)
	}
	for _, condition := range t.Conditions {
		err := descriptor.AddCondition(condition)
		if err != nil {
			return nil, err
		}
	}

	return descriptor, nil
}
