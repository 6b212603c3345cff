package wdesc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mycitadel/citadel/xkey"
)

var (
	// ErrNoSigners is returned when a spending condition is added to a
	// descriptor that has no signers yet.
	ErrNoSigners = errors.New("unable to add spending condition when no " +
		"signers are present")

	// ErrDuplicateCondition is returned when an identical spending
	// condition is already present.
	ErrDuplicateCondition = errors.New("duplicated spending condition")

	// ErrInsufficientSigners is returned when a threshold condition
	// requires more signatures than there are signers.
	ErrInsufficientSigners = errors.New("insufficient number of signers " +
		"to support spending condition requirements")

	// ErrUnknownSigner is returned when a condition references a signer
	// fingerprint that is not part of the descriptor.
	ErrUnknownSigner = errors.New("spending condition references " +
		"unknown signer")

	// ErrNoConditions is returned when scripts are derived from a
	// descriptor that has no spending conditions.
	ErrNoConditions = errors.New("descriptor has no spending conditions")
)

// Descriptor describes how a wallet derives its scripts: a derivation
// standard, the signer set, the spending conditions and the network.
type Descriptor struct {
	standard   xkey.Standard
	signers    []*Signer
	conditions []SpendingCondition
	network    Network
}

// NewDescriptor creates an empty descriptor for the given standard and
// network.
func NewDescriptor(standard xkey.Standard, network Network) *Descriptor {
	return &Descriptor{
		standard: standard,
		network:  network,
	}
}

// Standard returns the derivation standard of the descriptor.
func (d *Descriptor) Standard() xkey.Standard {
	return d.standard
}

// Network returns the network of the descriptor.
func (d *Descriptor) Network() Network {
	return d.network
}

// Class returns the script class produced by the descriptor.
func (d *Descriptor) Class() (DescriptorClass, bool) {
	return ClassOf(d.standard)
}

// Signers returns the signer set ordered by xpub.
func (d *Descriptor) Signers() []*Signer {
	out := make([]*Signer, len(d.signers))
	copy(out, d.signers)

	return out
}

// Conditions returns the spending conditions in the order they were added.
func (d *Descriptor) Conditions() []SpendingCondition {
	out := make([]SpendingCondition, len(d.conditions))
	copy(out, d.conditions)

	return out
}

// FindSigner looks a signer up by master fingerprint.
func (d *Descriptor) FindSigner(fp xkey.Fingerprint) (*Signer, bool) {
	for _, signer := range d.signers {
		if signer.Fingerprint == fp {
			return signer, true
		}
	}

	return nil, false
}

// AddSigner inserts a signer into the set, keeping the set ordered by xpub.
// It reports whether the signer was actually added: signers with an already
// present xpub are dropped.
func (d *Descriptor) AddSigner(signer *Signer) bool {
	for _, existing := range d.signers {
		if existing.Equal(signer) {
			return false
		}
	}

	d.signers = append(d.signers, signer)
	sort.Slice(d.signers, func(i, j int) bool {
		return d.signers[i].Less(d.signers[j])
	})

	return true
}

// AddCondition appends a spending condition after validating it against the
// current signer set.
func (d *Descriptor) AddCondition(condition SpendingCondition) error {
	if len(d.signers) == 0 {
		return ErrNoSigners
	}

	for _, existing := range d.conditions {
		if existing.Equal(condition) {
			return fmt.Errorf("%w: %s", ErrDuplicateCondition,
				condition)
		}
	}

	switch condition.Sigs.Kind {
	case SigsAtLeast:
		if int(condition.Sigs.Count) > len(d.signers) {
			return fmt.Errorf("%w: %d signers, condition %s",
				ErrInsufficientSigners, len(d.signers),
				condition)
		}

	case SigsSpecific:
		_, found := d.FindSigner(condition.Sigs.Signer)
		if !found {
			return fmt.Errorf("%w: condition %s, signer %s",
				ErrUnknownSigner, condition,
				condition.Sigs.Signer)
		}
	}

	d.conditions = append(d.conditions, condition)

	return nil
}
