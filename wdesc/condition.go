package wdesc

import (
	"fmt"
	"time"

	"github.com/mycitadel/citadel/xkey"
)

// SigsReqKind enumerates the signature requirement forms.
type SigsReqKind uint8

const (
	// SigsAll requires a signature from every signer.
	SigsAll SigsReqKind = iota

	// SigsAtLeast requires signatures from at least Count signers.
	SigsAtLeast

	// SigsSpecific requires a signature from one specific signer.
	SigsSpecific

	// SigsAny requires a signature from any single signer.
	SigsAny
)

// SigsReq is the signature part of a spending condition.
type SigsReq struct {
	Kind SigsReqKind

	// Count is the threshold for SigsAtLeast.
	Count uint16

	// Signer is the master fingerprint for SigsSpecific.
	Signer xkey.Fingerprint
}

// ReqAll requires all signatures.
func ReqAll() SigsReq { return SigsReq{Kind: SigsAll} }

// ReqAtLeast requires at least n signatures.
func ReqAtLeast(n uint16) SigsReq {
	return SigsReq{Kind: SigsAtLeast, Count: n}
}

// ReqSpecific requires a signature by the given signer.
func ReqSpecific(fp xkey.Fingerprint) SigsReq {
	return SigsReq{Kind: SigsSpecific, Signer: fp}
}

// ReqAny requires any single signature.
func ReqAny() SigsReq { return SigsReq{Kind: SigsAny} }

// String returns the human description of the requirement.
func (r SigsReq) String() string {
	switch r.Kind {
	case SigsAll:
		return "all signatures"
	case SigsAtLeast:
		return fmt.Sprintf("at least %d signatures", r.Count)
	case SigsSpecific:
		return fmt.Sprintf("signature by %s", r.Signer)
	case SigsAny:
		return "any signature"
	default:
		return "unknown signature requirement"
	}
}

// TimelockKind enumerates the timelock requirement forms.
type TimelockKind uint8

const (
	// LockAnytime places no timelock on the condition.
	LockAnytime TimelockKind = iota

	// LockAfterTime requires the chain median time to have passed an
	// absolute date (CLTV).
	LockAfterTime

	// LockAfterBlock requires the chain to have reached an absolute
	// height (CLTV).
	LockAfterBlock

	// LockOlderTime requires the spent output to have aged by a relative
	// time span (CSV).
	LockOlderTime

	// LockOlderBlock requires the spent output to have aged by a relative
	// number of blocks (CSV).
	LockOlderBlock
)

// TimelockReq is the timelock part of a spending condition.
type TimelockReq struct {
	Kind TimelockKind

	// Time is the absolute date for LockAfterTime, or the reference date
	// a relative LockOlderTime span is computed from.
	Time time.Time

	// Blocks is the height for LockAfterBlock or the age for
	// LockOlderBlock.
	Blocks uint32
}

// LockNone places no timelock on a condition.
func LockNone() TimelockReq { return TimelockReq{Kind: LockAnytime} }

// LockAfterDate requires an absolute date to have passed.
func LockAfterDate(t time.Time) TimelockReq {
	return TimelockReq{Kind: LockAfterTime, Time: t.UTC()}
}

// LockAfterHeight requires an absolute block height to have been reached.
func LockAfterHeight(height uint32) TimelockReq {
	return TimelockReq{Kind: LockAfterBlock, Blocks: height}
}

// LockOlderDate requires the output to be older than the given date span
// reference.
func LockOlderDate(t time.Time) TimelockReq {
	return TimelockReq{Kind: LockOlderTime, Time: t.UTC()}
}

// LockOlderHeight requires the output to have aged the given number of
// blocks.
func LockOlderHeight(blocks uint32) TimelockReq {
	return TimelockReq{Kind: LockOlderBlock, Blocks: blocks}
}

// String returns the human description of the timelock.
func (r TimelockReq) String() string {
	switch r.Kind {
	case LockAnytime:
		return "anytime"
	case LockAfterTime:
		return fmt.Sprintf("after date %s", r.Time.Format("2006-01-02"))
	case LockAfterBlock:
		return fmt.Sprintf("after block %d", r.Blocks)
	case LockOlderTime:
		return fmt.Sprintf("after %s", r.Time.Format("2006-01-02"))
	case LockOlderBlock:
		return fmt.Sprintf("after %d blocks", r.Blocks)
	default:
		return "unknown timelock requirement"
	}
}

// SpendingCondition pairs a signature requirement with a timelock. A wallet
// descriptor holds an ordered list of these; an output is spendable when any
// one of them is satisfied.
type SpendingCondition struct {
	Sigs     SigsReq
	Timelock TimelockReq
}

// String returns the human description of the condition.
func (c SpendingCondition) String() string {
	return fmt.Sprintf("%s %s", c.Sigs, c.Timelock)
}

// Equal reports whether two conditions are identical.
func (c SpendingCondition) Equal(other SpendingCondition) bool {
	if c.Sigs != other.Sigs {
		return false
	}
	if c.Timelock.Kind != other.Timelock.Kind {
		return false
	}
	if c.Timelock.Blocks != other.Timelock.Blocks {
		return false
	}

	return c.Timelock.Time.Equal(other.Timelock.Time)
}

// CondAll is a condition satisfied by all signatures at any time.
func CondAll() SpendingCondition {
	return SpendingCondition{Sigs: ReqAll(), Timelock: LockNone()}
}

// CondAtLeast is a condition satisfied by a signature threshold at any time.
func CondAtLeast(n uint16) SpendingCondition {
	return SpendingCondition{Sigs: ReqAtLeast(n), Timelock: LockNone()}
}

// CondAfterDate is a condition satisfied by the given signature requirement
// once an absolute date has passed.
func CondAfterDate(sigs SigsReq, t time.Time) SpendingCondition {
	return SpendingCondition{Sigs: sigs, Timelock: LockAfterDate(t)}
}

// CondAnybodyAfterDate is an escape-hatch condition: any single signature
// once an absolute date has passed.
func CondAnybodyAfterDate(t time.Time) SpendingCondition {
	return SpendingCondition{Sigs: ReqAny(), Timelock: LockAfterDate(t)}
}
