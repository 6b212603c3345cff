package wallet

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mycitadel/citadel/taptree"
	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

var (
	// ErrUnsupportedDescriptor is returned when a descriptor cannot be
	// expressed in its script class, e.g. a timelock on a single-key
	// segwit v0 wallet.
	ErrUnsupportedDescriptor = errors.New("descriptor not expressible " +
		"in its script class")
)

// csvTimeGranularity is the 512-second unit of time-based relative locks,
// flagged by the type bit of the sequence field.
const (
	csvTimeGranularity = 512
	csvTypeTimeFlag    = 1 << 22
)

// derivedKey is one signer's pubkey derived at a concrete terminal.
type derivedKey struct {
	fingerprint xkey.Fingerprint
	pubkey      *btcec.PublicKey
}

// deriveKeys derives every signer's account key at the given terminal,
// preserving the descriptor's signer order.
func deriveKeys(desc *wdesc.Descriptor, change bool,
	index uint32) ([]derivedKey, error) {

	signers := desc.Signers()
	keys := make([]derivedKey, 0, len(signers))
	for _, signer := range signers {
		branch, err := signer.Xpub.Key.Derive(changeBranch(change))
		if err != nil {
			return nil, fmt.Errorf("unable to derive branch for "+
				"signer %s: %w", signer.Fingerprint, err)
		}

		child, err := branch.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("unable to derive index %d for "+
				"signer %s: %w", index, signer.Fingerprint, err)
		}

		pubkey, err := child.ECPubKey()
		if err != nil {
			return nil, err
		}

		keys = append(keys, derivedKey{
			fingerprint: signer.Fingerprint,
			pubkey:      pubkey,
		})
	}

	return keys, nil
}

// findKey returns the derived key belonging to the given master fingerprint.
func findKey(keys []derivedKey, fp xkey.Fingerprint) (*btcec.PublicKey, error) {
	for _, key := range keys {
		if key.fingerprint == fp {
			return key.pubkey, nil
		}
	}

	return nil, fmt.Errorf("%w: no key for signer %s",
		wdesc.ErrUnknownSigner, fp)
}

// appendTimelock appends the script encoding of a timelock requirement to the
// builder. Absolute locks use CLTV, relative locks CSV; time-based relative
// locks are expressed in 512-second units with the type flag set.
func appendTimelock(builder *txscript.ScriptBuilder, lock wdesc.TimelockReq) {
	switch lock.Kind {
	case wdesc.LockAnytime:

	case wdesc.LockAfterTime:
		builder.AddInt64(lock.Time.Unix())
		builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
		builder.AddOp(txscript.OP_DROP)

	case wdesc.LockAfterBlock:
		builder.AddInt64(int64(lock.Blocks))
		builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
		builder.AddOp(txscript.OP_DROP)

	case wdesc.LockOlderTime:
		// The span is the duration between the epoch and the
		// reference time, rounded up to the lock granularity.
		units := (lock.Time.Unix() + csvTimeGranularity - 1) /
			csvTimeGranularity
		builder.AddInt64(units | csvTypeTimeFlag)
		builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		builder.AddOp(txscript.OP_DROP)

	case wdesc.LockOlderBlock:
		builder.AddInt64(int64(lock.Blocks))
		builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		builder.AddOp(txscript.OP_DROP)
	}
}

// sigsThreshold resolves a signature requirement into a threshold over the
// full key set, or false when the requirement names a single specific key.
func sigsThreshold(sigs wdesc.SigsReq, keyCount int) (int, bool) {
	switch sigs.Kind {
	case wdesc.SigsAll:
		return keyCount, true

	case wdesc.SigsAtLeast:
		return int(sigs.Count), true

	case wdesc.SigsAny:
		return 1, true

	default:
		return 0, false
	}
}

// appendConditionFragment appends the witness script fragment of one
// condition: the timelock guard followed by a threshold CHECKMULTISIG over
// the lexicographically sorted keys, or a single-key CHECKSIG for specific
// signer requirements.
func appendConditionFragment(builder *txscript.ScriptBuilder,
	cond wdesc.SpendingCondition, keys []derivedKey) error {

	appendTimelock(builder, cond.Timelock)

	if cond.Sigs.Kind == wdesc.SigsSpecific {
		pubkey, err := findKey(keys, cond.Sigs.Signer)
		if err != nil {
			return err
		}

		builder.AddData(pubkey.SerializeCompressed())
		builder.AddOp(txscript.OP_CHECKSIG)

		return nil
	}

	threshold, ok := sigsThreshold(cond.Sigs, len(keys))
	if !ok {
		return fmt.Errorf("%w: unsupported signature requirement %s",
			ErrUnsupportedDescriptor, cond.Sigs)
	}

	serialized := make([][]byte, 0, len(keys))
	for _, key := range keys {
		serialized = append(serialized, key.pubkey.SerializeCompressed())
	}
	sort.Slice(serialized, func(i, j int) bool {
		return bytes.Compare(serialized[i], serialized[j]) < 0
	})

	builder.AddInt64(int64(threshold))
	for _, pubkey := range serialized {
		builder.AddData(pubkey)
	}
	builder.AddInt64(int64(len(serialized)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	return nil
}

// multisigWitnessScript builds the witness (or redeem) script of a
// multi-condition wallet: a single condition compiles to its fragment, while
// an ordered condition list compiles into an IF/ELSE ladder picking one
// branch per spend.
func multisigWitnessScript(conditions []wdesc.SpendingCondition,
	keys []derivedKey) ([]byte, error) {

	if len(conditions) == 0 {
		return nil, wdesc.ErrNoConditions
	}

	builder := txscript.NewScriptBuilder()
	for _, cond := range conditions[:len(conditions)-1] {
		builder.AddOp(txscript.OP_IF)
		err := appendConditionFragment(builder, cond, keys)
		if err != nil {
			return nil, err
		}
		builder.AddOp(txscript.OP_ELSE)
	}

	err := appendConditionFragment(
		builder, conditions[len(conditions)-1], keys,
	)
	if err != nil {
		return nil, err
	}

	for range conditions[:len(conditions)-1] {
		builder.AddOp(txscript.OP_ENDIF)
	}

	return builder.Script()
}

// multiAScript builds a tapscript threshold fragment over x-only keys:
// CHECKSIG/CHECKSIGADD chain followed by a NUMEQUAL against the threshold.
func multiAScript(threshold int, keys [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for i, key := range keys {
		builder.AddData(key)
		if i == 0 {
			builder.AddOp(txscript.OP_CHECKSIG)
		} else {
			builder.AddOp(txscript.OP_CHECKSIGADD)
		}
	}
	builder.AddInt64(int64(threshold))
	builder.AddOp(txscript.OP_NUMEQUAL)

	return builder.Script()
}

// conditionLeaves expands one condition into tapscript leaves. Threshold
// requirements produce a single multi-a leaf; an any-signature requirement
// produces one single-key leaf per signer, which keeps each satisfaction
// witness minimal.
func conditionLeaves(cond wdesc.SpendingCondition,
	keys []derivedKey) ([]taptree.Leaf, error) {

	xonly := make([][]byte, 0, len(keys))
	for _, key := range keys {
		xonly = append(xonly, schnorr.SerializePubKey(key.pubkey))
	}
	sort.Slice(xonly, func(i, j int) bool {
		return bytes.Compare(xonly[i], xonly[j]) < 0
	})

	singleKeyLeaf := func(key []byte) ([]byte, error) {
		builder := txscript.NewScriptBuilder()
		appendTimelock(builder, cond.Timelock)
		builder.AddData(key)
		builder.AddOp(txscript.OP_CHECKSIG)

		return builder.Script()
	}

	switch cond.Sigs.Kind {
	case wdesc.SigsAny:
		leaves := make([]taptree.Leaf, 0, len(xonly))
		for _, key := range xonly {
			script, err := singleKeyLeaf(key)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, taptree.Leaf{
				Depth:  1,
				Script: script,
			})
		}

		return leaves, nil

	case wdesc.SigsSpecific:
		pubkey, err := findKey(keys, cond.Sigs.Signer)
		if err != nil {
			return nil, err
		}

		script, err := singleKeyLeaf(schnorr.SerializePubKey(pubkey))
		if err != nil {
			return nil, err
		}

		return []taptree.Leaf{{Depth: 1, Script: script}}, nil
	}

	threshold, _ := sigsThreshold(cond.Sigs, len(keys))

	builder := txscript.NewScriptBuilder()
	appendTimelock(builder, cond.Timelock)
	prefix, err := builder.Script()
	if err != nil {
		return nil, err
	}

	multi, err := multiAScript(threshold, xonly)
	if err != nil {
		return nil, err
	}

	return []taptree.Leaf{{
		Depth:  1,
		Script: append(prefix, multi...),
	}}, nil
}

// taprootOutputKey computes the taproot output key of the descriptor at a
// terminal. A single-signer wallet uses the signer key for the key path and
// pushes any further conditions into the script tree; a multi-signer wallet
// uses an unsatisfiable internal key so every spend goes through a script
// path.
func taprootOutputKey(desc *wdesc.Descriptor, keys []derivedKey) (
	*btcec.PublicKey, error) {

	conditions := desc.Conditions()
	if len(conditions) == 0 {
		return nil, wdesc.ErrNoConditions
	}

	var (
		internal   *btcec.PublicKey
		scriptable []wdesc.SpendingCondition
	)
	if len(keys) == 1 {
		internal = keys[0].pubkey

		// The key path already satisfies an untimelocked first
		// condition.
		scriptable = conditions
		if conditions[0].Timelock.Kind == wdesc.LockAnytime {
			scriptable = conditions[1:]
		}
	} else {
		internal = xkey.UnsatisfiablePubKey()
		scriptable = conditions
	}

	if len(scriptable) == 0 {
		return taptree.OutputKey(internal, nil), nil
	}

	var leaves []taptree.Leaf
	for _, cond := range scriptable {
		condLeaves, err := conditionLeaves(cond, keys)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, condLeaves...)
	}

	tree, err := taptree.Fold(leaves)
	if err != nil {
		return nil, err
	}

	return taptree.OutputKey(internal, tree), nil
}

// DeriveAddress derives the wallet address at the given terminal, rendering
// the descriptor in its script class.
func DeriveAddress(desc *wdesc.Descriptor, change bool,
	index uint32) (btcutil.Address, error) {

	class, ok := desc.Class()
	if !ok {
		return nil, fmt.Errorf("%w: standard %s has no script class",
			ErrUnsupportedDescriptor, desc.Standard())
	}

	keys, err := deriveKeys(desc, change, index)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, wdesc.ErrNoSigners
	}

	params := desc.Network().Params()

	// Taproot always renders the same way; the key/script path split is
	// handled by the output key computation.
	if class == wdesc.ClassTaproot {
		outputKey, err := taprootOutputKey(desc, keys)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), params,
		)
	}

	single := len(keys) == 1
	conditions := desc.Conditions()
	if len(conditions) == 0 {
		return nil, wdesc.ErrNoConditions
	}

	// A lone key with a plain signature condition renders as a key hash;
	// everything else needs a full script.
	if single && len(conditions) == 1 &&
		conditions[0].Timelock.Kind == wdesc.LockAnytime &&
		conditions[0].Sigs.Kind != wdesc.SigsAtLeast {

		keyHash := btcutil.Hash160(keys[0].pubkey.SerializeCompressed())

		switch class {
		case wdesc.ClassPreSegwit:
			return btcutil.NewAddressPubKeyHash(keyHash, params)

		case wdesc.ClassSegwitV0:
			return btcutil.NewAddressWitnessPubKeyHash(
				keyHash, params,
			)

		case wdesc.ClassNestedV0:
			witness, err := btcutil.NewAddressWitnessPubKeyHash(
				keyHash, params,
			)
			if err != nil {
				return nil, err
			}

			redeem, err := txscript.PayToAddrScript(witness)
			if err != nil {
				return nil, err
			}

			return btcutil.NewAddressScriptHash(redeem, params)
		}
	}

	script, err := multisigWitnessScript(conditions, keys)
	if err != nil {
		return nil, err
	}

	switch class {
	case wdesc.ClassPreSegwit:
		return btcutil.NewAddressScriptHash(script, params)

	case wdesc.ClassSegwitV0:
		return btcutil.NewAddressWitnessScriptHash(
			chainhashSha256(script), params,
		)

	case wdesc.ClassNestedV0:
		witness, err := btcutil.NewAddressWitnessScriptHash(
			chainhashSha256(script), params,
		)
		if err != nil {
			return nil, err
		}

		redeem, err := txscript.PayToAddrScript(witness)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(redeem, params)
	}

	return nil, fmt.Errorf("%w: class %v", ErrUnsupportedDescriptor, class)
}

// DeriveScriptPubkey derives the script pubkey at the given terminal.
func DeriveScriptPubkey(desc *wdesc.Descriptor, change bool,
	index uint32) ([]byte, error) {

	addr, err := DeriveAddress(desc, change, index)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// DeriveAddressSource derives the address at a terminal together with its
// derivation data.
func DeriveAddressSource(desc *wdesc.Descriptor, change bool,
	index uint32) (AddressSource, error) {

	addr, err := DeriveAddress(desc, change, index)
	if err != nil {
		return AddressSource{}, err
	}

	return AddressSource{
		Address: addr,
		Change:  change,
		Index:   index,
	}, nil
}

// DerivePrevoutScript derives the script pubkey of a known prevout.
func DerivePrevoutScript(desc *wdesc.Descriptor, prevout Prevout) (
	[]byte, error) {

	return DeriveScriptPubkey(desc, prevout.Change, prevout.Index)
}

// witnessScriptAt rebuilds the witness (or redeem) script backing a
// script-hash terminal. Key-hash terminals return nil.
func witnessScriptAt(desc *wdesc.Descriptor, change bool,
	index uint32) ([]byte, error) {

	keys, err := deriveKeys(desc, change, index)
	if err != nil {
		return nil, err
	}

	conditions := desc.Conditions()
	single := len(keys) == 1
	if single && len(conditions) == 1 &&
		conditions[0].Timelock.Kind == wdesc.LockAnytime &&
		conditions[0].Sigs.Kind != wdesc.SigsAtLeast {

		return nil, nil
	}

	return multisigWitnessScript(conditions, keys)
}

// chainhashSha256 hashes a witness script for p2wsh program construction.
func chainhashSha256(script []byte) []byte {
	sum := sha256.Sum256(script)

	return sum[:]
}
