package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/mycitadel/citadel/wdesc"
)

var (
	// ErrNoBeneficiaries is returned when a payment is composed without
	// outputs.
	ErrNoBeneficiaries = errors.New("no beneficiaries given")

	// ErrInsufficientFunds is returned when the wallet utxo set cannot
	// cover the payment amount plus fees.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDustOutput is returned when a beneficiary amount is below the
	// dust threshold.
	ErrDustOutput = errors.New("output amount below dust threshold")
)

// nonFinalSequence opts composed inputs into replace-by-fee while keeping
// absolute locktimes enforceable.
const nonFinalSequence = wire.MaxTxInSequenceNum - 2

// Beneficiary is one payment destination.
type Beneficiary struct {
	// Script is the destination script pubkey.
	Script []byte

	// Amount is the payment amount.
	Amount btcutil.Amount
}

// NewBeneficiary builds a beneficiary from an address.
func NewBeneficiary(addr btcutil.Address, amount btcutil.Amount) (
	Beneficiary, error) {

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Beneficiary{}, err
	}

	return Beneficiary{Script: script, Amount: amount}, nil
}

// ComposePsbt builds an unsigned PSBT paying the beneficiaries from the
// wallet's unspent outputs. Inputs are selected largest first; the change,
// when above dust, returns to the wallet's next unused change address. The
// fee rate is given in satoshis per kilo-vbyte.
func (w *Wallet) ComposePsbt(beneficiaries []Beneficiary,
	feeRatePerKvb btcutil.Amount) (*psbt.Packet, error) {

	if len(beneficiaries) == 0 {
		return nil, ErrNoBeneficiaries
	}

	var (
		outputs []*wire.TxOut
		target  btcutil.Amount
	)
	for _, beneficiary := range beneficiaries {
		txOut := wire.NewTxOut(
			int64(beneficiary.Amount), beneficiary.Script,
		)

		err := txrules.CheckOutput(txOut, txrules.DefaultRelayFeePerKb)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDustOutput, err)
		}

		outputs = append(outputs, txOut)
		target += beneficiary.Amount
	}

	changeIndex := w.NextUnusedIndex(true)
	changeScript, err := DeriveScriptPubkey(
		w.cfg.Descriptor, true, changeIndex,
	)
	if err != nil {
		return nil, err
	}

	// Select the largest coins until they cover the target plus the fee
	// of the transaction as selected so far.
	utxos := w.Utxos()

	var (
		selected      []UtxoTxid
		selectedValue btcutil.Amount
		fee           btcutil.Amount
	)
	for _, utxo := range utxos {
		selected = append(selected, utxo)
		selectedValue += utxo.Value

		fee = w.feeForSelection(
			len(selected), outputs, len(changeScript),
			feeRatePerKvb,
		)
		if selectedValue >= target+fee {
			break
		}
	}
	if selectedValue < target+fee {
		return nil, fmt.Errorf("%w: have %v, need %v",
			ErrInsufficientFunds, selectedValue, target+fee)
	}

	unsigned := wire.NewMsgTx(2)
	for _, utxo := range selected {
		outpoint := utxo.Outpoint()
		txIn := wire.NewTxIn(&outpoint, nil, nil)
		txIn.Sequence = nonFinalSequence
		unsigned.AddTxIn(txIn)
	}
	for _, txOut := range outputs {
		unsigned.AddTxOut(txOut)
	}

	// Return the change when it is worth claiming; otherwise it stays
	// with the miners.
	change := selectedValue - target - fee
	changeOut := wire.NewTxOut(int64(change), changeScript)
	hasChange := change > 0 &&
		!txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb)
	if hasChange {
		unsigned.AddTxOut(changeOut)
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, err
	}

	for i, utxo := range selected {
		err := w.decorateInput(packet, i, utxo)
		if err != nil {
			return nil, err
		}
	}
	if hasChange {
		err := w.decorateOutput(
			packet, len(outputs), true, changeIndex,
		)
		if err != nil {
			return nil, err
		}
	}

	w.AttachSignerNames(packet)

	log.Infof("Composed payment of %v to %d beneficiaries: %d inputs, "+
		"fee %v, change %v", target, len(beneficiaries),
		len(selected), fee, change)

	return packet, nil
}

// feeForSelection estimates the fee of the transaction built from the
// current selection. Script-path input weights vary with the descriptor, so
// multi-signer inputs are sized as their closest single-signer estimator
// class.
func (w *Wallet) feeForSelection(numInputs int, outputs []*wire.TxOut,
	changeScriptSize int, feeRatePerKvb btcutil.Amount) btcutil.Amount {

	var p2pkh, p2tr, p2wpkh, nested int
	class, _ := w.cfg.Descriptor.Class()
	switch class {
	case wdesc.ClassPreSegwit:
		p2pkh = numInputs

	case wdesc.ClassTaproot:
		p2tr = numInputs

	case wdesc.ClassNestedV0:
		nested = numInputs

	default:
		p2wpkh = numInputs
	}

	vsize := txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, outputs, changeScriptSize,
	)

	return txrules.FeeForSerializeSize(feeRatePerKvb, vsize)
}

// decorateInput fills one packet input with the witness utxo, the signing
// derivations of every signer and the witness script where one exists.
func (w *Wallet) decorateInput(packet *psbt.Packet, index int,
	utxo UtxoTxid) error {

	desc := w.cfg.Descriptor

	script, err := DeriveScriptPubkey(
		desc, utxo.Address.Change, utxo.Address.Index,
	)
	if err != nil {
		return err
	}

	input := &packet.Inputs[index]
	input.WitnessUtxo = wire.NewTxOut(int64(utxo.Value), script)

	class, _ := desc.Class()
	if class == wdesc.ClassTaproot {
		input.SighashType = txscript.SigHashDefault
	} else {
		input.SighashType = txscript.SigHashAll
	}

	witnessScript, err := witnessScriptAt(
		desc, utxo.Address.Change, utxo.Address.Index,
	)
	if err != nil {
		return err
	}
	if witnessScript != nil && class != wdesc.ClassTaproot {
		if class == wdesc.ClassPreSegwit {
			input.RedeemScript = witnessScript
		} else {
			input.WitnessScript = witnessScript
		}
	}

	derivations, taproots, err := w.signerDerivations(
		utxo.Address.Change, utxo.Address.Index,
	)
	if err != nil {
		return err
	}
	input.Bip32Derivation = derivations
	if class == wdesc.ClassTaproot {
		input.TaprootBip32Derivation = taproots
	}

	return nil
}

// decorateOutput fills a packet output with the derivations proving the
// output pays back to the wallet.
func (w *Wallet) decorateOutput(packet *psbt.Packet, index int, change bool,
	addrIndex uint32) error {

	derivations, taproots, err := w.signerDerivations(change, addrIndex)
	if err != nil {
		return err
	}

	output := &packet.Outputs[index]
	output.Bip32Derivation = derivations

	class, _ := w.cfg.Descriptor.Class()
	if class == wdesc.ClassTaproot {
		output.TaprootBip32Derivation = taproots
	}

	return nil
}

// signerDerivations builds the BIP-32 (and taproot) key derivations of every
// descriptor signer at a terminal.
func (w *Wallet) signerDerivations(change bool, index uint32) (
	[]*psbt.Bip32Derivation, []*psbt.TaprootBip32Derivation, error) {

	keys, err := deriveKeys(w.cfg.Descriptor, change, index)
	if err != nil {
		return nil, nil, err
	}

	signers := w.cfg.Descriptor.Signers()

	var (
		derivations []*psbt.Bip32Derivation
		taproots    []*psbt.TaprootBip32Derivation
	)
	for i, signer := range signers {
		path := signer.Origin.Extend(changeBranch(change), index)

		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               keys[i].pubkey.SerializeCompressed(),
			MasterKeyFingerprint: signer.Fingerprint.Uint32(),
			Bip32Path:            path,
		})
		taproots = append(taproots, &psbt.TaprootBip32Derivation{
			XOnlyPubKey: schnorr.SerializePubKey(
				keys[i].pubkey,
			),
			MasterKeyFingerprint: signer.Fingerprint.Uint32(),
			Bip32Path:            path,
		})
	}

	return derivations, taproots, nil
}
