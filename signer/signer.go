// Package signer signs PSBT inputs with a software extended private key. The
// key may be a master key or an account-level key; PSBT derivations are
// resolved against either form.
package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mycitadel/citadel/xkey"
)

var (
	// ErrNotPrivate is returned when a public key is used for signing.
	ErrNotPrivate = errors.New("extended key is not private")

	// ErrForeignDerivation is returned when a PSBT derivation does not
	// belong to the signer's key.
	ErrForeignDerivation = errors.New("derivation belongs to a " +
		"different master")

	// ErrMissingUtxo is returned when an input to sign carries no spent
	// output information.
	ErrMissingUtxo = errors.New("input has no utxo information")
)

// XprivSigner derives and signs with keys under one extended private key.
type XprivSigner struct {
	key *hdkeychain.ExtendedKey

	// fingerprint is the fingerprint of the wrapped key itself.
	fingerprint xkey.Fingerprint

	// masterFP is the declared fingerprint of the master the wrapped key
	// was derived from. For a master key both fingerprints coincide.
	masterFP xkey.Fingerprint
}

// New wraps an extended private key. The master fingerprint may be zero when
// the key is itself a master key.
func New(key *hdkeychain.ExtendedKey,
	masterFP xkey.Fingerprint) (*XprivSigner, error) {

	if !key.IsPrivate() {
		return nil, ErrNotPrivate
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	hash := btcutil.Hash160(pub.SerializeCompressed())

	fingerprint, err := xkey.FingerprintFromBytes(hash[:4])
	if err != nil {
		return nil, err
	}

	if masterFP.IsZero() && key.Depth() == 0 {
		masterFP = fingerprint
	}

	return &XprivSigner{
		key:         key,
		fingerprint: fingerprint,
		masterFP:    masterFP,
	}, nil
}

// Parse wraps a base58 xpriv string.
func Parse(raw string, masterFP xkey.Fingerprint) (*XprivSigner, error) {
	key, err := hdkeychain.NewKeyFromString(raw)
	if err != nil {
		return nil, err
	}

	return New(key, masterFP)
}

// Fingerprint returns the fingerprint of the wrapped key.
func (s *XprivSigner) Fingerprint() xkey.Fingerprint {
	return s.fingerprint
}

// deriveKey resolves a PSBT derivation to a private key. A derivation naming
// the wrapped key's own fingerprint is followed in full; one naming the
// declared master fingerprint has its hardened prefix stripped, since an
// account key already sits below that prefix.
func (s *XprivSigner) deriveKey(fp xkey.Fingerprint,
	path xkey.DerivationPath) (*btcec.PrivateKey, error) {

	switch {
	case fp == s.fingerprint:
		// Keep the full path.

	case fp == s.masterFP && !s.masterFP.IsZero():
		path = path.UnhardenedSuffix()

	default:
		return nil, fmt.Errorf("%w: %s", ErrForeignDerivation, fp)
	}

	key := s.key
	for _, child := range path {
		var err error
		key, err = key.Derive(child)
		if err != nil {
			return nil, err
		}
	}

	return key.ECPrivKey()
}

// prevOutFetcher collects the spent outputs declared by the packet.
func prevOutFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, input := range packet.Inputs {
		if input.WitnessUtxo == nil {
			continue
		}

		fetcher.AddPrevOut(
			packet.UnsignedTx.TxIn[i].PreviousOutPoint,
			input.WitnessUtxo,
		)
	}

	return fetcher
}

// SignPacket signs every input the key can satisfy and reports how many
// inputs received a signature. Inputs with foreign derivations are left
// untouched.
func (s *XprivSigner) SignPacket(packet *psbt.Packet) (int, error) {
	fetcher := prevOutFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	var signed int
	for i := range packet.Inputs {
		ok, err := s.signInput(packet, i, sigHashes)
		if err != nil {
			return signed, fmt.Errorf("input %d: %w", i, err)
		}
		if ok {
			signed++
		}
	}

	return signed, nil
}

// signInput signs one input, dispatching on the spent output script class.
func (s *XprivSigner) signInput(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) (bool, error) {

	input := &packet.Inputs[idx]

	if len(input.TaprootBip32Derivation) > 0 {
		return s.signTaprootInput(packet, idx, sigHashes)
	}
	if len(input.Bip32Derivation) > 0 {
		return s.signEcdsaInput(packet, idx, sigHashes)
	}

	return false, nil
}

// signTaprootInput produces a key-spend signature for a taproot input.
func (s *XprivSigner) signTaprootInput(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) (bool, error) {

	input := &packet.Inputs[idx]
	if input.TaprootKeySpendSig != nil {
		return false, nil
	}
	if input.WitnessUtxo == nil {
		return false, ErrMissingUtxo
	}

	for _, derivation := range input.TaprootBip32Derivation {
		// Script-path derivations are out of key-spend scope.
		if len(derivation.LeafHashes) > 0 {
			continue
		}

		privKey, err := s.deriveKey(
			xkey.FingerprintFromUint32(
				derivation.MasterKeyFingerprint,
			),
			xkey.DerivationPath(derivation.Bip32Path),
		)
		if errors.Is(err, ErrForeignDerivation) {
			continue
		}
		if err != nil {
			return false, err
		}

		pubKey := privKey.PubKey()
		xOnly := pubKey.SerializeCompressed()[1:]
		if !bytes.Equal(xOnly, derivation.XOnlyPubKey) {
			return false, fmt.Errorf("derived key %x does not "+
				"match derivation key %x", xOnly,
				derivation.XOnlyPubKey)
		}

		sig, err := txscript.RawTxInTaprootSignature(
			packet.UnsignedTx, sigHashes, idx,
			input.WitnessUtxo.Value, input.WitnessUtxo.PkScript,
			input.TaprootMerkleRoot, input.SighashType, privKey,
		)
		if err != nil {
			return false, err
		}

		input.TaprootKeySpendSig = sig

		return true, nil
	}

	return false, nil
}

// signEcdsaInput produces a partial ECDSA signature for a legacy, nested or
// segwit v0 input.
func (s *XprivSigner) signEcdsaInput(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) (bool, error) {

	input := &packet.Inputs[idx]
	if input.WitnessUtxo == nil {
		return false, ErrMissingUtxo
	}

	hashType := input.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	for _, derivation := range input.Bip32Derivation {
		privKey, err := s.deriveKey(
			xkey.FingerprintFromUint32(
				derivation.MasterKeyFingerprint,
			),
			xkey.DerivationPath(derivation.Bip32Path),
		)
		if errors.Is(err, ErrForeignDerivation) {
			continue
		}
		if err != nil {
			return false, err
		}

		pubKey := privKey.PubKey().SerializeCompressed()
		if !bytes.Equal(pubKey, derivation.PubKey) {
			return false, fmt.Errorf("derived key %x does not "+
				"match derivation key %x", pubKey,
				derivation.PubKey)
		}

		if hasPartialSig(input, pubKey) {
			return false, nil
		}

		sig, err := s.ecdsaSignature(
			packet, idx, sigHashes, hashType, privKey,
		)
		if err != nil {
			return false, err
		}

		input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: sig,
		})

		return true, nil
	}

	return false, nil
}

// hasPartialSig reports whether the input already carries a signature for the
// key.
func hasPartialSig(input *psbt.PInput, pubKey []byte) bool {
	for _, partial := range input.PartialSigs {
		if bytes.Equal(partial.PubKey, pubKey) {
			return true
		}
	}

	return false
}

// ecdsaSignature computes the signature over the script code the spent output
// class demands.
func (s *XprivSigner) ecdsaSignature(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes, hashType txscript.SigHashType,
	privKey *btcec.PrivateKey) ([]byte, error) {

	input := &packet.Inputs[idx]
	utxo := input.WitnessUtxo

	script := utxo.PkScript
	class := txscript.GetScriptClass(script)

	// Nested outputs reveal their witness program in the redeem script.
	if class == txscript.ScriptHashTy && input.RedeemScript != nil {
		script = input.RedeemScript
		class = txscript.GetScriptClass(script)
	}

	switch class {
	case txscript.WitnessV0PubKeyHashTy:
		scriptCode, err := p2wpkhScriptCode(privKey.PubKey())
		if err != nil {
			return nil, err
		}

		return txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, idx, utxo.Value,
			scriptCode, hashType, privKey,
		)

	case txscript.WitnessV0ScriptHashTy:
		if input.WitnessScript == nil {
			return nil, fmt.Errorf("input %d spends a witness "+
				"script hash but carries no witness script",
				idx)
		}

		return txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, idx, utxo.Value,
			input.WitnessScript, hashType, privKey,
		)

	case txscript.PubKeyHashTy:
		return txscript.RawTxInSignature(
			packet.UnsignedTx, idx, script, hashType, privKey,
		)

	default:
		return nil, fmt.Errorf("unsupported output class %v", class)
	}
}

// p2wpkhScriptCode builds the BIP-143 script code of a p2wpkh output, which
// is the matching p2pkh script.
func p2wpkhScriptCode(pubKey *btcec.PublicKey) ([]byte, error) {
	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}
