package signer

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/mycitadel/citadel/xkey"
)

// testMaster builds the BIP-32 test vector 1 master key.
func testMaster(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()

	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	return master
}

// deriveChild walks an extended key down a derivation path.
func deriveChild(t *testing.T, key *hdkeychain.ExtendedKey,
	path xkey.DerivationPath) *hdkeychain.ExtendedKey {

	t.Helper()

	for _, child := range path {
		var err error
		key, err = key.Derive(child)
		require.NoError(t, err)
	}

	return key
}

// TestDerivationResolution checks that master and account signers resolve the
// same PSBT derivation to the same key.
func TestDerivationResolution(t *testing.T) {
	t.Parallel()

	master := testMaster(t)

	masterSigner, err := New(master, xkey.Fingerprint{})
	require.NoError(t, err)
	masterFP := masterSigner.Fingerprint()

	origin, err := xkey.ParseDerivationPath("m/84'/0'/0'")
	require.NoError(t, err)
	accountSigner, err := New(deriveChild(t, master, origin), masterFP)
	require.NoError(t, err)

	full, err := xkey.ParseDerivationPath("m/84'/0'/0'/0/0")
	require.NoError(t, err)

	// The master follows the full path; the account key strips the
	// hardened prefix. Both must land on the same key.
	fromMaster, err := masterSigner.deriveKey(masterFP, full)
	require.NoError(t, err)

	fromAccount, err := accountSigner.deriveKey(masterFP, full)
	require.NoError(t, err)

	require.Equal(t, fromMaster.PubKey().SerializeCompressed(),
		fromAccount.PubKey().SerializeCompressed())

	// A derivation for another master is refused.
	foreign, err := xkey.ParseFingerprint("deadbeef")
	require.NoError(t, err)
	_, err = masterSigner.deriveKey(foreign, full)
	require.ErrorIs(t, err, ErrForeignDerivation)
}

// TestNewRejectsPublic checks that a neutered key cannot sign.
func TestNewRejectsPublic(t *testing.T) {
	t.Parallel()

	pub, err := testMaster(t).Neuter()
	require.NoError(t, err)

	_, err = New(pub, xkey.Fingerprint{})
	require.ErrorIs(t, err, ErrNotPrivate)
}

// spendPacket builds a one-input packet spending the given output.
func spendPacket(t *testing.T, utxo *wire.TxOut) *psbt.Packet {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(utxo.Value-1_000, []byte{0x6a}))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	packet.Inputs[0].WitnessUtxo = utxo

	return packet
}

// TestSignP2wpkh checks ECDSA signing of a segwit v0 key-hash input.
func TestSignP2wpkh(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	s, err := New(master, xkey.Fingerprint{})
	require.NoError(t, err)

	path, err := xkey.ParseDerivationPath("m/84'/0'/0'/0/0")
	require.NoError(t, err)

	priv, err := deriveChild(t, master, path).ECPrivKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()

	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pub)).
		Script()
	require.NoError(t, err)

	packet := spendPacket(t, wire.NewTxOut(100_000, pkScript))
	packet.Inputs[0].SighashType = txscript.SigHashAll
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               pub,
		MasterKeyFingerprint: s.Fingerprint().Uint32(),
		Bip32Path:            path,
	}}

	signed, err := s.SignPacket(packet)
	require.NoError(t, err)
	require.Equal(t, 1, signed)

	sigs := packet.Inputs[0].PartialSigs
	require.Len(t, sigs, 1)
	require.Equal(t, pub, sigs[0].PubKey)
	require.Equal(t, byte(txscript.SigHashAll),
		sigs[0].Signature[len(sigs[0].Signature)-1])

	// The signature must verify against the BIP-143 digest.
	fetcher := prevOutFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)
	scriptCode, err := p2wpkhScriptCode(priv.PubKey())
	require.NoError(t, err)

	digest, err := txscript.CalcWitnessSigHash(
		scriptCode, sigHashes, txscript.SigHashAll,
		packet.UnsignedTx, 0, 100_000,
	)
	require.NoError(t, err)

	sig, err := ecdsa.ParseDERSignature(
		sigs[0].Signature[:len(sigs[0].Signature)-1],
	)
	require.NoError(t, err)
	require.True(t, sig.Verify(digest, priv.PubKey()))

	// Signing again does not duplicate the signature.
	signed, err = s.SignPacket(packet)
	require.NoError(t, err)
	require.Zero(t, signed)
	require.Len(t, packet.Inputs[0].PartialSigs, 1)
}

// TestSignTaprootKeySpend checks schnorr key-spend signing of a taproot
// input.
func TestSignTaprootKeySpend(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	s, err := New(master, xkey.Fingerprint{})
	require.NoError(t, err)

	path, err := xkey.ParseDerivationPath("m/86'/0'/0'/0/0")
	require.NoError(t, err)

	priv, err := deriveChild(t, master, path).ECPrivKey()
	require.NoError(t, err)
	internal := priv.PubKey()
	outputKey := txscript.ComputeTaprootKeyNoScript(internal)

	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(outputKey)).
		Script()
	require.NoError(t, err)

	packet := spendPacket(t, wire.NewTxOut(50_000, pkScript))
	packet.Inputs[0].SighashType = txscript.SigHashDefault
	packet.Inputs[0].TaprootInternalKey = schnorr.SerializePubKey(internal)
	packet.Inputs[0].TaprootBip32Derivation =
		[]*psbt.TaprootBip32Derivation{{
			XOnlyPubKey:          schnorr.SerializePubKey(internal),
			MasterKeyFingerprint: s.Fingerprint().Uint32(),
			Bip32Path:            path,
		}}

	signed, err := s.SignPacket(packet)
	require.NoError(t, err)
	require.Equal(t, 1, signed)

	rawSig := packet.Inputs[0].TaprootKeySpendSig
	require.Len(t, rawSig, 64)

	// The signature must verify against the BIP-341 digest under the
	// tweaked output key.
	fetcher := prevOutFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	digest, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, packet.UnsignedTx, 0,
		fetcher,
	)
	require.NoError(t, err)

	sig, err := schnorr.ParseSignature(rawSig)
	require.NoError(t, err)
	require.True(t, sig.Verify(digest, outputKey))

	// Signing again is a no-op.
	signed, err = s.SignPacket(packet)
	require.NoError(t, err)
	require.Zero(t, signed)
}

// TestSignForeignPacket checks that inputs of another wallet are left alone.
func TestSignForeignPacket(t *testing.T) {
	t.Parallel()

	master := testMaster(t)
	s, err := New(master, xkey.Fingerprint{})
	require.NoError(t, err)

	path, err := xkey.ParseDerivationPath("m/84'/0'/0'/0/0")
	require.NoError(t, err)

	priv, err := deriveChild(t, master, path).ECPrivKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()

	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pub)).
		Script()
	require.NoError(t, err)

	foreign, err := xkey.ParseFingerprint("deadbeef")
	require.NoError(t, err)

	packet := spendPacket(t, wire.NewTxOut(100_000, pkScript))
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               pub,
		MasterKeyFingerprint: foreign.Uint32(),
		Bip32Path:            path,
	}}

	signed, err := s.SignPacket(packet)
	require.NoError(t, err)
	require.Zero(t, signed)
	require.Empty(t, packet.Inputs[0].PartialSigs)
}
