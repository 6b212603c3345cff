package wfile

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/mycitadel/citadel/wallet"
	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// maxSerializedLen caps variable-length fields read back from a document, the
// largest being raw transactions and PSBT packets.
const maxSerializedLen = 4_000_000

// writeTimeOpt writes an optional timestamp as a presence byte followed by
// unix seconds.
func writeTimeOpt(w io.Writer, t fn.Option[time.Time]) error {
	if t.IsNone() {
		_, err := w.Write([]byte{0})
		return err
	}

	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}

	secs := t.UnwrapOr(time.Time{}).Unix()

	return wire.WriteVarInt(w, 0, uint64(secs))
}

// readTimeOpt reads an optional timestamp.
func readTimeOpt(r *bytes.Reader) (fn.Option[time.Time], error) {
	present, err := r.ReadByte()
	if err != nil {
		return fn.None[time.Time](), err
	}
	if present == 0 {
		return fn.None[time.Time](), nil
	}

	secs, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fn.None[time.Time](), err
	}

	return fn.Some(time.Unix(int64(secs), 0).UTC()), nil
}

// writeAmountOpt writes an optional amount as a presence byte followed by
// satoshis.
func writeAmountOpt(w io.Writer, amt fn.Option[btcutil.Amount]) error {
	if amt.IsNone() {
		_, err := w.Write([]byte{0})
		return err
	}

	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}

	return wire.WriteVarInt(w, 0, uint64(amt.UnwrapOr(0)))
}

// readAmountOpt reads an optional amount.
func readAmountOpt(r *bytes.Reader) (fn.Option[btcutil.Amount], error) {
	present, err := r.ReadByte()
	if err != nil {
		return fn.None[btcutil.Amount](), err
	}
	if present == 0 {
		return fn.None[btcutil.Amount](), nil
	}

	sats, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fn.None[btcutil.Amount](), err
	}

	return fn.Some(btcutil.Amount(sats)), nil
}

// checkDrained rejects bytes left over after a nested structure has been
// fully decoded.
func checkDrained(r *bytes.Reader, field string) error {
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d bytes after %s", ErrTrailingBytes,
			r.Len(), field)
	}

	return nil
}

// encodeSigners flattens the signer set.
func encodeSigners(signers []*wdesc.Signer) ([]byte, error) {
	var buf bytes.Buffer

	err := wire.WriteVarInt(&buf, 0, uint64(len(signers)))
	if err != nil {
		return nil, err
	}

	for _, signer := range signers {
		buf.Write(signer.Fingerprint[:])

		err := wire.WriteVarInt(&buf, 0, uint64(len(signer.Origin)))
		if err != nil {
			return nil, err
		}
		for _, child := range signer.Origin {
			err := wire.WriteVarInt(&buf, 0, uint64(child))
			if err != nil {
				return nil, err
			}
		}

		err = wire.WriteVarString(&buf, 0, signer.Xpub.String())
		if err != nil {
			return nil, err
		}
		err = wire.WriteVarString(&buf, 0, signer.Device)
		if err != nil {
			return nil, err
		}
		err = wire.WriteVarString(&buf, 0, signer.Name)
		if err != nil {
			return nil, err
		}

		buf.WriteByte(byte(signer.Ownership))
	}

	return buf.Bytes(), nil
}

// decodeSigners rebuilds the signer set.
func decodeSigners(data []byte) ([]*wdesc.Signer, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	signers := make([]*wdesc.Signer, 0, count)
	for i := uint64(0); i < count; i++ {
		var fp xkey.Fingerprint
		if _, err := io.ReadFull(r, fp[:]); err != nil {
			return nil, err
		}

		pathLen, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		origin := make(xkey.DerivationPath, pathLen)
		for j := range origin {
			child, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return nil, err
			}
			if child > math.MaxUint32 {
				return nil, fmt.Errorf("derivation child %d "+
					"out of range", child)
			}
			origin[j] = uint32(child)
		}

		rawXpub, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		xd, err := xkey.ParseXpub(rawXpub)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}

		device, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}
		name, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}

		rawOwnership, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		ownership := wdesc.Ownership(rawOwnership)
		if ownership != wdesc.OwnershipMine &&
			ownership != wdesc.OwnershipExternal {

			return nil, fmt.Errorf("signer %d: unknown "+
				"ownership %d", i, rawOwnership)
		}

		signers = append(signers, &wdesc.Signer{
			Fingerprint: fp,
			Origin:      origin,
			Account:     xkey.ClassifyOrigin(origin).AccountIndex(),
			Xpub:        xd,
			Device:      device,
			Name:        name,
			Ownership:   ownership,
		})
	}

	return signers, checkDrained(r, "signers")
}

// encodeConditions flattens the spending conditions.
func encodeConditions(conditions []wdesc.SpendingCondition) ([]byte, error) {
	var buf bytes.Buffer

	err := wire.WriteVarInt(&buf, 0, uint64(len(conditions)))
	if err != nil {
		return nil, err
	}

	for _, cond := range conditions {
		buf.WriteByte(byte(cond.Sigs.Kind))

		err := wire.WriteVarInt(&buf, 0, uint64(cond.Sigs.Count))
		if err != nil {
			return nil, err
		}
		buf.Write(cond.Sigs.Signer[:])

		buf.WriteByte(byte(cond.Timelock.Kind))

		var secs uint64
		if !cond.Timelock.Time.IsZero() {
			secs = uint64(cond.Timelock.Time.Unix())
		}
		err = wire.WriteVarInt(&buf, 0, secs)
		if err != nil {
			return nil, err
		}

		err = wire.WriteVarInt(&buf, 0, uint64(cond.Timelock.Blocks))
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// decodeConditions rebuilds the spending conditions.
func decodeConditions(data []byte) ([]wdesc.SpendingCondition, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	conditions := make([]wdesc.SpendingCondition, 0, count)
	for i := uint64(0); i < count; i++ {
		var cond wdesc.SpendingCondition

		sigsKind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		cond.Sigs.Kind = wdesc.SigsReqKind(sigsKind)

		sigCount, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if sigCount > math.MaxUint16 {
			return nil, fmt.Errorf("signature count %d out of "+
				"range", sigCount)
		}
		cond.Sigs.Count = uint16(sigCount)

		if _, err := io.ReadFull(r, cond.Sigs.Signer[:]); err != nil {
			return nil, err
		}

		lockKind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		cond.Timelock.Kind = wdesc.TimelockKind(lockKind)

		secs, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if secs != 0 {
			cond.Timelock.Time = time.Unix(int64(secs), 0).UTC()
		}

		blocks, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if blocks > math.MaxUint32 {
			return nil, fmt.Errorf("timelock blocks %d out of "+
				"range", blocks)
		}
		cond.Timelock.Blocks = uint32(blocks)

		conditions = append(conditions, cond)
	}

	return conditions, checkDrained(r, "conditions")
}

// writeValueMap writes an index to address-value attribution map in index
// order. Addresses are not stored; they are re-derived from the descriptor on
// read.
func writeValueMap(w io.Writer, values map[uint32]wallet.AddressValue) error {
	err := wire.WriteVarInt(w, 0, uint64(len(values)))
	if err != nil {
		return err
	}

	indexes := make([]uint32, 0, len(values))
	for n := range values {
		indexes = append(indexes, n)
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i] < indexes[j]
	})

	for _, n := range indexes {
		value := values[n]

		err := wire.WriteVarInt(w, 0, uint64(n))
		if err != nil {
			return err
		}

		change := byte(0)
		if value.Address.Change {
			change = 1
		}
		if _, err := w.Write([]byte{change}); err != nil {
			return err
		}

		err = wire.WriteVarInt(w, 0, uint64(value.Address.Index))
		if err != nil {
			return err
		}
		err = wire.WriteVarInt(w, 0, uint64(value.Value))
		if err != nil {
			return err
		}
	}

	return nil
}

// readValueMap reads an attribution map, re-deriving the addresses.
func readValueMap(r *bytes.Reader, desc *wdesc.Descriptor) (
	map[uint32]wallet.AddressValue, error) {

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	values := make(map[uint32]wallet.AddressValue, count)
	for i := uint64(0); i < count; i++ {
		n, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}

		change, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		index, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if index > math.MaxUint32 {
			return nil, fmt.Errorf("address index %d out of "+
				"range", index)
		}

		sats, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}

		addr, err := wallet.DeriveAddressSource(
			desc, change == 1, uint32(index),
		)
		if err != nil {
			return nil, err
		}

		values[uint32(n)] = wallet.AddressValue{
			Address: addr,
			Value:   btcutil.Amount(sats),
		}
	}

	return values, nil
}

// encodeHistory flattens the transaction history.
func encodeHistory(entries []wallet.HistoryEntry) ([]byte, error) {
	var buf bytes.Buffer

	err := wire.WriteVarInt(&buf, 0, uint64(len(entries)))
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		buf.Write(entry.Onchain.Txid[:])

		err := wire.WriteVarInt(
			&buf, 0, uint64(entry.Onchain.Status.U32()),
		)
		if err != nil {
			return nil, err
		}
		err = writeTimeOpt(&buf, entry.Onchain.Time)
		if err != nil {
			return nil, err
		}

		var txBuf bytes.Buffer
		if err := entry.Tx.Serialize(&txBuf); err != nil {
			return nil, err
		}
		err = wire.WriteVarBytes(&buf, 0, txBuf.Bytes())
		if err != nil {
			return nil, err
		}

		if err := writeValueMap(&buf, entry.Credit); err != nil {
			return nil, err
		}
		if err := writeValueMap(&buf, entry.Debit); err != nil {
			return nil, err
		}
		if err := writeAmountOpt(&buf, entry.Fee); err != nil {
			return nil, err
		}
		err = wire.WriteVarString(&buf, 0, entry.Comment)
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// decodeHistory rebuilds the transaction history.
func decodeHistory(data []byte, desc *wdesc.Descriptor) (
	[]wallet.HistoryEntry, error) {

	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]wallet.HistoryEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var entry wallet.HistoryEntry

		_, err := io.ReadFull(r, entry.Onchain.Txid[:])
		if err != nil {
			return nil, err
		}

		height, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if height > math.MaxInt32 {
			return nil, fmt.Errorf("height %d out of range",
				height)
		}
		entry.Onchain.Status = wallet.StatusAtHeight(int32(height))

		entry.Onchain.Time, err = readTimeOpt(r)
		if err != nil {
			return nil, err
		}

		rawTx, err := wire.ReadVarBytes(
			r, 0, maxSerializedLen, "transaction",
		)
		if err != nil {
			return nil, err
		}
		err = entry.Tx.Deserialize(bytes.NewReader(rawTx))
		if err != nil {
			return nil, err
		}
		if entry.Tx.TxHash() != entry.Onchain.Txid {
			return nil, fmt.Errorf("transaction %s does not "+
				"match recorded txid %s", entry.Tx.TxHash(),
				entry.Onchain.Txid)
		}

		entry.Credit, err = readValueMap(r, desc)
		if err != nil {
			return nil, err
		}
		entry.Debit, err = readValueMap(r, desc)
		if err != nil {
			return nil, err
		}
		entry.Fee, err = readAmountOpt(r)
		if err != nil {
			return nil, err
		}
		entry.Comment, err = wire.ReadVarString(r, 0)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, checkDrained(r, "history")
}

// encodeUtxos flattens the unspent output set.
func encodeUtxos(utxos []wallet.UtxoTxid) ([]byte, error) {
	var buf bytes.Buffer

	err := wire.WriteVarInt(&buf, 0, uint64(len(utxos)))
	if err != nil {
		return nil, err
	}

	for _, utxo := range utxos {
		buf.Write(utxo.Onchain.Txid[:])

		err := wire.WriteVarInt(
			&buf, 0, uint64(utxo.Onchain.Status.U32()),
		)
		if err != nil {
			return nil, err
		}
		if err := writeTimeOpt(&buf, utxo.Onchain.Time); err != nil {
			return nil, err
		}

		err = wire.WriteVarInt(&buf, 0, uint64(utxo.Value))
		if err != nil {
			return nil, err
		}

		change := byte(0)
		if utxo.Address.Change {
			change = 1
		}
		buf.WriteByte(change)

		err = wire.WriteVarInt(&buf, 0, uint64(utxo.Address.Index))
		if err != nil {
			return nil, err
		}
		err = wire.WriteVarInt(&buf, 0, uint64(utxo.Vout))
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// decodeUtxos rebuilds the unspent output set.
func decodeUtxos(data []byte, desc *wdesc.Descriptor) (
	[]wallet.UtxoTxid, error) {

	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	var utxos []wallet.UtxoTxid
	if count > 0 {
		utxos = make([]wallet.UtxoTxid, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		var utxo wallet.UtxoTxid

		_, err := io.ReadFull(r, utxo.Onchain.Txid[:])
		if err != nil {
			return nil, err
		}

		height, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if height > math.MaxInt32 {
			return nil, fmt.Errorf("height %d out of range",
				height)
		}
		utxo.Onchain.Status = wallet.StatusAtHeight(int32(height))

		utxo.Onchain.Time, err = readTimeOpt(r)
		if err != nil {
			return nil, err
		}

		sats, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		utxo.Value = btcutil.Amount(sats)

		change, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		index, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if index > math.MaxUint32 {
			return nil, fmt.Errorf("address index %d out of "+
				"range", index)
		}

		vout, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}
		if vout > math.MaxUint32 {
			return nil, fmt.Errorf("vout %d out of range", vout)
		}
		utxo.Vout = uint32(vout)

		utxo.Address, err = wallet.DeriveAddressSource(
			desc, change == 1, uint32(index),
		)
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, utxo)
	}

	return utxos, checkDrained(r, "utxos")
}

// encodeWip flattens the in-progress PSBT packets.
func encodeWip(packets []*psbt.Packet) ([]byte, error) {
	var buf bytes.Buffer

	err := wire.WriteVarInt(&buf, 0, uint64(len(packets)))
	if err != nil {
		return nil, err
	}

	for _, packet := range packets {
		var pktBuf bytes.Buffer
		if err := packet.Serialize(&pktBuf); err != nil {
			return nil, err
		}

		err := wire.WriteVarBytes(&buf, 0, pktBuf.Bytes())
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// decodeWip rebuilds the in-progress PSBT packets.
func decodeWip(data []byte) ([]*psbt.Packet, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(data)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	packets := make([]*psbt.Packet, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, err := wire.ReadVarBytes(r, 0, maxSerializedLen, "psbt")
		if err != nil {
			return nil, err
		}

		packet, err := psbt.NewFromRawBytes(
			bytes.NewReader(raw), false,
		)
		if err != nil {
			return nil, err
		}

		packets = append(packets, packet)
	}

	return packets, checkDrained(r, "wip packets")
}

// txidFromString parses a display-order transaction id.
func txidFromString(s string) (chainhash.Hash, error) {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *hash, nil
}
