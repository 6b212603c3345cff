package store

import (
	"bytes"

	"github.com/mycitadel/citadel/wallet"
)

// HistoryRecordOf flattens a wallet history entry into its cached form.
func HistoryRecordOf(entry wallet.HistoryEntry) (HistoryRecord, error) {
	var txBuf bytes.Buffer
	if err := entry.Tx.Serialize(&txBuf); err != nil {
		return HistoryRecord{}, err
	}

	return HistoryRecord{
		Txid:      entry.Onchain.Txid,
		Height:    entry.Onchain.Status.I32(),
		BlockTime: entry.Onchain.Time,
		Credited:  entry.ValueCredited(),
		Debited:   entry.ValueDebited(),
		Fee:       entry.Fee,
		Comment:   entry.Comment,
		RawTx:     txBuf.Bytes(),
	}, nil
}

// UtxoRecordOf flattens a wallet unspent output into its cached form.
func UtxoRecordOf(utxo wallet.UtxoTxid) UtxoRecord {
	return UtxoRecord{
		Txid:   utxo.Onchain.Txid,
		Vout:   utxo.Vout,
		Value:  utxo.Value,
		Height: utxo.Onchain.Status.I32(),
		Change: utxo.Address.Change,
		Index:  utxo.Address.Index,
	}
}
