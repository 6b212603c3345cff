package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// rebindFunc adapts the "?" placeholder style to the backend's.
type rebindFunc func(query string) string

// rebindQuestion keeps "?" placeholders as they are (SQLite).
func rebindQuestion(query string) string {
	return query
}

// rebindDollar numbers "?" placeholders into "$n" form (PostgreSQL).
func rebindDollar(query string) string {
	var (
		sb strings.Builder
		n  int
	)
	for _, r := range query {
		if r != '?' {
			sb.WriteRune(r)
			continue
		}

		n++
		sb.WriteString("$")
		sb.WriteString(strconv.Itoa(n))
	}

	return sb.String()
}

// sqlStore implements Store on top of a database/sql handle. Both backends
// share its queries; only the placeholder style differs.
type sqlStore struct {
	db     *sql.DB
	rebind rebindFunc
}

const upsertHistoryQuery = `
INSERT INTO history (wallet_id, txid, height, block_time, credited, debited,
	fee, comment, raw_tx)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (wallet_id, txid) DO UPDATE SET
	height = excluded.height,
	block_time = excluded.block_time,
	credited = excluded.credited,
	debited = excluded.debited,
	fee = excluded.fee,
	comment = excluded.comment,
	raw_tx = excluded.raw_tx`

// UpsertHistory inserts or refreshes cached transactions in one transaction.
func (s *sqlStore) UpsertHistory(ctx context.Context, walletID string,
	records []HistoryRecord) error {

	query := s.rebind(upsertHistoryQuery)

	return execInTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, record := range records {
			var blockTime sql.NullInt64
			if record.BlockTime.IsSome() {
				blockTime = sql.NullInt64{
					Int64: record.BlockTime.UnwrapOr(
						time.Time{},
					).Unix(),
					Valid: true,
				}
			}

			var fee sql.NullInt64
			if record.Fee.IsSome() {
				fee = sql.NullInt64{
					Int64: int64(record.Fee.UnwrapOr(0)),
					Valid: true,
				}
			}

			_, err := tx.ExecContext(
				ctx, query, walletID, record.Txid[:],
				record.Height, blockTime,
				int64(record.Credited),
				int64(record.Debited), fee, record.Comment,
				record.RawTx,
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

const listHistoryQuery = `
SELECT txid, height, block_time, credited, debited, fee, comment, raw_tx
FROM history
WHERE wallet_id = ?
ORDER BY CASE WHEN height < 0 THEN 1 ELSE 0 END, height, txid`

// ListHistory returns the cached transactions, confirmed first, mempool
// last.
func (s *sqlStore) ListHistory(ctx context.Context,
	walletID string) ([]HistoryRecord, error) {

	rows, err := s.db.QueryContext(
		ctx, s.rebind(listHistoryQuery), walletID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var (
			record    HistoryRecord
			txid      []byte
			blockTime sql.NullInt64
			fee       sql.NullInt64
			credited  int64
			debited   int64
		)

		err := rows.Scan(
			&txid, &record.Height, &blockTime, &credited,
			&debited, &fee, &record.Comment, &record.RawTx,
		)
		if err != nil {
			return nil, err
		}

		hash, err := chainhash.NewHash(txid)
		if err != nil {
			return nil, err
		}
		record.Txid = *hash
		record.Credited = btcutil.Amount(credited)
		record.Debited = btcutil.Amount(debited)

		if blockTime.Valid {
			record.BlockTime = fn.Some(
				time.Unix(blockTime.Int64, 0).UTC(),
			)
		}
		if fee.Valid {
			record.Fee = fn.Some(btcutil.Amount(fee.Int64))
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

const (
	deleteUtxosQuery = `DELETE FROM utxos WHERE wallet_id = ?`

	insertUtxoQuery = `
INSERT INTO utxos (wallet_id, txid, vout, value, height, change, idx)
VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// ReplaceUtxos swaps the cached unspent set atomically.
func (s *sqlStore) ReplaceUtxos(ctx context.Context, walletID string,
	utxos []UtxoRecord) error {

	deleteQuery := s.rebind(deleteUtxosQuery)
	insertQuery := s.rebind(insertUtxoQuery)

	return execInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteQuery, walletID)
		if err != nil {
			return err
		}

		for _, utxo := range utxos {
			_, err := tx.ExecContext(
				ctx, insertQuery, walletID, utxo.Txid[:],
				int64(utxo.Vout), int64(utxo.Value),
				utxo.Height, utxo.Change, int64(utxo.Index),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

const listUtxosQuery = `
SELECT txid, vout, value, height, change, idx
FROM utxos
WHERE wallet_id = ?
ORDER BY value DESC, txid, vout`

// ListUtxos returns the cached unspent set, largest first.
func (s *sqlStore) ListUtxos(ctx context.Context,
	walletID string) ([]UtxoRecord, error) {

	rows, err := s.db.QueryContext(ctx, s.rebind(listUtxosQuery), walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utxos []UtxoRecord
	for rows.Next() {
		var (
			utxo  UtxoRecord
			txid  []byte
			vout  int64
			value int64
			index int64
		)

		err := rows.Scan(
			&txid, &vout, &value, &utxo.Height, &utxo.Change,
			&index,
		)
		if err != nil {
			return nil, err
		}

		hash, err := chainhash.NewHash(txid)
		if err != nil {
			return nil, err
		}
		utxo.Txid = *hash
		utxo.Vout = uint32(vout)
		utxo.Value = btcutil.Amount(value)
		utxo.Index = uint32(index)

		utxos = append(utxos, utxo)
	}

	return utxos, rows.Err()
}

const upsertCheckpointQuery = `
INSERT INTO checkpoints (wallet_id, height, checked_at)
VALUES (?, ?, ?)
ON CONFLICT (wallet_id) DO UPDATE SET
	height = excluded.height,
	checked_at = excluded.checked_at`

// RecordCheckpoint stores the latest sync checkpoint.
func (s *sqlStore) RecordCheckpoint(ctx context.Context, walletID string,
	checkpoint Checkpoint) error {

	_, err := s.db.ExecContext(
		ctx, s.rebind(upsertCheckpointQuery), walletID,
		checkpoint.Height, checkpoint.Time.Unix(),
	)

	return err
}

const lastCheckpointQuery = `
SELECT height, checked_at FROM checkpoints WHERE wallet_id = ?`

// LastCheckpoint returns the latest sync checkpoint.
func (s *sqlStore) LastCheckpoint(ctx context.Context,
	walletID string) (Checkpoint, bool, error) {

	var (
		checkpoint Checkpoint
		checkedAt  int64
	)
	err := s.db.QueryRowContext(
		ctx, s.rebind(lastCheckpointQuery), walletID,
	).Scan(&checkpoint.Height, &checkedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}

	checkpoint.Time = time.Unix(checkedAt, 0).UTC()

	return checkpoint, true, nil
}

// Close releases the database.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
