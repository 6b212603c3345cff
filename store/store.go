// Package store caches synced wallet history in a SQL database, so a restart
// can serve history and balances before the first electrum sync completes.
// Both SQLite and PostgreSQL backends are supported and share one schema.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNilDB is returned when a store is built around a nil handle.
	ErrNilDB = errors.New("nil database handle")
)

// HistoryRecord is one cached wallet transaction.
type HistoryRecord struct {
	// Txid is the transaction id.
	Txid chainhash.Hash

	// Height is the confirmation height, -1 for mempool transactions.
	Height int32

	// BlockTime is the block timestamp, when resolved.
	BlockTime fn.Option[time.Time]

	// Credited is the total amount paid to the wallet.
	Credited btcutil.Amount

	// Debited is the total wallet amount spent.
	Debited btcutil.Amount

	// Fee is the transaction fee, when known.
	Fee fn.Option[btcutil.Amount]

	// Comment is the user-provided label.
	Comment string

	// RawTx is the serialized transaction.
	RawTx []byte
}

// UtxoRecord is one cached unspent output.
type UtxoRecord struct {
	// Txid is the funding transaction id.
	Txid chainhash.Hash

	// Vout is the output index.
	Vout uint32

	// Value is the output amount.
	Value btcutil.Amount

	// Height is the confirmation height, -1 for mempool outputs.
	Height int32

	// Change marks outputs on the change branch.
	Change bool

	// Index is the address index within the branch.
	Index uint32
}

// Checkpoint records how far a wallet has been synced.
type Checkpoint struct {
	// Height is the chain tip at sync completion.
	Height int32

	// Time is when the sync completed.
	Time time.Time
}

// Store caches synced wallet state keyed by a wallet id.
type Store interface {
	// UpsertHistory inserts or refreshes cached transactions.
	UpsertHistory(ctx context.Context, walletID string,
		records []HistoryRecord) error

	// ListHistory returns the cached transactions, confirmed first in
	// height order, mempool transactions last.
	ListHistory(ctx context.Context,
		walletID string) ([]HistoryRecord, error)

	// ReplaceUtxos swaps the cached unspent set for the given one.
	ReplaceUtxos(ctx context.Context, walletID string,
		utxos []UtxoRecord) error

	// ListUtxos returns the cached unspent set.
	ListUtxos(ctx context.Context, walletID string) ([]UtxoRecord, error)

	// RecordCheckpoint stores the latest sync checkpoint.
	RecordCheckpoint(ctx context.Context, walletID string,
		checkpoint Checkpoint) error

	// LastCheckpoint returns the latest sync checkpoint, reporting
	// whether one exists.
	LastCheckpoint(ctx context.Context,
		walletID string) (Checkpoint, bool, error)

	// Close releases the database.
	Close() error
}
