//go:build itest

package itest

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mycitadel/citadel/store"
)

// pgInitTimeout needs to cover the container image download.
const pgInitTimeout = 2 * time.Minute

// startPostgres spins up a disposable postgres container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), pgInitTimeout)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("citadel"),
		postgres.WithUsername("citadel"),
		postgres.WithPassword("citadel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept "+
				"connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return dsn
}

// TestPostgresStore runs the cache cycle against a real postgres instance.
func TestPostgresStore(t *testing.T) {
	s, err := store.OpenPostgres(startPostgres(t))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	var txid chainhash.Hash
	txid[0] = 1

	records := []store.HistoryRecord{{
		Txid:      txid,
		Height:    100,
		BlockTime: fn.Some(time.Unix(1700000000, 0).UTC()),
		Credited:  100_000,
		Fee:       fn.Some(btcutil.Amount(250)),
		Comment:   "funding",
		RawTx:     []byte{0x01},
	}}
	require.NoError(t, s.UpsertHistory(ctx, "w1", records))

	// Upserting twice must not duplicate.
	require.NoError(t, s.UpsertHistory(ctx, "w1", records))

	history, err := s.ListHistory(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, records[0], history[0])

	utxos := []store.UtxoRecord{{
		Txid:   txid,
		Vout:   0,
		Value:  100_000,
		Height: 100,
	}}
	require.NoError(t, s.ReplaceUtxos(ctx, "w1", utxos))

	listed, err := s.ListUtxos(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, utxos, listed)

	checkpoint := store.Checkpoint{
		Height: 100,
		Time:   time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, s.RecordCheckpoint(ctx, "w1", checkpoint))

	got, ok, err := s.LastCheckpoint(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, checkpoint, got)
}
