package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// openTestStore opens a fresh SQLite store in a temp dir.
func openTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s, err := OpenSqlite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testTxid(b byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b

	return hash
}

// TestHistoryUpsert checks insert, ordering and refresh of history records.
func TestHistoryUpsert(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := t.Context()

	records := []HistoryRecord{
		{
			Txid:     testTxid(1),
			Height:   -1,
			Credited: 5_000,
			RawTx:    []byte{0x01},
		},
		{
			Txid:      testTxid(2),
			Height:    100,
			BlockTime: fn.Some(time.Unix(1700000000, 0).UTC()),
			Credited:  100_000,
			Fee:       fn.Some(btcutil.Amount(250)),
			Comment:   "funding",
			RawTx:     []byte{0x02},
		},
	}
	require.NoError(t, s.UpsertHistory(ctx, "w1", records))

	got, err := s.ListHistory(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Confirmed transactions come first, mempool last.
	require.Equal(t, testTxid(2), got[0].Txid)
	require.Equal(t, int32(100), got[0].Height)
	require.Equal(t, records[1].BlockTime, got[0].BlockTime)
	require.Equal(t, records[1].Fee, got[0].Fee)
	require.Equal(t, "funding", got[0].Comment)

	require.Equal(t, testTxid(1), got[1].Txid)
	require.True(t, got[1].BlockTime.IsNone())
	require.True(t, got[1].Fee.IsNone())

	// Confirming the mempool transaction updates in place.
	records[0].Height = 101
	records[0].BlockTime = fn.Some(time.Unix(1700000600, 0).UTC())
	require.NoError(t, s.UpsertHistory(ctx, "w1", records[:1]))

	got, err = s.ListHistory(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, testTxid(1), got[1].Txid)
	require.Equal(t, int32(101), got[1].Height)

	// Other wallets see nothing.
	got, err = s.ListHistory(ctx, "w2")
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestUtxoReplace checks the replace-then-list cycle.
func TestUtxoReplace(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := t.Context()

	utxos := []UtxoRecord{
		{Txid: testTxid(1), Vout: 0, Value: 5_000, Height: 100},
		{
			Txid:   testTxid(2),
			Vout:   1,
			Value:  90_000,
			Height: 101,
			Change: true,
			Index:  3,
		},
	}
	require.NoError(t, s.ReplaceUtxos(ctx, "w1", utxos))

	got, err := s.ListUtxos(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Largest first.
	require.Equal(t, btcutil.Amount(90_000), got[0].Value)
	require.True(t, got[0].Change)
	require.Equal(t, uint32(3), got[0].Index)

	// A replace drops outputs no longer unspent.
	require.NoError(t, s.ReplaceUtxos(ctx, "w1", utxos[:1]))

	got, err = s.ListUtxos(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, testTxid(1), got[0].Txid)
}

// TestCheckpoints checks the checkpoint upsert cycle.
func TestCheckpoints(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := t.Context()

	_, ok, err := s.LastCheckpoint(ctx, "w1")
	require.NoError(t, err)
	require.False(t, ok)

	first := Checkpoint{
		Height: 100,
		Time:   time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, s.RecordCheckpoint(ctx, "w1", first))

	got, ok, err := s.LastCheckpoint(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, got)

	// A later sync overwrites the checkpoint.
	second := Checkpoint{
		Height: 101,
		Time:   time.Unix(1700000600, 0).UTC(),
	}
	require.NoError(t, s.RecordCheckpoint(ctx, "w1", second))

	got, ok, err = s.LastCheckpoint(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, got)
}

// TestRebindDollar checks placeholder numbering.
func TestRebindDollar(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SELECT $1, $2, $3",
		rebindDollar("SELECT ?, ?, ?"))
	require.Equal(t, "no placeholders", rebindDollar("no placeholders"))
}
