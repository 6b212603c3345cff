package wallet

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/mycitadel/citadel/electrum"
	"github.com/mycitadel/citadel/exchange"
	"github.com/mycitadel/citadel/xkey"
)

// newTestWallet builds a wallet around a single-signer segwit descriptor.
func newTestWallet(t *testing.T) *Wallet {
	t.Helper()

	desc := testDescriptor(t, xkey.Bip84, vectorXpubMaster)

	w, err := NewWallet(Config{Descriptor: desc})
	require.NoError(t, err)

	return w
}

// fundTestWallet drives a full sync cycle crediting the wallet with one
// confirmed output of the given value at the first external address.
func fundTestWallet(t *testing.T, w *Wallet,
	value btcutil.Amount) *wire.MsgTx {

	t.Helper()

	// The scan registers scripts through the source interface.
	script, err := w.Script(false, 0)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	txid := tx.TxHash()

	w.applyChainMsg(electrum.MsgConnected{})
	w.applyChainMsg(electrum.MsgHistoryBatch{
		Items: []electrum.HistoryItem{{TxHash: txid, Height: 100}},
	})
	w.applyChainMsg(electrum.MsgUtxoBatch{
		Items: []electrum.Utxo{{
			TxHash: txid,
			Vout:   0,
			Height: 100,
			Value:  value,
			Change: false,
			Index:  0,
		}},
	})
	w.applyChainMsg(electrum.MsgTxBatch{
		Txs: []electrum.TxDetail{{
			Tx:     tx,
			Height: 100,
			Time:   fn.Some(time.Unix(1651158666, 0).UTC()),
		}},
		Progress: 1,
	})
	w.applyChainMsg(electrum.MsgComplete{})

	return tx
}

// TestWalletSyncCycle checks that a sync cycle populates history, utxos and
// counters.
func TestWalletSyncCycle(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	tx := fundTestWallet(t, w, 100_000)

	require.Equal(t, btcutil.Amount(100_000), w.Balance())
	require.Equal(t, btcutil.Amount(100_000), w.Volume())

	history := w.History()
	require.Len(t, history, 1)

	entry := history[0]
	require.Equal(t, tx.TxHash(), entry.Onchain.Txid)
	require.Equal(t, StatusAtHeight(100), entry.Onchain.Status)
	require.True(t, entry.Onchain.Time.IsSome())

	credit, ok := entry.Credit[0]
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(100_000), credit.Value)
	require.False(t, credit.Address.Change)
	require.Equal(t, uint32(0), credit.Address.Index)

	utxos := w.Utxos()
	require.Len(t, utxos, 1)
	require.Equal(t, btcutil.Amount(100_000), utxos[0].Value)

	// The first external address is used now.
	require.Equal(t, uint32(1), w.NextUnusedIndex(false))
	require.Equal(t, uint32(0), w.NextUnusedIndex(true))

	summaries := w.AddressSummaries()
	require.Len(t, summaries, 1)
	require.Equal(t, btcutil.Amount(100_000), summaries[0].Balance)
	require.Equal(t, btcutil.Amount(100_000), summaries[0].Volume)
	require.Equal(t, uint32(1), summaries[0].TxCount)
}

// TestWalletSpendTracking checks debit attribution when a wallet output is
// spent.
func TestWalletSpendTracking(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	funding := fundTestWallet(t, w, 100_000)

	// Spend the funded output to a foreign script, paying 10k in fees.
	spend := wire.NewMsgTx(2)
	spend.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  funding.TxHash(),
		Index: 0,
	}, nil, nil))
	spend.AddTxOut(wire.NewTxOut(90_000, []byte{0x6a}))

	w.applyChainMsg(electrum.MsgConnected{})
	w.applyChainMsg(electrum.MsgHistoryBatch{
		Items: []electrum.HistoryItem{
			{TxHash: funding.TxHash(), Height: 100},
			{TxHash: spend.TxHash(), Height: 0},
		},
	})

	// The funded output is gone; no utxos remain.
	w.applyChainMsg(electrum.MsgUtxoBatch{})
	w.applyChainMsg(electrum.MsgTxBatch{
		Txs: []electrum.TxDetail{{Tx: spend, Height: 0}},
		Progress: 1,
	})
	w.applyChainMsg(electrum.MsgComplete{})

	require.Equal(t, btcutil.Amount(0), w.Balance())

	history := w.History()
	require.Len(t, history, 2)

	// The mempool spend sorts last.
	entry := history[1]
	require.Equal(t, spend.TxHash(), entry.Onchain.Txid)
	require.True(t, entry.Onchain.Status.InMempool())

	debit, ok := entry.Debit[0]
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(100_000), debit.Value)
	require.Equal(t, btcutil.Amount(-100_000), entry.BalanceChange())
}

// TestWalletSnapshotRoundTrip checks the document snapshot/restore cycle.
func TestWalletSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	fundTestWallet(t, w, 100_000)

	doc := w.Snapshot()
	require.Len(t, doc.History, 1)
	require.Len(t, doc.Utxos, 1)
	require.Equal(t, btcutil.Amount(100_000), doc.State.Balance)

	restored, err := NewFromDocument(Config{}, doc)
	require.NoError(t, err)
	require.Equal(t, w.Balance(), restored.Balance())
	require.Equal(t, w.Volume(), restored.Volume())
	require.Len(t, restored.History(), 1)
	require.Len(t, restored.Utxos(), 1)
}

// TestWalletRateUpdates checks exchange rate application.
func TestWalletRateUpdates(t *testing.T) {
	t.Parallel()

	var updates int
	w := newTestWallet(t)
	w.cfg.OnUpdate = func() { updates++ }

	require.True(t, w.Rate().IsNone())

	w.applyRateMsg(exchange.MsgRate{Fiat: exchange.EUR, Rate: 28_000})

	rate := w.Rate()
	require.True(t, rate.IsSome())
	require.Equal(t, exchange.EUR, rate.UnwrapOr(ExchangeRate{}).Fiat)
	require.Equal(t, 1, updates)

	// Errors do not clobber the last rate.
	w.applyRateMsg(exchange.MsgError{Err: exchange.ErrBadRate})
	require.True(t, w.Rate().IsSome())
}

// TestWalletChainStateMessages checks tip and fee bookkeeping.
func TestWalletChainStateMessages(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	w.applyChainMsg(electrum.MsgLastBlock{Header: electrum.Header{
		Height: 810_000,
		Time:   time.Unix(1700000000, 0).UTC(),
	}})
	best := w.BestBlock()
	require.True(t, best.IsSome())
	require.Equal(t, int32(810_000), best.UnwrapOr(BestBlock{}).Height)

	w.applyChainMsg(electrum.MsgFeeEstimate{
		Fast:   20,
		Normal: 10,
		Slow:   2,
	})
	require.Equal(t, FeeEstimates{Fast: 20, Normal: 10, Slow: 2},
		w.FeeRates())
}

// TestWalletStartWithoutBackend checks that a static wallet cannot be
// started.
func TestWalletStartWithoutBackend(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	err := w.Start(t.Context())
	require.ErrorIs(t, err, ErrNoChainBackend)
}
