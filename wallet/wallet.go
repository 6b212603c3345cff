// Package wallet maintains the state of a descriptor wallet: its signer
// descriptor, onchain history, unspent outputs and work-in-progress PSBTs,
// kept current by an electrum worker and priced by an exchange worker.
package wallet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/mycitadel/citadel/electrum"
	"github.com/mycitadel/citadel/exchange"
	"github.com/mycitadel/citadel/wdesc"
)

var (
	// ErrNoChainBackend is returned when the wallet is started without a
	// chain backend configured.
	ErrNoChainBackend = errors.New("no chain backend configured")
)

// State is the persisted part of the wallet's runtime counters.
type State struct {
	// Balance is the sum of the unspent outputs.
	Balance btcutil.Amount

	// Volume is the total amount ever received.
	Volume btcutil.Amount
}

// FeeEstimates are the current fee estimates in satoshis per vbyte for one,
// two and three block confirmation targets. Negative values mean no estimate
// is available.
type FeeEstimates struct {
	Fast   float64
	Normal float64
	Slow   float64
}

// ExchangeRate is the last known fiat price of one bitcoin.
type ExchangeRate struct {
	// Fiat is the quote currency.
	Fiat exchange.Fiat

	// Rate is the price of one bitcoin.
	Rate float64
}

// BestBlock is the wallet's view of the chain tip.
type BestBlock struct {
	// Height is the tip height.
	Height int32

	// Time is the tip header time.
	Time time.Time
}

// ChainBackend drives the wallet's electrum synchronization.
type ChainBackend interface {
	// Run processes commands until the context is canceled.
	Run(ctx context.Context) error

	// Command submits a command.
	Command(ctx context.Context, cmd electrum.Cmd) error

	// Events returns the event stream.
	Events() <-chan electrum.Msg
}

// RateBackend streams fiat exchange rates.
type RateBackend interface {
	// Run processes refreshes until the context is canceled.
	Run(ctx context.Context) error

	// Events returns the rate stream.
	Events() <-chan exchange.Msg
}

// Config holds the wallet dependencies.
type Config struct {
	// Descriptor describes how the wallet derives its scripts.
	Descriptor *wdesc.Descriptor

	// Chain is the electrum worker. Required to Start the wallet; a
	// wallet without one is a static document.
	Chain ChainBackend

	// Rates is the exchange worker. Optional.
	Rates RateBackend

	// OnUpdate is invoked after a sync completes or a rate arrives, with
	// no locks held. Optional; used to persist the wallet document.
	OnUpdate func()
}

// Document is a serializable snapshot of the wallet, exchanged with the
// wallet file codec.
type Document struct {
	// Descriptor describes the wallet scripts.
	Descriptor *wdesc.Descriptor

	// State holds the persisted counters.
	State State

	// History are the wallet transactions.
	History []HistoryEntry

	// Utxos are the unspent outputs.
	Utxos []UtxoTxid

	// Wip are the unfinished PSBTs.
	Wip []*psbt.Packet
}

// Wallet aggregates the descriptor with the synchronized onchain state and
// owns the background workers once started.
type Wallet struct {
	cfg Config

	state walletState

	// mu guards all fields below.
	mu sync.RWMutex

	runtime   State
	bestBlock fn.Option[BestBlock]
	fees      FeeEstimates
	rate      fn.Option[ExchangeRate]

	// history and utxos are the synchronized wallet data, keyed by txid
	// and outpoint.
	history map[chainhash.Hash]*HistoryEntry
	utxos   map[wire.OutPoint]UtxoTxid

	// stagedUtxos collects the utxo set of the sync in flight; it
	// replaces utxos when the sync completes.
	stagedUtxos map[wire.OutPoint]UtxoTxid

	// scriptIndex maps derived script pubkeys back to their address
	// sources. It grows as the scan walks the branches.
	scriptIndex map[string]AddressSource

	wip []*psbt.Packet

	lifetimeCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWallet creates a wallet around an empty document.
func NewWallet(cfg Config) (*Wallet, error) {
	return NewFromDocument(cfg, &Document{Descriptor: cfg.Descriptor})
}

// NewFromDocument creates a wallet from a loaded document. The document's
// descriptor takes precedence over the config's.
func NewFromDocument(cfg Config, doc *Document) (*Wallet, error) {
	if doc.Descriptor == nil {
		return nil, wdesc.ErrNoSigners
	}
	cfg.Descriptor = doc.Descriptor

	w := &Wallet{
		cfg:         cfg,
		runtime:     doc.State,
		history:     make(map[chainhash.Hash]*HistoryEntry),
		utxos:       make(map[wire.OutPoint]UtxoTxid),
		scriptIndex: make(map[string]AddressSource),
		wip:         doc.Wip,
	}

	for _, entry := range doc.History {
		entry := entry
		w.history[entry.Onchain.Txid] = &entry
	}
	for _, utxo := range doc.Utxos {
		w.utxos[utxo.Outpoint()] = utxo
	}

	return w, nil
}

// Descriptor returns the wallet descriptor.
func (w *Wallet) Descriptor() *wdesc.Descriptor {
	return w.cfg.Descriptor
}

// Snapshot captures the wallet as a serializable document.
func (w *Wallet) Snapshot() *Document {
	w.mu.RLock()
	defer w.mu.RUnlock()

	history := make([]HistoryEntry, 0, len(w.history))
	for _, entry := range w.history {
		history = append(history, *entry)
	}
	sortHistory(history)

	utxos := make([]UtxoTxid, 0, len(w.utxos))
	for _, utxo := range w.utxos {
		utxos = append(utxos, utxo)
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Onchain.Txid != utxos[j].Onchain.Txid {
			return utxos[i].Onchain.Less(utxos[j].Onchain)
		}

		return utxos[i].Vout < utxos[j].Vout
	})

	wip := make([]*psbt.Packet, len(w.wip))
	copy(wip, w.wip)

	return &Document{
		Descriptor: w.cfg.Descriptor,
		State:      w.runtime,
		History:    history,
		Utxos:      utxos,
		Wip:        wip,
	}
}

// Script derives the script pubkey at a terminal, recording the derivation
// for later attribution of transaction outputs.
//
// This implements the electrum.ScriptSource interface.
func (w *Wallet) Script(change bool, index uint32) ([]byte, error) {
	script, err := DeriveScriptPubkey(w.cfg.Descriptor, change, index)
	if err != nil {
		return nil, err
	}

	source, err := DeriveAddressSource(w.cfg.Descriptor, change, index)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.scriptIndex[string(script)] = source
	w.mu.Unlock()

	return script, nil
}

// Balance returns the current spendable balance.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.runtime.Balance
}

// Volume returns the total amount ever received.
func (w *Wallet) Volume() btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.runtime.Volume
}

// BestBlock returns the last seen chain tip.
func (w *Wallet) BestBlock() fn.Option[BestBlock] {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.bestBlock
}

// FeeRates returns the current fee estimates.
func (w *Wallet) FeeRates() FeeEstimates {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.fees
}

// Rate returns the last known exchange rate.
func (w *Wallet) Rate() fn.Option[ExchangeRate] {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.rate
}

// History returns the wallet transactions ordered by chain position, oldest
// first, mempool entries last.
func (w *Wallet) History() []HistoryEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entries := make([]HistoryEntry, 0, len(w.history))
	for _, entry := range w.history {
		entries = append(entries, *entry)
	}
	sortHistory(entries)

	return entries
}

// Utxos returns the unspent outputs, largest first.
func (w *Wallet) Utxos() []UtxoTxid {
	w.mu.RLock()
	defer w.mu.RUnlock()

	utxos := make([]UtxoTxid, 0, len(w.utxos))
	for _, utxo := range w.utxos {
		utxos = append(utxos, utxo)
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Value != utxos[j].Value {
			return utxos[i].Value > utxos[j].Value
		}

		return utxos[i].Onchain.Less(utxos[j].Onchain)
	})

	return utxos
}

// AddressSummaries merges the history credits into per-address usage
// statistics.
func (w *Wallet) AddressSummaries() []AddressSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()

	unspent := make(map[wire.OutPoint]struct{}, len(w.utxos))
	for outpoint := range w.utxos {
		unspent[outpoint] = struct{}{}
	}

	summaries := make(map[string]*AddressSummary)
	for txid, entry := range w.history {
		for vout, credit := range entry.Credit {
			key := credit.Address.TerminalString()
			summary, ok := summaries[key]
			if !ok {
				summary = &AddressSummary{
					Address: credit.Address,
				}
				summaries[key] = summary
			}

			outpoint := wire.OutPoint{Hash: txid, Index: vout}
			update := AddressSummary{
				Volume:  credit.Value,
				TxCount: 1,
			}
			if _, ok := unspent[outpoint]; ok {
				update.Balance = credit.Value
			}
			summary.Merge(update)
		}
	}

	out := make([]AddressSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Address, out[j].Address
		if a.Change != b.Change {
			return !a.Change
		}

		return a.Index < b.Index
	})

	return out
}

// NextUnusedIndex returns the first never-credited index on a branch.
func (w *Wallet) NextUnusedIndex(change bool) uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.nextUnusedIndexLocked(change)
}

func (w *Wallet) nextUnusedIndexLocked(change bool) uint32 {
	var next uint32
	for _, entry := range w.history {
		for _, credit := range entry.Credit {
			if credit.Address.Change != change {
				continue
			}
			if credit.Address.Index >= next {
				next = credit.Address.Index + 1
			}
		}
	}

	return next
}

// Wip returns the unfinished PSBTs.
func (w *Wallet) Wip() []*psbt.Packet {
	w.mu.RLock()
	defer w.mu.RUnlock()

	wip := make([]*psbt.Packet, len(w.wip))
	copy(wip, w.wip)

	return wip
}

// AddWip stores an unfinished PSBT.
func (w *Wallet) AddWip(packet *psbt.Packet) {
	w.mu.Lock()
	w.wip = append(w.wip, packet)
	w.mu.Unlock()
}

// applyChainMsg folds one electrum event into the wallet state.
func (w *Wallet) applyChainMsg(msg electrum.Msg) {
	switch m := msg.(type) {
	case electrum.MsgConnecting:
		w.state.setSync(syncConnecting)

	case electrum.MsgConnected:
		log.Infof("Connected to electrum server %s", m.Server)
		w.state.setSync(syncSyncing)
		w.beginSync()

	case electrum.MsgDisconnected:
		w.state.setSync(syncDisconnected)

	case electrum.MsgLastBlock:
		w.mu.Lock()
		w.bestBlock = fn.Some(BestBlock{
			Height: m.Header.Height,
			Time:   m.Header.Time,
		})
		w.mu.Unlock()

	case electrum.MsgFeeEstimate:
		w.mu.Lock()
		w.fees = FeeEstimates{
			Fast:   m.Fast,
			Normal: m.Normal,
			Slow:   m.Slow,
		}
		w.mu.Unlock()

	case electrum.MsgHistoryBatch:
		w.applyHistoryBatch(m.Items)

	case electrum.MsgUtxoBatch:
		w.applyUtxoBatch(m.Items)

	case electrum.MsgTxBatch:
		w.applyTxBatch(m.Txs)
		log.Debugf("Fetched wallet transactions: %.0f%%",
			m.Progress*100)

	case electrum.MsgComplete:
		w.completeSync()
		w.notifyUpdate()

	case electrum.MsgError:
		log.Warnf("Electrum sync failed: %v", m.Err)
		w.state.setSync(syncDisconnected)
	}
}

// beginSync resets the utxo staging area for a fresh scan.
func (w *Wallet) beginSync() {
	w.mu.Lock()
	w.stagedUtxos = make(map[wire.OutPoint]UtxoTxid)
	w.mu.Unlock()
}

// applyHistoryBatch upserts scanned history items; the transactions
// themselves arrive later in tx batches.
func (w *Wallet) applyHistoryBatch(items []electrum.HistoryItem) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, item := range items {
		status := StatusAtHeight(item.Height)

		entry, ok := w.history[item.TxHash]
		if !ok {
			entry = &HistoryEntry{
				Onchain: OnchainTxid{
					Txid:   item.TxHash,
					Status: status,
				},
				Credit: make(map[uint32]AddressValue),
				Debit:  make(map[uint32]AddressValue),
			}
			w.history[item.TxHash] = entry

			continue
		}

		// Confirmation status may move between syncs, e.g. from
		// mempool into a block.
		if entry.Onchain.Status != status {
			entry.Onchain.Status = status
			entry.Onchain.Time = fn.None[time.Time]()
		}
	}
}

// applyUtxoBatch stages scanned unspent outputs, attributing them to their
// derivation terminals.
func (w *Wallet) applyUtxoBatch(items []electrum.Utxo) {
	for _, item := range items {
		source, err := DeriveAddressSource(
			w.cfg.Descriptor, item.Change, item.Index,
		)
		if err != nil {
			log.Errorf("Unable to derive address for utxo "+
				"%v:%d: %v", item.TxHash, item.Vout, err)
			continue
		}

		utxo := UtxoTxid{
			Onchain: OnchainTxid{
				Txid:   item.TxHash,
				Status: StatusAtHeight(item.Height),
			},
			Value:   item.Value,
			Address: source,
			Vout:    item.Vout,
		}

		w.mu.Lock()
		if w.stagedUtxos == nil {
			w.stagedUtxos = make(map[wire.OutPoint]UtxoTxid)
		}
		w.stagedUtxos[utxo.Outpoint()] = utxo
		w.mu.Unlock()
	}
}

// applyTxBatch fills fetched transactions into the history and recomputes
// the funds flow.
func (w *Wallet) applyTxBatch(txs []electrum.TxDetail) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, detail := range txs {
		txid := detail.Tx.TxHash()

		entry, ok := w.history[txid]
		if !ok {
			entry = &HistoryEntry{
				Onchain: OnchainTxid{Txid: txid},
				Credit:  make(map[uint32]AddressValue),
				Debit:   make(map[uint32]AddressValue),
			}
			w.history[txid] = entry
		}

		entry.Tx = *detail.Tx
		entry.Onchain.Status = StatusAtHeight(detail.Height)
		entry.Onchain.Time = detail.Time
		if detail.Fee.IsSome() {
			entry.Fee = detail.Fee
		}

		log.Tracef("Fetched wallet tx %v: %v", txid,
			newLogClosure(func() string {
				return spew.Sdump(detail.Tx)
			}))

		// Attribute outputs paying to scanned wallet scripts.
		for vout, txOut := range detail.Tx.TxOut {
			source, ok := w.scriptIndex[string(txOut.PkScript)]
			if !ok {
				continue
			}

			entry.Credit[uint32(vout)] = AddressValue{
				Address: source,
				Value:   btcutil.Amount(txOut.Value),
			}
		}
	}

	w.recomputeDebitsLocked()
}

// recomputeDebitsLocked rebuilds the debit maps by matching every input
// against the credits of the referenced wallet transactions.
func (w *Wallet) recomputeDebitsLocked() {
	for _, entry := range w.history {
		for vin, txIn := range entry.Tx.TxIn {
			prev, ok := w.history[txIn.PreviousOutPoint.Hash]
			if !ok {
				continue
			}

			credit, ok := prev.Credit[txIn.PreviousOutPoint.Index]
			if !ok {
				continue
			}

			entry.Debit[uint32(vin)] = credit
		}
	}
}

// completeSync promotes the staged utxo set and refreshes the counters.
func (w *Wallet) completeSync() {
	w.mu.Lock()

	if w.stagedUtxos != nil {
		w.utxos = w.stagedUtxos
		w.stagedUtxos = nil
	}

	var balance, volume btcutil.Amount
	for _, utxo := range w.utxos {
		balance += utxo.Value
	}
	for _, entry := range w.history {
		volume += entry.ValueCredited()
	}
	w.runtime = State{Balance: balance, Volume: volume}

	w.mu.Unlock()

	w.state.setSync(syncSynced)

	log.Infof("Wallet synced: balance=%v, volume=%v, txs=%d",
		balance, volume, len(w.history))
}

// applyRateMsg folds one exchange event into the wallet state.
func (w *Wallet) applyRateMsg(msg exchange.Msg) {
	switch m := msg.(type) {
	case exchange.MsgRate:
		w.mu.Lock()
		w.rate = fn.Some(ExchangeRate{
			Fiat: m.Fiat,
			Rate: m.Rate,
		})
		w.mu.Unlock()

		w.notifyUpdate()

	case exchange.MsgError:
		log.Warnf("Exchange rate refresh failed: %v", m.Err)
	}
}

// notifyUpdate invokes the update callback outside of any wallet locks.
func (w *Wallet) notifyUpdate() {
	if w.cfg.OnUpdate != nil {
		w.cfg.OnUpdate()
	}
}

// eventLoop applies worker events until shutdown.
func (w *Wallet) eventLoop() {
	defer w.wg.Done()

	var rateEvents <-chan exchange.Msg
	if w.cfg.Rates != nil {
		rateEvents = w.cfg.Rates.Events()
	}

	for {
		select {
		case msg := <-w.cfg.Chain.Events():
			w.applyChainMsg(msg)

		case msg := <-rateEvents:
			w.applyRateMsg(msg)

		case <-w.lifetimeCtx.Done():
			return
		}
	}
}

// ensure the wallet satisfies the script source contract of the worker.
var _ electrum.ScriptSource = (*Wallet)(nil)
