package wallet

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Reference point used to estimate block times when the header timestamp is
// not known yet. Block 733961 was mined 2022-04-28; estimates drift with
// actual block production but are good enough for display purposes until the
// real header time is fetched.
const (
	refBlockHeight    int32 = 733961
	refBlockTimestamp int64 = 1651158666
	blockIntervalSecs int64 = 600
)

// OnchainStatus locates a transaction either in the mempool or at a specific
// block height. Zero and negative heights both denote the mempool, matching
// the unsigned (0) and signed (-1) wire encodings.
type OnchainStatus int32

// StatusMempool is the status of an unconfirmed transaction.
const StatusMempool OnchainStatus = 0

// StatusAtHeight converts a height into an onchain status. Heights of zero or
// below are read as the mempool.
func StatusAtHeight(height int32) OnchainStatus {
	if height <= 0 {
		return StatusMempool
	}

	return OnchainStatus(height)
}

// InMempool reports whether the transaction is unconfirmed.
func (s OnchainStatus) InMempool() bool {
	return s <= 0
}

// Height returns the confirmation height, or false for mempool transactions.
func (s OnchainStatus) Height() (int32, bool) {
	if s.InMempool() {
		return 0, false
	}

	return int32(s), true
}

// I32 returns the signed wire encoding of the status: the height, or -1 for
// the mempool.
func (s OnchainStatus) I32() int32 {
	if s.InMempool() {
		return -1
	}

	return int32(s)
}

// U32 returns the unsigned wire encoding of the status: the height, or 0 for
// the mempool.
func (s OnchainStatus) U32() uint32 {
	if s.InMempool() {
		return 0
	}

	return uint32(s)
}

// ExpectedTime estimates the block time of the status from the reference
// block, assuming one block per ten minutes. Mempool statuses estimate as the
// current time.
func (s OnchainStatus) ExpectedTime() time.Time {
	height, ok := s.Height()
	if !ok {
		return time.Now().UTC()
	}

	secs := refBlockTimestamp +
		int64(height-refBlockHeight)*blockIntervalSecs

	return time.Unix(secs, 0).UTC()
}

// String returns "mempool" or the block height.
func (s OnchainStatus) String() string {
	height, ok := s.Height()
	if !ok {
		return "mempool"
	}

	return fmt.Sprintf("block #%d", height)
}

// OnchainTxid is a transaction id together with its onchain status and,
// when known, the time of its block.
type OnchainTxid struct {
	// Txid is the transaction id.
	Txid chainhash.Hash

	// Status locates the transaction onchain.
	Status OnchainStatus

	// Time is the block time, when the header has been resolved.
	Time fn.Option[time.Time]
}

// BestTime returns the known block time, falling back to the status
// estimate.
func (t OnchainTxid) BestTime() time.Time {
	return t.Time.UnwrapOr(t.Status.ExpectedTime())
}

// Less orders transactions by confirmation height, mempool transactions
// last, ties broken by txid.
func (t OnchainTxid) Less(other OnchainTxid) bool {
	tHeight, tConfirmed := t.Status.Height()
	oHeight, oConfirmed := other.Status.Height()

	switch {
	case tConfirmed && !oConfirmed:
		return true

	case !tConfirmed && oConfirmed:
		return false

	case tHeight != oHeight:
		return tHeight < oHeight
	}

	return bytes.Compare(t.Txid[:], other.Txid[:]) < 0
}

// AddressSource is a wallet address together with the terminal derivation
// that produced it.
type AddressSource struct {
	// Address is the rendered address.
	Address btcutil.Address

	// Change indicates the change branch of the derivation.
	Change bool

	// Index is the address index within the branch.
	Index uint32
}

// changeBranch maps the change flag onto the derivation branch index.
func changeBranch(change bool) uint32 {
	if change {
		return 1
	}

	return 0
}

// TerminalString returns the terminal derivation suffix of the address, e.g.
// "/0/5" for the sixth external address.
func (a AddressSource) TerminalString() string {
	return fmt.Sprintf("/%d/%d", changeBranch(a.Change), a.Index)
}

// AddressValue is an amount attributed to a wallet address.
type AddressValue struct {
	// Address is the attributed address.
	Address AddressSource

	// Value is the amount.
	Value btcutil.Amount
}

// AddressSummary accumulates per-address usage statistics.
type AddressSummary struct {
	// Address is the summarized address.
	Address AddressSource

	// Balance is the spendable amount currently held by the address.
	Balance btcutil.Amount

	// Volume is the total amount ever received by the address.
	Volume btcutil.Amount

	// TxCount is the number of transactions touching the address.
	TxCount uint32
}

// Merge accumulates another summary for the same address.
func (s *AddressSummary) Merge(other AddressSummary) {
	s.Balance += other.Balance
	s.Volume += other.Volume
	s.TxCount += other.TxCount
}

// HistoryEntry is one wallet-affecting transaction with the wallet's view of
// its funds flow.
type HistoryEntry struct {
	// Onchain is the transaction id and its onchain status.
	Onchain OnchainTxid

	// Tx is the full transaction.
	Tx wire.MsgTx

	// Credit maps output indexes paying to the wallet onto the credited
	// address and amount.
	Credit map[uint32]AddressValue

	// Debit maps input indexes spending wallet funds onto the debited
	// address and amount.
	Debit map[uint32]AddressValue

	// Fee is the transaction fee, when all prevouts are known.
	Fee fn.Option[btcutil.Amount]

	// Comment is a user-provided label.
	Comment string
}

// ValueCredited sums the amounts paid to the wallet by the transaction.
func (h *HistoryEntry) ValueCredited() btcutil.Amount {
	var total btcutil.Amount
	for _, credit := range h.Credit {
		total += credit.Value
	}

	return total
}

// ValueDebited sums the wallet amounts spent by the transaction.
func (h *HistoryEntry) ValueDebited() btcutil.Amount {
	var total btcutil.Amount
	for _, debit := range h.Debit {
		total += debit.Value
	}

	return total
}

// BalanceChange returns the signed net effect of the transaction on the
// wallet balance.
func (h *HistoryEntry) BalanceChange() btcutil.Amount {
	return h.ValueCredited() - h.ValueDebited()
}

// UtxoTxid is an unspent wallet output.
type UtxoTxid struct {
	// Onchain is the funding transaction id and status.
	Onchain OnchainTxid

	// Value is the output amount.
	Value btcutil.Amount

	// Address is the derivation of the output script.
	Address AddressSource

	// Vout is the output index within the funding transaction.
	Vout uint32
}

// Outpoint returns the outpoint of the unspent output.
func (u UtxoTxid) Outpoint() wire.OutPoint {
	return wire.OutPoint{
		Hash:  u.Onchain.Txid,
		Index: u.Vout,
	}
}

// Prevout is a previous output referenced during transaction composition.
type Prevout struct {
	// Outpoint references the output.
	Outpoint wire.OutPoint

	// Amount is the output value.
	Amount btcutil.Amount

	// Change and Index are the terminal derivation of the output script.
	Change bool
	Index  uint32
}

// TerminalString returns the terminal derivation suffix of the prevout.
func (p Prevout) TerminalString() string {
	return fmt.Sprintf("/%d/%d", changeBranch(p.Change), p.Index)
}

// sortHistory orders history entries by onchain position, oldest first,
// mempool entries last.
func sortHistory(entries []HistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Onchain.Less(entries[j].Onchain)
	})
}
