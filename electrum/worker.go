package electrum

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// gapLimit is the number of consecutive unused addresses scanned per
	// batch before a branch is considered exhausted.
	gapLimit = 20

	// txChunkSize is the number of transactions fetched per batch while
	// reporting progress.
	txChunkSize = 20

	// defaultPollInterval is the header poll cadence when none is
	// configured.
	defaultPollInterval = time.Minute

	// feeTargetCount is the number of confirmation targets estimated,
	// starting at one block.
	feeTargetCount = 3
)

var (
	// ErrWorkerStopped is returned when a command is submitted after the
	// worker's context has been canceled.
	ErrWorkerStopped = errors.New("electrum worker stopped")
)

// ScriptSource provides the script pubkeys of the wallet branches being
// scanned. Index zero is the first address of a branch.
type ScriptSource interface {
	// Script derives the script pubkey at the given terminal.
	Script(change bool, index uint32) ([]byte, error)
}

// HeaderTimeCache resolves block heights to their header timestamps,
// avoiding repeated header fetches across syncs.
type HeaderTimeCache interface {
	// BlockTime returns the cached timestamp of a height.
	BlockTime(height int32) (time.Time, bool)

	// PutBlockTime caches the timestamp of a height.
	PutBlockTime(height int32, t time.Time) error
}

// Cmd is a command submitted to the worker.
type Cmd interface {
	isCmd()
}

// CmdSync requests a full address scan.
type CmdSync struct{}

func (CmdSync) isCmd() {}

// CmdPull requests a poll of pending header notifications.
type CmdPull struct{}

func (CmdPull) isCmd() {}

// CmdUpdate switches to a different server and resyncs.
type CmdUpdate struct {
	// Server is the new endpoint.
	Server Server
}

func (CmdUpdate) isCmd() {}

// Msg is an event emitted by the worker.
type Msg interface {
	isMsg()
}

// MsgConnecting reports the start of a connection attempt.
type MsgConnecting struct {
	// Server is the endpoint being dialed.
	Server Server
}

func (MsgConnecting) isMsg() {}

// MsgConnected reports an established connection.
type MsgConnected struct {
	// Server is the connected endpoint.
	Server Server
}

func (MsgConnected) isMsg() {}

// MsgDisconnected reports a dropped connection.
type MsgDisconnected struct{}

func (MsgDisconnected) isMsg() {}

// MsgLastBlock reports the chain tip.
type MsgLastBlock struct {
	// Header is the tip header.
	Header Header
}

func (MsgLastBlock) isMsg() {}

// MsgFeeEstimate reports fee estimates in satoshis per vbyte for one, two
// and three block confirmation targets. Negative values mean the server has
// no estimate for the target.
type MsgFeeEstimate struct {
	Fast   float64
	Normal float64
	Slow   float64
}

func (MsgFeeEstimate) isMsg() {}

// MsgHistoryBatch carries one scanned batch of script history.
type MsgHistoryBatch struct {
	// Items are the history entries of the batch.
	Items []HistoryItem

	// Offset counts the batches delivered during this sync.
	Offset uint16
}

func (MsgHistoryBatch) isMsg() {}

// Utxo is an unspent wallet output attributed to its derivation terminal.
type Utxo struct {
	// TxHash is the funding transaction id.
	TxHash chainhash.Hash

	// Vout is the output index.
	Vout uint32

	// Height is the confirmation height; zero for mempool.
	Height int32

	// Value is the output value.
	Value btcutil.Amount

	// Change and Index are the terminal the output script was derived
	// at.
	Change bool
	Index  uint32
}

// MsgUtxoBatch carries one scanned batch of unspent outputs.
type MsgUtxoBatch struct {
	// Items are the unspent outputs of the batch.
	Items []Utxo

	// Offset counts the batches delivered during this sync.
	Offset uint16
}

func (MsgUtxoBatch) isMsg() {}

// TxDetail is a fully fetched transaction with its chain position.
type TxDetail struct {
	// Tx is the transaction.
	Tx *wire.MsgTx

	// Height is the confirmation height; zero for mempool.
	Height int32

	// Time is the block time, when resolved.
	Time fn.Option[time.Time]

	// Fee is the mempool fee, when the server reported one.
	Fee fn.Option[btcutil.Amount]
}

// MsgTxBatch carries one fetched chunk of transactions.
type MsgTxBatch struct {
	// Txs are the fetched transactions.
	Txs []TxDetail

	// Progress is the fraction of the total fetch completed, in (0, 1].
	Progress float32
}

func (MsgTxBatch) isMsg() {}

// MsgComplete reports the end of a successful sync.
type MsgComplete struct{}

func (MsgComplete) isMsg() {}

// MsgError reports a failed command. The worker stays alive and the next
// command may reconnect.
type MsgError struct {
	// Err is the failure.
	Err error
}

func (MsgError) isMsg() {}

// Config holds the worker dependencies.
type Config struct {
	// Server is the initial endpoint.
	Server Server

	// Source derives the wallet scripts being scanned.
	Source ScriptSource

	// Headers caches block times across syncs. Optional.
	Headers HeaderTimeCache

	// PollInterval is the header poll cadence.
	PollInterval time.Duration
}

// Worker keeps a wallet synchronized against an electrum server. Commands
// are serialized through a channel and results stream out as messages.
type Worker struct {
	cfg Config

	cmds   chan Cmd
	events chan Msg

	client *Client
}

// NewWorker creates a worker. Run must be called to process commands.
func NewWorker(cfg Config) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Worker{
		cfg:    cfg,
		cmds:   make(chan Cmd),
		events: make(chan Msg),
	}
}

// Events returns the worker's event stream.
func (w *Worker) Events() <-chan Msg {
	return w.events
}

// Command submits a command to the worker.
func (w *Worker) Command(ctx context.Context, cmd Cmd) error {
	select {
	case w.cmds <- cmd:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands until the context is canceled. Header polls are
// driven by an interval ticker in addition to explicit pull commands.
func (w *Worker) Run(ctx context.Context) error {
	poll := ticker.New(w.cfg.PollInterval)
	poll.Resume()
	defer poll.Stop()

	defer func() {
		if w.client != nil {
			w.client.Close()
			w.client = nil
		}
	}()

	for {
		select {
		case cmd := <-w.cmds:
			w.handleCommand(ctx, cmd)

		case <-poll.Ticks():
			w.handleCommand(ctx, CmdPull{})

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleCommand dispatches one command, reporting failures as error events.
func (w *Worker) handleCommand(ctx context.Context, cmd Cmd) {
	var err error
	switch c := cmd.(type) {
	case CmdSync:
		err = w.sync(ctx)

	case CmdPull:
		err = w.pull(ctx)

	case CmdUpdate:
		log.Infof("Switching electrum server to %s", c.Server)

		if w.client != nil {
			w.client.Close()
			w.client = nil
			w.notify(ctx, MsgDisconnected{})
		}
		w.cfg.Server = c.Server

		err = w.sync(ctx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Electrum worker command failed: %v", err)

		// A failed connection is gone for good; drop it so the next
		// command redials.
		if w.client != nil {
			w.client.Close()
			w.client = nil
			w.notify(ctx, MsgDisconnected{})
		}

		w.notify(ctx, MsgError{Err: err})
	}
}

// connect ensures a live client, dialing when necessary.
func (w *Worker) connect(ctx context.Context) error {
	if w.client != nil {
		// Reuse the connection if the server still responds.
		err := w.client.Ping(ctx)
		if err == nil {
			return nil
		}

		log.Debugf("Electrum ping failed, redialing: %v", err)
		w.client.Close()
		w.client = nil
		w.notify(ctx, MsgDisconnected{})
	}

	w.notify(ctx, MsgConnecting{Server: w.cfg.Server})

	client, err := Dial(ctx, w.cfg.Server)
	if err != nil {
		return err
	}

	w.client = client
	w.notify(ctx, MsgConnected{Server: w.cfg.Server})

	return nil
}

// sync performs a full scan: tip and fee discovery, gap-limited address
// scanning of both branches, then transaction fetching.
func (w *Worker) sync(ctx context.Context) error {
	err := w.connect(ctx)
	if err != nil {
		return err
	}

	tip, err := w.client.SubscribeHeaders(ctx)
	if err != nil {
		return err
	}
	w.notify(ctx, MsgLastBlock{Header: *tip})

	err = w.estimateFees(ctx)
	if err != nil {
		return err
	}

	// Collect txids across both branches, then fetch the transactions in
	// chunks.
	txHeights := make(map[chainhash.Hash]int32)
	txFees := make(map[chainhash.Hash]uint64)

	var batchNo uint16
	for _, change := range []bool{false, true} {
		batchNo, err = w.scanBranch(
			ctx, change, batchNo, txHeights, txFees,
		)
		if err != nil {
			return err
		}
	}

	err = w.fetchTransactions(ctx, txHeights, txFees)
	if err != nil {
		return err
	}

	w.notify(ctx, MsgComplete{})

	return nil
}

// estimateFees queries the standard confirmation targets and reports them in
// satoshis per vbyte.
func (w *Worker) estimateFees(ctx context.Context) error {
	var rates [feeTargetCount]float64
	for target := 1; target <= feeTargetCount; target++ {
		btcPerKb, err := w.client.EstimateFee(ctx, target)
		if err != nil {
			return err
		}

		rate := btcPerKb
		if rate > 0 {
			// BTC/kB to sat/vB.
			rate = btcPerKb * 1e5
		}
		rates[target-1] = rate
	}

	w.notify(ctx, MsgFeeEstimate{
		Fast:   rates[0],
		Normal: rates[1],
		Slow:   rates[2],
	})

	return nil
}

// scanBranch walks one derivation branch in gap-limit batches until a batch
// comes back fully unused.
func (w *Worker) scanBranch(ctx context.Context, change bool, batchNo uint16,
	txHeights map[chainhash.Hash]int32,
	txFees map[chainhash.Hash]uint64) (uint16, error) {

	var index uint32
	for {
		var (
			history []HistoryItem
			utxos   []Utxo
			used    bool
		)

		for i := 0; i < gapLimit; i++ {
			script, err := w.cfg.Source.Script(change, index)
			if err != nil {
				return batchNo, err
			}
			scripthash := ScriptHash(script)

			items, err := w.client.GetHistory(ctx, scripthash)
			if err != nil {
				return batchNo, err
			}
			if len(items) > 0 {
				used = true
			}
			for _, item := range items {
				txHeights[item.TxHash] = item.Height
				if item.Fee > 0 {
					txFees[item.TxHash] = item.Fee
				}
			}
			history = append(history, items...)

			unspent, err := w.client.ListUnspent(ctx, scripthash)
			if err != nil {
				return batchNo, err
			}
			for _, item := range unspent {
				utxos = append(utxos, Utxo{
					TxHash: item.TxHash,
					Vout:   item.Pos,
					Height: item.Height,
					Value:  btcutil.Amount(item.Value),
					Change: change,
					Index:  index,
				})
				txHeights[item.TxHash] = item.Height
			}

			index++
		}

		w.notify(ctx, MsgHistoryBatch{
			Items:  history,
			Offset: batchNo,
		})
		w.notify(ctx, MsgUtxoBatch{
			Items:  utxos,
			Offset: batchNo,
		})
		batchNo++

		if !used {
			return batchNo, nil
		}
	}
}

// fetchTransactions fetches the collected txids in chunks, resolving block
// times through the header cache, and reports progress per chunk.
func (w *Worker) fetchTransactions(ctx context.Context,
	txHeights map[chainhash.Hash]int32,
	txFees map[chainhash.Hash]uint64) error {

	total := len(txHeights)
	if total == 0 {
		return nil
	}

	var (
		chunk   []TxDetail
		fetched int
	)
	flush := func() {
		if len(chunk) == 0 {
			return
		}

		w.notify(ctx, MsgTxBatch{
			Txs:      chunk,
			Progress: float32(fetched) / float32(total),
		})
		chunk = nil
	}

	for txid, height := range txHeights {
		tx, err := w.client.GetTransaction(ctx, txid)
		if err != nil {
			return err
		}

		detail := TxDetail{
			Tx:     tx,
			Height: height,
		}
		if height > 0 {
			blockTime, err := w.blockTime(ctx, height)
			if err != nil {
				return err
			}
			detail.Time = fn.Some(blockTime)
		}
		if fee, ok := txFees[txid]; ok {
			detail.Fee = fn.Some(btcutil.Amount(fee))
		}

		chunk = append(chunk, detail)
		fetched++

		if len(chunk) == txChunkSize {
			flush()
		}
	}
	flush()

	return nil
}

// blockTime resolves the timestamp of a block, consulting the cache first.
func (w *Worker) blockTime(ctx context.Context, height int32) (
	time.Time, error) {

	if w.cfg.Headers != nil {
		if t, ok := w.cfg.Headers.BlockTime(height); ok {
			return t, nil
		}
	}

	header, err := w.client.BlockHeader(ctx, height)
	if err != nil {
		return time.Time{}, err
	}

	if w.cfg.Headers != nil {
		err := w.cfg.Headers.PutBlockTime(height, header.Time)
		if err != nil {
			log.Warnf("Unable to cache block time for height "+
				"%d: %v", height, err)
		}
	}

	return header.Time, nil
}

// pull drains pending header notifications.
func (w *Worker) pull(ctx context.Context) error {
	if w.client == nil {
		// Nothing to poll until the first sync connects.
		return nil
	}

	for {
		header, err := w.client.PollHeader(ctx)
		if err != nil {
			return err
		}
		if header == nil {
			return nil
		}

		w.notify(ctx, MsgLastBlock{Header: *header})
	}
}

// notify delivers an event, giving up on shutdown.
func (w *Worker) notify(ctx context.Context, msg Msg) {
	select {
	case w.events <- msg:
	case <-ctx.Done():
	}
}
