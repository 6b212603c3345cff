// citadeld is a headless descriptor wallet daemon. It loads a wallet
// document, keeps it synchronized against an electrum server, refreshes
// fiat exchange rates and persists the document (and an optional SQL cache)
// after every update.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/mycitadel/citadel/electrum"
	"github.com/mycitadel/citadel/exchange"
	"github.com/mycitadel/citadel/headercache"
	"github.com/mycitadel/citadel/store"
	"github.com/mycitadel/citadel/wallet"
	"github.com/mycitadel/citadel/wfile"
)

// shutdownTimeout bounds how long a clean stop may take before the process
// exits anyway.
const shutdownTimeout = 10 * time.Second

// persistTimeout bounds a single document and cache write.
const persistTimeout = 30 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "citadeld: %v\n", err)
		os.Exit(1)
	}

	if err := citadelMain(cfg); err != nil {
		os.Exit(1)
	}
}

// daemon ties the wallet to its persistence targets. It forwards script
// derivations to the wallet, which lets the electrum worker be constructed
// before the wallet that feeds it.
type daemon struct {
	cfg *config

	wallet   *wallet.Wallet
	cache    store.Store
	walletID string
}

// Script implements the electrum.ScriptSource interface by delegating to
// the wallet.
func (d *daemon) Script(change bool, index uint32) ([]byte, error) {
	return d.wallet.Script(change, index)
}

// persist writes the wallet document back to disk and refreshes the SQL
// cache. It runs on the wallet's update callback with no wallet locks held.
func (d *daemon) persist() {
	doc := d.wallet.Snapshot()

	if err := wfile.WriteFile(d.cfg.WalletFile, doc); err != nil {
		log.Errorf("Unable to persist wallet document: %v", err)
		return
	}
	log.Debugf("Persisted wallet document: %d txs, %d utxos, balance=%v",
		len(doc.History), len(doc.Utxos), doc.State.Balance)

	if d.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), persistTimeout,
	)
	defer cancel()

	records := make([]store.HistoryRecord, 0, len(doc.History))
	for _, entry := range doc.History {
		record, err := store.HistoryRecordOf(entry)
		if err != nil {
			log.Errorf("Unable to flatten history entry %v: %v",
				entry.Onchain.Txid, err)
			continue
		}
		records = append(records, record)
	}

	utxos := make([]store.UtxoRecord, 0, len(doc.Utxos))
	for _, utxo := range doc.Utxos {
		utxos = append(utxos, store.UtxoRecordOf(utxo))
	}

	if err := d.cache.UpsertHistory(ctx, d.walletID, records); err != nil {
		log.Errorf("Unable to cache history: %v", err)
	}
	if err := d.cache.ReplaceUtxos(ctx, d.walletID, utxos); err != nil {
		log.Errorf("Unable to cache utxos: %v", err)
	}

	d.wallet.BestBlock().WhenSome(func(block wallet.BestBlock) {
		err := d.cache.RecordCheckpoint(ctx, d.walletID,
			store.Checkpoint{
				Height: block.Height,
				Time:   block.Time,
			})
		if err != nil {
			log.Errorf("Unable to record checkpoint: %v", err)
		}
	})
}

// openCache opens the configured SQL cache, picking the backend from the
// DSN shape.
func openCache(dsn string) (store.Store, error) {
	if strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") {

		return store.OpenPostgres(dsn)
	}

	return store.OpenSqlite(cleanAndExpandPath(dsn))
}

// walletID derives the SQL cache identifier of a wallet from its file name.
func walletID(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

func citadelMain(cfg *config) error {
	if err := initLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
	); err != nil {
		fmt.Fprintf(os.Stderr, "citadeld: %v\n", err)
		return err
	}
	defer logRotator.Close()

	if err := setLogLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintf(os.Stderr, "citadeld: %v\n", err)
		return err
	}

	log.Infof("Loading wallet document %s", cfg.WalletFile)
	doc, err := wfile.ReadFile(cfg.WalletFile)
	if err != nil {
		log.Errorf("Unable to load wallet document: %v", err)
		return err
	}
	if doc.Descriptor.Network() != cfg.network {
		err := fmt.Errorf("wallet document is for %s, daemon "+
			"configured for %s", doc.Descriptor.Network(),
			cfg.network)
		log.Errorf("%v", err)
		return err
	}

	headers, err := headercache.Open(
		filepath.Join(cfg.DataDir, "headers.db"), cfg.network.String(),
	)
	if err != nil {
		log.Errorf("Unable to open header cache: %v", err)
		return err
	}
	defer headers.Close()

	d := &daemon{cfg: cfg, walletID: walletID(cfg.WalletFile)}

	if cfg.CacheDSN != "" {
		cache, err := openCache(cfg.CacheDSN)
		if err != nil {
			log.Errorf("Unable to open SQL cache: %v", err)
			return err
		}
		defer cache.Close()
		d.cache = cache

		log.Infof("SQL cache enabled for wallet %q", d.walletID)
	}

	chainWorker := electrum.NewWorker(electrum.Config{
		Server:       cfg.server,
		Source:       d,
		Headers:      headers,
		PollInterval: cfg.PollInterval,
	})
	rateWorker := exchange.NewWorker(exchange.Config{
		Fiat:            cfg.fiat,
		RefreshInterval: cfg.RateInterval,
	})

	w, err := wallet.NewFromDocument(wallet.Config{
		Chain:    chainWorker,
		Rates:    rateWorker,
		OnUpdate: d.persist,
	}, doc)
	if err != nil {
		log.Errorf("Unable to create wallet: %v", err)
		return err
	}
	d.wallet = w

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	if err := w.Start(ctx); err != nil {
		log.Errorf("Unable to start wallet: %v", err)
		return err
	}

	log.Infof("Serving %s %s wallet %q against %s",
		cfg.network, doc.Descriptor.Standard(), d.walletID,
		cfg.server)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Kick off the initial scan; further syncs are driven by the
		// worker's header polls.
		return w.Sync(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Daemon failed: %v", err)
	}

	log.Infof("Shutting down")

	stopCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		log.Errorf("Unclean shutdown: %v", err)
		return err
	}

	// Final snapshot after the workers have quiesced.
	d.persist()

	log.Infof("Shutdown complete")

	return nil
}
