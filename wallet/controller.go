package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/mycitadel/citadel/electrum"
	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// Info is a snapshot of the wallet's static configuration and dynamic state.
type Info struct {
	// Network is the wallet network.
	Network wdesc.Network

	// Standard is the derivation standard.
	Standard xkey.Standard

	// Signers is the size of the signer set.
	Signers int

	// Balance and Volume are the runtime counters.
	Balance State

	// BestBlock is the last seen chain tip.
	BestBlock fn.Option[BestBlock]

	// Synced indicates whether the last sync completed.
	Synced bool

	// Fees are the current fee estimates.
	Fees FeeEstimates

	// Rate is the last known exchange rate.
	Rate fn.Option[ExchangeRate]
}

// Controller manages the wallet's lifecycle and synchronization.
type Controller interface {
	// Start launches the background workers. It returns an error if the
	// wallet is already started.
	Start(ctx context.Context) error

	// Stop signals all background workers to shut down and blocks until
	// they have exited or the context is canceled.
	Stop(ctx context.Context) error

	// Sync requests a full address scan.
	Sync(ctx context.Context) error

	// Info returns a snapshot of the wallet state.
	Info(ctx context.Context) (*Info, error)
}

// Start launches the background workers.
//
// This is part of the Controller interface.
func (w *Wallet) Start(_ context.Context) error {
	if w.cfg.Chain == nil {
		return ErrNoChainBackend
	}

	// Attempt to transition from Stopped to Starting.
	err := w.state.toStarting()
	if err != nil {
		return err
	}

	// lifetimeCtx governs all background goroutines and is canceled by
	// Stop.
	w.lifetimeCtx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.eventLoop()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		err := w.cfg.Chain.Run(w.lifetimeCtx)
		if err != nil && !isCanceled(err) {
			log.Errorf("Electrum worker exited with error: %v",
				err)
		}
	}()

	if w.cfg.Rates != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()

			err := w.cfg.Rates.Run(w.lifetimeCtx)
			if err != nil && !isCanceled(err) {
				log.Errorf("Exchange worker exited with "+
					"error: %v", err)
			}
		}()
	}

	w.state.toStarted()

	log.Infof("Wallet started: %s", w.state.String())

	return nil
}

// Stop signals all background workers to shut down and blocks until they
// have exited.
//
// This is part of the Controller interface.
func (w *Wallet) Stop(stopCtx context.Context) error {
	err := w.state.toStopping()
	if err != nil {
		// If the wallet is not started, consider it stopped.
		log.Warnf("Wallet already stopped: %v", err)
		return nil
	}

	// The successful transition to Stopping guarantees Start completed
	// the initialization of lifetimeCtx and cancel.
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-stopCtx.Done():
		return fmt.Errorf("stop request cancelled: %w",
			stopCtx.Err())
	}

	w.state.toStopped()

	return nil
}

// Sync requests a full address scan from the electrum worker.
//
// This is part of the Controller interface.
func (w *Wallet) Sync(ctx context.Context) error {
	err := w.state.validateStarted()
	if err != nil {
		return err
	}

	return w.cfg.Chain.Command(ctx, electrum.CmdSync{})
}

// Pull requests a poll of pending chain tip notifications.
func (w *Wallet) Pull(ctx context.Context) error {
	err := w.state.validateStarted()
	if err != nil {
		return err
	}

	return w.cfg.Chain.Command(ctx, electrum.CmdPull{})
}

// SetServer switches the electrum endpoint and triggers a resync.
func (w *Wallet) SetServer(ctx context.Context,
	server electrum.Server) error {

	err := w.state.validateStarted()
	if err != nil {
		return err
	}

	return w.cfg.Chain.Command(ctx, electrum.CmdUpdate{Server: server})
}

// Info returns a snapshot of the wallet state.
//
// This is part of the Controller interface.
func (w *Wallet) Info(_ context.Context) (*Info, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &Info{
		Network:   w.cfg.Descriptor.Network(),
		Standard:  w.cfg.Descriptor.Standard(),
		Signers:   len(w.cfg.Descriptor.Signers()),
		Balance:   w.runtime,
		BestBlock: w.bestBlock,
		Synced:    w.state.isSynced(),
		Fees:      w.fees,
		Rate:      w.rate,
	}, nil
}

// isCanceled reports whether an error is a context cancellation.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ensure Wallet implements the Controller interface.
var _ Controller = (*Wallet)(nil)
