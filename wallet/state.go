package wallet

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrStateForbidden is returned when an operation cannot be performed
	// in the current state of the wallet (e.g. not started, still
	// syncing).
	ErrStateForbidden = errors.New("operation forbidden in current state")

	// ErrWalletAlreadyStarted is returned when an attempt is made to
	// start the wallet when it is already started.
	ErrWalletAlreadyStarted = errors.New("wallet already started")

	// ErrWalletShuttingDown is returned when an operation is attempted
	// while the wallet is shutting down.
	ErrWalletShuttingDown = errors.New("wallet shutting down")
)

// lifecycle represents the lifecycle state of the wallet's event loop.
type lifecycle uint32

const (
	// lifecycleStopped indicates the wallet is stopped.
	lifecycleStopped lifecycle = iota

	// lifecycleStarting indicates the wallet is starting up.
	lifecycleStarting

	// lifecycleStarted indicates the wallet is started.
	lifecycleStarted

	// lifecycleStopping indicates the wallet is currently stopping.
	lifecycleStopping
)

// String returns the string representation of a lifecycle.
func (l lifecycle) String() string {
	switch l {
	case lifecycleStopped:
		return "stopped"

	case lifecycleStarting:
		return "starting"

	case lifecycleStarted:
		return "started"

	case lifecycleStopping:
		return "stopping"

	default:
		return "unknown lifecycle state"
	}
}

// syncState represents the wallet's view of its chain backend.
type syncState uint32

const (
	// syncDisconnected indicates no electrum connection is established.
	syncDisconnected syncState = iota

	// syncConnecting indicates a connection attempt is in flight.
	syncConnecting

	// syncSyncing indicates an address scan is in progress.
	syncSyncing

	// syncSynced indicates the wallet is caught up with the backend.
	syncSynced
)

// String returns the string representation of a syncState.
func (s syncState) String() string {
	switch s {
	case syncDisconnected:
		return "disconnected"

	case syncConnecting:
		return "connecting"

	case syncSyncing:
		return "syncing"

	case syncSynced:
		return "synced"

	default:
		return "unknown sync state"
	}
}

// walletState is a thread-safe wrapper tracking the wallet's condition across
// two independent dimensions:
//  1. Lifecycle: whether the event loop and background workers are running.
//  2. Synchronization: how far along the electrum scan is. This dictates the
//     freshness of balances and the history, and gates coin selection.
//
// Signing keys never enter the runtime, so unlike a hot wallet there is no
// locked/unlocked dimension here.
type walletState struct {
	// lifecycle tracks the start/stop state of the wallet.
	lifecycle atomic.Uint32

	// sync tracks the state of the electrum scan. It is written only by
	// the event loop applying worker messages.
	sync atomic.Uint32
}

// String returns a summary of the wallet's state.
func (s *walletState) String() string {
	return fmt.Sprintf("status=%v, sync=%v",
		lifecycle(s.lifecycle.Load()), syncState(s.sync.Load()))
}

// toStarting transitions the wallet state from Stopped to Starting. It
// returns an error if the wallet is not in the Stopped state.
func (s *walletState) toStarting() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleStopped), uint32(lifecycleStarting)) {

		return fmt.Errorf("%w: current state is %v",
			ErrWalletAlreadyStarted,
			lifecycle(s.lifecycle.Load()))
	}

	s.sync.Store(uint32(syncDisconnected))

	return nil
}

// toStarted marks the wallet as fully started. This should be called only
// after all workers have been launched.
func (s *walletState) toStarted() {
	s.lifecycle.Store(uint32(lifecycleStarted))
}

// toStopping transitions the wallet from Started to Stopping. It returns an
// error if the wallet is not running.
func (s *walletState) toStopping() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleStarted), uint32(lifecycleStopping)) {

		// Covers Stopped, Starting and Stopping.
		return ErrStateForbidden
	}

	return nil
}

// toStopped marks the wallet as fully stopped.
func (s *walletState) toStopped() {
	s.lifecycle.Store(uint32(lifecycleStopped))
	s.sync.Store(uint32(syncDisconnected))
}

// setSync records a new synchronization state.
func (s *walletState) setSync(state syncState) {
	s.sync.Store(uint32(state))
}

// syncState returns the current synchronization state.
func (s *walletState) syncState() syncState {
	return syncState(s.sync.Load())
}

// isSynced returns true if the wallet is caught up with its backend.
func (s *walletState) isSynced() bool {
	return s.syncState() == syncSynced
}

// isStarted returns true if the wallet is in the Started state.
func (s *walletState) isStarted() bool {
	return lifecycle(s.lifecycle.Load()) == lifecycleStarted
}

// validateStarted checks if the wallet is currently running.
func (s *walletState) validateStarted() error {
	if !s.isStarted() {
		return fmt.Errorf("%w: wallet not started", ErrStateForbidden)
	}

	return nil
}

// validateSynced checks if the wallet is running and fully synchronized.
// Coin selection requires a synced view to be accurate.
func (s *walletState) validateSynced() error {
	if !s.isStarted() {
		return fmt.Errorf("%w: wallet not started", ErrStateForbidden)
	}

	if sync := s.syncState(); sync != syncSynced {
		return fmt.Errorf("%w: wallet is currently %s",
			ErrStateForbidden, sync)
	}

	return nil
}
