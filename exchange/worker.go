package exchange

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// defaultRefreshInterval is the rate refresh cadence when none is
// configured.
const defaultRefreshInterval = time.Minute

// Cmd is a command submitted to the worker.
type Cmd interface {
	isCmd()
}

// CmdRefresh requests an immediate rate refresh.
type CmdRefresh struct{}

func (CmdRefresh) isCmd() {}

// CmdSetFiat switches the quote currency and refreshes.
type CmdSetFiat struct {
	// Fiat is the new quote currency.
	Fiat Fiat
}

func (CmdSetFiat) isCmd() {}

// CmdSetExchange switches the price source and refreshes.
type CmdSetExchange struct {
	// Exchange is the new price source.
	Exchange Exchange
}

func (CmdSetExchange) isCmd() {}

// Msg is an event emitted by the worker.
type Msg interface {
	isMsg()
}

// MsgRate reports a fresh exchange rate.
type MsgRate struct {
	// Fiat is the quote currency.
	Fiat Fiat

	// Exchange is the price source.
	Exchange Exchange

	// Rate is the price of one bitcoin.
	Rate float64
}

func (MsgRate) isMsg() {}

// MsgError reports a failed refresh. The worker keeps running.
type MsgError struct {
	// Err is the failure.
	Err error
}

func (MsgError) isMsg() {}

// Config holds the worker dependencies.
type Config struct {
	// Client fetches the rates.
	Client *Client

	// Fiat is the initial quote currency.
	Fiat Fiat

	// Exchange is the initial price source.
	Exchange Exchange

	// RefreshInterval is the refresh cadence.
	RefreshInterval time.Duration
}

// Worker keeps an exchange rate refreshed on an interval and on demand.
type Worker struct {
	cfg Config

	cmds   chan Cmd
	events chan Msg
}

// NewWorker creates a worker. Run must be called to process commands.
func NewWorker(cfg Config) *Worker {
	if cfg.Client == nil {
		cfg.Client = &Client{}
	}
	if cfg.Fiat == "" {
		cfg.Fiat = USD
	}
	if cfg.Exchange == "" {
		cfg.Exchange = Kraken
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = defaultRefreshInterval
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

// Run refreshes the rate until the context is canceled. The first refresh
// happens immediately.
func (w *Worker) Run(ctx context.Context) error {
	refresh := ticker.New(w.cfg.RefreshInterval)
	refresh.Resume()
	defer refresh.Stop()

	w.refresh(ctx)

	for {
		select {
		case cmd := <-w.cmds:
			switch set := cmd.(type) {
			case CmdSetFiat:
				log.Infof("Switching exchange rate currency "+
					"to %s", set.Fiat)
				w.cfg.Fiat = set.Fiat

			case CmdSetExchange:
				log.Infof("Switching price source to %s",
					set.Exchange)
				w.cfg.Exchange = set.Exchange
			}
			w.refresh(ctx)

		case <-refresh.Ticks():
			w.refresh(ctx)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refresh fetches the rate once and reports the result.
func (w *Worker) refresh(ctx context.Context) {
	rate, err := w.cfg.Client.Rate(ctx, w.cfg.Fiat)
	if err != nil {
		log.Warnf("Exchange rate refresh failed: %v", err)
		w.notify(ctx, MsgError{Err: err})

		return
	}

	log.Debugf("Exchange rate: 1 BTC = %.2f %s", rate, w.cfg.Fiat)

	w.notify(ctx, MsgRate{
		Fiat:     w.cfg.Fiat,
		Exchange: w.cfg.Exchange,
		Rate:     rate,
	})
}

// notify delivers an event, giving up on shutdown.
func (w *Worker) notify(ctx context.Context, msg Msg) {
	select {
	case w.events <- msg:
	case <-ctx.Done():
	}
}
