package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/mycitadel/citadel/electrum"
	"github.com/mycitadel/citadel/exchange"
	"github.com/mycitadel/citadel/wallet"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}

	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers. The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences
	// will occur.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log         = backendLog.Logger("CTDL")
	walletLog   = backendLog.Logger("WLLT")
	electrumLog = backendLog.Logger("ELEC")
	exchangeLog = backendLog.Logger("XCHG")
)

func init() {
	wallet.UseLogger(walletLog)
	electrum.UseLogger(electrumLog)
	exchange.UseLogger(exchangeLog)
}

// subsystemLoggers returns all subsystem loggers of the daemon.
func subsystemLoggers() []btclog.Logger {
	return []btclog.Logger{log, walletLog, electrumLog, exchangeLog}
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r

	return nil
}

// setLogLevels sets the logging level of all subsystem loggers.
func setLogLevels(levelName string) error {
	level, ok := btclog.LevelFromString(levelName)
	if !ok {
		return fmt.Errorf("unknown log level %q", levelName)
	}

	for _, logger := range subsystemLoggers() {
		logger.SetLevel(level)
	}

	return nil
}
