package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/mycitadel/citadel/electrum"
	"github.com/mycitadel/citadel/exchange"
	"github.com/mycitadel/citadel/wdesc"
)

const (
	defaultConfigFilename = "citadeld.conf"
	defaultLogFilename    = "citadeld.log"
	defaultDebugLevel     = "info"
	defaultPollInterval   = time.Minute
	defaultRateInterval   = time.Minute

	// blockstreamTestnetPort is the testnet TLS port of the blockstream
	// electrum endpoint, which serves mainnet on the standard port.
	blockstreamTestnetPort = 60002
)

var (
	defaultDataDir    = btcutil.AppDataDir("citadeld", false)
	defaultConfigFile = filepath.Join(defaultDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultDataDir, "logs")
)

// config defines the configuration options of the daemon.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store header and SQL caches"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	Network    string `long:"network" description:"Bitcoin network of the wallet" choice:"mainnet" choice:"testnet" choice:"signet"`
	WalletFile string `short:"w" long:"wallet" description:"Wallet document file to serve"`

	ElectrumServer string        `short:"s" long:"server" description:"Electrum server as host, host:port or scheme://host:port"`
	PollInterval   time.Duration `long:"pollinterval" description:"Chain tip poll cadence"`

	Fiat         string        `long:"fiat" description:"Fiat currency quoted by the exchange worker (USD, EUR, CHF)"`
	RateInterval time.Duration `long:"rateinterval" description:"Exchange rate refresh cadence"`

	CacheDSN string `long:"cache" description:"Optional SQL cache: a sqlite file path or a postgres:// DSN"`

	// Parsed forms of the string options above.
	network wdesc.Network
	server  electrum.Server
	fiat    exchange.Fiat
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	_, err := os.Stat(name)

	return err == nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home := os.Getenv("HOME")
		if home == "" {
			if u, err := user.Current(); err == nil {
				home = u.HomeDir
			}
		}
		path = strings.Replace(path, "~", home, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// defaultServer returns the preset electrum endpoint of a network.
func defaultServer(network wdesc.Network) electrum.Server {
	server := electrum.ServerBlockstream
	if network.IsTestnet() {
		server.Port = blockstreamTestnetPort
	}

	return server
}

// loadConfig initializes and parses the config using a config file and
// command line options, in this order of precedence:
//
//  1. default configuration
//  2. configuration file
//  3. command line flags
func loadConfig() (*config, error) {
	cfg := config{
		ConfigFile:   defaultConfigFile,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultDebugLevel,
		Network:      wdesc.DefaultNetwork.String(),
		PollInterval: defaultPollInterval,
		Fiat:         string(exchange.USD),
		RateInterval: defaultRateInterval,
	}

	// Pre-parse the command line to pick up an alternative config file.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.Parse(); err != nil {
		return nil, err
	}

	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	if fileExists(configFile) {
		err := flags.NewIniParser(parser).ParseFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file "+
				"%s: %w", configFile, err)
		}
	} else if preCfg.ConfigFile != defaultConfigFile {
		return nil, fmt.Errorf("config file %s does not exist",
			configFile)
	}

	// Command line options take precedence over the config file.
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.WalletFile == "" {
		return nil, errors.New("no wallet file configured, use " +
			"--wallet")
	}
	cfg.WalletFile = cleanAndExpandPath(cfg.WalletFile)
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	network, err := wdesc.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	cfg.network = network

	cfg.server = defaultServer(network)
	if cfg.ElectrumServer != "" {
		server, err := electrum.ParseServer(cfg.ElectrumServer)
		if err != nil {
			return nil, err
		}
		cfg.server = server
	}

	fiat, err := exchange.ParseFiat(cfg.Fiat)
	if err != nil {
		return nil, err
	}
	cfg.fiat = fiat

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w",
			err)
	}

	return &cfg, nil
}
