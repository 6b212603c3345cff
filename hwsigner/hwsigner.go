// Package hwsigner talks to hardware signing devices through the hwi tool.
// It shells out to hwi, parses its JSON output and turns connected devices
// into wallet descriptor signers carrying the account-level xpub for a
// derivation standard.
package hwsigner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// DefaultBinary is the hwi executable looked up on PATH when no explicit
// location is configured.
const DefaultBinary = "hwi"

var (
	// ErrNoDevices is returned when enumeration finds no usable devices.
	// Locked devices report themselves with an error field and are not
	// counted as usable.
	ErrNoDevices = errors.New("no hardware devices detected, or all " +
		"devices are locked")

	// ErrHwiNotFound is returned when the hwi binary cannot be executed.
	ErrHwiNotFound = errors.New("hwi binary not found")
)

// Device is one hardware signer as reported by hwi enumerate.
type Device struct {
	// Type is the device family, like "trezor" or "ledger".
	Type string

	// Model is the concrete device model.
	Model string

	// Path is the transport path hwi uses to address the device.
	Path string

	// Fingerprint is the master key fingerprint of the seed on the
	// device.
	Fingerprint xkey.Fingerprint
}

// String renders the device for logs and error messages.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s, master fingerprint %s)", d.Type, d.Model,
		d.Fingerprint)
}

// DerivationError records a device that is connected but cannot serve the
// requested derivation. Enumeration collects these instead of failing.
type DerivationError struct {
	// Device is the device that rejected the derivation.
	Device Device

	// Standard is the derivation standard that was requested.
	Standard xkey.Standard

	// Network is the network the derivation was requested for.
	Network wdesc.Network

	// Err is the underlying hwi error.
	Err error
}

// Error implements the error interface.
func (e *DerivationError) Error() string {
	return fmt.Sprintf("device %s does not support derivation standard "+
		"%s on %s: %v", e.Device, e.Standard, e.Network, e.Err)
}

// Unwrap returns the underlying hwi error.
func (e *DerivationError) Unwrap() error {
	return e.Err
}

// Runner executes the hwi tool with the given arguments and returns its
// stdout. It exists so tests can substitute canned output for a real
// subprocess.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// execRunner runs the real hwi binary.
type execRunner struct {
	binary string
}

// Run implements the Runner interface.
func (r *execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrHwiNotFound, r.binary)
	}

	// hwi reports most failures as JSON on stdout with a zero or
	// non-zero exit status. Only fail hard when there is nothing to
	// parse.
	if err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("hwi failed: %v: %s", err,
			stderr.String())
	}

	return stdout.Bytes(), nil
}

// Bridge wraps the hwi tool.
type Bridge struct {
	run Runner
}

// New creates a bridge running the hwi binary at the given path, or the one
// found on PATH when binary is empty.
func New(binary string) *Bridge {
	if binary == "" {
		binary = DefaultBinary
	}

	return &Bridge{run: &execRunner{binary: binary}}
}

// NewWithRunner creates a bridge with a custom runner.
func NewWithRunner(run Runner) *Bridge {
	return &Bridge{run: run}
}

// enumeratedDevice is the JSON shape of one hwi enumerate entry. Locked or
// uninitialized devices carry an error instead of a fingerprint.
type enumeratedDevice struct {
	Type        string `json:"type"`
	Model       string `json:"model"`
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Error       string `json:"error"`
	Code        int    `json:"code"`
}

// hwiResult is the JSON shape of single-command hwi responses.
type hwiResult struct {
	Xpub  string `json:"xpub"`
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// chainArg maps a wallet network to the hwi --chain flag value.
func chainArg(network wdesc.Network) string {
	switch network {
	case wdesc.Mainnet:
		return "main"
	case wdesc.Signet:
		return "signet"
	default:
		return "test"
	}
}

// Enumerate lists the usable hardware devices currently connected. Devices
// that report an error (locked, uninitialized) are logged and skipped. An
// empty result is ErrNoDevices.
func (b *Bridge) Enumerate(ctx context.Context) ([]Device, error) {
	out, err := b.run.Run(ctx, "enumerate")
	if err != nil {
		return nil, err
	}

	var entries []enumeratedDevice
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("unable to parse hwi enumerate "+
			"output: %w", err)
	}

	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		if entry.Error != "" {
			log.Warnf("Skipping device %s (%s): %s (code %d)",
				entry.Type, entry.Model, entry.Error,
				entry.Code)
			continue
		}

		fp, err := xkey.ParseFingerprint(entry.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("device %s (%s) reported bad "+
				"fingerprint %q: %w", entry.Type, entry.Model,
				entry.Fingerprint, err)
		}

		devices = append(devices, Device{
			Type:        entry.Type,
			Model:       entry.Model,
			Path:        entry.Path,
			Fingerprint: fp,
		})
	}

	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	return devices, nil
}

// AccountXpub asks a device for its account-level xpub under the given
// standard, network and account index.
func (b *Bridge) AccountXpub(ctx context.Context, device Device,
	standard xkey.Standard, network wdesc.Network,
	account xkey.HardenedIndex) (*xkey.XpubDescriptor, error) {

	path := standard.AccountDerivation(account, network.IsTestnet())

	out, err := b.run.Run(ctx, "--chain", chainArg(network),
		"-f", device.Fingerprint.String(), "getxpub", path.String())
	if err != nil {
		return nil, err
	}

	var result hwiResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("unable to parse hwi getxpub "+
			"output: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("hwi getxpub: %s (code %d)",
			result.Error, result.Code)
	}

	return xkey.ParseXpub(result.Xpub)
}

// EnumerateSigners enumerates connected devices and builds a descriptor
// signer for each device able to derive the account under the given
// standard. Devices that cannot serve the derivation are returned as
// DerivationError values alongside the successful signers; the call fails
// only when no devices are connected at all.
func (b *Bridge) EnumerateSigners(ctx context.Context,
	standard xkey.Standard, network wdesc.Network,
	account xkey.HardenedIndex) ([]*wdesc.Signer, []*DerivationError,
	error) {

	devices, err := b.Enumerate(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		signers []*wdesc.Signer
		failed  []*DerivationError
	)
	for _, device := range devices {
		xpub, err := b.AccountXpub(
			ctx, device, standard, network, account,
		)
		if err != nil {
			log.Warnf("Device %s cannot derive %s account: %v",
				device, standard, err)
			failed = append(failed, &DerivationError{
				Device:   device,
				Standard: standard,
				Network:  network,
				Err:      err,
			})
			continue
		}

		signer, err := wdesc.NewSignerFromXpub(
			xpub, standard, network,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s returned "+
				"unusable xpub: %w", device, err)
		}

		// The device knows its own master fingerprint and the exact
		// path we asked for, so override what NewSignerFromXpub
		// reconstructed.
		signer.Fingerprint = device.Fingerprint
		signer.Origin = standard.AccountDerivation(
			account, network.IsTestnet(),
		)
		signer.Account = xkey.ClassifyOrigin(
			signer.Origin,
		).AccountIndex()
		signer.Device = device.Type
		signer.Name = device.Model
		signer.Ownership = wdesc.OwnershipMine

		signers = append(signers, signer)
	}

	return signers, failed, nil
}
