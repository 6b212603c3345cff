package hwsigner

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// fakeRunner substitutes canned hwi output for a real subprocess.
type fakeRunner struct {
	run func(args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context,
	args ...string) ([]byte, error) {

	return f.run(args)
}

// testAccountKey derives the m/84'/1'/0' account from the BIP-32 test
// vector 1 seed on testnet, returning the neutered account key and the
// master fingerprint.
func testAccountKey(t *testing.T) (string, xkey.Fingerprint) {
	t.Helper()

	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	masterPub, err := master.ECPubKey()
	require.NoError(t, err)

	fp, err := xkey.FingerprintFromBytes(
		btcutil.Hash160(masterPub.SerializeCompressed())[:4],
	)
	require.NoError(t, err)

	key := master
	for _, child := range []uint32{84, 1, 0} {
		key, err = key.Derive(hdkeychain.HardenedKeyStart + child)
		require.NoError(t, err)
	}

	neutered, err := key.Neuter()
	require.NoError(t, err)

	return neutered.String(), fp
}

// TestEnumerate checks that usable devices are parsed and errored entries
// are skipped.
func TestEnumerate(t *testing.T) {
	t.Parallel()

	bridge := NewWithRunner(&fakeRunner{
		run: func(args []string) ([]byte, error) {
			require.Equal(t, []string{"enumerate"}, args)

			return []byte(`[
				{"type": "trezor", "model": "trezor_t",
				 "path": "webusb:001", "fingerprint": "deadbeef"},
				{"type": "ledger", "model": "ledger_nano_s",
				 "path": "hid:002",
				 "error": "device is locked", "code": -12}
			]`), nil
		},
	})

	devices, err := bridge.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	require.Equal(t, "trezor", devices[0].Type)
	require.Equal(t, "trezor_t", devices[0].Model)
	require.Equal(t, "webusb:001", devices[0].Path)
	require.Equal(t, "deadbeef", devices[0].Fingerprint.String())
}

// TestEnumerateNoDevices checks that both an empty list and a list of
// locked devices yield ErrNoDevices.
func TestEnumerateNoDevices(t *testing.T) {
	t.Parallel()

	outputs := []string{
		`[]`,
		`[{"type": "trezor", "model": "trezor_t",
		   "error": "device is locked", "code": -12}]`,
	}
	for _, out := range outputs {
		bridge := NewWithRunner(&fakeRunner{
			run: func([]string) ([]byte, error) {
				return []byte(out), nil
			},
		})

		_, err := bridge.Enumerate(context.Background())
		require.ErrorIs(t, err, ErrNoDevices)
	}
}

// TestEnumerateBadOutput checks that malformed hwi output is rejected.
func TestEnumerateBadOutput(t *testing.T) {
	t.Parallel()

	bridge := NewWithRunner(&fakeRunner{
		run: func([]string) ([]byte, error) {
			return []byte(`not json`), nil
		},
	})

	_, err := bridge.Enumerate(context.Background())
	require.ErrorContains(t, err, "unable to parse")

	bridge = NewWithRunner(&fakeRunner{
		run: func([]string) ([]byte, error) {
			return []byte(`[{"type": "trezor", "model": "t",
				"fingerprint": "nope"}]`), nil
		},
	})

	_, err = bridge.Enumerate(context.Background())
	require.ErrorContains(t, err, "bad fingerprint")
}

// TestAccountXpub checks the getxpub invocation and response parsing.
func TestAccountXpub(t *testing.T) {
	t.Parallel()

	accountXpub, masterFP := testAccountKey(t)
	device := Device{
		Type:        "trezor",
		Model:       "trezor_t",
		Fingerprint: masterFP,
	}

	bridge := NewWithRunner(&fakeRunner{
		run: func(args []string) ([]byte, error) {
			require.Equal(t, []string{
				"--chain", "test",
				"-f", masterFP.String(),
				"getxpub", "m/84'/1'/0'",
			}, args)

			return []byte(fmt.Sprintf(`{"xpub": %q}`,
				accountXpub)), nil
		},
	})

	xpub, err := bridge.AccountXpub(
		context.Background(), device, xkey.Bip84, wdesc.Testnet, 0,
	)
	require.NoError(t, err)
	require.Equal(t, accountXpub, xpub.String())
}

// TestAccountXpubDeviceError checks that hwi-level errors are surfaced.
func TestAccountXpubDeviceError(t *testing.T) {
	t.Parallel()

	bridge := NewWithRunner(&fakeRunner{
		run: func([]string) ([]byte, error) {
			return []byte(`{"error": "derivation not supported",
				"code": -7}`), nil
		},
	})

	_, err := bridge.AccountXpub(
		context.Background(), Device{}, xkey.Bip86, wdesc.Mainnet, 0,
	)
	require.ErrorContains(t, err, "derivation not supported")
}

// TestEnumerateSigners checks the full device-to-signer flow: one device
// produces a signer, the other collects a derivation error.
func TestEnumerateSigners(t *testing.T) {
	t.Parallel()

	accountXpub, masterFP := testAccountKey(t)

	bridge := NewWithRunner(&fakeRunner{
		run: func(args []string) ([]byte, error) {
			if args[0] == "enumerate" {
				return []byte(fmt.Sprintf(`[
					{"type": "trezor",
					 "model": "trezor_t",
					 "fingerprint": %q},
					{"type": "ledger",
					 "model": "ledger_nano_s",
					 "fingerprint": "deadbeef"}
				]`, masterFP)), nil
			}

			// getxpub: dispatch on the -f argument.
			if args[3] == masterFP.String() {
				return []byte(fmt.Sprintf(`{"xpub": %q}`,
					accountXpub)), nil
			}

			return []byte(`{"error": "not supported",
				"code": -7}`), nil
		},
	})

	signers, failed, err := bridge.EnumerateSigners(
		context.Background(), xkey.Bip84, wdesc.Testnet, 0,
	)
	require.NoError(t, err)
	require.Len(t, signers, 1)
	require.Len(t, failed, 1)

	signer := signers[0]
	require.Equal(t, accountXpub, signer.Key())
	require.Equal(t, masterFP, signer.Fingerprint)
	require.Equal(t, "m/84'/1'/0'", signer.Origin.String())
	require.Equal(t, "trezor", signer.Device)
	require.Equal(t, "trezor_t", signer.Name)
	require.Equal(t, wdesc.OwnershipMine, signer.Ownership)
	require.False(t, signer.Account.IsNone())

	require.Equal(t, "deadbeef", failed[0].Device.Fingerprint.String())
	require.ErrorContains(t, failed[0], "not supported")
}
