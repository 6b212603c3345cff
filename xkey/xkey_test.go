package xkey

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// Reference keys derived from the standard "abandon ... about" test
// mnemonic, taken from the SLIP-132 specification examples.
const (
	// Master public key from the BIP-32 test vector 1 seed.
	masterXpub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGh" +
		"ePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

	// BIP-49 account 0 key with a SLIP-132 ypub prefix.
	slipYpub = "ypub6Ww3ibxVfGzLrAH1PNcjyAWenMTbbAosGNB6VvmSEgytSER9azLDW" +
		"CxoJwW7Ke7icmizBMXrzBx9979FfaHxHcrArf3zbeJJJUZPf663zsP"

	// BIP-84 account 0 key with a SLIP-132 zpub prefix.
	slipZpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE" +
		"3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"
)

// TestParseXpubPlain checks plain BIP-32 parsing without origin information.
func TestParseXpubPlain(t *testing.T) {
	t.Parallel()

	xd, err := ParseXpub(masterXpub)
	require.NoError(t, err)

	require.False(t, xd.Testnet)
	require.Equal(t, uint8(0), xd.Depth)
	require.True(t, xd.ParentFingerprint.IsZero())
	require.True(t, xd.Standard.IsNone())
	require.True(t, xd.Account.IsNone())
	require.Equal(t, &chaincfg.MainNetParams, xd.Params())

	// A plain prefix carries no standard, so the serialization round
	// trips unchanged.
	require.Equal(t, masterXpub, xd.String())
}

// TestParseXpubSlip132 checks that SLIP-132 prefixes are recognized and the
// implied standard and account index are recovered.
func TestParseXpubSlip132(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		key      string
		standard Standard
	}{
		{name: "ypub bip49", key: slipYpub, standard: Bip49},
		{name: "zpub bip84", key: slipZpub, standard: Bip84},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			xd, err := ParseXpub(tc.key)
			require.NoError(t, err)

			require.False(t, xd.Testnet)
			require.Equal(t, uint8(3), xd.Depth)
			require.True(t, xd.Standard.IsSome())
			require.Equal(t, tc.standard,
				xd.Standard.UnwrapOr(Bip87))
			require.Equal(t, HardenedIndex(0),
				xd.Account.UnwrapOr(99))

			// Normalization rewrites the prefix, so the plain
			// form must differ from the input but stay parseable.
			require.NotEqual(t, tc.key, xd.String())
			reparsed, err := ParseXpub(xd.String())
			require.NoError(t, err)
			require.Equal(t, xd.String(), reparsed.String())
		})
	}
}

// TestParseXpubErrors checks encoding-level failures.
func TestParseXpubErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseXpub("not a key")
	require.ErrorIs(t, err, ErrBadKeyEncoding)

	// Flip a payload character to break the checksum.
	broken := masterXpub[:len(masterXpub)-1] + "9"
	_, err = ParseXpub(broken)
	require.ErrorIs(t, err, ErrBadKeyEncoding)
}

// TestWithStandardMismatch checks that a SLIP-132 standard conflicting with
// the required standard is rejected.
func TestWithStandardMismatch(t *testing.T) {
	t.Parallel()

	normalized, kv, err := normalizeSlip132(slipZpub)
	require.NoError(t, err)
	require.True(t, kv.HasStandard)

	xd, err := ParseXpub(normalized)
	require.NoError(t, err)

	_, err = With(
		fn.None[Fingerprint](), xd.Key, fn.Some(Bip49), &kv,
	)
	require.ErrorIs(t, err, ErrRequirement)

	var reqErr *RequirementError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, ReasonStandardMismatch, reqErr.Reason)
	require.Equal(t, Bip84.String(), reqErr.ActualStandard)
	require.Equal(t, Bip49.String(), reqErr.RequiredStandard)
}

// TestWithShallowKey checks that a master-depth key cannot claim an
// account-level SLIP-132 standard.
func TestWithShallowKey(t *testing.T) {
	t.Parallel()

	xd, err := ParseXpub(masterXpub)
	require.NoError(t, err)

	kv := KeyVersion{
		Version:     0x04b24746,
		Standard:    Bip84,
		HasStandard: true,
	}

	_, err = With(fn.None[Fingerprint](), xd.Key, fn.None[Standard](), &kv)

	var reqErr *RequirementError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, ReasonShallowKey, reqErr.Reason)
	require.Equal(t, uint8(3), reqErr.RequiredDepth)
	require.Equal(t, uint8(0), reqErr.ActualDepth)
}

// TestWithNetworkMismatch checks the SLIP-132 vs BIP-32 network consistency
// check.
func TestWithNetworkMismatch(t *testing.T) {
	t.Parallel()

	xd, err := ParseXpub(masterXpub)
	require.NoError(t, err)

	kv := KeyVersion{Version: versionTestnetTpub, Testnet: true}
	_, err = With(fn.None[Fingerprint](), xd.Key, fn.None[Standard](), &kv)

	var reqErr *RequirementError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, ReasonNetworkMismatch, reqErr.Reason)
	require.True(t, reqErr.SlipTestnet)
	require.False(t, reqErr.BipTestnet)
}

// TestDeduce checks origin deduction from derivation paths.
func TestDeduce(t *testing.T) {
	t.Parallel()

	xd, err := ParseXpub(slipZpub)
	require.NoError(t, err)

	path, err := ParseDerivationPath("m/84'/0'/0'")
	require.NoError(t, err)

	deduced, err := Deduce(fn.None[Fingerprint](), path, xd.Key, nil)
	require.NoError(t, err)
	require.Equal(t, Bip84, deduced.Standard.UnwrapOr(Bip87))
	require.Equal(t, HardenedIndex(0), deduced.Account.UnwrapOr(99))

	// Unhardened account segment makes the derivation non-standard.
	badPath, err := ParseDerivationPath("m/84'/0'/0")
	require.NoError(t, err)

	_, err = Deduce(fn.None[Fingerprint](), badPath, xd.Key, nil)
	require.ErrorIs(t, err, ErrNonStandardDerivation)

	var nsErr *NonStandardDerivationError
	require.ErrorAs(t, err, &nsErr)
	require.Equal(t, NonStandardUnhardenedAccount, nsErr.Reason)
}

// TestDeduceStandard checks standard recognition over representative paths.
func TestDeduceStandard(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		path string
		want Standard
		ok   bool
	}{
		{path: "m/44'/0'/0'", want: Bip44, ok: true},
		{path: "m/45'", want: Bip45, ok: true},
		{path: "m/48'/1'/0'/1'", want: Bip48Nested, ok: true},
		{path: "m/48'/1'/0'/2'", want: Bip48Native, ok: true},
		{path: "m/48'/1'/0'/3'", ok: false},
		{path: "m/49'/0'/0'", want: Bip49, ok: true},
		{path: "m/84'/0'/0'", want: Bip84, ok: true},
		{path: "m/86'/0'/0'", want: Bip86, ok: true},
		{path: "m/87'/0'/0'", want: Bip87, ok: true},
		{path: "m/99'/0'/0'", ok: false},
		{path: "m/44/0/0", ok: false},
		{path: "m", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()

			path, err := ParseDerivationPath(tc.path)
			require.NoError(t, err)

			standard, ok := DeduceStandard(path)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.want, standard)
			}
		})
	}
}

// TestAccountDerivation checks standard account path construction.
func TestAccountDerivation(t *testing.T) {
	t.Parallel()

	require.Equal(t, "m/84'/1'/2'",
		Bip84.AccountDerivation(2, true).String())
	require.Equal(t, "m/48'/0'/0'/2'",
		Bip48Native.AccountDerivation(0, false).String())
	require.Equal(t, "m/48'/1'/3'/1'",
		Bip48Nested.AccountDerivation(3, true).String())
	require.Equal(t, "m/45'", Bip45.AccountDerivation(0, false).String())
}

// TestClassifyOrigin checks the origin display classification.
func TestClassifyOrigin(t *testing.T) {
	t.Parallel()

	master := ClassifyOrigin(DerivationPath{})
	require.Equal(t, OriginMaster, master.Kind)
	require.Equal(t, "m/", master.String())
	require.True(t, master.AccountIndex().IsNone())

	sub := ClassifyOrigin(DerivationPath{7 | HardenedFlag})
	require.Equal(t, OriginSubMaster, sub.Kind)
	require.Equal(t, HardenedIndex(7), sub.AccountIndex().UnwrapOr(0))

	path, err := ParseDerivationPath("m/48'/1'/4'/2'")
	require.NoError(t, err)
	std := ClassifyOrigin(path)
	require.Equal(t, OriginStandard, std.Kind)
	require.Equal(t, Bip48Native, std.Standard)
	require.True(t, std.Testnet)
	require.Equal(t, HardenedIndex(4), std.AccountIndex().UnwrapOr(0))

	custom, err := ParseDerivationPath("m/99'/1'/4'")
	require.NoError(t, err)
	require.Equal(t, OriginCustom, ClassifyOrigin(custom).Kind)
}

// TestUnsatisfiable checks the unspendable key construction.
func TestUnsatisfiable(t *testing.T) {
	t.Parallel()

	pub := UnsatisfiablePubKey()
	require.NotNil(t, pub)

	// Construction is deterministic.
	require.Equal(t, pub.SerializeCompressed(),
		UnsatisfiablePubKey().SerializeCompressed())

	for _, testnet := range []bool{false, true} {
		key, err := UnsatisfiableXpub(testnet)
		require.NoError(t, err)
		require.False(t, key.IsPrivate())
		require.Equal(t, uint8(0), key.Depth())

		ecPub, err := key.ECPubKey()
		require.NoError(t, err)
		require.Equal(t, pub.SerializeCompressed(),
			ecPub.SerializeCompressed())
	}
}
