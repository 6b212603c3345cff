package wdesc

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/mycitadel/citadel/xkey"
)

// Extended keys from the BIP-32 test vector 1 chain, used as stand-in
// account keys.
const (
	vectorXpubMaster = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8Nq" +
		"twybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMce" +
		"t8"
	vectorXpubChild = "xpub68Gmy5EdvgibQVfPdqkBBCHxA5htiqg55crXYuXoQRKfD" +
		"BFA1WEjWgP6LHhwBZeNK1VTsfTFUHCdrfp1bgwQ9xv5ski8PX9rL2dZXvgG" +
		"Dnw"
	vectorXpubGrandchild = "xpub6ASuArnXKPbfEwhqN6e3mwBcDTgzisQN1wXN9BJc" +
		"M47sSikHjJf3UFHKkNAWbWMiGj7Wf5uMash7SyYq527Hqck2AxYysAA7xmA" +
		"LppuCkwQ"
)

// testSigner builds a signer around one of the vector xpubs.
func testSigner(t *testing.T, xpub, name string) *Signer {
	t.Helper()

	xd, err := xkey.ParseXpub(xpub)
	require.NoError(t, err)

	signer, err := NewSignerFromXpub(xd, xkey.Bip48Native, Mainnet)
	require.NoError(t, err)
	signer.Name = name

	return signer
}

// TestAddSignerDedupe checks that signer identity is keyed on the xpub.
func TestAddSignerDedupe(t *testing.T) {
	t.Parallel()

	d := NewDescriptor(xkey.Bip48Native, Mainnet)

	alice := testSigner(t, vectorXpubMaster, "alice")
	require.True(t, d.AddSigner(alice))

	// Same xpub under a different name is the same signer.
	aliceCopy := testSigner(t, vectorXpubMaster, "definitely not alice")
	require.False(t, d.AddSigner(aliceCopy))

	bob := testSigner(t, vectorXpubChild, "bob")
	require.True(t, d.AddSigner(bob))
	require.Len(t, d.Signers(), 2)
}

// TestAddSignerOrdering checks the deterministic xpub ordering of the signer
// set.
func TestAddSignerOrdering(t *testing.T) {
	t.Parallel()

	d := NewDescriptor(xkey.Bip48Native, Mainnet)
	first := testSigner(t, vectorXpubGrandchild, "c")
	second := testSigner(t, vectorXpubMaster, "a")
	third := testSigner(t, vectorXpubChild, "b")

	require.True(t, d.AddSigner(first))
	require.True(t, d.AddSigner(second))
	require.True(t, d.AddSigner(third))

	signers := d.Signers()
	require.Len(t, signers, 3)
	for i := 1; i < len(signers); i++ {
		require.True(t, signers[i-1].Less(signers[i]))
	}
}

// TestAddCondition checks the validation rules for spending conditions.
func TestAddCondition(t *testing.T) {
	t.Parallel()

	t.Run("no signers", func(t *testing.T) {
		t.Parallel()

		d := NewDescriptor(xkey.Bip48Native, Mainnet)
		err := d.AddCondition(CondAll())
		require.ErrorIs(t, err, ErrNoSigners)
	})

	t.Run("duplicate", func(t *testing.T) {
		t.Parallel()

		d := NewDescriptor(xkey.Bip48Native, Mainnet)
		d.AddSigner(testSigner(t, vectorXpubMaster, "alice"))

		require.NoError(t, d.AddCondition(CondAll()))
		err := d.AddCondition(CondAll())
		require.ErrorIs(t, err, ErrDuplicateCondition)
	})

	t.Run("threshold above signer count", func(t *testing.T) {
		t.Parallel()

		d := NewDescriptor(xkey.Bip48Native, Mainnet)
		d.AddSigner(testSigner(t, vectorXpubMaster, "alice"))
		d.AddSigner(testSigner(t, vectorXpubChild, "bob"))

		err := d.AddCondition(CondAtLeast(3))
		require.ErrorIs(t, err, ErrInsufficientSigners)

		require.NoError(t, d.AddCondition(CondAtLeast(2)))
	})

	t.Run("unknown specific signer", func(t *testing.T) {
		t.Parallel()

		d := NewDescriptor(xkey.Bip48Native, Mainnet)
		alice := testSigner(t, vectorXpubMaster, "alice")
		d.AddSigner(alice)

		unknown, err := xkey.ParseFingerprint("deadbeef")
		require.NoError(t, err)

		err = d.AddCondition(SpendingCondition{
			Sigs:     ReqSpecific(unknown),
			Timelock: LockNone(),
		})
		require.ErrorIs(t, err, ErrUnknownSigner)

		err = d.AddCondition(SpendingCondition{
			Sigs:     ReqSpecific(alice.Fingerprint),
			Timelock: LockNone(),
		})
		require.NoError(t, err)
	})
}

// TestClassOf checks the standard to script class mapping.
func TestClassOf(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		standard xkey.Standard
		class    DescriptorClass
		ok       bool
	}{
		{standard: xkey.Bip44, class: ClassPreSegwit, ok: true},
		{standard: xkey.Bip45, class: ClassPreSegwit, ok: true},
		{standard: xkey.Bip48Nested, class: ClassNestedV0, ok: true},
		{standard: xkey.Bip48Native, class: ClassSegwitV0, ok: true},
		{standard: xkey.Bip49, class: ClassNestedV0, ok: true},
		{standard: xkey.Bip84, class: ClassSegwitV0, ok: true},
		{standard: xkey.Bip86, class: ClassTaproot, ok: true},
		{standard: xkey.Bip87, ok: false},
	}

	for _, tc := range testCases {
		class, ok := ClassOf(tc.standard)
		require.Equal(t, tc.ok, ok, tc.standard.String())
		if tc.ok {
			require.Equal(t, tc.class, class, tc.standard.String())
		}
	}
}

// TestNetwork checks network parsing and coin types.
func TestNetwork(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"mainnet", "testnet", "signet"} {
		network, err := ParseNetwork(name)
		require.NoError(t, err)
		require.Equal(t, name, network.String())
	}

	_, err := ParseNetwork("regtest")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	require.False(t, Mainnet.IsTestnet())
	require.True(t, Testnet.IsTestnet())
	require.True(t, Signet.IsTestnet())
	require.Equal(t, uint32(0), Mainnet.CoinType())
	require.Equal(t, uint32(1), Signet.CoinType())
}

// TestTemplatePresets checks the condition ladders of the template presets.
func TestTemplatePresets(t *testing.T) {
	t.Parallel()

	t.Run("singlesig", func(t *testing.T) {
		t.Parallel()

		tmpl := SinglesigTemplate(true, Testnet, false)
		require.Equal(t, xkey.Bip86, tmpl.Standard)
		require.Equal(t, Deny, tmpl.HardwareReq)
		require.Equal(t, Require, tmpl.WatchOnlyReq)
		require.Len(t, tmpl.Conditions, 1)

		tmpl = SinglesigTemplate(false, Testnet, true)
		require.Equal(t, xkey.Bip84, tmpl.Standard)
		require.Equal(t, Require, tmpl.HardwareReq)
		require.Equal(t, Deny, tmpl.WatchOnlyReq)
	})

	t.Run("multisig thresholds", func(t *testing.T) {
		t.Parallel()

		_, err := MultisigTemplate(
			Testnet, fn.Some[uint16](1), Allow, Allow,
		)
		require.ErrorIs(t, err, ErrBadTemplateThreshold)

		tmpl, err := MultisigTemplate(
			Testnet, fn.None[uint16](), Allow, Allow,
		)
		require.NoError(t, err)
		require.Len(t, tmpl.Conditions, 1)
		require.Equal(t, uint16(2), tmpl.MinSignerCount.UnwrapOr(0))

		tmpl, err = MultisigTemplate(
			Testnet, fn.Some[uint16](2), Allow, Allow,
		)
		require.NoError(t, err)
		require.Len(t, tmpl.Conditions, 2)
		require.Equal(t, SigsAll, tmpl.Conditions[0].Sigs.Kind)
		require.Equal(t, SigsAny, tmpl.Conditions[1].Sigs.Kind)
		require.Equal(t, LockAfterTime,
			tmpl.Conditions[1].Timelock.Kind)

		tmpl, err = MultisigTemplate(
			Testnet, fn.Some[uint16](5), Allow, Allow,
		)
		require.NoError(t, err)
		require.Len(t, tmpl.Conditions, 3)
		require.Equal(t, uint16(4), tmpl.Conditions[0].Sigs.Count)
		// Majority of five is three.
		require.Equal(t, uint16(3), tmpl.Conditions[1].Sigs.Count)
	})

	t.Run("hodling", func(t *testing.T) {
		t.Parallel()

		_, err := HodlingTemplate(Testnet, 2, Allow, Allow)
		require.ErrorIs(t, err, ErrBadTemplateThreshold)

		tmpl, err := HodlingTemplate(Testnet, 3, Allow, Allow)
		require.NoError(t, err)
		require.Len(t, tmpl.Conditions, 2)
		require.Equal(t, uint16(3), tmpl.MinSignerCount.UnwrapOr(0))
	})
}

// TestTemplateResolve checks template resolution against real signer sets.
func TestTemplateResolve(t *testing.T) {
	t.Parallel()

	tmpl, err := MultisigTemplate(
		Mainnet, fn.Some[uint16](2), Allow, Allow,
	)
	require.NoError(t, err)

	alice := testSigner(t, vectorXpubMaster, "alice")
	bob := testSigner(t, vectorXpubChild, "bob")

	// Too few signers.
	_, err = tmpl.Resolve([]*Signer{alice})
	require.ErrorIs(t, err, ErrTemplateSignerCount)

	descriptor, err := tmpl.Resolve([]*Signer{alice, bob})
	require.NoError(t, err)
	require.Len(t, descriptor.Signers(), 2)
	require.Len(t, descriptor.Conditions(), 2)
	require.Equal(t, xkey.Bip48Native, descriptor.Standard())

	// Hardware signers can be denied.
	tmpl.HardwareReq = Deny
	alice.Device = "trezor"
	_, err = tmpl.Resolve([]*Signer{alice, bob})
	require.ErrorIs(t, err, ErrTemplateSignerKind)

	// Max signer count is enforced for singlesig.
	single := SinglesigTemplate(false, Mainnet, false)
	_, err = single.Resolve([]*Signer{alice, bob})
	require.ErrorIs(t, err, ErrTemplateSignerCount)
}
