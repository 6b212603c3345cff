package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycitadel/citadel/wdesc"
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
)

// testDescriptor builds a descriptor from raw xpubs with an all-signatures
// condition.
func testDescriptor(t *testing.T, standard xkey.Standard,
	xpubs ...string) *wdesc.Descriptor {

	t.Helper()

	desc := wdesc.NewDescriptor(standard, wdesc.Mainnet)
	for i, raw := range xpubs {
		xd, err := xkey.ParseXpub(raw)
		require.NoError(t, err)

		signer, err := wdesc.NewSignerFromXpub(
			xd, standard, wdesc.Mainnet,
		)
		require.NoError(t, err)
		signer.Name = []string{"alice", "bob", "carol"}[i%3]

		require.True(t, desc.AddSigner(signer))
	}
	require.NoError(t, desc.AddCondition(wdesc.CondAll()))

	return desc
}
