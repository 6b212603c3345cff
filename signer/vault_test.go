package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const vaultXpriv = "xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3j" +
	"PPqjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrMPHi"

// TestVaultRoundTrip checks seal and open with the right passphrase.
func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()

	sealed, err := Seal(vaultXpriv, []byte("correct horse"))
	require.NoError(t, err)

	// The sealed blob never carries the key material in the clear.
	require.NotContains(t, string(sealed), vaultXpriv)

	opened, err := Open(sealed, []byte("correct horse"))
	require.NoError(t, err)
	require.Equal(t, vaultXpriv, opened)
}

// TestVaultWrongPassphrase checks that a wrong passphrase does not open the
// vault.
func TestVaultWrongPassphrase(t *testing.T) {
	t.Parallel()

	sealed, err := Seal(vaultXpriv, []byte("correct horse"))
	require.NoError(t, err)

	_, err = Open(sealed, []byte("battery staple"))
	require.ErrorIs(t, err, ErrWrongPassphrase)
}

// TestVaultTampered checks that modified ciphertext is rejected.
func TestVaultTampered(t *testing.T) {
	t.Parallel()

	sealed, err := Seal(vaultXpriv, []byte("correct horse"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01

	_, err = Open(sealed, []byte("correct horse"))
	require.ErrorIs(t, err, ErrWrongPassphrase)
}

// TestVaultMalformed checks structural validation of sealed blobs.
func TestVaultMalformed(t *testing.T) {
	t.Parallel()

	_, err := Open([]byte{vaultVersion, 0x01}, []byte("pass"))
	require.ErrorIs(t, err, ErrBadVault)

	sealed, err := Seal(vaultXpriv, []byte("pass"))
	require.NoError(t, err)

	sealed[0] = 0xff
	_, err = Open(sealed, []byte("pass"))
	require.ErrorIs(t, err, ErrBadVault)
}
