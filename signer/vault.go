package signer

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters for the passphrase KDF.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	saltLen  = 16
	nonceLen = 24
	keyLen   = 32

	// vaultVersion is the sealed blob format version.
	vaultVersion = 1
)

var (
	// ErrWrongPassphrase is returned when a sealed key cannot be opened
	// with the given passphrase.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key")

	// ErrBadVault is returned when a sealed blob is malformed.
	ErrBadVault = errors.New("malformed sealed key")
)

// deriveVaultKey stretches a passphrase into a secretbox key.
func deriveVaultKey(passphrase, salt []byte) (*[keyLen]byte, error) {
	raw, err := scrypt.Key(
		passphrase, salt, scryptN, scryptR, scryptP, keyLen,
	)
	if err != nil {
		return nil, err
	}

	var key [keyLen]byte
	copy(key[:], raw)

	return &key, nil
}

// Seal encrypts an xpriv string under a passphrase. The sealed form is
// version || salt || nonce || secretbox ciphertext.
func Seal(xpriv string, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	key, err := deriveVaultKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+saltLen+nonceLen+len(xpriv)+
		secretbox.Overhead)
	out = append(out, vaultVersion)
	out = append(out, salt...)
	out = append(out, nonce[:]...)

	return secretbox.Seal(out, []byte(xpriv), &nonce, key), nil
}

// Open decrypts a sealed xpriv with a passphrase.
func Open(sealed, passphrase []byte) (string, error) {
	if len(sealed) < 1+saltLen+nonceLen+secretbox.Overhead {
		return "", fmt.Errorf("%w: %d bytes", ErrBadVault,
			len(sealed))
	}
	if sealed[0] != vaultVersion {
		return "", fmt.Errorf("%w: unknown version %d", ErrBadVault,
			sealed[0])
	}

	salt := sealed[1 : 1+saltLen]

	var nonce [nonceLen]byte
	copy(nonce[:], sealed[1+saltLen:1+saltLen+nonceLen])

	key, err := deriveVaultKey(passphrase, salt)
	if err != nil {
		return "", err
	}

	plain, ok := secretbox.Open(
		nil, sealed[1+saltLen+nonceLen:], &nonce, key,
	)
	if !ok {
		return "", ErrWrongPassphrase
	}

	return string(plain), nil
}
