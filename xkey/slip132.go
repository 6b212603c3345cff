package xkey

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Standard BIP-32 serialization prefixes.
const (
	versionMainnetXpub uint32 = 0x0488b21e
	versionTestnetTpub uint32 = 0x043587cf
)

var (
	// ErrBadKeyEncoding is returned when an extended key string is not a
	// valid base58check payload of the expected length.
	ErrBadKeyEncoding = errors.New("invalid extended key encoding")

	// ErrUnknownKeyVersion is returned when a key version prefix is not a
	// known BIP-32 or SLIP-132 version.
	ErrUnknownKeyVersion = errors.New("unknown extended key version")
)

// KeyVersion describes a SLIP-132 extended key version prefix: the network it
// belongs to and, when the prefix defines one, the derivation standard the
// key is meant for.
type KeyVersion struct {
	// Version is the big-endian four-byte serialization prefix.
	Version uint32

	// Testnet is true for testnet-family prefixes.
	Testnet bool

	// Standard is the derivation standard implied by the prefix.
	// HasStandard is false for the plain BIP-32 xpub/tpub prefixes, which
	// carry no application information.
	Standard    Standard
	HasStandard bool
}

// slip132Versions lists the known public key version prefixes. Private key
// prefixes are intentionally not supported: signers import xprivs in plain
// BIP-32 form only.
var slip132Versions = []KeyVersion{
	{Version: versionMainnetXpub, Testnet: false},
	{Version: 0x049d7cb2, Testnet: false, Standard: Bip49, HasStandard: true},
	{Version: 0x0295b43f, Testnet: false, Standard: Bip48Nested, HasStandard: true},
	{Version: 0x04b24746, Testnet: false, Standard: Bip84, HasStandard: true},
	{Version: 0x02aa7ed3, Testnet: false, Standard: Bip48Native, HasStandard: true},
	{Version: versionTestnetTpub, Testnet: true},
	{Version: 0x044a5262, Testnet: true, Standard: Bip49, HasStandard: true},
	{Version: 0x024289ef, Testnet: true, Standard: Bip48Nested, HasStandard: true},
	{Version: 0x045f1cf6, Testnet: true, Standard: Bip84, HasStandard: true},
	{Version: 0x02575483, Testnet: true, Standard: Bip48Native, HasStandard: true},
}

// lookupKeyVersion finds the KeyVersion for a raw version prefix.
func lookupKeyVersion(version uint32) (KeyVersion, bool) {
	for _, kv := range slip132Versions {
		if kv.Version == version {
			return kv, true
		}
	}

	return KeyVersion{}, false
}

// serializedKeyLen is the length of a raw BIP-32 extended key serialization,
// without the base58check checksum.
const serializedKeyLen = 78

// decodeKeyString base58check-decodes an extended key string and returns the
// 78-byte payload.
func decodeKeyString(s string) ([]byte, error) {
	decoded := base58.Decode(s)
	if len(decoded) != serializedKeyLen+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadKeyEncoding,
			len(decoded))
	}

	payload := decoded[:serializedKeyLen]
	checksum := decoded[serializedKeyLen:]
	expected := chainhash.DoubleHashB(payload)[:4]
	for i := range checksum {
		if checksum[i] != expected[i] {
			return nil, fmt.Errorf("%w: bad checksum",
				ErrBadKeyEncoding)
		}
	}

	return payload, nil
}

// encodeKeyBytes base58check-encodes a 78-byte extended key serialization.
func encodeKeyBytes(payload []byte) string {
	checksum := chainhash.DoubleHashB(payload)[:4]
	full := make([]byte, 0, len(payload)+4)
	full = append(full, payload...)
	full = append(full, checksum...)

	return base58.Encode(full)
}

// versionOf extracts the big-endian version prefix of a serialized key.
func versionOf(payload []byte) uint32 {
	return uint32(payload[0])<<24 | uint32(payload[1])<<16 |
		uint32(payload[2])<<8 | uint32(payload[3])
}

// ParseKeyVersion decodes an extended key string far enough to recognize its
// version prefix.
func ParseKeyVersion(s string) (KeyVersion, error) {
	payload, err := decodeKeyString(s)
	if err != nil {
		return KeyVersion{}, err
	}

	kv, ok := lookupKeyVersion(versionOf(payload))
	if !ok {
		return KeyVersion{}, fmt.Errorf("%w: %#08x",
			ErrUnknownKeyVersion, versionOf(payload))
	}

	return kv, nil
}

// normalizeSlip132 rewrites a SLIP-132 encoded key into its plain BIP-32 form
// (xpub or tpub, preserving the network) so the standard hdkeychain parser
// can handle it. Keys that already use a plain prefix pass through unchanged.
func normalizeSlip132(s string) (string, KeyVersion, error) {
	payload, err := decodeKeyString(s)
	if err != nil {
		return "", KeyVersion{}, err
	}

	kv, ok := lookupKeyVersion(versionOf(payload))
	if !ok {
		return "", KeyVersion{}, fmt.Errorf("%w: %#08x",
			ErrUnknownKeyVersion, versionOf(payload))
	}

	target := versionMainnetXpub
	if kv.Testnet {
		target = versionTestnetTpub
	}
	if versionOf(payload) == target {
		return s, kv, nil
	}

	rewritten := make([]byte, serializedKeyLen)
	copy(rewritten, payload)
	rewritten[0] = byte(target >> 24)
	rewritten[1] = byte(target >> 16)
	rewritten[2] = byte(target >> 8)
	rewritten[3] = byte(target)

	return encodeKeyBytes(rewritten), kv, nil
}
