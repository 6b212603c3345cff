package xkey

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// UnsatisfiablePubKey returns a provably unspendable public key: the
// generator point tweaked by the hash of its own serialization, so nobody
// can know its discrete logarithm. It is used as the internal key of taproot
// outputs that must only be spendable through script paths.
func UnsatisfiablePubKey() *btcec.PublicKey {
	var one btcec.ModNScalar
	one.SetInt(1)

	var base btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&one, &base)
	base.ToAffine()
	generator := btcec.NewPublicKey(&base.X, &base.Y)

	tweakHash := sha256.Sum256(generator.SerializeCompressed())
	var tweak btcec.ModNScalar
	tweak.SetByteSlice(tweakHash[:])

	var tweakPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&tweak, &tweakPoint)

	var genPoint, sum btcec.JacobianPoint
	generator.AsJacobian(&genPoint)
	btcec.AddNonConst(&genPoint, &tweakPoint, &sum)
	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y)
}

// UnsatisfiableXpub wraps the unspendable public key into an extended public
// key with zeroed depth, parent fingerprint, child number, and a chain code
// equal to the x coordinate of the key, serialized for the given network
// family.
func UnsatisfiableXpub(testnet bool) (*hdkeychain.ExtendedKey, error) {
	pub := UnsatisfiablePubKey()
	serialized := pub.SerializeCompressed()

	version := versionMainnetXpub
	if testnet {
		version = versionTestnetTpub
	}

	buf := make([]byte, 0, serializedKeyLen)
	buf = append(buf, byte(version>>24), byte(version>>16),
		byte(version>>8), byte(version))
	buf = append(buf, 0)                   // depth
	buf = append(buf, 0, 0, 0, 0)          // parent fingerprint
	buf = append(buf, 0, 0, 0, 0)          // child number
	buf = append(buf, serialized[1:33]...) // chain code
	buf = append(buf, serialized...)       // public key

	key, err := hdkeychain.NewKeyFromString(encodeKeyBytes(buf))
	if err != nil {
		return nil, fmt.Errorf("construct unspendable xpub: %w", err)
	}

	return key, nil
}
