package electrum

import (
	"crypto/sha256"
	"encoding/hex"
)

// ScriptHash computes the electrum script hash of a script pubkey: the
// sha256 of the script, hex encoded in reversed byte order.
func ScriptHash(pkScript []byte) string {
	sum := sha256.Sum256(pkScript)

	// Electrum reverses the hash, like txids are displayed.
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}

	return hex.EncodeToString(sum[:])
}
