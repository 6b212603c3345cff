package wallet

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/mycitadel/citadel/xkey"
)

// Proprietary PSBT keys (BIP-174 type 0xFC) used to carry wallet metadata
// across signing devices. The key data of a signer name record is the
// signer's master fingerprint; the value is the UTF-8 display name.
const (
	proprietaryPrefix = "MyCitadel"

	proprietaryTypeKey byte = 0xfc

	subtypeSignerName byte = 0x00
)

// signerNameKey builds the full proprietary key of a signer name record.
func signerNameKey(fp xkey.Fingerprint) []byte {
	key := make([]byte, 0, 2+len(proprietaryPrefix)+1+len(fp))
	key = append(key, proprietaryTypeKey, byte(len(proprietaryPrefix)))
	key = append(key, proprietaryPrefix...)
	key = append(key, subtypeSignerName)
	key = append(key, fp[:]...)

	return key
}

// SetSignerName records a signer's display name in the packet's global
// proprietary keys, replacing a previous record for the same signer.
func SetSignerName(packet *psbt.Packet, fp xkey.Fingerprint, name string) {
	key := signerNameKey(fp)

	for _, unknown := range packet.Unknowns {
		if bytes.Equal(unknown.Key, key) {
			unknown.Value = []byte(name)
			return
		}
	}

	packet.Unknowns = append(packet.Unknowns, &psbt.Unknown{
		Key:   key,
		Value: []byte(name),
	})
}

// SignerNames extracts the signer display names recorded in the packet.
// Foreign and malformed proprietary keys are skipped.
func SignerNames(packet *psbt.Packet) map[xkey.Fingerprint]string {
	names := make(map[xkey.Fingerprint]string)

	prefix := []byte{proprietaryTypeKey, byte(len(proprietaryPrefix))}
	prefix = append(prefix, proprietaryPrefix...)
	prefix = append(prefix, subtypeSignerName)

	for _, unknown := range packet.Unknowns {
		if !bytes.HasPrefix(unknown.Key, prefix) {
			continue
		}

		keyData := unknown.Key[len(prefix):]
		fp, err := xkey.FingerprintFromBytes(keyData)
		if err != nil {
			continue
		}

		names[fp] = string(unknown.Value)
	}

	return names
}

// AttachSignerNames records the display names of all named descriptor
// signers in the packet.
func (w *Wallet) AttachSignerNames(packet *psbt.Packet) {
	for _, signer := range w.cfg.Descriptor.Signers() {
		if signer.Name == "" {
			continue
		}

		SetSignerName(packet, signer.Fingerprint, signer.Name)
	}
}
