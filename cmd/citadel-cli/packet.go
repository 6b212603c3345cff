package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// psbtMagic is the BIP-174 file magic of a binary PSBT.
var psbtMagic = []byte{0x70, 0x73, 0x62, 0x74, 0xff}

// readPacket loads a PSBT file in either binary or base64 form. The second
// return value records whether the file was base64, so a rewrite can keep
// the format.
func readPacket(path string) (*psbt.Packet, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}

	if bytes.HasPrefix(data, psbtMagic) {
		packet, err := psbt.NewFromRawBytes(
			bytes.NewReader(data), false,
		)
		if err != nil {
			return nil, false, fmt.Errorf("unable to parse %s: "+
				"%w", path, err)
		}

		return packet, false, nil
	}

	trimmed := strings.TrimSpace(string(data))
	packet, err := psbt.NewFromRawBytes(strings.NewReader(trimmed), true)
	if err != nil {
		return nil, false, fmt.Errorf("unable to parse %s: %w", path,
			err)
	}

	return packet, true, nil
}

// writePacket stores a PSBT, keeping the base64 or binary form of the
// original file.
func writePacket(path string, packet *psbt.Packet, base64 bool) error {
	var buf bytes.Buffer
	if base64 {
		encoded, err := packet.B64Encode()
		if err != nil {
			return err
		}
		buf.WriteString(encoded)
		buf.WriteByte('\n')
	} else {
		if err := packet.Serialize(&buf); err != nil {
			return err
		}
	}

	return os.WriteFile(path, buf.Bytes(), 0600)
}
