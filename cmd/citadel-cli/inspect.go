package main

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/mycitadel/citadel/wallet"
	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// inspectCmd summarizes a PSBT file: its inputs, outputs, recorded signer
// names and collected signatures.
type inspectCmd struct {
	Network string `long:"network" description:"Network used to render addresses" default:"testnet" choice:"mainnet" choice:"testnet" choice:"signet"`

	Args struct {
		Psbt string `positional-arg-name:"psbt-file"`
	} `positional-args:"yes" required:"yes"`
}

// Execute implements the go-flags Commander interface.
func (c *inspectCmd) Execute(_ []string) error {
	network, err := wdesc.ParseNetwork(c.Network)
	if err != nil {
		return err
	}

	packet, _, err := readPacket(c.Args.Psbt)
	if err != nil {
		return err
	}

	fmt.Printf("PSBT with %d inputs and %d outputs\n",
		len(packet.Inputs), len(packet.Outputs))

	printSignerNames(packet)

	var inTotal btcutil.Amount
	feeKnown := true

	fmt.Println("\nInputs:")
	for i, input := range packet.Inputs {
		prevout := packet.UnsignedTx.TxIn[i].PreviousOutPoint

		value := "unknown value"
		if input.WitnessUtxo != nil {
			amount := btcutil.Amount(input.WitnessUtxo.Value)
			inTotal += amount
			value = fmt.Sprintf("%v (%s)", amount,
				renderScript(input.WitnessUtxo.PkScript,
					network))
		} else {
			feeKnown = false
		}

		fmt.Printf("  %d: %v  %s  %s\n", i, prevout, value,
			signatureSummary(&input))
	}

	var outTotal btcutil.Amount

	fmt.Println("\nOutputs:")
	for i, txOut := range packet.UnsignedTx.TxOut {
		amount := btcutil.Amount(txOut.Value)
		outTotal += amount

		fmt.Printf("  %d: %v  %s\n", i, amount,
			renderScript(txOut.PkScript, network))
	}

	if feeKnown {
		fmt.Printf("\nFee: %v\n", inTotal-outTotal)
	}

	return nil
}

// printSignerNames lists the signer display names carried in the packet's
// proprietary keys, in stable fingerprint order.
func printSignerNames(packet *psbt.Packet) {
	names := wallet.SignerNames(packet)
	if len(names) == 0 {
		return
	}

	fingerprints := make([]xkey.Fingerprint, 0, len(names))
	for fp := range names {
		fingerprints = append(fingerprints, fp)
	}
	sort.Slice(fingerprints, func(i, j int) bool {
		return fingerprints[i].Uint32() < fingerprints[j].Uint32()
	})

	fmt.Println("\nSigners:")
	for _, fp := range fingerprints {
		fmt.Printf("  %s  %s\n", fp, names[fp])
	}
}

// renderScript decodes a script pubkey into an address when possible, the
// script class otherwise.
func renderScript(pkScript []byte, network wdesc.Network) string {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, network.Params(),
	)
	if err != nil || len(addrs) == 0 {
		return class.String()
	}

	return addrs[0].EncodeAddress()
}

// signatureSummary counts the signatures collected on an input.
func signatureSummary(input *psbt.PInput) string {
	count := len(input.PartialSigs) + len(input.TaprootScriptSpendSig)
	if len(input.TaprootKeySpendSig) > 0 {
		count++
	}

	switch count {
	case 0:
		return "unsigned"
	case 1:
		return "1 signature"
	default:
		return fmt.Sprintf("%d signatures", count)
	}
}
