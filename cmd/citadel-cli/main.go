// citadel-cli manipulates wallet documents and PSBTs from the command line:
// it converts wallet files to and from YAML, summarizes PSBTs and signs them
// with software keys.
package main

import (
	"errors"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// config collects the CLI subcommands.
type config struct {
	Dump    dumpCmd    `command:"dump" description:"Export a wallet file as YAML on stdout"`
	Create  createCmd  `command:"create" description:"Create a wallet file from a YAML description"`
	Inspect inspectCmd `command:"inspect-psbt" description:"Summarize the inputs, outputs and signers of a PSBT file"`
	Sign    signCmd    `command:"sign" description:"Sign a PSBT file with an extended private key"`
	Seal    sealCmd    `command:"seal" description:"Encrypt an extended private key into a vault file"`
}

func main() {
	parser := flags.NewParser(&config{}, flags.Default)

	_, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			// go-flags already printed the message.
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "citadel-cli: %v\n", err)
		os.Exit(1)
	}
}
