package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/mycitadel/citadel/signer"
	"github.com/mycitadel/citadel/xkey"
)

// signCmd signs a PSBT file with an extended private key, either prompted
// directly or unsealed from an encrypted vault file.
type signCmd struct {
	Vault    string `long:"vault" description:"Read the signing key from an encrypted vault file instead of prompting for it"`
	MasterFP string `long:"master-fp" description:"Master fingerprint to resolve account-level key derivations against"`
	Output   string `long:"output" description:"Write the signed PSBT to this file instead of updating in place"`

	Args struct {
		Psbt string `positional-arg-name:"psbt-file"`
	} `positional-args:"yes" required:"yes"`
}

// Execute implements the go-flags Commander interface.
func (c *signCmd) Execute(_ []string) error {
	var masterFP xkey.Fingerprint
	if c.MasterFP != "" {
		fp, err := xkey.ParseFingerprint(c.MasterFP)
		if err != nil {
			return err
		}
		masterFP = fp
	}

	xpriv, err := c.signingKey()
	if err != nil {
		return err
	}

	keySigner, err := signer.Parse(xpriv, masterFP)
	if err != nil {
		return fmt.Errorf("invalid signing key: %w", err)
	}

	packet, wasBase64, err := readPacket(c.Args.Psbt)
	if err != nil {
		return err
	}

	signed, err := keySigner.SignPacket(packet)
	if err != nil {
		return err
	}
	if signed == 0 {
		return fmt.Errorf("no inputs spendable by key %s",
			keySigner.Fingerprint())
	}

	output := c.Output
	if output == "" {
		output = c.Args.Psbt
	}
	if err := writePacket(output, packet, wasBase64); err != nil {
		return err
	}

	fmt.Printf("Signed %d of %d inputs with key %s\n", signed,
		len(packet.Inputs), keySigner.Fingerprint())

	return nil
}

// signingKey obtains the extended private key: unsealed from the vault when
// one is configured, prompted otherwise.
func (c *signCmd) signingKey() (string, error) {
	if c.Vault == "" {
		xpriv, err := promptSecret("Extended private key: ")
		if err != nil {
			return "", err
		}

		return string(xpriv), nil
	}

	sealed, err := os.ReadFile(c.Vault)
	if err != nil {
		return "", err
	}

	passphrase, err := promptSecret("Vault passphrase: ")
	if err != nil {
		return "", err
	}

	return signer.Open(sealed, passphrase)
}

// sealCmd encrypts an extended private key into a vault file.
type sealCmd struct {
	Force bool `long:"force" description:"Overwrite an existing vault file"`

	Args struct {
		Vault string `positional-arg-name:"vault-file"`
	} `positional-args:"yes" required:"yes"`
}

// Execute implements the go-flags Commander interface.
func (c *sealCmd) Execute(_ []string) error {
	if !c.Force {
		if _, err := os.Stat(c.Args.Vault); err == nil {
			return fmt.Errorf("vault file %s already exists, "+
				"use --force to overwrite", c.Args.Vault)
		}
	}

	xpriv, err := promptSecret("Extended private key: ")
	if err != nil {
		return err
	}

	// Reject keys the signer could not use before sealing them.
	keySigner, err := signer.Parse(string(xpriv), xkey.Fingerprint{})
	if err != nil {
		return fmt.Errorf("invalid signing key: %w", err)
	}

	passphrase, err := promptSecret("Vault passphrase: ")
	if err != nil {
		return err
	}
	confirm, err := promptSecret("Confirm passphrase: ")
	if err != nil {
		return err
	}
	if !bytes.Equal(passphrase, confirm) {
		return fmt.Errorf("passphrases do not match")
	}

	sealed, err := signer.Seal(string(xpriv), passphrase)
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.Args.Vault, sealed, 0600); err != nil {
		return err
	}

	fmt.Printf("Sealed key %s into %s\n", keySigner.Fingerprint(),
		c.Args.Vault)

	return nil
}
