package main

import (
	"fmt"
	"os"

	"github.com/mycitadel/citadel/wfile"
)

// dumpCmd exports a binary wallet file as YAML on stdout.
type dumpCmd struct {
	Args struct {
		Wallet string `positional-arg-name:"wallet-file"`
	} `positional-args:"yes" required:"yes"`
}

// Execute implements the go-flags Commander interface.
func (c *dumpCmd) Execute(_ []string) error {
	doc, err := wfile.ReadFile(c.Args.Wallet)
	if err != nil {
		return fmt.Errorf("unable to read wallet file %s: %w",
			c.Args.Wallet, err)
	}

	return wfile.EncodeYAML(os.Stdout, doc)
}

// createCmd builds a binary wallet file from a YAML description.
type createCmd struct {
	Force bool `long:"force" description:"Overwrite an existing wallet file"`

	Args struct {
		Yaml   string `positional-arg-name:"yaml-file"`
		Wallet string `positional-arg-name:"wallet-file"`
	} `positional-args:"yes" required:"yes"`
}

// Execute implements the go-flags Commander interface.
func (c *createCmd) Execute(_ []string) error {
	if !c.Force {
		if _, err := os.Stat(c.Args.Wallet); err == nil {
			return fmt.Errorf("wallet file %s already exists, "+
				"use --force to overwrite", c.Args.Wallet)
		}
	}

	yamlFile, err := os.Open(c.Args.Yaml)
	if err != nil {
		return err
	}
	defer yamlFile.Close()

	doc, err := wfile.DecodeYAML(yamlFile)
	if err != nil {
		return fmt.Errorf("unable to parse %s: %w", c.Args.Yaml, err)
	}

	if err := wfile.WriteFile(c.Args.Wallet, doc); err != nil {
		return fmt.Errorf("unable to write wallet file %s: %w",
			c.Args.Wallet, err)
	}

	fmt.Printf("Created wallet %s: %s %s, %d signers\n", c.Args.Wallet,
		doc.Descriptor.Network(), doc.Descriptor.Standard(),
		len(doc.Descriptor.Signers()))

	return nil
}
