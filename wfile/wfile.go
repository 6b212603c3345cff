// Package wfile reads and writes wallet document files. The binary .mcw
// format is a 4-byte magic followed by a TLV body carrying the descriptor,
// the persisted wallet state and any in-progress PSBT packets. The same
// document can be exported to and imported from YAML for manual editing.
package wfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/mycitadel/citadel/wallet"
	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// magic identifies a .mcw wallet document file.
var magic = [4]byte{0xa4, 0x54, 0x6a, 0x8e}

var (
	// ErrBadMagic is returned when a file does not start with the wallet
	// document magic.
	ErrBadMagic = errors.New("not a wallet document file")

	// ErrTrailingBytes is returned when a document carries bytes beyond
	// its encoded content.
	ErrTrailingBytes = errors.New("trailing bytes in wallet document")

	// ErrNoDescriptor is returned when a document carries no descriptor.
	ErrNoDescriptor = errors.New("wallet document has no descriptor")
)

// TLV record types of the document body.
const (
	typeStandard   tlv.Type = 0
	typeNetwork    tlv.Type = 1
	typeSigners    tlv.Type = 2
	typeConditions tlv.Type = 3
	typeBalance    tlv.Type = 4
	typeVolume     tlv.Type = 5
	typeHistory    tlv.Type = 6
	typeUtxos      tlv.Type = 7
	typeWip        tlv.Type = 8
)

// Encode writes the binary form of a wallet document.
func Encode(w io.Writer, doc *wallet.Document) error {
	if doc.Descriptor == nil {
		return ErrNoDescriptor
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}

	standard := uint8(doc.Descriptor.Standard())
	network := uint8(doc.Descriptor.Network())
	balance := uint64(doc.State.Balance)
	volume := uint64(doc.State.Volume)

	signers, err := encodeSigners(doc.Descriptor.Signers())
	if err != nil {
		return err
	}
	conditions, err := encodeConditions(doc.Descriptor.Conditions())
	if err != nil {
		return err
	}
	history, err := encodeHistory(doc.History)
	if err != nil {
		return err
	}
	utxos, err := encodeUtxos(doc.Utxos)
	if err != nil {
		return err
	}
	wip, err := encodeWip(doc.Wip)
	if err != nil {
		return err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStandard, &standard),
		tlv.MakePrimitiveRecord(typeNetwork, &network),
		tlv.MakePrimitiveRecord(typeSigners, &signers),
		tlv.MakePrimitiveRecord(typeConditions, &conditions),
		tlv.MakePrimitiveRecord(typeBalance, &balance),
		tlv.MakePrimitiveRecord(typeVolume, &volume),
		tlv.MakePrimitiveRecord(typeHistory, &history),
		tlv.MakePrimitiveRecord(typeUtxos, &utxos),
		tlv.MakePrimitiveRecord(typeWip, &wip),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads the binary form of a wallet document.
func Decode(r io.Reader) (*wallet.Document, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return nil, fmt.Errorf("unable to read document magic: %w",
			err)
	}
	if got != magic {
		return nil, fmt.Errorf("%w: expected magic %x, got %x",
			ErrBadMagic, magic[:], got[:])
	}

	var (
		standard, network   uint8
		balance, volume     uint64
		signers, conditions []byte
		history, utxos, wip []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStandard, &standard),
		tlv.MakePrimitiveRecord(typeNetwork, &network),
		tlv.MakePrimitiveRecord(typeSigners, &signers),
		tlv.MakePrimitiveRecord(typeConditions, &conditions),
		tlv.MakePrimitiveRecord(typeBalance, &balance),
		tlv.MakePrimitiveRecord(typeVolume, &volume),
		tlv.MakePrimitiveRecord(typeHistory, &history),
		tlv.MakePrimitiveRecord(typeUtxos, &utxos),
		tlv.MakePrimitiveRecord(typeWip, &wip),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	desc := wdesc.NewDescriptor(
		xkey.Standard(standard), wdesc.Network(network),
	)

	signerSet, err := decodeSigners(signers)
	if err != nil {
		return nil, err
	}
	for _, signer := range signerSet {
		desc.AddSigner(signer)
	}

	conditionSet, err := decodeConditions(conditions)
	if err != nil {
		return nil, err
	}
	for _, condition := range conditionSet {
		if err := desc.AddCondition(condition); err != nil {
			return nil, err
		}
	}

	doc := &wallet.Document{
		Descriptor: desc,
		State: wallet.State{
			Balance: btcutil.Amount(balance),
			Volume:  btcutil.Amount(volume),
		},
	}

	doc.History, err = decodeHistory(history, desc)
	if err != nil {
		return nil, err
	}
	doc.Utxos, err = decodeUtxos(utxos, desc)
	if err != nil {
		return nil, err
	}
	doc.Wip, err = decodeWip(wip)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// ReadFile reads a .mcw wallet document, rejecting bytes beyond the encoded
// document.
func ReadFile(path string) (*wallet.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(data)
	doc, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read wallet document %s: "+
			"%w", path, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d bytes after document in %s",
			ErrTrailingBytes, r.Len(), path)
	}

	return doc, nil
}

// WriteFile writes a .mcw wallet document atomically: the document is staged
// in a temporary file and renamed over the target, so a crash mid-write never
// corrupts an existing document.
func WriteFile(path string, doc *wallet.Document) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
