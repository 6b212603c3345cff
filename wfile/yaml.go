package wfile

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
	"gopkg.in/yaml.v3"

	"github.com/mycitadel/citadel/wallet"
	"github.com/mycitadel/citadel/wdesc"
	"github.com/mycitadel/citadel/xkey"
)

// yamlSigner is the editable form of a descriptor signer.
type yamlSigner struct {
	Name        string `yaml:"name,omitempty"`
	Fingerprint string `yaml:"fingerprint,omitempty"`
	Origin      string `yaml:"origin,omitempty"`
	Xpub        string `yaml:"xpub"`
	Device      string `yaml:"device,omitempty"`
	Ownership   string `yaml:"ownership"`
}

// yamlCondition is the editable form of a spending condition, flattened to
// one mapping per condition.
type yamlCondition struct {
	// Sigs is "all", "any", "at-least" or "specific".
	Sigs   string `yaml:"sigs"`
	Count  uint16 `yaml:"count,omitempty"`
	Signer string `yaml:"signer,omitempty"`

	// Lock is empty (anytime), "after-date", "after-block", "older-date"
	// or "older-blocks".
	Lock   string `yaml:"lock,omitempty"`
	Time   string `yaml:"time,omitempty"`
	Blocks uint32 `yaml:"blocks,omitempty"`
}

type yamlState struct {
	Balance int64 `yaml:"balance"`
	Volume  int64 `yaml:"volume"`
}

// yamlValue attributes an amount at transaction position N to a wallet
// address terminal.
type yamlValue struct {
	N      uint32 `yaml:"n"`
	Change bool   `yaml:"change,omitempty"`
	Index  uint32 `yaml:"index"`
	Value  int64  `yaml:"value"`
}

type yamlHistoryEntry struct {
	Txid    string      `yaml:"txid"`
	Height  int32       `yaml:"height"`
	Time    string      `yaml:"time,omitempty"`
	Tx      string      `yaml:"tx"`
	Credits []yamlValue `yaml:"credits,omitempty"`
	Debits  []yamlValue `yaml:"debits,omitempty"`
	Fee     *int64      `yaml:"fee,omitempty"`
	Comment string      `yaml:"comment,omitempty"`
}

type yamlUtxo struct {
	Txid   string `yaml:"txid"`
	Vout   uint32 `yaml:"vout"`
	Height int32  `yaml:"height"`
	Time   string `yaml:"time,omitempty"`
	Value  int64  `yaml:"value"`
	Change bool   `yaml:"change,omitempty"`
	Index  uint32 `yaml:"index"`
}

// yamlDocument is the YAML rendition of a wallet document.
type yamlDocument struct {
	Network    string             `yaml:"network"`
	Standard   string             `yaml:"standard"`
	Signers    []yamlSigner       `yaml:"signers,omitempty"`
	Conditions []yamlCondition    `yaml:"conditions,omitempty"`
	State      yamlState          `yaml:"state,omitempty"`
	History    []yamlHistoryEntry `yaml:"history,omitempty"`
	Utxos      []yamlUtxo         `yaml:"utxos,omitempty"`
	Wip        []string           `yaml:"wip,omitempty"`
}

func sigsKindName(kind wdesc.SigsReqKind) string {
	switch kind {
	case wdesc.SigsAll:
		return "all"
	case wdesc.SigsAtLeast:
		return "at-least"
	case wdesc.SigsSpecific:
		return "specific"
	default:
		return "any"
	}
}

func lockKindName(kind wdesc.TimelockKind) string {
	switch kind {
	case wdesc.LockAfterTime:
		return "after-date"
	case wdesc.LockAfterBlock:
		return "after-block"
	case wdesc.LockOlderTime:
		return "older-date"
	case wdesc.LockOlderBlock:
		return "older-blocks"
	default:
		return ""
	}
}

func yamlTimeOpt(t fn.Option[time.Time]) string {
	if t.IsNone() {
		return ""
	}

	return t.UnwrapOr(time.Time{}).Format(time.RFC3339)
}

func parseTimeOpt(s string) (fn.Option[time.Time], error) {
	if s == "" {
		return fn.None[time.Time](), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fn.None[time.Time](), err
	}

	return fn.Some(t.UTC()), nil
}

func yamlValues(values map[uint32]wallet.AddressValue) []yamlValue {
	out := make([]yamlValue, 0, len(values))
	for n, value := range values {
		out = append(out, yamlValue{
			N:      n,
			Change: value.Address.Change,
			Index:  value.Address.Index,
			Value:  int64(value.Value),
		})
	}

	// Map iteration order is random; keep the export deterministic.
	sort.Slice(out, func(i, j int) bool {
		return out[i].N < out[j].N
	})

	return out
}

func parseValues(values []yamlValue, desc *wdesc.Descriptor) (
	map[uint32]wallet.AddressValue, error) {

	if len(values) == 0 {
		return nil, nil
	}

	out := make(map[uint32]wallet.AddressValue, len(values))
	for _, value := range values {
		addr, err := wallet.DeriveAddressSource(
			desc, value.Change, value.Index,
		)
		if err != nil {
			return nil, err
		}

		out[value.N] = wallet.AddressValue{
			Address: addr,
			Value:   btcutil.Amount(value.Value),
		}
	}

	return out, nil
}

// yamlFromDocument renders a document into its YAML form.
func yamlFromDocument(doc *wallet.Document) (*yamlDocument, error) {
	if doc.Descriptor == nil {
		return nil, ErrNoDescriptor
	}

	y := &yamlDocument{
		Network:  doc.Descriptor.Network().String(),
		Standard: strings.ToLower(doc.Descriptor.Standard().String()),
		State: yamlState{
			Balance: int64(doc.State.Balance),
			Volume:  int64(doc.State.Volume),
		},
	}

	for _, signer := range doc.Descriptor.Signers() {
		ys := yamlSigner{
			Name:      signer.Name,
			Xpub:      signer.Xpub.String(),
			Device:    signer.Device,
			Ownership: signer.Ownership.String(),
		}
		if !signer.Fingerprint.IsZero() {
			ys.Fingerprint = signer.Fingerprint.String()
		}
		if len(signer.Origin) > 0 {
			ys.Origin = signer.Origin.String()
		}

		y.Signers = append(y.Signers, ys)
	}

	for _, cond := range doc.Descriptor.Conditions() {
		yc := yamlCondition{
			Sigs: sigsKindName(cond.Sigs.Kind),
			Lock: lockKindName(cond.Timelock.Kind),
		}
		if cond.Sigs.Kind == wdesc.SigsAtLeast {
			yc.Count = cond.Sigs.Count
		}
		if cond.Sigs.Kind == wdesc.SigsSpecific {
			yc.Signer = cond.Sigs.Signer.String()
		}

		switch cond.Timelock.Kind {
		case wdesc.LockAfterTime, wdesc.LockOlderTime:
			yc.Time = cond.Timelock.Time.Format(time.RFC3339)

		case wdesc.LockAfterBlock, wdesc.LockOlderBlock:
			yc.Blocks = cond.Timelock.Blocks
		}

		y.Conditions = append(y.Conditions, yc)
	}

	for _, entry := range doc.History {
		var txBuf bytes.Buffer
		if err := entry.Tx.Serialize(&txBuf); err != nil {
			return nil, err
		}

		ye := yamlHistoryEntry{
			Txid:    entry.Onchain.Txid.String(),
			Height:  entry.Onchain.Status.I32(),
			Time:    yamlTimeOpt(entry.Onchain.Time),
			Tx:      hex.EncodeToString(txBuf.Bytes()),
			Credits: yamlValues(entry.Credit),
			Debits:  yamlValues(entry.Debit),
			Comment: entry.Comment,
		}
		if entry.Fee.IsSome() {
			fee := int64(entry.Fee.UnwrapOr(0))
			ye.Fee = &fee
		}

		y.History = append(y.History, ye)
	}

	for _, utxo := range doc.Utxos {
		y.Utxos = append(y.Utxos, yamlUtxo{
			Txid:   utxo.Onchain.Txid.String(),
			Vout:   utxo.Vout,
			Height: utxo.Onchain.Status.I32(),
			Time:   yamlTimeOpt(utxo.Onchain.Time),
			Value:  int64(utxo.Value),
			Change: utxo.Address.Change,
			Index:  utxo.Address.Index,
		})
	}

	for _, packet := range doc.Wip {
		encoded, err := packet.B64Encode()
		if err != nil {
			return nil, err
		}

		y.Wip = append(y.Wip, encoded)
	}

	return y, nil
}

// parseCondition rebuilds a spending condition from its YAML form.
func parseCondition(yc yamlCondition) (wdesc.SpendingCondition, error) {
	var cond wdesc.SpendingCondition

	switch yc.Sigs {
	case "all":
		cond.Sigs = wdesc.ReqAll()
	case "any":
		cond.Sigs = wdesc.ReqAny()
	case "at-least":
		cond.Sigs = wdesc.ReqAtLeast(yc.Count)
	case "specific":
		fp, err := xkey.ParseFingerprint(yc.Signer)
		if err != nil {
			return cond, err
		}
		cond.Sigs = wdesc.ReqSpecific(fp)
	default:
		return cond, fmt.Errorf("unknown signature requirement %q",
			yc.Sigs)
	}

	switch yc.Lock {
	case "":
		cond.Timelock = wdesc.LockNone()
	case "after-date", "older-date":
		t, err := time.Parse(time.RFC3339, yc.Time)
		if err != nil {
			return cond, err
		}
		if yc.Lock == "after-date" {
			cond.Timelock = wdesc.LockAfterDate(t)
		} else {
			cond.Timelock = wdesc.LockOlderDate(t)
		}
	case "after-block":
		cond.Timelock = wdesc.LockAfterHeight(yc.Blocks)
	case "older-blocks":
		cond.Timelock = wdesc.LockOlderHeight(yc.Blocks)
	default:
		return cond, fmt.Errorf("unknown timelock %q", yc.Lock)
	}

	return cond, nil
}

// toDocument rebuilds a wallet document from its YAML form.
func (y *yamlDocument) toDocument() (*wallet.Document, error) {
	network, err := wdesc.ParseNetwork(y.Network)
	if err != nil {
		return nil, err
	}
	standard, err := xkey.ParseStandard(y.Standard)
	if err != nil {
		return nil, err
	}

	desc := wdesc.NewDescriptor(standard, network)

	for i, ys := range y.Signers {
		xd, err := xkey.ParseXpub(ys.Xpub)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}

		signer, err := wdesc.NewSignerFromXpub(xd, standard, network)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		signer.Name = ys.Name
		signer.Device = ys.Device

		if ys.Fingerprint != "" {
			signer.Fingerprint, err = xkey.ParseFingerprint(
				ys.Fingerprint,
			)
			if err != nil {
				return nil, fmt.Errorf("signer %d: %w", i,
					err)
			}
		}
		if ys.Origin != "" {
			origin, err := xkey.ParseDerivationPath(ys.Origin)
			if err != nil {
				return nil, fmt.Errorf("signer %d: %w", i,
					err)
			}
			signer.Origin = origin
			signer.Account = xkey.ClassifyOrigin(
				origin,
			).AccountIndex()
		}
		if ys.Ownership != "" {
			signer.Ownership, err = wdesc.ParseOwnership(
				ys.Ownership,
			)
			if err != nil {
				return nil, fmt.Errorf("signer %d: %w", i,
					err)
			}
		}

		desc.AddSigner(signer)
	}

	for i, yc := range y.Conditions {
		cond, err := parseCondition(yc)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		if err := desc.AddCondition(cond); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
	}

	doc := &wallet.Document{
		Descriptor: desc,
		State: wallet.State{
			Balance: btcutil.Amount(y.State.Balance),
			Volume:  btcutil.Amount(y.State.Volume),
		},
	}

	for i, ye := range y.History {
		var entry wallet.HistoryEntry

		entry.Onchain.Txid, err = txidFromString(ye.Txid)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}
		entry.Onchain.Status = wallet.StatusAtHeight(ye.Height)
		entry.Onchain.Time, err = parseTimeOpt(ye.Time)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}

		rawTx, err := hex.DecodeString(ye.Tx)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}
		err = entry.Tx.Deserialize(bytes.NewReader(rawTx))
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}

		entry.Credit, err = parseValues(ye.Credits, desc)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}
		entry.Debit, err = parseValues(ye.Debits, desc)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}
		if ye.Fee != nil {
			entry.Fee = fn.Some(btcutil.Amount(*ye.Fee))
		}
		entry.Comment = ye.Comment

		doc.History = append(doc.History, entry)
	}

	for i, yu := range y.Utxos {
		var utxo wallet.UtxoTxid

		utxo.Onchain.Txid, err = txidFromString(yu.Txid)
		if err != nil {
			return nil, fmt.Errorf("utxo %d: %w", i, err)
		}
		utxo.Onchain.Status = wallet.StatusAtHeight(yu.Height)
		utxo.Onchain.Time, err = parseTimeOpt(yu.Time)
		if err != nil {
			return nil, fmt.Errorf("utxo %d: %w", i, err)
		}
		utxo.Value = btcutil.Amount(yu.Value)
		utxo.Vout = yu.Vout

		utxo.Address, err = wallet.DeriveAddressSource(
			desc, yu.Change, yu.Index,
		)
		if err != nil {
			return nil, fmt.Errorf("utxo %d: %w", i, err)
		}

		doc.Utxos = append(doc.Utxos, utxo)
	}

	for i, raw := range y.Wip {
		packet, err := psbt.NewFromRawBytes(
			strings.NewReader(raw), true,
		)
		if err != nil {
			return nil, fmt.Errorf("wip %d: %w", i, err)
		}

		doc.Wip = append(doc.Wip, packet)
	}

	return doc, nil
}

// EncodeYAML writes the YAML form of a wallet document.
func EncodeYAML(w io.Writer, doc *wallet.Document) error {
	y, err := yamlFromDocument(doc)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(y)
}

// DecodeYAML reads the YAML form of a wallet document.
func DecodeYAML(r io.Reader) (*wallet.Document, error) {
	var y yamlDocument

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&y); err != nil {
		return nil, err
	}

	return y.toDocument()
}
