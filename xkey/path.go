package xkey

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// HardenedFlag is the bit that marks a child index as hardened.
	HardenedFlag uint32 = 0x80000000
)

var (
	// ErrInvalidPath is returned when a derivation path string cannot be
	// parsed.
	ErrInvalidPath = errors.New("invalid derivation path")

	// ErrInvalidFingerprint is returned when a fingerprint string is not
	// exactly four hex-encoded bytes.
	ErrInvalidFingerprint = errors.New("invalid key fingerprint")
)

// HardenedIndex is a BIP-32 child index that is known to be hardened. The
// value is stored without the hardened flag, so it is always < 2^31.
type HardenedIndex uint32

// NewHardenedIndex converts a raw child number into a HardenedIndex. The
// second return value reports whether the child number actually had the
// hardened flag set.
func NewHardenedIndex(child uint32) (HardenedIndex, bool) {
	if child&HardenedFlag == 0 {
		return 0, false
	}

	return HardenedIndex(child &^ HardenedFlag), true
}

// Child returns the raw child number with the hardened flag set.
func (h HardenedIndex) Child() uint32 {
	return uint32(h) | HardenedFlag
}

// String returns the apostrophe notation used in derivation paths, e.g. "0'".
func (h HardenedIndex) String() string {
	return strconv.FormatUint(uint64(h), 10) + "'"
}

// Fingerprint is the first four bytes of the identifier (HASH160) of a
// bitcoin extended key, used to reference master and parent keys.
type Fingerprint [4]byte

// FingerprintFromBytes copies the first four bytes of b into a Fingerprint.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	var fp Fingerprint
	if len(b) != 4 {
		return fp, fmt.Errorf("%w: got %d bytes", ErrInvalidFingerprint,
			len(b))
	}
	copy(fp[:], b)

	return fp, nil
}

// FingerprintFromUint32 converts the little-endian uint32 representation used
// by the PSBT derivation fields back into a Fingerprint.
func FingerprintFromUint32(v uint32) Fingerprint {
	var fp Fingerprint
	binary.LittleEndian.PutUint32(fp[:], v)

	return fp
}

// ParseFingerprint parses a fingerprint from its hex string form.
func ParseFingerprint(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %v", ErrInvalidFingerprint,
			err)
	}

	return FingerprintFromBytes(b)
}

// Uint32 returns the little-endian uint32 form expected by the PSBT
// Bip32Derivation master key fingerprint field.
func (fp Fingerprint) Uint32() uint32 {
	return binary.LittleEndian.Uint32(fp[:])
}

// IsZero reports whether the fingerprint is all zeroes.
func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}

// String returns the hex form of the fingerprint.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// DerivationPath is a BIP-32 derivation path expressed as raw child numbers
// (hardened children carry the hardened flag).
type DerivationPath []uint32

// ParseDerivationPath parses paths like "m/48'/1'/0'/2'" or "86h/0h/0h". Both
// the apostrophe and the "h" suffix mark hardened children, and the leading
// "m/" is optional.
func ParseDerivationPath(s string) (DerivationPath, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m")
	s = strings.Trim(s, "/")
	if s == "" {
		return DerivationPath{}, nil
	}

	parts := strings.Split(s, "/")
	path := make(DerivationPath, 0, len(parts))
	for _, part := range parts {
		hardened := false
		switch {
		case strings.HasSuffix(part, "'"):
			hardened = true
			part = strings.TrimSuffix(part, "'")

		case strings.HasSuffix(part, "h"), strings.HasSuffix(part, "H"):
			hardened = true
			part = part[:len(part)-1]
		}

		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || uint32(idx)&HardenedFlag != 0 {
			return nil, fmt.Errorf("%w: segment %q", ErrInvalidPath,
				part)
		}

		child := uint32(idx)
		if hardened {
			child |= HardenedFlag
		}
		path = append(path, child)
	}

	return path, nil
}

// String returns the canonical "m/a'/b/c" form of the path.
func (p DerivationPath) String() string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, child := range p {
		sb.WriteString("/")
		if child&HardenedFlag != 0 {
			sb.WriteString(strconv.FormatUint(
				uint64(child&^HardenedFlag), 10,
			))
			sb.WriteString("'")
		} else {
			sb.WriteString(strconv.FormatUint(uint64(child), 10))
		}
	}

	return sb.String()
}

// Extend returns a new path with the given children appended.
func (p DerivationPath) Extend(children ...uint32) DerivationPath {
	ext := make(DerivationPath, 0, len(p)+len(children))
	ext = append(ext, p...)
	ext = append(ext, children...)

	return ext
}

// Equal reports whether two paths contain the same children.
func (p DerivationPath) Equal(other DerivationPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i, child := range p {
		if other[i] != child {
			return false
		}
	}

	return true
}

// UnhardenedSuffix returns the trailing run of unhardened children, which is
// the part of the path an account-level key can derive on its own.
func (p DerivationPath) UnhardenedSuffix() DerivationPath {
	for i, child := range p {
		if child&HardenedFlag == 0 {
			suffix := make(DerivationPath, len(p)-i)
			copy(suffix, p[i:])

			return suffix
		}
	}

	return DerivationPath{}
}
