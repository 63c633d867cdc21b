// Package oid implements the 20-byte git object id used throughout
// git-toprepo to identify commits, trees and blobs.
package oid

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
)

const (
	// Size is the length in bytes of a SHA-1 git object id.
	Size = 20
	// HexSize is the length of the hexadecimal string representation.
	HexSize = Size * 2
)

// OID is a 20-byte git object id (commit, tree or blob).
type OID [Size]byte

// Zero is the all-zero OID, used by fast-import to mean "no parent"/"delete".
var Zero OID

// New decodes a hex string into an OID. Invalid input yields the zero OID;
// use NewChecked when the caller must distinguish a parse failure.
func New(hex string) OID {
	o, _ := NewChecked(hex)
	return o
}

// NewChecked decodes a hex string into an OID, validating length and content.
func NewChecked(s string) (OID, error) {
	if len(s) != HexSize {
		return Zero, fmt.Errorf("oid: %q is not %d hex characters", s, HexSize)
	}
	var o OID
	if _, err := hex.Decode(o[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("oid: %q is not valid hex: %w", s, err)
	}
	return o, nil
}

// FromBytes copies 20 raw bytes into an OID.
func FromBytes(b []byte) (OID, error) {
	var o OID
	if len(b) != Size {
		return o, fmt.Errorf("oid: expected %d raw bytes, got %d", Size, len(b))
	}
	copy(o[:], b)
	return o, nil
}

// IsZero reports whether this is the all-zero OID.
func (o OID) IsZero() bool {
	return o == Zero
}

// String renders the OID as lowercase hex.
func (o OID) String() string {
	return hex.EncodeToString(o[:])
}

// Short renders the first n hex characters, clamped to HexSize.
func (o OID) Short(n int) string {
	if n <= 0 {
		return ""
	}
	if n > HexSize {
		n = HexSize
	}
	return hex.EncodeToString(o[:])[:n]
}

// MarshalText implements encoding.TextMarshaler, used both by TOML
// (config checksums referencing commit ids) and by the gob cache framing.
func (o OID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OID) UnmarshalText(text []byte) error {
	decoded, err := NewChecked(string(text))
	if err != nil {
		return err
	}
	*o = decoded
	return nil
}

// Compare orders two OIDs byte-wise; used to keep bump-cache chains and
// serialized arrays deterministic.
func Compare(a, b OID) int {
	return bytes.Compare(a[:], b[:])
}

// Slice attaches sort.Interface to []OID in increasing order.
type Slice []OID

func (s Slice) Len() int           { return len(s) }
func (s Slice) Less(i, j int) bool { return Compare(s[i], s[j]) < 0 }
func (s Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Sort sorts a slice of OIDs in increasing order.
func Sort(s []OID) {
	sort.Sort(Slice(s))
}
