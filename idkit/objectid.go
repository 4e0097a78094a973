// Package idkit implements xronox's item identifier: a 12-byte value with
// an embedded timestamp, generated locally rather than delegated to the
// document store. A 4-byte unix-second timestamp followed by 8 random
// bytes keeps ids roughly time-sortable without requiring coordination
// between writers.
package idkit

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// Size is the fixed length of an ID in bytes.
const Size = 12

// ID is xronox's opaque object identifier. The zero value is not a valid
// ID; use New or Parse.
type ID [Size]byte

// New generates a fresh ID: 4 bytes of unix-second timestamp followed by
// 8 random bytes.
func New() ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(id[4:]); err != nil {
		// crypto/rand.Read failing means the platform has no usable
		// entropy source; there is no sane degraded behavior, so panic
		// like the stdlib's own uuid-generation helpers do.
		panic("idkit: failed to read random bytes: " + err.Error())
	}
	return id
}

// String renders the ID as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Timestamp extracts the embedded creation time.
func (id ID) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

// IsZero reports whether id is the unset zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ErrInvalidLength is returned by Parse when the input is not exactly
// 2*Size hex characters.
var ErrInvalidLength = errors.New("idkit: id must be 24 hex characters")

// Parse decodes a hex-encoded ID previously produced by String.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, ErrInvalidLength
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// MarshalText implements encoding.TextMarshaler so an ID can be used
// directly as a document-store field and round-trip through JSON.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
