// Package id defines the TypeID identifiers used by the bridge.
//
// Request records, coordinator instances and reconciliation entries each
// carry a prefixed, K-sortable identifier in the form "prefix_suffix".
//
// Request records may also be created by other services, so a request id
// read from a store is opaque: values that are not TypeIDs are kept
// verbatim (see [FromString]).
package id

import (
	"database/sql/driver"
	"fmt"
	"unicode"
	"unicode/utf8"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefixes for bridge entities.
const (
	PrefixRequest   Prefix = "req"
	PrefixWorker    Prefix = "wkr"
	PrefixReconcile Prefix = "rcn"
)

// ID wraps a TypeID, or an opaque string assigned by a store. The zero
// value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
	raw   string
}

// MaxOpaqueLen bounds opaque ids.
const MaxOpaqueLen = 255

// Nil is the zero-value ID.
var Nil ID

// RequestID identifies a job request record (prefix: "req").
type RequestID = ID

// WorkerID identifies a coordinator instance holding a claim (prefix: "wkr").
type WorkerID = ID

// ReconcileID identifies a reconciliation entry (prefix: "rcn").
type ReconcileID = ID

// New generates an ID with the given prefix. It panics on an invalid
// prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// NewRequestID generates a request ID.
func NewRequestID() ID { return New(PrefixRequest) }

// NewWorkerID generates a worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// NewReconcileID generates a reconciliation entry ID.
func NewReconcileID() ID { return New(PrefixReconcile) }

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that it carries the expected prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// FromString returns the ID for s as read from a store or the wire: ""
// is Nil, a TypeID is parsed, anything else is kept as an opaque id.
func FromString(s string) ID {
	if s == "" {
		return Nil
	}
	if tid, err := typeid.Parse(s); err == nil {
		return ID{inner: tid, valid: true}
	}
	return ID{raw: s, valid: true}
}

// ParseRequestID parses a request id. Any printable string without spaces
// up to MaxOpaqueLen bytes is accepted, since stores other than the
// bridge may assign ids.
func ParseRequestID(s string) (ID, error) {
	switch {
	case s == "":
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	case len(s) > MaxOpaqueLen:
		return Nil, fmt.Errorf("id: request id longer than %d bytes", MaxOpaqueLen)
	case !utf8.ValidString(s):
		return Nil, fmt.Errorf("id: request id %q is not valid UTF-8", s)
	}
	for _, c := range s {
		if unicode.IsSpace(c) || !unicode.IsPrint(c) {
			return Nil, fmt.Errorf("id: request id %q contains %U", s, c)
		}
	}
	return FromString(s), nil
}

// ParseWorkerID parses a "wkr" ID.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseReconcileID parses a "rcn" ID.
func ParseReconcileID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReconcile) }

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// String returns "prefix_suffix", the opaque value, or "" for Nil.
func (i ID) String() string {
	switch {
	case !i.valid:
		return ""
	case i.raw != "":
		return i.raw
	}
	return i.inner.String()
}

// Prefix returns the prefix component, or "" for Nil and opaque ids.
func (i ID) Prefix() Prefix {
	if !i.valid || i.raw != "" {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// Opaque reports whether i was assigned outside the bridge.
func (i ID) Opaque() bool { return i.raw != "" }

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// Nil; input that is not a TypeID yields an opaque id.
func (i *ID) UnmarshalText(data []byte) error {
	*i = FromString(string(data))
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL for optional columns
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
