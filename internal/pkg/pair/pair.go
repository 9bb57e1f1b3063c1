// Package pair canonicalizes unordered member pairs. Every table keyed by
// an unordered pair stores the byte-wise smaller UUID first, which matches
// PostgreSQL's uuid ordering.
package pair

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"

	"github.com/google/uuid"
)

// Key is a canonical unordered pair: A sorts before B.
type Key struct {
	A uuid.UUID
	B uuid.UUID
}

// Of returns the canonical key for the unordered pair {x, y}
func Of(x, y uuid.UUID) Key {
	if Less(y, x) {
		return Key{A: y, B: x}
	}
	return Key{A: x, B: y}
}

// Less reports whether x sorts before y
func Less(x, y uuid.UUID) bool {
	return bytes.Compare(x[:], y[:]) < 0
}

// String renders the key as "<a>:<b>"
func (k Key) String() string {
	return k.A.String() + ":" + k.B.String()
}

// Has reports whether id is one of the pair
func (k Key) Has(id uuid.UUID) bool {
	return k.A == id || k.B == id
}

// Other returns the member of the pair that is not id
func (k Key) Other(id uuid.UUID) uuid.UUID {
	if k.A == id {
		return k.B
	}
	return k.A
}

// LockID derives a stable 64-bit id for pg_advisory_xact_lock
func (k Key) LockID() int64 {
	h := fnv.New64a()
	h.Write(k.A[:])
	h.Write(k.B[:])
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}
