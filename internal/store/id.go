package store

import "github.com/oklog/ulid/v2"

// NewID returns a ULID string. IDs sort lexicographically by creation
// time, which keeps message and history listings in insertion order
// without a separate sequence column.
func NewID() string {
	return ulid.Make().String()
}
