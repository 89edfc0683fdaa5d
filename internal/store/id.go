package store

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a lexically sortable, monotonic identifier.
func NewID() string {
	return ulid.Make().String()
}

// IDTime extracts the creation time encoded in an id produced by NewID.
func IDTime(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
