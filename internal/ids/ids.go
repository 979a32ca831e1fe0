package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID for request ids and other keys that only need to be
// unique and roughly time ordered.
func New() string {
	return ulid.Make().String()
}

// At returns a ULID whose timestamp component is t, so event ids sort in
// the same order as the events they identify.
func At(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Time extracts the timestamp of an id produced by New or At.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
