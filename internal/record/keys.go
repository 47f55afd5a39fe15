// Package record implements the key scheme (spec §4.B) and the metadata /
// content codecs (spec §4.C) for the webcache intermediary.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// MetadataKey derives the metadata record's key from url alone, so eviction
// of content never collides with metadata under the same name.
func MetadataKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "M:" + hex.EncodeToString(sum[:])
}

// ReservationKey derives the sibling counter key used for the atomic
// increment in the election algorithm (spec §9: "INCR on a sibling key").
// It is distinct from the metadata key so the store's native numeric incr
// can operate on it directly, without requiring a CAS over the whole
// metadata record just to bump a contention counter.
func ReservationKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "R:" + hex.EncodeToString(sum[:])
}

// ContentKey derives the content record's key from (url, session,
// reservation). The "|" separator prevents prefix collisions between, e.g.,
// url "a" session "1" reservation "23" and url "a1" session "2" reservation "3".
func ContentKey(url string, session int64, reservation uint64) string {
	payload := url + "|" + strconv.FormatInt(session, 10) + "|" + strconv.FormatUint(reservation, 10)
	sum := sha256.Sum256([]byte(payload))
	return "C:" + hex.EncodeToString(sum[:])
}
