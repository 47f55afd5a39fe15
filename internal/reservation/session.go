package reservation

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// processSalt disambiguates sessions minted by different processes that
// happen to read the same wall clock at nanosecond resolution — unlikely
// but not impossible on a busy host with several intermediary workers.
// google/uuid already anchors the rest of the pack's key derivation
// (see O-tero-Distributed-Caching-System), so it is reused here rather than
// hand-rolling a random source.
var processSalt = func() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]))
}()

// newSession mints a session value for a fresh metadata lineage: the
// sub-second creation timestamp the spec requires, folded with processSalt
// so two processes racing to create the same lineage in the same
// nanosecond still end up with distinct session values.
func newSession(now time.Time) int64 {
	return now.UTC().UnixNano() ^ processSalt
}
