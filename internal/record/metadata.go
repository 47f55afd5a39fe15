package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourname/webcache/internal/cacheerr"
)

// metadataVersion is the only version this codec currently understands.
// Unknown versions fail decoding with cacheerr.ErrCorruptMetadata, per the
// codec's self-describing-record contract.
const metadataVersion = 1

// Metadata is the record family M(url) of the data model (spec §3).
type Metadata struct {
	URL string

	// Session is the creation token of this metadata lineage: a
	// sub-second-resolution UnixNano timestamp salted per-process (see
	// reservation.newSession) so two processes cannot mint the same
	// lineage in the same nanosecond. Stable for the life of the record;
	// doubles as collision-resistant input to ContentKey.
	Session int64

	// Reservation is the last reservation value this record was written
	// with. Contention itself is arbitrated through the sibling
	// ReservationKey counter, not this field (see keys.go).
	Reservation uint64

	// LastNoted is the reservation value observed by the most recent
	// worker that successfully installed new content.
	LastNoted uint64

	Valid bool

	// Fetched is the wall-clock time the bound content was retrieved.
	// Zero value until Valid.
	Fetched time.Time

	// LastModified is the UTC time advertised to clients, second
	// resolution. Updated only when the body digest changes.
	LastModified time.Time

	ContentKey string
	Digest     string // hex-encoded SHA-256 of the bound content's body
}

type wireMetadata struct {
	Version      int    `json:"v"`
	URL          string `json:"url"`
	Session      int64  `json:"session"`
	Reservation  uint64 `json:"reservation"`
	LastNoted    uint64 `json:"last_noted"`
	Valid        bool   `json:"valid"`
	Fetched      int64  `json:"fetched,omitempty"`       // UnixNano, 0 if absent
	LastModified int64  `json:"last_modified,omitempty"` // Unix seconds, 0 if absent
	ContentKey   string `json:"content_key,omitempty"`
	Digest       string `json:"digest,omitempty"`
}

// EncodeMetadata is total: every valid Metadata value encodes.
func EncodeMetadata(m Metadata) ([]byte, error) {
	w := wireMetadata{
		Version:     metadataVersion,
		URL:         m.URL,
		Session:     m.Session,
		Reservation: m.Reservation,
		LastNoted:   m.LastNoted,
		Valid:       m.Valid,
		ContentKey:  m.ContentKey,
		Digest:      m.Digest,
	}
	if !m.Fetched.IsZero() {
		w.Fetched = m.Fetched.UnixNano()
	}
	if !m.LastModified.IsZero() {
		w.LastModified = m.LastModified.Unix()
	}
	return json.Marshal(w)
}

// DecodeMetadata is partial: malformed bytes, an unknown version, or a
// missing required field produce cacheerr.ErrCorruptMetadata, which callers
// treat as an absent record.
func DecodeMetadata(b []byte) (Metadata, error) {
	var w wireMetadata
	if err := json.Unmarshal(b, &w); err != nil {
		return Metadata{}, fmt.Errorf("record: decode metadata: %w: %v", cacheerr.ErrCorruptMetadata, err)
	}
	if w.Version != metadataVersion {
		return Metadata{}, fmt.Errorf("record: metadata version %d: %w", w.Version, cacheerr.ErrCorruptMetadata)
	}
	if w.URL == "" || w.Session == 0 {
		return Metadata{}, fmt.Errorf("record: metadata missing url/session: %w", cacheerr.ErrCorruptMetadata)
	}
	if w.Valid && w.LastNoted == 0 {
		return Metadata{}, fmt.Errorf("record: valid metadata with last_noted=0: %w", cacheerr.ErrCorruptMetadata)
	}
	m := Metadata{
		URL:         w.URL,
		Session:     w.Session,
		Reservation: w.Reservation,
		LastNoted:   w.LastNoted,
		Valid:       w.Valid,
		ContentKey:  w.ContentKey,
		Digest:      w.Digest,
	}
	if w.Fetched != 0 {
		m.Fetched = time.Unix(0, w.Fetched).UTC()
	}
	if w.LastModified != 0 {
		m.LastModified = time.Unix(w.LastModified, 0).UTC()
	}
	return m, nil
}
