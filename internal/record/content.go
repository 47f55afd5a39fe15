package record

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/yourname/webcache/internal/cacheerr"
)

// Content is the record family C(url, session, reservation) of the data
// model (spec §3). url/session/reservation are echoed back from the
// metadata that points here so a reader can defensively verify (spec I5)
// that the content it retrieved is really the content the metadata claims.
type Content struct {
	URL         string
	Session     int64
	Reservation uint64

	Status  int
	Headers http.Header
	Body    []byte
}

type wireContent struct {
	Version     int                 `json:"v"`
	URL         string              `json:"url"`
	Session     int64               `json:"session"`
	Reservation uint64              `json:"reservation"`
	Status      int                 `json:"status"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body"`
}

func EncodeContent(c Content) ([]byte, error) {
	w := wireContent{
		Version:     metadataVersion,
		URL:         c.URL,
		Session:     c.Session,
		Reservation: c.Reservation,
		Status:      c.Status,
		Headers:     map[string][]string(c.Headers),
		Body:        c.Body,
	}
	return json.Marshal(w)
}

func DecodeContent(b []byte) (Content, error) {
	var w wireContent
	if err := json.Unmarshal(b, &w); err != nil {
		return Content{}, fmt.Errorf("record: decode content: %w: %v", cacheerr.ErrCorruptMetadata, err)
	}
	if w.Version != metadataVersion {
		return Content{}, fmt.Errorf("record: content version %d: %w", w.Version, cacheerr.ErrCorruptMetadata)
	}
	return Content{
		URL:         w.URL,
		Session:     w.Session,
		Reservation: w.Reservation,
		Status:      w.Status,
		Headers:     http.Header(w.Headers),
		Body:        w.Body,
	}, nil
}

// EchoMatches implements spec I5: a content record whose echoed
// (url, session, reservation) does not match the metadata that led to it
// is treated as absent.
func (c Content) EchoMatches(url string, session int64, reservation uint64) bool {
	return c.URL == url && c.Session == session && c.Reservation == reservation
}
