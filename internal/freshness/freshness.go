// Package freshness implements the revalidation & freshness engine (spec
// §4.F): given a published metadata record and the inbound request, decide
// HIT, conditional-HIT (304), or STALE.
package freshness

import (
	"errors"
	"net/http"
	"time"

	"github.com/yourname/webcache/internal/cachestore"
	"github.com/yourname/webcache/internal/record"
)

// Verdict is the freshness engine's decision for a published record.
type Verdict int

const (
	// VerdictStale means the caller must route through the reservation
	// protocol (the record is expired, or its bound content is missing).
	VerdictStale Verdict = iota

	// VerdictConditional means the request's If-Modified-Since covers the
	// record: synthesize a 304 without reading content.
	VerdictConditional

	// VerdictHit means a full response must be assembled from content.
	VerdictHit
)

// Engine decides freshness given a freshness window and the shared store
// (to check the bound content record still exists).
type Engine struct {
	store           *cachestore.Store
	freshnessWindow time.Duration
}

func New(store *cachestore.Store, freshnessWindow time.Duration) *Engine {
	return &Engine{store: store, freshnessWindow: freshnessWindow}
}

// Evaluate implements §4.F's decision tree. meta must be Valid (callers only
// reach here for StatePublished reads).
func (e *Engine) Evaluate(meta record.Metadata, req *http.Request) (Verdict, record.Content, error) {
	if e.expired(meta) {
		return VerdictStale, record.Content{}, nil
	}

	// Conditional check comes before any content read: a match must
	// synthesize a 304 without touching the content record at all (spec
	// §4.F), even if that record has since been evicted out from under
	// still-valid metadata (spec §3).
	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		if t, perr := http.ParseTime(ims); perr == nil {
			// HTTP-date comparison at second resolution, inclusive.
			if !t.Before(meta.LastModified) {
				return VerdictConditional, record.Content{}, nil
			}
		}
	}

	raw, _, err := e.store.Get(meta.ContentKey)
	if errors.Is(err, cachestore.ErrAbsent) {
		return VerdictStale, record.Content{}, nil
	}
	if err != nil {
		return VerdictStale, record.Content{}, err
	}
	content, derr := record.DecodeContent(raw)
	if derr != nil || !content.EchoMatches(meta.URL, meta.Session, meta.LastNoted) {
		// spec I5: mismatched echo is treated as absent content.
		return VerdictStale, record.Content{}, nil
	}

	return VerdictHit, content, nil
}

func (e *Engine) expired(meta record.Metadata) bool {
	if meta.Fetched.IsZero() {
		return true
	}
	return time.Since(meta.Fetched) > e.freshnessWindow
}
