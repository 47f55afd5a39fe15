// Package reservation implements the reservation protocol (spec §4.E): the
// core consistency engine that elects at most one fetcher per (url,
// generation), coordinates waiters with bounded backoff, and publishes new
// content without assistance from locks — every synchronization point is an
// atomic store primitive from internal/cachestore.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/yourname/webcache/internal/cacheerr"
	"github.com/yourname/webcache/internal/cachestore"
	"github.com/yourname/webcache/internal/origin"
	"github.com/yourname/webcache/internal/record"
)

// State classifies a metadata record as observed by a worker, per the
// protocol's four states (spec §4.E). Freshness of a Published record is
// decided by internal/freshness, not here — the reservation engine only
// distinguishes "nothing to read" / "someone is fetching" / "something is
// published".
type State int

const (
	StateAbsent State = iota
	StatePlaceholder
	StatePublished
)

// Config holds the election/backoff tunables of spec §6.
type Config struct {
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	PlaceholderTTL time.Duration
	PublishRetries int // bounded CAS retry loop, spec default 3
}

// Engine is the reservation protocol bound to one shared store.
type Engine struct {
	store *cachestore.Store
	cfg   Config
	now   func() time.Time
}

func New(store *cachestore.Store, cfg Config) *Engine {
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = 3
	}
	return &Engine{store: store, cfg: cfg, now: time.Now}
}

// Read is a single LOOKUP's view of the metadata record: its classification,
// decoded value (zero if Absent), and the CAS token to reuse if this worker
// goes on to publish.
type Read struct {
	State State
	Meta  record.Metadata
	Tok   cachestore.Token
}

// ReadMetadata performs one LOOKUP read. A corrupt record decodes as Absent,
// per spec §7 ("CorruptMetadata ... treat the record as absent").
func (e *Engine) ReadMetadata(url string) (Read, error) {
	raw, tok, err := e.store.Get(record.MetadataKey(url))
	if errors.Is(err, cachestore.ErrAbsent) {
		return Read{State: StateAbsent}, nil
	}
	if err != nil {
		return Read{}, err // StoreUnavailable, propagated for fail-open handling
	}
	meta, derr := record.DecodeMetadata(raw)
	if derr != nil {
		return Read{State: StateAbsent}, nil
	}
	if !meta.Valid {
		return Read{State: StatePlaceholder, Meta: meta, Tok: tok}, nil
	}
	return Read{State: StatePublished, Meta: meta, Tok: tok}, nil
}

// Outcome is the result of one election attempt.
type Outcome struct {
	// Elected is true if this worker must now fetch and publish.
	Elected bool

	// Waiter is true if this worker lost the election and should sleep
	// Backoff, then re-evaluate.
	Waiter  bool
	Backoff time.Duration

	// Restart is true if the metadata/counter vanished mid-election; the
	// caller should go back to ReadMetadata. If the metadata itself is gone
	// that read is Absent; if only the counter was gone, it has been
	// recreated at last_noted before Restart is returned.
	Restart bool

	// The following are only meaningful when Elected is true.
	Session     int64
	Reservation uint64
	PriorMeta   record.Metadata
	Tok         cachestore.Token
}

// Elect runs one step of the election algorithm against a metadata record
// already classified as StateAbsent or StatePlaceholder/stale-StatePublished
// by the caller. Callers never call Elect against a fresh StatePublished
// record — freshness engine serves those directly.
func (e *Engine) Elect(url string, r Read) (Outcome, error) {
	switch r.State {
	case StateAbsent:
		return e.electFromAbsent(url)
	default:
		return e.electFromContention(url, r.Meta, r.Tok)
	}
}

func (e *Engine) electFromAbsent(url string) (Outcome, error) {
	session := newSession(e.now())
	placeholder := record.Metadata{
		URL:         url,
		Session:     session,
		Reservation: 1,
		LastNoted:   0,
		Valid:       false,
	}
	encoded, err := record.EncodeMetadata(placeholder)
	if err != nil {
		return Outcome{}, fmt.Errorf("reservation: encode placeholder: %w", err)
	}
	metaKey := record.MetadataKey(url)
	if err := e.store.Add(metaKey, encoded, e.cfg.PlaceholderTTL); err != nil {
		if errors.Is(err, cachestore.ErrAlreadyPresent) {
			return Outcome{Restart: true}, nil
		}
		return Outcome{}, err
	}
	if err := e.store.Add(record.ReservationKey(url), []byte("1"), e.cfg.PlaceholderTTL); err != nil {
		// A losing racer may have already recreated the counter if the
		// placeholder add above somehow lost a race we didn't observe;
		// either way the counter existing with value >= 1 is harmless.
		if !errors.Is(err, cachestore.ErrAlreadyPresent) {
			return Outcome{}, err
		}
	}
	raw, tok, err := e.store.Get(metaKey)
	if err != nil {
		if errors.Is(err, cachestore.ErrAbsent) {
			return Outcome{Restart: true}, nil
		}
		return Outcome{}, err
	}
	meta, derr := record.DecodeMetadata(raw)
	if derr != nil {
		return Outcome{Restart: true}, nil
	}
	return Outcome{
		Elected:     true,
		Session:     session,
		Reservation: 1,
		PriorMeta:   meta,
		Tok:         tok,
	}, nil
}

func (e *Engine) electFromContention(url string, meta record.Metadata, tok cachestore.Token) (Outcome, error) {
	r, err := e.store.Incr(record.ReservationKey(url), 1)
	if errors.Is(err, cachestore.ErrAbsent) {
		// The sibling counter expired or was evicted. Recreate it at
		// last_noted so the next incr hands out last_noted+1; otherwise a
		// surviving metadata record would fail this incr on every retry.
		seed := []byte(strconv.FormatUint(meta.LastNoted, 10))
		if aerr := e.store.Add(record.ReservationKey(url), seed, e.cfg.PlaceholderTTL); aerr != nil && !errors.Is(aerr, cachestore.ErrAlreadyPresent) {
			return Outcome{}, aerr
		}
		return Outcome{Restart: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	n := meta.LastNoted
	switch {
	case r == n+1:
		// Re-read metadata right before publishing would refetch the
		// body for nothing; we already hold a CAS token from the read
		// that classified this record as contended, and session/
		// reservation/last_noted are unaffected by our own incr.
		return Outcome{
			Elected:     true,
			Session:     meta.Session,
			Reservation: r,
			PriorMeta:   meta,
			Tok:         tok,
		}, nil
	default:
		return Outcome{
			Waiter:  true,
			Backoff: Backoff(e.cfg.BackoffBase, e.cfg.BackoffCap, r-n),
		}, nil
	}
}

// Backoff implements spec §4.E's waiter sleep: proportional to queue depth,
// sub-linear via a hard cap.
func Backoff(base, ceiling time.Duration, queueDepth uint64) time.Duration {
	if queueDepth == 0 {
		queueDepth = 1
	}
	d := base * time.Duration(queueDepth)
	if d > ceiling {
		d = ceiling
	}
	return d
}

// Publish implements the elected fetcher's publication algorithm (spec
// §4.E steps 2-6). fr is the already-completed origin fetch (step 1).
func (e *Engine) Publish(ctx context.Context, url string, elected Outcome, fr origin.Result) (record.Metadata, error) {
	lastModified := e.now().UTC().Truncate(time.Second)
	if elected.PriorMeta.Valid && elected.PriorMeta.Digest == fr.Digest {
		lastModified = elected.PriorMeta.LastModified
	}

	contentKey := record.ContentKey(url, elected.Session, elected.Reservation)
	content := record.Content{
		URL:         url,
		Session:     elected.Session,
		Reservation: elected.Reservation,
		Status:      fr.Status,
		Headers:     fr.Headers,
		Body:        fr.Body,
	}
	encodedContent, err := record.EncodeContent(content)
	if err != nil {
		return record.Metadata{}, fmt.Errorf("reservation: encode content: %w", err)
	}
	if err := e.store.Add(contentKey, encodedContent, 0); err != nil {
		if errors.Is(err, cachestore.ErrAlreadyPresent) {
			raw, _, gerr := e.store.Get(contentKey)
			if gerr != nil {
				return record.Metadata{}, gerr
			}
			existing, derr := record.DecodeContent(raw)
			if derr != nil || !existing.EchoMatches(url, elected.Session, elected.Reservation) {
				return record.Metadata{}, fmt.Errorf("reservation: content echo mismatch at %s: %w", contentKey, cacheerr.ErrCorruptMetadata)
			}
		} else {
			return record.Metadata{}, err
		}
	}

	newMeta := record.Metadata{
		URL:          url,
		Session:      elected.Session,
		Reservation:  elected.Reservation,
		LastNoted:    elected.Reservation,
		Valid:        true,
		Fetched:      e.now().UTC(),
		LastModified: lastModified,
		ContentKey:   contentKey,
		Digest:       fr.Digest,
	}
	encodedMeta, err := record.EncodeMetadata(newMeta)
	if err != nil {
		return record.Metadata{}, fmt.Errorf("reservation: encode metadata: %w", err)
	}

	tok := elected.Tok
	metaKey := record.MetadataKey(url)
	for attempt := 0; attempt < e.cfg.PublishRetries; attempt++ {
		err := e.store.CAS(metaKey, tok, encodedMeta, 0)
		if err == nil {
			return newMeta, nil
		}
		if errors.Is(err, cachestore.ErrConflict) {
			raw, newTok, gerr := e.store.Get(metaKey)
			if errors.Is(gerr, cachestore.ErrAbsent) {
				return e.publishNewLineage(url, fr, lastModified)
			}
			if gerr != nil {
				return record.Metadata{}, gerr
			}
			tok = newTok
			continue
		}
		if errors.Is(err, cachestore.ErrAbsent) {
			return e.publishNewLineage(url, fr, lastModified)
		}
		return record.Metadata{}, err
	}
	// Retries exhausted: return the metadata we computed anyway. The caller
	// can still serve it to this request's waiters even though it never won
	// the CAS race and was never durably published (spec §7).
	return newMeta, fmt.Errorf("reservation: %w", cacheerr.ErrPublicationConflict)
}

// publishNewLineage is step 6: the metadata vanished under us entirely, so
// we start a brand new lineage rather than keep fighting over a dead key.
// This costs a second content write under the new (session, 1) key, which
// spec §4.E accepts as the price of restoring invariant I2.
func (e *Engine) publishNewLineage(url string, fr origin.Result, lastModified time.Time) (record.Metadata, error) {
	session := newSession(e.now())
	contentKey := record.ContentKey(url, session, 1)
	content := record.Content{URL: url, Session: session, Reservation: 1, Status: fr.Status, Headers: fr.Headers, Body: fr.Body}
	encodedContent, err := record.EncodeContent(content)
	if err != nil {
		return record.Metadata{}, fmt.Errorf("reservation: encode content: %w", err)
	}
	if err := e.store.Add(contentKey, encodedContent, 0); err != nil && !errors.Is(err, cachestore.ErrAlreadyPresent) {
		return record.Metadata{}, err
	}

	newMeta := record.Metadata{
		URL:          url,
		Session:      session,
		Reservation:  1,
		LastNoted:    1,
		Valid:        true,
		Fetched:      e.now().UTC(),
		LastModified: lastModified,
		ContentKey:   contentKey,
		Digest:       fr.Digest,
	}
	encoded, err := record.EncodeMetadata(newMeta)
	if err != nil {
		return record.Metadata{}, fmt.Errorf("reservation: encode metadata: %w", err)
	}
	metaKey := record.MetadataKey(url)
	if err := e.store.Add(metaKey, encoded, 0); err != nil {
		if errors.Is(err, cachestore.ErrAlreadyPresent) {
			raw, _, gerr := e.store.Get(metaKey)
			if gerr == nil {
				if m, derr := record.DecodeMetadata(raw); derr == nil {
					return m, nil
				}
			}
		}
		return record.Metadata{}, err
	}
	if err := e.store.Add(record.ReservationKey(url), []byte("1"), 0); err != nil && !errors.Is(err, cachestore.ErrAlreadyPresent) {
		return record.Metadata{}, err
	}
	return newMeta, nil
}
