package freshness

import (
	"net/http"
	"testing"
	"time"

	"github.com/yourname/webcache/internal/cachestore"
	"github.com/yourname/webcache/internal/record"
)

func newTestEngine(t *testing.T, window time.Duration) (*Engine, *cachestore.Store, func()) {
	t.Helper()
	fm := startFakeStoreForFreshnessTest(t)
	store := cachestore.New(fm.addr)
	return New(store, window), store, fm.close
}

func published(now time.Time, contentKey string) record.Metadata {
	return record.Metadata{
		URL:          "/x",
		Session:      1,
		Reservation:  1,
		LastNoted:    1,
		Valid:        true,
		Fetched:      now,
		LastModified: now.Truncate(time.Second),
		ContentKey:   contentKey,
		Digest:       "d",
	}
}

func TestEvaluateStaleWhenExpired(t *testing.T) {
	e, _, closeFn := newTestEngine(t, 10*time.Millisecond)
	defer closeFn()

	meta := published(time.Now().Add(-time.Hour), "C:missing")
	verdict, _, err := e.Evaluate(meta, &http.Request{Header: http.Header{}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict != VerdictStale {
		t.Fatalf("got %v, want VerdictStale", verdict)
	}
}

func TestEvaluateStaleWhenContentMissing(t *testing.T) {
	e, _, closeFn := newTestEngine(t, time.Hour)
	defer closeFn()

	meta := published(time.Now(), "C:neverwritten")
	verdict, _, err := e.Evaluate(meta, &http.Request{Header: http.Header{}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict != VerdictStale {
		t.Fatalf("got %v, want VerdictStale (unbound content)", verdict)
	}
}

func TestEvaluateHit(t *testing.T) {
	e, store, closeFn := newTestEngine(t, time.Hour)
	defer closeFn()

	contentKey := "C:present"
	content := record.Content{URL: "/x", Session: 1, Reservation: 1, Status: 200, Body: []byte("ok")}
	enc, err := record.EncodeContent(content)
	if err != nil {
		t.Fatalf("encode content: %v", err)
	}
	if err := store.Add(contentKey, enc, 0); err != nil {
		t.Fatalf("add content: %v", err)
	}

	meta := published(time.Now(), contentKey)
	verdict, got, err := e.Evaluate(meta, &http.Request{Header: http.Header{}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict != VerdictHit {
		t.Fatalf("got %v, want VerdictHit", verdict)
	}
	if string(got.Body) != "ok" {
		t.Fatalf("got body %q, want ok", got.Body)
	}
}

func TestEvaluateConditionalOnIfModifiedSince(t *testing.T) {
	e, store, closeFn := newTestEngine(t, time.Hour)
	defer closeFn()

	lastMod := time.Now().Truncate(time.Second)
	contentKey := "C:present"
	content := record.Content{URL: "/x", Session: 1, Reservation: 1, Status: 200, Body: []byte("ok")}
	enc, _ := record.EncodeContent(content)
	if err := store.Add(contentKey, enc, 0); err != nil {
		t.Fatalf("add content: %v", err)
	}

	meta := record.Metadata{
		URL: "/x", Session: 1, Reservation: 1, LastNoted: 1, Valid: true,
		Fetched: time.Now(), LastModified: lastMod, ContentKey: contentKey, Digest: "d",
	}

	req := &http.Request{Header: http.Header{"If-Modified-Since": {lastMod.Format(http.TimeFormat)}}}
	verdict, _, err := e.Evaluate(meta, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict != VerdictConditional {
		t.Fatalf("got %v, want VerdictConditional for exact-match If-Modified-Since", verdict)
	}

	older := &http.Request{Header: http.Header{"If-Modified-Since": {lastMod.Add(-time.Hour).Format(http.TimeFormat)}}}
	verdict2, _, err := e.Evaluate(meta, older)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict2 != VerdictHit {
		t.Fatalf("got %v, want VerdictHit for older If-Modified-Since", verdict2)
	}
}

// TestEvaluateConditionalSkipsContentReadWhenEvicted covers spec §3's
// "eviction of content while metadata survives": the content record is
// never written, so if Evaluate read it before checking the conditional
// header it would observe ErrAbsent and wrongly report VerdictStale. A
// conditional match must short-circuit to VerdictConditional without ever
// touching the content record.
func TestEvaluateConditionalSkipsContentReadWhenEvicted(t *testing.T) {
	e, _, closeFn := newTestEngine(t, time.Hour)
	defer closeFn()

	lastMod := time.Now().Truncate(time.Second)
	meta := published(time.Now(), "C:never-written")
	meta.LastModified = lastMod

	req := &http.Request{Header: http.Header{"If-Modified-Since": {lastMod.Format(http.TimeFormat)}}}
	verdict, content, err := e.Evaluate(meta, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict != VerdictConditional {
		t.Fatalf("got %v, want VerdictConditional without reading absent content", verdict)
	}
	if len(content.Body) != 0 {
		t.Fatalf("expected no content body on conditional verdict")
	}
}
