package response

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yourname/webcache/internal/record"
)

func TestWriteHitAssemblesAllowlistedHeaders(t *testing.T) {
	meta := record.Metadata{LastModified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	content := record.Content{
		Status: 200,
		Headers: map[string][]string{
			"Content-Type": {"text/plain"},
			"Set-Cookie":   {"session=abc"},
			"Pragma":       {"no-cache"},
		},
		Body: []byte("hello"),
	}
	w := httptest.NewRecorder()
	WriteHit(w, meta, content, time.Minute, StatusHit)

	if w.Code != 200 {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if w.Body.String() != "hello" {
		t.Fatalf("got body %q, want hello", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("Content-Type not carried through: %v", w.Header())
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Fatalf("Set-Cookie must be stripped, got %q", w.Header().Get("Set-Cookie"))
	}
	if w.Header().Get("Pragma") != "" {
		t.Fatalf("Pragma must be stripped, got %q", w.Header().Get("Pragma"))
	}
	if w.Header().Get("X-Webcache-Status") != string(StatusHit) {
		t.Fatalf("got debug status %q, want %q", w.Header().Get("X-Webcache-Status"), StatusHit)
	}
	if w.Header().Get("Cache-Control") != "public, max-age=60" {
		t.Fatalf("got Cache-Control %q", w.Header().Get("Cache-Control"))
	}
}

func TestWriteConditionalHasNoBody(t *testing.T) {
	meta := record.Metadata{LastModified: time.Now().UTC()}
	w := httptest.NewRecorder()
	WriteConditional(w, meta, time.Minute)

	if w.Code != 304 {
		t.Fatalf("got status %d, want 304", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body for 304, got %q", w.Body.String())
	}
	if w.Header().Get("X-Webcache-Status") != string(StatusHit304) {
		t.Fatalf("got debug status %q, want %q", w.Header().Get("X-Webcache-Status"), StatusHit304)
	}
}

func TestWriteBadGateway(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBadGateway(w, "origin timed out")
	if w.Code != 502 {
		t.Fatalf("got status %d, want 502", w.Code)
	}
}

func TestWriteLoopDetected(t *testing.T) {
	w := httptest.NewRecorder()
	WriteLoopDetected(w)
	if w.Code != 508 {
		t.Fatalf("got status %d, want 508", w.Code)
	}
}
