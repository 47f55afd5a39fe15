package record

import (
	"net/http"
	"testing"
)

func TestEncodeDecodeContentRoundTrip(t *testing.T) {
	c := Content{
		URL:         "/x",
		Session:     7,
		Reservation: 2,
		Status:      200,
		Headers:     http.Header{"Content-Type": {"text/plain"}},
		Body:        []byte("hello world"),
	}
	enc, err := EncodeContent(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeContent(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.URL != c.URL || got.Session != c.Session || got.Reservation != c.Reservation || got.Status != c.Status {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
	if string(got.Body) != string(c.Body) {
		t.Fatalf("body mismatch: got %q, want %q", got.Body, c.Body)
	}
	if got.Headers.Get("Content-Type") != "text/plain" {
		t.Fatalf("header not preserved: %v", got.Headers)
	}
}

func TestEchoMatches(t *testing.T) {
	c := Content{URL: "/x", Session: 7, Reservation: 2}
	if !c.EchoMatches("/x", 7, 2) {
		t.Fatalf("expected echo match")
	}
	if c.EchoMatches("/x", 7, 3) {
		t.Fatalf("expected echo mismatch on reservation")
	}
	if c.EchoMatches("/x", 8, 2) {
		t.Fatalf("expected echo mismatch on session")
	}
	if c.EchoMatches("/y", 7, 2) {
		t.Fatalf("expected echo mismatch on url")
	}
}
