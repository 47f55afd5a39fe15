package origin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/yourname/webcache/internal/cacheerr"
)

func testOriginPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi: %v", err)
	}
	return port
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := NewClient(testOriginPort(t, srv), "", 1<<20)
	res, err := c.Fetch(context.Background(), "/widgets", "", http.Header{}, "203.0.113.5")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("got status %d, want 200", res.Status)
	}
	if string(res.Body) != "hello" {
		t.Fatalf("got body %q, want hello", res.Body)
	}
	if res.Digest == "" {
		t.Fatalf("expected non-empty digest")
	}
}

func TestFetchForwardsAllowlistedHeadersOnly(t *testing.T) {
	var seenAccept, seenCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAccept = r.Header.Get("Accept")
		seenCookie = r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(testOriginPort(t, srv), "", 1<<20)
	reqHeaders := http.Header{"Accept": {"text/html"}, "Cookie": {"session=abc"}}
	_, err := c.Fetch(context.Background(), "/", "", reqHeaders, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if seenAccept != "text/html" {
		t.Fatalf("Accept header not forwarded: got %q", seenAccept)
	}
	if seenCookie != "" {
		t.Fatalf("Cookie header must not be forwarded, got %q", seenCookie)
	}
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c := NewClient(testOriginPort(t, srv), "", 10)
	_, err := c.Fetch(context.Background(), "/", "", http.Header{}, "")
	if !errors.Is(err, cacheerr.ErrOriginTooLarge) {
		t.Fatalf("got %v, want ErrOriginTooLarge", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	c := NewClient(1, "", 1<<20) // port 1 is reserved, nothing listens there
	_, err := c.Fetch(context.Background(), "/", "", http.Header{}, "")
	if !errors.Is(err, cacheerr.ErrOriginUnreachable) {
		t.Fatalf("got %v, want ErrOriginUnreachable", err)
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9000": true,
		"127.0.0.1":      true,
		"::1":            true,
		"10.0.0.5:9000":  false,
		"example.com":    false,
	}
	for addr, want := range cases {
		if got := IsLoopback(addr); got != want {
			t.Errorf("IsLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}
