// Package origin is the origin fetcher (spec §4.D): it issues the loopback
// HTTP request that re-derives a response for a URL the intermediary has
// decided to (re)fetch. Its transport is the teacher's
// internal/httpx.NewUpstreamClient, generalized to target 127.0.0.1.
package origin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/yourname/webcache/internal/cacheerr"
)

// requestHeaderAllowlist mirrors the front-end contract of spec §6: the
// original path, query, and only a safe subset of headers cross to the
// origin. Cookie and any Host override are never forwarded, so a
// misconfigured origin cannot be tricked into re-entering the intermediary
// under a client-supplied Host.
var requestHeaderAllowlist = []string{
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"If-Modified-Since",
	"User-Agent",
}

// Result is what the fetcher hands back to the reservation protocol.
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
	Digest  string // hex-encoded SHA-256 of Body
}

// Client issues loopback fetches against a single origin port.
type Client struct {
	httpClient  *http.Client
	originPort  int
	originHost  string // Host header value sent to the origin
	maxBodyByte int64
}

func NewClient(originPort int, originHost string, maxBodyBytes int64) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: defaultTransport(),
		},
		originPort:  originPort,
		originHost:  originHost,
		maxBodyByte: maxBodyBytes,
	}
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     false, // loopback, no need for h2
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Fetch issues a GET against http://127.0.0.1:<originPort><path> preserving
// path and query, forwarding the request's client IP as X-Forwarded-For and
// a whitelisted header subset, and reads the full body while hashing it.
func (c *Client) Fetch(ctx context.Context, path, rawQuery string, reqHeaders http.Header, clientIP string) (Result, error) {
	u := fmt.Sprintf("http://127.0.0.1:%d%s", c.originPort, path)
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, fmt.Errorf("origin: build request: %w: %v", cacheerr.ErrOriginProtocolError, err)
	}
	for _, h := range requestHeaderAllowlist {
		if v := reqHeaders.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if c.originHost != "" {
		req.Host = c.originHost
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("origin: fetch %s: %w: %v", path, cacheerr.ErrOriginUnreachable, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxBodyByte+1)
	hasher := sha256.New()
	body, err := io.ReadAll(io.TeeReader(limited, hasher))
	if err != nil {
		return Result{}, fmt.Errorf("origin: read body: %w: %v", cacheerr.ErrOriginProtocolError, err)
	}
	if int64(len(body)) > c.maxBodyByte {
		return Result{}, fmt.Errorf("origin: body exceeds %d bytes: %w", c.maxBodyByte, cacheerr.ErrOriginTooLarge)
	}

	return Result{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    body,
		Digest:  hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// IsLoopback reports whether addr (a RemoteAddr-style host:port or bare
// host) is a loopback address (any of 127.0.0.0/8, or ::1), used by the
// request handler's CLASSIFY state
// to break re-entrant loops (spec §4.H, §7 LoopDetected).
func IsLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
