// Package response is the response assembler (spec §4.G): it builds the
// outbound HTTP response from a valid cache entry, rewriting the caching
// headers the way the origin's own headers never quite match what a shared
// intermediary should advertise.
package response

import (
	"fmt"
	"net/http"
	"time"

	"github.com/yourname/webcache/internal/record"
)

// Status is the debug status the assembler reports via X-Webcache-Status.
type Status string

const (
	StatusHit       Status = "HIT"
	StatusHit304    Status = "HIT-304"
	StatusMissFetch Status = "MISS-FETCH"
	StatusMissWait  Status = "MISS-WAIT"
)

var allowedHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
}

var strippedHeaders = []string{"Set-Cookie", "Pragma", "Expires"}

// WriteHit assembles and writes a full 200-class response from (meta, content).
func WriteHit(w http.ResponseWriter, meta record.Metadata, content record.Content, freshnessWindow time.Duration, status Status) {
	applyCommonHeaders(w.Header(), content.Headers, meta, freshnessWindow, status)
	w.WriteHeader(content.Status)
	_, _ = w.Write(content.Body)
}

// WriteConditional assembles a 304 with no body (spec §4.F/§4.G).
func WriteConditional(w http.ResponseWriter, meta record.Metadata, freshnessWindow time.Duration) {
	applyCommonHeaders(w.Header(), http.Header{}, meta, freshnessWindow, StatusHit304)
	w.WriteHeader(http.StatusNotModified)
}

func applyCommonHeaders(dst http.Header, origin http.Header, meta record.Metadata, freshnessWindow time.Duration, status Status) {
	for k, v := range origin {
		if allowedHeaders[k] && len(v) > 0 {
			dst.Set(k, v[0])
		}
	}
	for _, h := range strippedHeaders {
		dst.Del(h)
	}
	dst.Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	dst.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(freshnessWindow/time.Second)))
	dst.Set("X-Webcache-Status", string(status))
}

// WriteBadGateway writes the 502-class response for origin failures (spec §7).
func WriteBadGateway(w http.ResponseWriter, reason string) {
	http.Error(w, "Bad Gateway: "+reason, http.StatusBadGateway)
}

// WriteLoopDetected writes the 508-class response for re-entrant requests
// from the origin's own loopback fetch (spec §4.H, §7).
func WriteLoopDetected(w http.ResponseWriter) {
	http.Error(w, "Loop Detected", 508)
}

// WriteServerError is used when the state machine's bounded LOOKUP retry
// counter is exhausted without resolving to a response.
func WriteServerError(w http.ResponseWriter, reason string) {
	http.Error(w, "Internal Error: "+reason, http.StatusInternalServerError)
}
