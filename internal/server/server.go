// Package server implements the request handler (spec §4.H): the top-level
// state machine CLASSIFY → LOOKUP → (HIT | CONDITIONAL | ELECT) →
// (SERVE | FETCH → PUBLISH → SERVE | WAIT → LOOKUP), binding the cache
// client adapter, key scheme, metadata codec, origin fetcher, reservation
// protocol, freshness engine, and response assembler into one http.Handler.
//
// The per-URL state machine is wrapped in a singleflight.Group exactly the
// way the teacher's Server.ServeHTTP wraps its own miss-handling in
// sf.Do(objKey, ...): concurrent same-process requests for the same URL
// collapse onto one execution instead of each independently walking
// LOOKUP/ELECT. Cross-process concurrency is still arbitrated entirely by
// the reservation protocol's store-side atomics — singleflight only removes
// redundant traffic a single process would otherwise generate against
// itself.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/yourname/webcache/internal/cacheerr"
	"github.com/yourname/webcache/internal/cachestore"
	"github.com/yourname/webcache/internal/config"
	"github.com/yourname/webcache/internal/freshness"
	"github.com/yourname/webcache/internal/logging"
	"github.com/yourname/webcache/internal/origin"
	"github.com/yourname/webcache/internal/record"
	"github.com/yourname/webcache/internal/reservation"
	"github.com/yourname/webcache/internal/response"
)

// Server is the request handler of spec §4.H.
type Server struct {
	Store       *cachestore.Store
	Reservation *reservation.Engine
	Freshness   *freshness.Engine
	Origin      *origin.Client
	Config      config.Config
	Logger      *logging.Logger

	proxy *httputil.ReverseProxy

	sf      singleflight.Group
	limiter *electionLimiter
}

func NewServer(cfg config.Config, store *cachestore.Store) *Server {
	originClient := origin.NewClient(cfg.OriginPort, cfg.OriginHost, cfg.MaxBodyBytes)
	return &Server{
		Store: store,
		Reservation: reservation.New(store, reservation.Config{
			BackoffBase:    cfg.BackoffBase(),
			BackoffCap:     cfg.BackoffCap(),
			PlaceholderTTL: cfg.PlaceholderTTL(),
			PublishRetries: 3,
		}),
		Freshness: freshness.New(store, cfg.FreshnessWindow()),
		Origin:    originClient,
		Config:    cfg,
		Logger:    logging.New(),
		proxy:     newPassthroughProxy(cfg.OriginPort, cfg.OriginHost),
		limiter:   newElectionLimiter(20, 5),
	}
}

func newPassthroughProxy(originPort int, originHost string) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(originPort))}
	proxy := httputil.NewSingleHostReverseProxy(target)
	baseDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		baseDirector(r)
		r.Header.Del("Cookie")
		if originHost != "" {
			r.Host = originHost
		}
	}
	return proxy
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin.IsLoopback(r.RemoteAddr) {
		response.WriteLoopDetected(w)
		return
	}

	// Only GET and HEAD participate in the cache (spec §6, §9 open
	// question — the source services HEAD identically to GET, so we do
	// the same here rather than bypassing it).
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.proxy.ServeHTTP(w, r)
		return
	}

	cacheKey := r.URL.RequestURI()
	ulog := s.Logger.With(cacheKey, "handler")

	v, err, _ := s.sf.Do(cacheKey, func() (any, error) {
		return s.resolve(r, cacheKey)
	})
	if err != nil {
		switch {
		case errors.Is(err, cacheerr.ErrStoreUnavailable):
			ulog.Printf("store unavailable, failing open: %v", err)
			s.proxy.ServeHTTP(w, r)
		case errors.Is(err, cacheerr.ErrOriginUnreachable), errors.Is(err, cacheerr.ErrOriginProtocolError), errors.Is(err, cacheerr.ErrOriginTooLarge):
			ulog.Printf("origin fetch failed: %v", err)
			response.WriteBadGateway(w, err.Error())
		default:
			ulog.Printf("unresolved: %v", err)
			response.WriteServerError(w, err.Error())
		}
		return
	}

	res := v.(resolveResult)
	switch res.kind {
	case kindHit:
		response.WriteHit(w, res.meta, res.content, s.Config.FreshnessWindow(), response.StatusHit)
	case kindConditional:
		response.WriteConditional(w, res.meta, s.Config.FreshnessWindow())
	case kindPublished:
		response.WriteHit(w, res.meta, res.content, s.Config.FreshnessWindow(), response.StatusMissFetch)
	default:
		response.WriteServerError(w, "unexpected resolution")
	}
}

type responseKind int

const (
	kindHit responseKind = iota
	kindConditional
	kindPublished
)

type resolveResult struct {
	kind    responseKind
	meta    record.Metadata
	content record.Content
}

// resolve runs the bounded LOOKUP loop of spec §4.H for one URL. It is
// always invoked at most once concurrently per URL, per-process, via
// singleflight — so the sleeps inside it (waiter backoff) block every
// same-process caller for this URL at once, which is the desired
// consolidation, not a bug.
func (s *Server) resolve(r *http.Request, cacheKey string) (resolveResult, error) {
	ifModifiedSince := r.Header.Get("If-Modified-Since")
	reqHeaders := r.Header.Clone()
	clientIP := remoteIP(r.RemoteAddr)

	for iter := 0; iter < s.Config.MaxLookupIterations; iter++ {
		read, err := s.Reservation.ReadMetadata(cacheKey)
		if err != nil {
			return resolveResult{}, err
		}

		if read.State == reservation.StatePublished {
			req := &http.Request{Header: http.Header{"If-Modified-Since": {ifModifiedSince}}}
			verdict, content, ferr := s.Freshness.Evaluate(read.Meta, req)
			if ferr != nil {
				return resolveResult{}, ferr
			}
			switch verdict {
			case freshness.VerdictHit:
				return resolveResult{kind: kindHit, meta: read.Meta, content: content}, nil
			case freshness.VerdictConditional:
				return resolveResult{kind: kindConditional, meta: read.Meta}, nil
			case freshness.VerdictStale:
				// fall through to election below
			}
		}

		if !s.limiter.Allow(cacheKey) {
			time.Sleep(s.Config.BackoffBase())
			continue
		}

		outcome, err := s.Reservation.Elect(cacheKey, read)
		if err != nil {
			return resolveResult{}, err
		}
		if outcome.Restart {
			continue
		}
		if outcome.Waiter {
			time.Sleep(outcome.Backoff)
			continue
		}

		return s.fetchAndPublish(cacheKey, r.URL.Path, r.URL.RawQuery, reqHeaders, clientIP, outcome)
	}

	return resolveResult{}, errors.New("server: max_lookup_iterations exhausted")
}

// fetchAndPublish performs steps 1-6 of the publication algorithm (spec
// §4.E). It deliberately uses a context detached from the inbound request:
// per spec §5's cancellation rule, an elected fetcher must complete its
// fetch and publication attempt for the benefit of other waiters even if
// the client that triggered it has since disconnected.
func (s *Server) fetchAndPublish(cacheKey, path, rawQuery string, reqHeaders http.Header, clientIP string, outcome reservation.Outcome) (resolveResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fr, err := s.Origin.Fetch(ctx, path, rawQuery, reqHeaders, clientIP)
	if err != nil {
		// Origin failure: do not publish. The sibling reservation counter
		// stays incremented, so later contenders draw values above
		// last_noted+1 and wait; a later request re-elects once the counter
		// (created with the placeholder TTL) has expired and been recreated
		// (spec §4.E step 1, §7).
		return resolveResult{}, err
	}

	meta, perr := s.Reservation.Publish(ctx, cacheKey, outcome, fr)
	content := record.Content{
		URL:         cacheKey,
		Session:     outcome.Session,
		Reservation: outcome.Reservation,
		Status:      fr.Status,
		Headers:     fr.Headers,
		Body:        fr.Body,
	}
	if perr != nil {
		if errors.Is(perr, cacheerr.ErrPublicationConflict) {
			// Retries exhausted: serve the fetched body to this client's
			// followers only, without having cached it (spec §7).
			return resolveResult{kind: kindPublished, meta: meta, content: content}, nil
		}
		return resolveResult{}, perr
	}
	return resolveResult{kind: kindPublished, meta: meta, content: content}, nil
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// electionLimiter caps how often a single process re-enters the store-side
// election for the same URL, so a hot retry storm inside one process (e.g.
// many WAIT→LOOKUP cycles racing a flapping store) doesn't itself become a
// source of load. One token bucket per URL, built on golang.org/x/time/rate
// the way O-tero-Distributed-Caching-System's warming service rate-limits
// origin RPS.
type electionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newElectionLimiter(rps float64, burst int) *electionLimiter {
	return &electionLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *electionLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
