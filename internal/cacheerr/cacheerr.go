// Package cacheerr defines the error kinds shared across the caching
// intermediary's components, per the error handling design: every failure
// path either writes a response or raises one of these kinds.
package cacheerr

import "errors"

var (
	// ErrStoreUnavailable means a transport-level failure talking to the
	// shared cache store. Callers fail open: bypass the cache and proxy
	// straight to the origin.
	ErrStoreUnavailable = errors.New("cacheerr: store unavailable")

	// ErrOriginUnreachable means the loopback connection to the origin
	// could not be established or timed out.
	ErrOriginUnreachable = errors.New("cacheerr: origin unreachable")

	// ErrOriginProtocolError means the origin responded but the response
	// could not be parsed as a well-formed HTTP response.
	ErrOriginProtocolError = errors.New("cacheerr: origin protocol error")

	// ErrOriginTooLarge means the origin body exceeded max_body_bytes.
	ErrOriginTooLarge = errors.New("cacheerr: origin response too large")

	// ErrCorruptMetadata means a metadata record failed to decode: unknown
	// version or missing required fields. Treated as absent by callers.
	ErrCorruptMetadata = errors.New("cacheerr: corrupt metadata record")

	// ErrPublicationConflict means a CAS attempt lost a race; internal to
	// the publisher's retry loop.
	ErrPublicationConflict = errors.New("cacheerr: publication conflict")

	// ErrLoopDetected means a request arrived from 127.0.0.1, i.e. it
	// re-entered the intermediary from its own origin fetch.
	ErrLoopDetected = errors.New("cacheerr: loop detected")
)
