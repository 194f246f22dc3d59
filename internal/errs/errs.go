// Package errs defines the typed error kinds used across the masking
// engine, per spec §7. Callers distinguish kinds with errors.Is against the
// exported sentinels; wrapped errors carry the underlying cause via %w.
package errs

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Kind) to attach context.
var (
	// ErrDetectorUnavailable: the PII analyzer returned non-2xx or was
	// unreachable. Surfaced as a 5xx to the client; the request is never
	// forwarded unmasked as a fallback.
	ErrDetectorUnavailable = errors.New("detector unavailable")

	// ErrDetectorMalformed: the analyzer returned undecodable or
	// schema-invalid content.
	ErrDetectorMalformed = errors.New("detector response malformed")

	// ErrExtractionFailure: the request did not match any known provider
	// shape. Surfaced as a 4xx.
	ErrExtractionFailure = errors.New("request shape not recognized")

	// ErrUpstreamFailure: the provider call failed; propagated with the
	// upstream status.
	ErrUpstreamFailure = errors.New("upstream provider call failed")

	// ErrStreamAborted: the client disconnected, or the upstream
	// terminated abnormally mid-stream. Handled as silent cancellation.
	ErrStreamAborted = errors.New("stream aborted")
)

// Is reports whether err wraps target, a thin wrapper around errors.Is kept
// so call sites read "errs.Is(err, errs.ErrDetectorUnavailable)" without an
// extra import.
func Is(err, target error) bool { return errors.Is(err, target) }
