// Package errs defines the error taxonomy shared by the vidqa services.
//
// Components wrap these sentinels with fmt.Errorf("...: %w", ...) and the
// transport layers classify failures with errors.Is, so "bad input" stays
// distinguishable from upstream or internal failures.
package errs

import "errors"

var (
	// ErrInvalidInput marks caller mistakes (empty message, malformed URL, k <= 0).
	ErrInvalidInput = errors.New("invalid input")

	// ErrTranscriptUnavailable is returned when no transcript exists for the
	// requested video and language set.
	ErrTranscriptUnavailable = errors.New("transcript unavailable")

	// ErrStoreWrite is returned when embedding or persisting chunks fails.
	ErrStoreWrite = errors.New("store write failed")

	// ErrStoreNotFound is returned when the named collection does not exist.
	ErrStoreNotFound = errors.New("collection not found")

	// ErrRetrieval is returned when the top-k query fails during a turn.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration is returned when the language model fails or returns
	// malformed output.
	ErrGeneration = errors.New("generation failed")

	// ErrUnsupportedProvider is returned at configuration time for unknown
	// embedding or model providers.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Error codes reported by the HTTP and MCP surfaces.
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeTranscriptUnavailable = "TRANSCRIPT_UNAVAILABLE"
	CodeStoreWrite            = "STORE_WRITE"
	CodeStoreNotFound         = "STORE_NOT_FOUND"
	CodeRetrieval             = "RETRIEVAL_FAILED"
	CodeGeneration            = "GENERATION_FAILED"
	CodeUnsupportedProvider   = "UNSUPPORTED_PROVIDER"
	CodeInternal              = "INTERNAL_ERROR"
)

// Code classifies err into one of the error codes above.
// Nil errors return an empty string.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrTranscriptUnavailable):
		return CodeTranscriptUnavailable
	case errors.Is(err, ErrStoreNotFound):
		return CodeStoreNotFound
	case errors.Is(err, ErrStoreWrite):
		return CodeStoreWrite
	case errors.Is(err, ErrRetrieval):
		return CodeRetrieval
	case errors.Is(err, ErrGeneration):
		return CodeGeneration
	case errors.Is(err, ErrUnsupportedProvider):
		return CodeUnsupportedProvider
	default:
		return CodeInternal
	}
}

// IsClientError reports whether err was caused by the caller rather than by
// an upstream dependency or the service itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrTranscriptUnavailable)
}
