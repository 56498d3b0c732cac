package llmc

import "errors"

// Sentinel errors, flat and package-prefixed so a caller can match with
// errors.Is without reaching into subpackages. Subpackages (llm, queue,
// lock) define their own sentinels for failures specific to their
// domain and this package wraps them with %w where it adds context.
var (
	// ErrRepoNotFound is returned when a repo has no index yet.
	ErrRepoNotFound = errors.New("llmc: repo not found")

	// ErrFileNotFound is returned when a file path is not tracked.
	ErrFileNotFound = errors.New("llmc: file not found")

	// ErrSpanNotFound is returned when a span ID does not exist.
	ErrSpanNotFound = errors.New("llmc: span not found")

	// ErrUnsupportedLanguage is returned when no parser or fallback
	// whole-file span can be produced for a file.
	ErrUnsupportedLanguage = errors.New("llmc: unsupported language")

	// ErrParsingFailed is returned when span extraction fails outright.
	ErrParsingFailed = errors.New("llmc: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("llmc: embedding generation failed")

	// ErrBackendUnavailable is returned when every backend in a cascade
	// chain has been exhausted without success.
	ErrBackendUnavailable = errors.New("llmc: all backends in cascade exhausted")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("llmc: store is closed")

	// ErrNoResults is returned when retrieval yields no matching spans.
	ErrNoResults = errors.New("llmc: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("llmc: invalid configuration")

	// ErrLeaseDenied is returned when a resource lease could not be
	// acquired before its deadline.
	ErrLeaseDenied = errors.New("llmc: lease denied")

	// ErrQueueEmpty is returned when a pull finds no eligible work.
	ErrQueueEmpty = errors.New("llmc: queue empty")

	// ErrShutdownTimeout is returned when the daemon could not drain
	// in-flight work within its graceful shutdown bound.
	ErrShutdownTimeout = errors.New("llmc: shutdown deadline exceeded")

	// ErrUnsupportedDocument is returned for binary document formats
	// with no registered sidecar converter.
	ErrUnsupportedDocument = errors.New("llmc: unsupported document format")
)
