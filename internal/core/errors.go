package core

import "errors"

// Sentinel errors shared across components so handlers can map each
// failure class to a distinct HTTP status.
var (
	// ErrUnsupportedType rejects an upload whose declared MIME type is
	// not in the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrFileTooLarge rejects an upload above the size ceiling.
	ErrFileTooLarge = errors.New("file exceeds the maximum allowed size")

	// ErrQuotaExceeded means a token budget (storage or monthly) would
	// be exceeded. Non-retryable until the month resets or content is
	// deleted.
	ErrQuotaExceeded = errors.New("token quota exceeded")

	// ErrEmptyCorpus means the account has no ready documents to
	// search; the model is never invoked in that case.
	ErrEmptyCorpus = errors.New("no ready documents available to search")

	// ErrProviderUnavailable wraps embedding/completion provider
	// failures; the caller may retry.
	ErrProviderUnavailable = errors.New("ai provider unavailable")

	// ErrNotFound is returned for missing or inaccessible records.
	ErrNotFound = errors.New("not found")
)
