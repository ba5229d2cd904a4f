package domain

import "errors"

var (
	// ErrNotFound signals a missing entity or document.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable signals that the source-of-truth database cannot
	// be reached. The condition is retriable; callers log and continue.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrClientNotReady signals that the search engine client is not
	// configured or the cluster is unreachable.
	ErrClientNotReady = errors.New("search client not ready")
	// ErrUnsupportedRequest signals search options this engine does not
	// handle; the caller should fall back to its default searcher.
	ErrUnsupportedRequest = errors.New("unsupported search request")
	// ErrConfigOverride signals that an index settings or mapping override
	// hook returned a malformed value. This indicates a programming error in
	// an integration and is never swallowed.
	ErrConfigOverride = errors.New("invalid configuration override")
)
