package backend

import "errors"

var (
	// ErrCacheNotFound signals that a remote context cache expired or was
	// evicted server-side. The cache manager treats this as "recreate";
	// every other probe error propagates.
	ErrCacheNotFound = errors.New("context cache not found")

	// ErrCacheUnsupported is returned by backends without a remote cache.
	ErrCacheUnsupported = errors.New("backend does not support context caches")

	// ErrEmptyResponse signals a generation that produced no candidates.
	ErrEmptyResponse = errors.New("backend returned no candidates")
)
