package store

import "errors"

var (
	// ErrNotAuthorized marks a write rejected by the three-tier policy. It
	// is surfaced as a result string at the public boundary, never a panic.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrUnknownTable marks a write against a table outside the allowlist.
	ErrUnknownTable = errors.New("unknown table")

	// ErrEmptyData marks an insert/update with nothing to write.
	ErrEmptyData = errors.New("no data provided")

	// ErrEmptyWhere marks an update/delete without a where clause; blanket
	// writes are never allowed.
	ErrEmptyWhere = errors.New("no where clause provided")
)
