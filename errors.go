package munroe

import "errors"

// Sentinel errors for the whole module. Origins wrap these with context, so
// callers branch with errors.Is.
var (
	// ErrNotFound means the request was valid but the resource is absent:
	// an unpublished comic number, a missing image, or a row that was never
	// merged locally.
	ErrNotFound = errors.New("not found")

	// ErrNetwork is a transport or connectivity failure. Nothing in the
	// module retries on it; the caller's refresh action is the only retry.
	ErrNetwork = errors.New("network failure")

	// ErrDecode means a payload arrived but could not be interpreted:
	// malformed metadata JSON, undecodable image bytes, or date components
	// that do not form a valid calendar date.
	ErrDecode = errors.New("malformed payload")

	// ErrStorage is a local write failure in the entity table or the blob
	// directory.
	ErrStorage = errors.New("storage failure")

	// ErrConflict means the entity store could not commit a write batch.
	ErrConflict = errors.New("write conflict")
)
