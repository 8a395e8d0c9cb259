package upstream

import "errors"

// Upstream failure taxonomy. Shared by the api client, the history store and
// the roster poller so that retry/serve-stale decisions don't depend on
// string matching.
var (
	// ErrTransport: no response from upstream at all.
	ErrTransport = errors.New("upstream unreachable")
	// ErrRateLimited: upstream returned 429.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrNotFound: nickname, player or match unknown upstream.
	ErrNotFound = errors.New("not found upstream")
	// ErrBadRequest: upstream rejected the request shape (for match rooms
	// this usually means "not indexed yet", so the poller retries it).
	ErrBadRequest = errors.New("upstream rejected request")
	// ErrAuth: API key invalid or expired. Never retried.
	ErrAuth = errors.New("upstream authentication failed")
	// ErrUnavailable: upstream 5xx.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse: response decoded but not into the expected shape.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// Retryable reports whether err models "upstream hasn't indexed the data
// yet" or a transient outage, i.e. whether the roster poller should keep
// polling.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTransport)
}
