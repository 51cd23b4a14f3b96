package fetch

import (
	"errors"
	"fmt"
)

// TransientFetchError is a fetch that may succeed on a later try: network
// failures, timeouts, non-2xx responses.
type TransientFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// MalformedFeedError is a response that could not be parsed as a feed.
type MalformedFeedError struct {
	URL string
	Err error
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed feed %s: %v", e.URL, e.Err)
}

func (e *MalformedFeedError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a *TransientFetchError.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// IsMalformed reports whether err is a *MalformedFeedError.
func IsMalformed(err error) bool {
	var m *MalformedFeedError
	return errors.As(err, &m)
}
