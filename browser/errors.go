package browser

import (
	"errors"
	"fmt"
)

// ErrNoNextPage signals that the current results page has no next-page
// control. It marks the normal end of pagination, not a failure.
var ErrNoNextPage = errors.New("browser: no next page control")

// SessionError indicates the browser engine could not be launched or died
// underneath us. It is fatal to the whole run.
type SessionError struct {
	Err error
}

func (e SessionError) Error() string {
	return fmt.Errorf("session: %w", e.Err).Error()
}

func (e SessionError) Unwrap() error {
	return e.Err
}

// NavigationError indicates a single navigation or bounded wait failed.
// Callers treat the affected page or term as having yielded nothing.
type NavigationError struct {
	URL string
	Err error
}

func (e NavigationError) Error() string {
	if e.URL == "" {
		return fmt.Errorf("navigation: %w", e.Err).Error()
	}
	return fmt.Errorf("navigation %s: %w", e.URL, e.Err).Error()
}

func (e NavigationError) Unwrap() error {
	return e.Err
}

// IsSession reports whether err carries a SessionError anywhere in its chain.
func IsSession(err error) bool {
	var se SessionError
	return errors.As(err, &se)
}
