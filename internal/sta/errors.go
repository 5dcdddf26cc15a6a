package sta

import (
	"errors"
	"fmt"
)

// ErrNoTimeField is returned when a temporal filter is requested for a
// collection that has no timefield configured.
var ErrNoTimeField = errors.New("timefield not configured for collection")

// StatusError is a non-success response from the upstream STA service.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}
