package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingToken  = errors.New("request requires a bearer token")
	ErrEmptyResponse = errors.New("response body missing expected object")
	ErrInvalidID     = errors.New("invalid resource id")
)

// HTTPError is a non-2xx response. Message is the server's own text when
// the body carried one.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed: %d %s", e.Status, http.StatusText(e.Status))
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized
}
