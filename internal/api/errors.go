package api

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError wraps non-2xx responses. The remote call reached the server
// but was refused; the status code distinguishes the failure kinds the
// caller can act on.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }
func (e *APIError) Conflict() bool { return e.StatusCode == http.StatusConflict }

// NetworkError wraps transport failures: the client had no route to the
// server. Classified distinctly from server-side errors so callers can
// suggest checking the connection rather than the request.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err is a transport-level failure.
func IsUnreachable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.NotFound()
}

// IsConflict reports whether err is a remote 409.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Conflict()
}
