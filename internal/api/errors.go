package api

import (
	"fmt"
	"net/http"
)

// NetworkError is a transport failure: the request never produced a
// response. It wraps the underlying error, so context cancellation is
// still visible to errors.Is.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerRejected is a response that refused the request, either with a
// non-2xx status or with isSuccess false in a 2xx body.
type ServerRejected struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerRejected) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: rejected (%d): %s", e.Op, e.StatusCode, msg)
}

// NotFound reports whether the server said the resource does not exist.
func (e *ServerRejected) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
