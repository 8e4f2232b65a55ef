package model

import (
	"fmt"
	"net/http"
)

// TransportError reports a failure to reach the model API or to read its
// response.
type TransportError struct {
	Op  string // "request" or "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("API %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from the model API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// ProtocolError reports a response that could not be interpreted.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid API response: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
