package terminologyapi

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is wrapped by every decode failure, including payloads
// that parse as JSON but are missing a required field.
var ErrMalformedPayload = errors.New("malformed payload")

// RemoteCallError reports a transport failure, a non-2xx response, or an
// undecodable response from the terminology API.
type RemoteCallError struct {
	Operation  string
	Resource   string
	StatusCode int
	Err        error
}

func (e *RemoteCallError) Error() string {
	target := e.Operation
	if e.Resource != "" {
		target = fmt.Sprintf("%s %s", e.Operation, e.Resource)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote call %s: status %d: %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote call %s: %v", target, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
