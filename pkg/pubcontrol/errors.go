package pubcontrol

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateFormat  = errors.New("duplicate format")
	ErrTransport        = errors.New("publish transport error")
	ErrPublishRejected  = errors.New("publish rejected")
	ErrAsyncUnsupported = errors.New("asynchronous publishing not supported")
)

// DuplicateFormatError reports two formats sharing a name within one Item.
type DuplicateFormatError struct {
	Name string
}

func (e *DuplicateFormatError) Error() string {
	return fmt.Sprintf("pubcontrol: duplicate format %q in item", e.Name)
}

func (e *DuplicateFormatError) Is(target error) bool { return target == ErrDuplicateFormat }

// TransportError wraps a failure of the HTTP round trip itself
// (connection, TLS, timeout), as opposed to a non-2xx response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to publish: %v", e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// PublishRejectedError reports an endpoint answering outside [200, 300).
// Body is the raw response body.
type PublishRejectedError struct {
	StatusCode int
	Body       string
}

func (e *PublishRejectedError) Error() string {
	return "failed to publish: " + e.Body
}

func (e *PublishRejectedError) Is(target error) bool { return target == ErrPublishRejected }
