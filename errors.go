package stevedore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ConfigError represents an error in the options passed to a constructor.
type ConfigError struct {
	Message string
}

// Error returns the error message for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("stevedore: configuration error: %s", e.Message)
}

// RequestError reports that the engine rejected a request. It carries the
// HTTP status and the response body decoded as text, so callers can tell
// what was being attempted without re-deriving it from the response.
type RequestError struct {
	Method  string
	URI     string
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request for %s %s returned status %d", e.Method, e.URI, e.Status)
	}
	return fmt.Sprintf("request for %s %s returned status %d: %s", e.Method, e.URI, e.Status, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// TimeoutError reports that a request produced no response within the
// pool's configured window, whether connecting, waiting for a pool slot,
// or blocked on a read.
type TimeoutError struct {
	Method string
	URI    string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s %s", e.Method, e.URI)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout reports true, so a TimeoutError satisfies net.Error timeout
// checks.
func (e *TimeoutError) Timeout() bool { return true }

// Error wraps a failure that is neither a rejection by the engine nor a
// timeout: local I/O failures, protocol violations in a streamed body, and
// the like. The original failure is preserved as the cause.
type Error struct {
	Method string
	URI    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URI, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ContainerNotFoundError specializes a 404 on a container-scoped path.
type ContainerNotFoundError struct {
	ContainerID string
	Err         error
}

func (e *ContainerNotFoundError) Error() string {
	return fmt.Sprintf("container %q was not found", e.ContainerID)
}

func (e *ContainerNotFoundError) Unwrap() error { return e.Err }

// ImageNotFoundError specializes a 404 on an image-scoped path.
type ImageNotFoundError struct {
	Image string
	Err   error
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("image %q was not found", e.Image)
}

func (e *ImageNotFoundError) Unwrap() error { return e.Err }

// classify maps a transport failure onto the error taxonomy. The rules
// apply in a fixed order and the first match wins: a failure that carries
// a server response was already shaped into a RequestError by the executor,
// since a received response is more informative than whatever else went
// wrong on the same call; then timeouts; then caller cancellation, which is
// re-raised so errors.Is(err, context.Canceled) still holds; anything left
// wraps the original failure unchanged.
func classify(method, uri string, err error) error {
	if err == nil {
		return nil
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Method: method, URI: uri, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted: %s %s: %w", method, uri, err)
	}

	return &Error{Method: method, URI: uri, Err: err}
}

// containerNotFound rewrites a 404 on a container-scoped path into a
// ContainerNotFoundError. Every other error passes through untouched;
// call sites never re-classify timeouts or generic failures.
func containerNotFound(containerID string, err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound {
		return &ContainerNotFoundError{ContainerID: containerID, Err: err}
	}
	return err
}

// imageNotFound rewrites a 404 on an image-scoped path into an
// ImageNotFoundError.
func imageNotFound(image string, err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound {
		return &ImageNotFoundError{Image: image, Err: err}
	}
	return err
}
