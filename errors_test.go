package stevedore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Run("returns nil for nil", func(t *testing.T) {
		assert.NoError(t, classify(http.MethodGet, "http://localhost/v1.12/info", nil))
	})

	t.Run("passes an existing RequestError through unchanged", func(t *testing.T) {
		reqErr := &RequestError{Method: http.MethodGet, URI: "http://localhost/v1.12/info", Status: 500}
		wrapped := fmt.Errorf("while decoding: %w", reqErr)

		err := classify(http.MethodGet, "http://localhost/v1.12/info", wrapped)
		assert.Equal(t, wrapped, err)
	})

	t.Run("a response outranks a timeout on the same failure", func(t *testing.T) {
		// A cause chain carrying both a server response and a timeout must
		// classify by response presence first.
		reqErr := &RequestError{Method: http.MethodGet, URI: "http://localhost/v1.12/info", Status: 500}
		err := classify(http.MethodGet, "http://localhost/v1.12/info",
			fmt.Errorf("read: %w: %w", fakeTimeoutError{}, reqErr))

		var got *RequestError
		require.ErrorAs(t, err, &got)
		assert.Equal(t, 500, got.Status)
	})

	t.Run("classifies network timeouts", func(t *testing.T) {
		err := classify(http.MethodPost, "http://localhost/v1.12/containers/create",
			fmt.Errorf("dial: %w", fakeTimeoutError{}))

		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, http.MethodPost, timeoutErr.Method)
		assert.Equal(t, "http://localhost/v1.12/containers/create", timeoutErr.URI)
		assert.True(t, timeoutErr.Timeout())
	})

	t.Run("classifies context deadline expiry as a timeout", func(t *testing.T) {
		err := classify(http.MethodGet, "http://localhost/v1.12/info",
			fmt.Errorf("acquire: %w", context.DeadlineExceeded))

		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
	})

	t.Run("re-raises cancellation rather than wrapping it in the taxonomy", func(t *testing.T) {
		err := classify(http.MethodGet, "http://localhost/v1.12/info",
			fmt.Errorf("request: %w", context.Canceled))

		require.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "interrupted: GET http://localhost/v1.12/info")

		var timeoutErr *TimeoutError
		assert.False(t, errors.As(err, &timeoutErr))
	})

	t.Run("wraps anything else as a generic error around the original failure", func(t *testing.T) {
		cause := errors.New("connection reset by peer")
		err := classify(http.MethodGet, "http://localhost/v1.12/info", cause)

		var generic *Error
		require.ErrorAs(t, err, &generic)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, http.MethodGet, generic.Method)
	})
}

func TestNotFoundMapping(t *testing.T) {
	t.Run("maps a 404 to ContainerNotFoundError", func(t *testing.T) {
		reqErr := &RequestError{Method: http.MethodPost, URI: "http://localhost/v1.12/containers/abc/start", Status: 404}

		err := containerNotFound("abc", reqErr)

		var notFound *ContainerNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "abc", notFound.ContainerID)
		assert.ErrorIs(t, err, reqErr)
	})

	t.Run("maps a 404 to ImageNotFoundError", func(t *testing.T) {
		reqErr := &RequestError{Method: http.MethodPost, URI: "http://localhost/v1.12/images/create", Status: 404}

		err := imageNotFound("busybox", reqErr)

		var notFound *ImageNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "busybox", notFound.Image)
	})

	t.Run("never re-specializes other statuses", func(t *testing.T) {
		reqErr := &RequestError{Status: 500}
		assert.Equal(t, reqErr, containerNotFound("abc", error(reqErr)))
	})

	t.Run("never re-specializes timeouts or generic errors", func(t *testing.T) {
		timeoutErr := &TimeoutError{Method: http.MethodGet, URI: "http://localhost/v1.12/info"}
		assert.Equal(t, timeoutErr, containerNotFound("abc", error(timeoutErr)))

		generic := errors.New("boom")
		assert.Equal(t, generic, imageNotFound("busybox", generic))
	})
}
