package stevedore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/goccy/go-json"
)

// maxErrorBody caps how much of an error response is read back for the
// RequestError message.
const maxErrorBody = 1 << 20

// request describes one call against the engine API before it is bound to
// a pool.
type request struct {
	method      string
	path        string
	unversioned bool
	query       url.Values
	headers     http.Header
	body        io.Reader
	contentType string
}

func (c *Client) requestURL(r request) string {
	u := c.endpoint.URL()
	if r.unversioned {
		u.Path = r.path
	} else {
		u.Path = "/" + apiVersion + r.path
	}
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}
	return u.String()
}

// do acquires a slot from the pool, issues the request, and blocks until
// the response arrives. On success the caller owns the response body and
// must invoke the returned done exactly once; done closes the body and
// returns the slot. On failure the slot is already released and the error
// is classified into the taxonomy: a status of 400 or above becomes a
// RequestError, a connect, queue-wait, or read deadline becomes a
// TimeoutError, caller cancellation is re-raised as such, and everything
// else wraps the original failure. Statuses below 400, redirects such as
// 304 included, pass through as success.
func (c *Client) do(ctx context.Context, pool *connPool, r request) (*http.Response, func(), error) {
	uri := c.requestURL(r)

	release, err := pool.acquire(ctx)
	if err != nil {
		return nil, nil, classify(r.method, uri, err)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, uri, r.body)
	if err != nil {
		release()
		return nil, nil, classify(r.method, uri, err)
	}

	for key, values := range r.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := pool.client.Do(req)
	if err != nil {
		release()
		return nil, nil, classify(r.method, uri, err)
	}

	level.Debug(c.logger).Log("msg", "request completed", "method", r.method, "uri", uri, "status", resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		reqErr := responseError(r.method, uri, resp)
		resp.Body.Close()
		release()
		return nil, nil, reqErr
	}

	var once sync.Once
	done := func() {
		once.Do(func() {
			resp.Body.Close()
			release()
		})
	}
	return resp, done, nil
}

// responseError shapes an error status into a RequestError. Reading the
// body is best effort; a failure there leaves the message empty rather
// than masking the status.
func responseError(method, uri string, resp *http.Response) error {
	var message string
	if body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil {
		message = strings.TrimSpace(string(body))
	}
	return &RequestError{Method: method, URI: uri, Status: resp.StatusCode, Message: message}
}

// doJSON executes a request whose entire response is one JSON document,
// decoded into out when non-nil. A body that cannot be processed after a
// response was received still reports as a RequestError carrying the
// received status, since a present response outranks whatever failed
// while reading it.
func (c *Client) doJSON(ctx context.Context, pool *connPool, r request, out any) error {
	resp, done, err := c.do(ctx, pool, r)
	if err != nil {
		return err
	}
	defer done()

	if out == nil {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return &RequestError{Method: r.method, URI: c.requestURL(r), Status: resp.StatusCode, Err: err}
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Method: r.method, URI: c.requestURL(r), Status: resp.StatusCode, Err: err}
	}
	return nil
}

// doText executes a request whose response is a small plain-text body.
func (c *Client) doText(ctx context.Context, pool *connPool, r request) (string, error) {
	resp, done, err := c.do(ctx, pool, r)
	if err != nil {
		return "", err
	}
	defer done()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{Method: r.method, URI: c.requestURL(r), Status: resp.StatusCode, Err: err}
	}
	return string(body), nil
}

// doStream executes a request and hands the raw body to the caller.
// Closing the returned reader releases the pool slot along with the body;
// the caller must close it on every exit path.
func (c *Client) doStream(ctx context.Context, pool *connPool, r request) (io.ReadCloser, error) {
	resp, done, err := c.do(ctx, pool, r)
	if err != nil {
		return nil, err
	}
	return &bodyReader{Reader: resp.Body, done: done}, nil
}

// bodyReader pairs a streamed response body with release of its pool slot.
type bodyReader struct {
	io.Reader
	done func()
}

func (r *bodyReader) Close() error {
	r.done()
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return &buf, nil
}
