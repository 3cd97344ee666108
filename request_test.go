package stevedore

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient binds a client to an httptest server.
func testClient(t *testing.T, handler http.Handler, options ...Option) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(server.URL, options...)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestExecute(t *testing.T) {
	t.Run("issues versioned requests and decodes JSON", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1.12/version", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"Version": "1.5.0", "ApiVersion": "1.12", "GoVersion": "go1.25"}`))
		}))

		version, err := client.Version(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "1.5.0", version.Version)
		assert.Equal(t, "1.12", version.APIVersion)
		assert.Equal(t, "go1.25", version.GoVersion)
	})

	t.Run("pings outside the versioned tree", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/_ping", r.URL.Path)
			w.Write([]byte("OK"))
		}))

		reply, err := client.Ping(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "OK", reply)
	})

	t.Run("shapes an error status into a RequestError", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "something exploded", http.StatusInternalServerError)
		}))

		_, err := client.Version(context.Background())
		require.Error(t, err)

		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusInternalServerError, reqErr.Status)
		assert.Equal(t, "something exploded", reqErr.Message)
		assert.Equal(t, http.MethodGet, reqErr.Method)
		assert.Contains(t, reqErr.URI, "/v1.12/version")
	})

	t.Run("a stalled response trips the read timeout", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}), WithReadTimeout(50*time.Millisecond))

		_, err := client.Version(context.Background())
		require.Error(t, err)

		var timeoutErr *TimeoutError
		assert.ErrorAs(t, err, &timeoutErr)
	})

	t.Run("caller cancellation is surfaced as such", func(t *testing.T) {
		started := make(chan struct{})
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-r.Context().Done()
		}))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()

		_, err := client.Version(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "interrupted")
	})

	t.Run("a decode failure after success keeps the received status", func(t *testing.T) {
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"Version": `))
		}))

		_, err := client.Version(context.Background())
		require.Error(t, err)

		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusOK, reqErr.Status)
		assert.Error(t, reqErr.Err)
	})

	t.Run("releases the pool slot on both paths", func(t *testing.T) {
		var status int
		client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if status != 0 {
				w.WriteHeader(status)
			}
			w.Write([]byte("{}"))
		}), WithConnectionPoolSize(1))

		for _, status = range []int{0, http.StatusInternalServerError, 0} {
			client.Version(context.Background())
		}

		// With a single slot, any leak would wedge the pool within the
		// connect timeout.
		require.True(t, client.pool.slots.TryAcquire(1))
		client.pool.slots.Release(1)
	})
}

func TestExecuteOverUnixSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "docker.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_ping", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)

	client, err := New("unix://" + socketPath)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	reply, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}

func TestRequestURL(t *testing.T) {
	client, err := New("http://localhost:2375")
	require.NoError(t, err)
	defer client.Close()

	t.Run("encodes query parameters", func(t *testing.T) {
		r := request{method: http.MethodGet, path: "/containers/json"}
		r.query = map[string][]string{"all": {"1"}}
		assert.Equal(t, "http://localhost:2375/v1.12/containers/json?all=1", client.requestURL(r))
	})

	t.Run("omits an empty query", func(t *testing.T) {
		r := request{method: http.MethodGet, path: "/containers/json"}
		assert.Equal(t, "http://localhost:2375/v1.12/containers/json", client.requestURL(r))
	})
}
