package stevedore

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultUnixEndpoint is where the engine listens on platforms that use a
	// local socket.
	DefaultUnixEndpoint = "unix:///var/run/docker.sock"

	// DefaultHost and DefaultPort locate the engine when an endpoint names a
	// TCP address without a host or port.
	DefaultHost = "localhost"
	DefaultPort = 2375
)

const unixScheme = "unix"

// sentinelHost stands in for a unix endpoint in the HTTP routing layer,
// which has no notion of filesystem addresses. The transport's dialer
// ignores it and targets the socket path instead.
const sentinelHost = "localhost:80"

// Endpoint is the single remote destination a Client is bound to. For a
// unix endpoint the HTTP layer never sees the raw unix:// form: the URL is
// rewritten to a fixed sentinel host at construction, and the socket path
// is kept separately for the transport's dialer. The two representations
// are never derived from each other after parsing. An Endpoint is
// immutable once built.
type Endpoint struct {
	url        *url.URL
	socketPath string
}

// ParseEndpoint parses one of the supported endpoint forms:
// http://host:port, https://host:port, or unix:///path/to/socket.
func ParseEndpoint(endpoint string) (Endpoint, error) {
	if path, ok := strings.CutPrefix(endpoint, unixScheme+"://"); ok {
		// The unix://localhost/path spelling is accepted as an alias for the
		// triple-slash form.
		path = strings.TrimPrefix(path, DefaultHost)
		if !strings.HasPrefix(path, "/") {
			return Endpoint{}, fmt.Errorf("invalid unix endpoint %q: expected unix:///absolute/path", endpoint)
		}

		return Endpoint{
			url:        &url.URL{Scheme: "http", Host: sentinelHost},
			socketPath: path,
		}, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}

	return Endpoint{url: &url.URL{Scheme: u.Scheme, Host: u.Host}}, nil
}

// URL returns a copy of the endpoint's base URL. For a unix endpoint this
// is the sentinel form, never the socket path.
func (e Endpoint) URL() *url.URL {
	u := *e.url
	return &u
}

// SocketPath returns the filesystem path of a unix endpoint's socket, or
// "" for TCP endpoints. Only the transport's dialer consults it.
func (e Endpoint) SocketPath() string {
	return e.socketPath
}

// IsUnix reports whether the endpoint targets a Unix domain socket.
func (e Endpoint) IsUnix() bool {
	return e.socketPath != ""
}

// Secure reports whether the connection to the endpoint is encrypted. A
// unix endpoint is never secure, regardless of how it was spelled.
func (e Endpoint) Secure() bool {
	return !e.IsUnix() && e.url.Scheme == "https"
}

func (e Endpoint) String() string {
	if e.IsUnix() {
		return unixScheme + "://" + e.socketPath
	}
	return e.url.String()
}
