package stevedore

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/moby/moby/api/types/registry"
)

// apiVersion is the engine API tree every versioned request is issued
// against. Ping is the one endpoint that lives outside it.
const apiVersion = "v1.12"

const (
	// DefaultConnectTimeout bounds connection establishment and the wait for
	// a pool slot on the default pool class.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultReadTimeout is the maximum period of inactivity between two
	// consecutive reads from the engine. It applies to both pool classes.
	DefaultReadTimeout = 30 * time.Second

	// DefaultConnectionPoolSize caps each of a client's two connection
	// pools. See WithConnectionPoolSize for the effective ceiling.
	DefaultConnectionPoolSize = 100
)

var containerNamePattern = regexp.MustCompile(`^/?[a-zA-Z0-9_-]+$`)

// Config holds the configurable settings for a Client. Option functions
// modify fields within this struct.
type Config struct {
	Endpoint           string
	CertPath           string
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	ConnectionPoolSize int
	Auth               *registry.AuthConfig
	Logger             log.Logger
}

// Option is a function type that modifies the Config.
type Option func(cfg *Config) error

// WithCertPath points the client at a directory containing ca.pem,
// cert.pem, and key.pem to secure the connection. Requires an https
// endpoint.
func WithCertPath(path string) Option {
	return func(cfg *Config) error {
		if path == "" {
			return &ConfigError{Message: "certificate path cannot be empty"}
		}
		cfg.CertPath = path
		return nil
	}
}

// WithConnectTimeout sets the timeout until a connection to the engine is
// established, and with it the bounded pool's queue-wait timeout. Zero is
// interpreted as an infinite timeout.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *Config) error {
		cfg.ConnectTimeout = timeout
		return nil
	}
}

// WithReadTimeout sets the maximum period of inactivity between receiving
// two consecutive reads from the engine. It applies to both pool classes:
// even a call with no connect timeout must still detect a remote that
// stalls after the connection is up.
func WithReadTimeout(timeout time.Duration) Option {
	return func(cfg *Config) error {
		cfg.ReadTimeout = timeout
		return nil
	}
}

// WithConnectionPoolSize caps each connection pool. A client keeps two
// separate pools, one per timeout class, each capped at this size, so the
// number of concurrent connections to the engine may reach twice this
// value.
func WithConnectionPoolSize(size int) Option {
	return func(cfg *Config) error {
		if size < 1 {
			return &ConfigError{Message: fmt.Sprintf("connection pool size must be positive, got %d", size)}
		}
		cfg.ConnectionPoolSize = size
		return nil
	}
}

// WithAuth sets the registry credentials sent with pull and push requests.
func WithAuth(auth *registry.AuthConfig) Option {
	return func(cfg *Config) error {
		cfg.Auth = auth
		return nil
	}
}

// WithLogger sets the logger for client internals. Defaults to a nop
// logger.
func WithLogger(logger log.Logger) Option {
	return func(cfg *Config) error {
		if logger == nil {
			return &ConfigError{Message: "logger cannot be nil"}
		}
		cfg.Logger = logger
		return nil
	}
}

// Client is a Docker Engine API client bound to a single endpoint. It owns
// two connection pools, created with it and released together by Close,
// and is safe for concurrent use; callers beyond a pool's capacity block
// until a slot frees.
type Client struct {
	endpoint Endpoint
	auth     *registry.AuthConfig
	logger   log.Logger

	// pool carries ordinary calls under the connect timeout. noTimeoutPool
	// keeps the read timeout but drops the connect and queue-wait timeouts,
	// for calls that legitimately block on the engine.
	pool          *connPool
	noTimeoutPool *connPool
}

// New creates a Client for the given endpoint: http://host:port,
// https://host:port, or unix:///path/to/socket.
func New(endpoint string, options ...Option) (*Client, error) {
	cfg := Config{
		Endpoint:           endpoint,
		ConnectTimeout:     DefaultConnectTimeout,
		ReadTimeout:        DefaultReadTimeout,
		ConnectionPoolSize: DefaultConnectionPoolSize,
		Logger:             log.NewNopLogger(),
	}

	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	return newClient(cfg)
}

// NewFromEnv creates a Client from the DOCKER_HOST and DOCKER_CERT_PATH
// environment variables. When DOCKER_HOST is unset it falls back to the
// platform default: the local Unix socket on Linux, TCP on localhost
// elsewhere. A certificate path switches TCP endpoints to https.
func NewFromEnv(options ...Option) (*Client, error) {
	endpoint := os.Getenv("DOCKER_HOST")
	if endpoint == "" {
		endpoint = defaultEndpoint()
	}

	certPath := os.Getenv("DOCKER_CERT_PATH")

	if !strings.HasPrefix(endpoint, unixScheme+"://") {
		scheme := "http"
		if certPath != "" {
			scheme = "https"
		}

		stripped := endpoint
		if i := strings.Index(stripped, "://"); i >= 0 {
			stripped = stripped[i+3:]
		}

		host, port, err := net.SplitHostPort(stripped)
		if err != nil {
			host, port = stripped, fmt.Sprintf("%d", DefaultPort)
		}
		if host == "" {
			host = DefaultHost
		}

		endpoint = fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, port))
	}

	if certPath != "" {
		options = append([]Option{WithCertPath(certPath)}, options...)
	}

	return New(endpoint, options...)
}

func defaultEndpoint() string {
	if runtime.GOOS == "linux" {
		return DefaultUnixEndpoint
	}
	return fmt.Sprintf("tcp://%s:%d", DefaultHost, DefaultPort)
}

func newClient(cfg Config) (*Client, error) {
	endpoint, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	if cfg.CertPath != "" && !endpoint.Secure() {
		return nil, &ConfigError{Message: "an https endpoint must be used with certificates"}
	}

	var tlsConfig *tls.Config
	if cfg.CertPath != "" {
		tlsConfig, err = loadTLSConfig(cfg.CertPath)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		endpoint: endpoint,
		auth:     cfg.Auth,
		logger:   cfg.Logger,
	}

	c.pool = newConnPool(poolConfig{
		endpoint:       endpoint,
		tlsConfig:      tlsConfig,
		connectTimeout: cfg.ConnectTimeout,
		readTimeout:    cfg.ReadTimeout,
		size:           cfg.ConnectionPoolSize,
	})
	c.noTimeoutPool = newConnPool(poolConfig{
		endpoint:    endpoint,
		tlsConfig:   tlsConfig,
		readTimeout: cfg.ReadTimeout,
		size:        cfg.ConnectionPoolSize,
	})

	level.Debug(c.logger).Log("msg", "client initialized", "endpoint", endpoint.String(), "pool_size", cfg.ConnectionPoolSize)

	return c, nil
}

// Endpoint returns the destination the client is bound to.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Close releases both connection pools. It pairs with client construction
// and is safe to call more than once.
func (c *Client) Close() {
	c.pool.shutdown()
	c.noTimeoutPool.shutdown()
}
