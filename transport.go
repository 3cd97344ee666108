package stevedore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/go-connections/tlsconfig"
	"golang.org/x/sync/semaphore"
)

// unixDialer connects to the configured socket file no matter what address
// the HTTP layer asks for. It never resolves hostnames, and a connect
// deadline expires with the same net.Error timeout the TCP dialer
// produces, so error classification needs no special case for this
// transport.
type unixDialer struct {
	net.Dialer
	socketPath string
}

func (d *unixDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.Dialer.DialContext(ctx, "unix", d.socketPath)
}

// deadlineConn arms a read deadline before every read, so a remote that
// stalls after a successful connect is still detected. A zero timeout
// disables the deadline.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

type poolConfig struct {
	endpoint  Endpoint
	tlsConfig *tls.Config

	// connectTimeout bounds connection establishment and the wait for a pool
	// slot. Zero disables both, which is the no-timeout pool class.
	connectTimeout time.Duration

	// readTimeout is the maximum inactivity between two consecutive reads.
	// It applies to every pool class.
	readTimeout time.Duration

	size int
}

// connPool owns one http.Transport and the capacity accounting in front of
// it. Capacity is symmetric: the total connection limit equals the
// per-host limit, since every request targets the one configured endpoint.
// A weighted semaphore meters slot acquisition so callers past capacity
// block until a release, and so acquire/release pairing is observable.
type connPool struct {
	client         *http.Client
	transport      *http.Transport
	slots          *semaphore.Weighted
	size           int64
	acquireTimeout time.Duration

	closeOnce sync.Once
}

func newConnPool(cfg poolConfig) *connPool {
	dialer := &net.Dialer{Timeout: cfg.connectTimeout}

	dial := dialer.DialContext
	if cfg.endpoint.IsUnix() {
		unix := &unixDialer{
			Dialer:     net.Dialer{Timeout: cfg.connectTimeout},
			socketPath: cfg.endpoint.SocketPath(),
		}
		dial = unix.DialContext
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn, err := dial(ctx, network, address)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, readTimeout: cfg.readTimeout}, nil
		},
		TLSClientConfig:     cfg.tlsConfig,
		MaxConnsPerHost:     cfg.size,
		MaxIdleConns:        cfg.size,
		MaxIdleConnsPerHost: cfg.size,
	}

	return &connPool{
		client:         &http.Client{Transport: transport},
		transport:      transport,
		slots:          semaphore.NewWeighted(int64(cfg.size)),
		size:           int64(cfg.size),
		acquireTimeout: cfg.connectTimeout,
	}
}

// acquire claims a pool slot, blocking until one frees. The bounded pool
// class gives up after its connect timeout; the no-timeout class waits for
// as long as the caller's context allows. The returned release is safe to
// call more than once, but only the first call returns the slot.
func (p *connPool) acquire(ctx context.Context) (release func(), err error) {
	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := p.slots.Acquire(acquireCtx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { p.slots.Release(1) })
	}, nil
}

// shutdown drops every pooled connection. Idempotent.
func (p *connPool) shutdown() {
	p.closeOnce.Do(func() {
		p.transport.CloseIdleConnections()
	})
}

// loadTLSConfig builds the https configuration from a certificate
// directory laid out the way the engine's --tlsverify machinery writes
// it: ca.pem, cert.pem, and key.pem.
func loadTLSConfig(certPath string) (*tls.Config, error) {
	cfg, err := tlsconfig.Client(tlsconfig.Options{
		CAFile:   filepath.Join(certPath, "ca.pem"),
		CertFile: filepath.Join(certPath, "cert.pem"),
		KeyFile:  filepath.Join(certPath, "key.pem"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates from %q: %w\nExpected ca.pem, cert.pem, and key.pem", certPath, err)
	}
	return cfg, nil
}
