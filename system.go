package stevedore

import (
	"context"
	"net/http"

	"github.com/moby/moby/api/types/system"
)

// Ping checks that the engine is reachable and returns its reply. The
// endpoint lives outside the versioned API tree.
func (c *Client) Ping(ctx context.Context) (string, error) {
	return c.doText(ctx, c.pool, request{method: http.MethodGet, path: "/_ping", unversioned: true})
}

// Version returns the engine's version report.
func (c *Client) Version(ctx context.Context) (system.VersionResponse, error) {
	var version system.VersionResponse
	err := c.doJSON(ctx, c.pool, request{method: http.MethodGet, path: "/version"}, &version)
	if err != nil {
		return system.VersionResponse{}, err
	}
	return version, nil
}

// Info returns the engine's system-wide information.
func (c *Client) Info(ctx context.Context) (system.Info, error) {
	var info system.Info
	err := c.doJSON(ctx, c.pool, request{method: http.MethodGet, path: "/info"}, &info)
	if err != nil {
		return system.Info{}, err
	}
	return info, nil
}
