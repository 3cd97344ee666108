package stevedore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/moby/moby/api/types/container"
)

// ListContainersOption narrows or extends a ListContainers query.
type ListContainersOption func(query url.Values)

// AllContainers includes stopped containers in the listing.
func AllContainers() ListContainersOption {
	return func(query url.Values) { query.Set("all", "1") }
}

// LimitContainers caps the listing at the n most recently created
// containers.
func LimitContainers(n int) ListContainersOption {
	return func(query url.Values) { query.Set("limit", strconv.Itoa(n)) }
}

// ContainersCreatedSince restricts the listing to containers created after
// the named one.
func ContainersCreatedSince(containerID string) ListContainersOption {
	return func(query url.Values) { query.Set("since", containerID) }
}

// ContainersCreatedBefore restricts the listing to containers created
// before the named one.
func ContainersCreatedBefore(containerID string) ListContainersOption {
	return func(query url.Values) { query.Set("before", containerID) }
}

// WithContainerSizes includes filesystem usage in the listing.
func WithContainerSizes() ListContainersOption {
	return func(query url.Values) { query.Set("size", "1") }
}

// ListContainers lists containers known to the engine. By default only
// running containers appear; see AllContainers.
func (c *Client) ListContainers(ctx context.Context, options ...ListContainersOption) ([]container.Summary, error) {
	query := url.Values{}
	for _, option := range options {
		option(query)
	}

	var containers []container.Summary
	err := c.doJSON(ctx, c.pool, request{method: http.MethodGet, path: "/containers/json", query: query}, &containers)
	if err != nil {
		return nil, err
	}
	return containers, nil
}

// CreateContainer creates a container from config, optionally named. A
// missing image reports as ImageNotFoundError.
func (c *Client) CreateContainer(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, name string) (container.CreateResponse, error) {
	if config == nil {
		return container.CreateResponse{}, &ConfigError{Message: "container config cannot be nil"}
	}

	query := url.Values{}
	if name != "" {
		if !containerNamePattern.MatchString(name) {
			return container.CreateResponse{}, &ConfigError{Message: fmt.Sprintf("invalid container name: %q", name)}
		}
		query.Set("name", name)
	}

	level.Info(c.logger).Log("msg", "creating container", "image", config.Image, "name", name)

	body, err := jsonBody(container.CreateRequest{Config: config, HostConfig: hostConfig})
	if err != nil {
		return container.CreateResponse{}, err
	}

	var creation container.CreateResponse
	err = c.doJSON(ctx, c.pool, request{
		method:      http.MethodPost,
		path:        "/containers/create",
		query:       query,
		body:        body,
		contentType: "application/json",
	}, &creation)
	if err != nil {
		return container.CreateResponse{}, imageNotFound(config.Image, err)
	}
	return creation, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, containerID string, hostConfig *container.HostConfig) error {
	if hostConfig == nil {
		hostConfig = &container.HostConfig{}
	}

	level.Info(c.logger).Log("msg", "starting container", "container", containerID)

	body, err := jsonBody(hostConfig)
	if err != nil {
		return err
	}

	err = c.doJSON(ctx, c.pool, request{
		method:      http.MethodPost,
		path:        "/containers/" + containerID + "/start",
		body:        body,
		contentType: "application/json",
	}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// PauseContainer suspends every process in the container.
func (c *Client) PauseContainer(ctx context.Context, containerID string) error {
	err := c.doJSON(ctx, c.pool, request{method: http.MethodPost, path: "/containers/" + containerID + "/pause"}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// UnpauseContainer resumes a paused container.
func (c *Client) UnpauseContainer(ctx context.Context, containerID string) error {
	err := c.doJSON(ctx, c.pool, request{method: http.MethodPost, path: "/containers/" + containerID + "/unpause"}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// RestartContainer restarts the container, waiting up to gracePeriod for
// it to stop before killing it.
func (c *Client) RestartContainer(ctx context.Context, containerID string, gracePeriod time.Duration) error {
	query := url.Values{}
	query.Set("t", strconv.Itoa(int(gracePeriod/time.Second)))

	err := c.doJSON(ctx, c.pool, request{method: http.MethodPost, path: "/containers/" + containerID + "/restart", query: query}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// KillContainer kills the container immediately.
func (c *Client) KillContainer(ctx context.Context, containerID string) error {
	err := c.doJSON(ctx, c.pool, request{method: http.MethodPost, path: "/containers/" + containerID + "/kill"}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// StopContainer asks the engine to stop the container, waiting up to
// gracePeriod before killing it. The call rides the no-timeout pool since
// the engine blocks for the duration of the grace period. A 304 from an
// already-stopped container counts as success, which the executor already
// provides: only statuses of 400 and above report as failures.
func (c *Client) StopContainer(ctx context.Context, containerID string, gracePeriod time.Duration) error {
	query := url.Values{}
	query.Set("t", strconv.Itoa(int(gracePeriod/time.Second)))

	err := c.doJSON(ctx, c.noTimeoutPool, request{method: http.MethodPost, path: "/containers/" + containerID + "/stop", query: query}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// WaitContainer blocks until the container exits and returns its exit
// status. It rides the no-timeout pool: there is no bound on how long a
// container may run, though a remote that stalls mid-response still trips
// the read timeout.
func (c *Client) WaitContainer(ctx context.Context, containerID string) (container.WaitResponse, error) {
	var exit container.WaitResponse
	err := c.doJSON(ctx, c.noTimeoutPool, request{method: http.MethodPost, path: "/containers/" + containerID + "/wait"}, &exit)
	if err != nil {
		return container.WaitResponse{}, containerNotFound(containerID, err)
	}
	return exit, nil
}

// RemoveContainer removes a stopped container, and its volumes when
// removeVolumes is set.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, removeVolumes bool) error {
	query := url.Values{}
	query.Set("v", strconv.FormatBool(removeVolumes))

	err := c.doJSON(ctx, c.pool, request{method: http.MethodDelete, path: "/containers/" + containerID, query: query}, nil)
	if err != nil {
		return containerNotFound(containerID, err)
	}
	return nil
}

// InspectContainer returns the engine's full view of the container.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (container.InspectResponse, error) {
	var info container.InspectResponse
	err := c.doJSON(ctx, c.pool, request{method: http.MethodGet, path: "/containers/" + containerID + "/json"}, &info)
	if err != nil {
		return container.InspectResponse{}, containerNotFound(containerID, err)
	}
	return info, nil
}

// CommitOptions names the repository a container's filesystem is committed
// to, and how the resulting image is annotated.
type CommitOptions struct {
	Repo    string
	Tag     string
	Comment string
	Author  string
	Config  *container.Config
}

// CommitContainer commits the container's filesystem as a new image.
func (c *Client) CommitContainer(ctx context.Context, containerID string, options CommitOptions) (container.CommitResponse, error) {
	if options.Repo == "" {
		return container.CommitResponse{}, &ConfigError{Message: "commit repo cannot be empty"}
	}

	query := url.Values{}
	query.Set("container", containerID)
	query.Set("repo", options.Repo)
	if options.Tag != "" {
		query.Set("tag", options.Tag)
	}
	if options.Comment != "" {
		query.Set("comment", options.Comment)
	}
	if options.Author != "" {
		query.Set("author", options.Author)
	}

	level.Info(c.logger).Log("msg", "committing container", "container", containerID, "repo", options.Repo)

	config := options.Config
	if config == nil {
		config = &container.Config{}
	}
	body, err := jsonBody(config)
	if err != nil {
		return container.CommitResponse{}, err
	}

	var creation container.CommitResponse
	err = c.doJSON(ctx, c.pool, request{
		method:      http.MethodPost,
		path:        "/commit",
		query:       query,
		body:        body,
		contentType: "application/json",
	}, &creation)
	if err != nil {
		return container.CommitResponse{}, containerNotFound(containerID, err)
	}
	return creation, nil
}

// ExportContainer streams the container's filesystem as a tar archive.
// Closing the returned reader releases the underlying connection.
func (c *Client) ExportContainer(ctx context.Context, containerID string) (io.ReadCloser, error) {
	body, err := c.doStream(ctx, c.pool, request{method: http.MethodGet, path: "/containers/" + containerID + "/export"})
	if err != nil {
		return nil, containerNotFound(containerID, err)
	}
	return body, nil
}

// CopyContainer streams a resource out of the container as a tar archive.
// Closing the returned reader releases the underlying connection.
func (c *Client) CopyContainer(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	// Inline payload; not worth a named type.
	body, err := jsonBody(map[string]string{"Resource": path})
	if err != nil {
		return nil, err
	}

	stream, err := c.doStream(ctx, c.pool, request{
		method:      http.MethodPost,
		path:        "/containers/" + containerID + "/copy",
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return nil, containerNotFound(containerID, err)
	}
	return stream, nil
}

// LogsOption selects which channels and behaviors a Logs call carries.
type LogsOption func(query url.Values)

// LogsStdout includes the container's standard output.
func LogsStdout() LogsOption {
	return func(query url.Values) { query.Set("stdout", "1") }
}

// LogsStderr includes the container's standard error.
func LogsStderr() LogsOption {
	return func(query url.Values) { query.Set("stderr", "1") }
}

// LogsTimestamps prefixes every line with its timestamp.
func LogsTimestamps() LogsOption {
	return func(query url.Values) { query.Set("timestamps", "1") }
}

// FollowLogs keeps the stream open as the container produces more output.
func FollowLogs() LogsOption {
	return func(query url.Values) { query.Set("follow", "1") }
}

// Logs opens the container's log stream in the engine's raw multiplexed
// format. The caller must Close the returned stream; Attach and ReadFully
// close it themselves.
func (c *Client) Logs(ctx context.Context, containerID string, options ...LogsOption) (*LogStream, error) {
	query := url.Values{}
	for _, option := range options {
		option(query)
	}

	r := request{
		method:  http.MethodGet,
		path:    "/containers/" + containerID + "/logs",
		query:   query,
		headers: http.Header{"Accept": []string{"application/vnd.docker.raw-stream"}},
	}

	resp, done, err := c.do(ctx, c.pool, r)
	if err != nil {
		return nil, containerNotFound(containerID, err)
	}
	return newLogStream(r.method, c.requestURL(r), resp.Body, done), nil
}

// AttachOption selects which channels an AttachContainer call carries.
type AttachOption func(query url.Values)

// AttachLogs replays output produced before the attach.
func AttachLogs() AttachOption {
	return func(query url.Values) { query.Set("logs", "1") }
}

// AttachStream streams output produced after the attach.
func AttachStream() AttachOption {
	return func(query url.Values) { query.Set("stream", "1") }
}

// AttachStdin attaches the container's standard input.
func AttachStdin() AttachOption {
	return func(query url.Values) { query.Set("stdin", "1") }
}

// AttachStdout attaches the container's standard output.
func AttachStdout() AttachOption {
	return func(query url.Values) { query.Set("stdout", "1") }
}

// AttachStderr attaches the container's standard error.
func AttachStderr() AttachOption {
	return func(query url.Values) { query.Set("stderr", "1") }
}

// AttachContainer attaches to the container's output streams in the
// engine's raw multiplexed format. The caller must Close the returned
// stream; Attach and ReadFully close it themselves.
func (c *Client) AttachContainer(ctx context.Context, containerID string, options ...AttachOption) (*LogStream, error) {
	query := url.Values{}
	for _, option := range options {
		option(query)
	}

	r := request{
		method:  http.MethodPost,
		path:    "/containers/" + containerID + "/attach",
		query:   query,
		headers: http.Header{"Accept": []string{"application/vnd.docker.raw-stream"}},
	}

	resp, done, err := c.do(ctx, c.pool, r)
	if err != nil {
		return nil, containerNotFound(containerID, err)
	}
	return newLogStream(r.method, c.requestURL(r), resp.Body, done), nil
}
