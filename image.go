package stevedore

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/goccy/go-json"
	"github.com/moby/moby/api/types/image"
)

// ImageRef is an image reference split into name and optional tag. A colon
// that belongs to a registry address (one before the last slash) is not a
// tag separator.
type ImageRef struct {
	name string
	tag  string
}

// ParseImageRef splits an image reference of the form name[:tag].
func ParseImageRef(ref string) ImageRef {
	lastColon := strings.LastIndex(ref, ":")
	if lastColon >= 0 && !strings.Contains(ref[lastColon:], "/") {
		return ImageRef{name: ref[:lastColon], tag: ref[lastColon+1:]}
	}
	return ImageRef{name: ref}
}

// Name returns the repository part of the reference.
func (r ImageRef) Name() string { return r.name }

// Tag returns the tag part of the reference, or "" when none was given.
func (r ImageRef) Tag() string { return r.tag }

func (r ImageRef) String() string {
	if r.tag == "" {
		return r.name
	}
	return r.name + ":" + r.tag
}

// ListImagesOption narrows or extends a ListImages query.
type ListImagesOption func(query url.Values)

// AllImages includes intermediate layers in the listing.
func AllImages() ListImagesOption {
	return func(query url.Values) { query.Set("all", "1") }
}

// DanglingImages restricts the listing to unreferenced layers. Filters
// ride the query as a JSON object, filters={"dangling":["true"]}.
func DanglingImages() ListImagesOption {
	return func(query url.Values) { query.Set("filters", `{"dangling":["true"]}`) }
}

// ListImages lists images known to the engine.
func (c *Client) ListImages(ctx context.Context, options ...ListImagesOption) ([]image.Summary, error) {
	query := url.Values{}
	for _, option := range options {
		option(query)
	}

	var images []image.Summary
	err := c.doJSON(ctx, c.pool, request{method: http.MethodGet, path: "/images/json", query: query}, &images)
	if err != nil {
		return nil, err
	}
	return images, nil
}

// InspectImage returns the engine's full view of an image.
func (c *Client) InspectImage(ctx context.Context, ref string) (image.InspectResponse, error) {
	var info image.InspectResponse
	err := c.doJSON(ctx, c.pool, request{method: http.MethodGet, path: "/images/" + ref + "/json"}, &info)
	if err != nil {
		return image.InspectResponse{}, imageNotFound(ref, err)
	}
	return info, nil
}

// RemoveImage untags the image and deletes any layers no longer
// referenced. force removes even when containers use the image; noPrune
// keeps untagged parent layers.
func (c *Client) RemoveImage(ctx context.Context, ref string, force, noPrune bool) ([]image.DeleteResponse, error) {
	query := url.Values{}
	query.Set("force", strconv.FormatBool(force))
	query.Set("noprune", strconv.FormatBool(noPrune))

	var removed []image.DeleteResponse
	err := c.doJSON(ctx, c.pool, request{method: http.MethodDelete, path: "/images/" + ref, query: query}, &removed)
	if err != nil {
		return nil, imageNotFound(ref, err)
	}
	return removed, nil
}

// Tag applies a new name[:tag] to an existing image.
func (c *Client) Tag(ctx context.Context, ref, name string) error {
	target := ParseImageRef(name)

	query := url.Values{}
	query.Set("repo", target.Name())
	if target.Tag() != "" {
		query.Set("tag", target.Tag())
	}

	err := c.doJSON(ctx, c.pool, request{method: http.MethodPost, path: "/images/" + ref + "/tag", query: query}, nil)
	if err != nil {
		return imageNotFound(ref, err)
	}
	return nil
}

// Pull pulls an image from a registry, streaming progress through handler.
func (c *Client) Pull(ctx context.Context, ref string, handler ProgressHandler) error {
	parsed := ParseImageRef(ref)

	query := url.Values{}
	query.Set("fromImage", parsed.Name())
	if parsed.Tag() != "" {
		query.Set("tag", parsed.Tag())
	}

	header, err := c.authHeader()
	if err != nil {
		return err
	}

	level.Info(c.logger).Log("msg", "pulling image", "image", ref)

	r := request{
		method:  http.MethodPost,
		path:    "/images/create",
		query:   query,
		headers: http.Header{"X-Registry-Auth": []string{header}},
	}

	resp, done, err := c.do(ctx, c.pool, r)
	if err != nil {
		return err
	}

	stream := newProgressStream(r.method, c.requestURL(r), resp.Body, done)
	_, err = stream.Tail(handler)
	return err
}

// Push pushes an image to a registry, streaming progress through handler.
func (c *Client) Push(ctx context.Context, ref string, handler ProgressHandler) error {
	parsed := ParseImageRef(ref)

	query := url.Values{}
	if parsed.Tag() != "" {
		query.Set("tag", parsed.Tag())
	}

	header, err := c.authHeader()
	if err != nil {
		return err
	}

	level.Info(c.logger).Log("msg", "pushing image", "image", ref)

	r := request{
		method:  http.MethodPost,
		path:    "/images/" + parsed.Name() + "/push",
		query:   query,
		headers: http.Header{"X-Registry-Auth": []string{header}},
	}

	resp, done, err := c.do(ctx, c.pool, r)
	if err != nil {
		return err
	}

	stream := newProgressStream(r.method, c.requestURL(r), resp.Body, done)
	_, err = stream.Tail(handler)
	return err
}

// authHeader encodes the registry credentials for the X-Registry-Auth
// header. The daemon requires the header to be non-empty even for
// registries without authentication, so an unset config encodes as the
// literal "null".
func (c *Client) authHeader() (string, error) {
	if c.auth == nil {
		return "null", nil
	}

	encoded, err := json.Marshal(c.auth)
	if err != nil {
		return "", &ConfigError{Message: fmt.Sprintf("could not encode registry auth: %v", err)}
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// BuildOption adds a query parameter to a Build call.
type BuildOption func(query url.Values)

// BuildQuiet suppresses verbose build output.
func BuildQuiet() BuildOption {
	return func(query url.Values) { query.Set("q", "true") }
}

// BuildNoCache disables the build cache.
func BuildNoCache() BuildOption {
	return func(query url.Values) { query.Set("nocache", "true") }
}

// BuildNoRemove keeps intermediate containers after the build.
func BuildNoRemove() BuildOption {
	return func(query url.Values) { query.Set("rm", "false") }
}

// BuildForceRemove removes intermediate containers even when the build
// fails.
func BuildForceRemove() BuildOption {
	return func(query url.Values) { query.Set("forcerm", "true") }
}

// Build uploads a compressed tar of directory as the build context, tails
// the progress stream through handler, and returns the identifier of the
// built image. The last message to carry an identifier wins, even when
// later messages omit it. The temporary context archive is deleted
// best-effort once the stream ends; a failure there is logged and never
// masks the build's outcome.
func (c *Client) Build(ctx context.Context, directory, name string, handler ProgressHandler, options ...BuildOption) (string, error) {
	query := url.Values{}
	for _, option := range options {
		option(query)
	}
	if name != "" {
		query.Set("t", name)
	}

	level.Info(c.logger).Log("msg", "building image", "directory", directory, "name", name)

	contextPath, err := compressDirectory(directory)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(contextPath); err != nil {
			level.Warn(c.logger).Log("msg", "failed to remove build context", "path", contextPath, "error", err)
		}
	}()

	file, err := os.Open(contextPath)
	if err != nil {
		return "", fmt.Errorf("failed to reopen build context %q: %w", contextPath, err)
	}
	defer file.Close()

	r := request{
		method:      http.MethodPost,
		path:        "/build",
		query:       query,
		body:        file,
		contentType: "application/tar",
	}

	resp, done, err := c.do(ctx, c.pool, r)
	if err != nil {
		return "", err
	}

	stream := newProgressStream(r.method, c.requestURL(r), resp.Body, done)
	return stream.Tail(handler)
}
