// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scenelink/scenelink/pkg/core"
)

// Collection is the body of every route that returns the scene list.
type Collection struct {
	Scenes  []core.SceneDescriptor `json:"scenes"`
	Version uint64                 `json:"version"`
	Bound   string                 `json:"bound"`
}

// FlushResult reports where a remote flush wrote the collection.
type FlushResult struct {
	Bound  bool   `json:"bound"`
	Target string `json:"target"`
	Path   string `json:"path"`
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// Client talks to a running scenelink server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) List(ctx context.Context) (Collection, error) {
	var out Collection
	err := c.call(ctx, http.MethodGet, "/api/scenes", nil, nil, &out)
	return out, err
}

// Save creates or updates d. A non-zero version makes the save conditional
// on the collection not having changed since that version.
func (c *Client) Save(ctx context.Context, d core.SceneDescriptor, version uint64) (Collection, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return Collection{}, fmt.Errorf("failed to encode scene: %w", err)
	}
	header := http.Header{"Content-Type": {"application/json"}}
	if version > 0 {
		header.Set(VersionHeader, strconv.FormatUint(version, 10))
	}
	var out Collection
	err = c.call(ctx, http.MethodPost, "/api/scenes", bytes.NewReader(body), header, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id core.ID) (Collection, error) {
	var out Collection
	err := c.call(ctx, http.MethodDelete, "/api/scenes/"+url.PathEscape(string(id)), nil, nil, &out)
	return out, err
}

// Import replaces the remote collection with the snapshot read from r.
func (c *Client) Import(ctx context.Context, r io.Reader) (Collection, error) {
	var out Collection
	header := http.Header{"Content-Type": {"application/json"}}
	err := c.call(ctx, http.MethodPost, "/api/scenes/import", r, header, &out)
	return out, err
}

// Export streams the remote snapshot into w.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/scenes/export", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	return nil
}

func (c *Client) Flush(ctx context.Context) (FlushResult, error) {
	var out FlushResult
	err := c.call(ctx, http.MethodPost, "/api/scenes/flush", nil, nil, &out)
	return out, err
}

// Bind asks the server to bind the file at path. An empty path declines.
func (c *Client) Bind(ctx context.Context, path string) (Collection, error) {
	body, err := json.Marshal(bindRequest{Path: path})
	if err != nil {
		return Collection{}, err
	}
	var out Collection
	header := http.Header{"Content-Type": {"application/json"}}
	err = c.call(ctx, http.MethodPost, "/api/binding", bytes.NewReader(body), header, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader, header http.Header, out any) error {
	resp, err := c.do(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&failure)
		return nil, &StatusError{Status: resp.StatusCode, Message: failure.Error}
	}
	return resp, nil
}
