// Package dashboard reads and edits the management resources (facilities,
// coaches, clubs, events and participants) through the authenticated API
// client. Reads are cached per resource and mutations invalidate them.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/raine/sportdesk/internal/api"
	"github.com/raine/sportdesk/internal/query"
	"github.com/raine/sportdesk/internal/session"
	"golang.org/x/sync/errgroup"
)

type Resource string

const (
	Facilities   Resource = "facilities"
	Coaches      Resource = "coaches"
	Clubs        Resource = "clubs"
	Events       Resource = "events"
	Participants Resource = "participants"
)

// Resources lists every resource in display order.
var Resources = []Resource{Facilities, Coaches, Clubs, Events, Participants}

// APIError is a request the backend answered with a failure.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %s %s (status: %d)", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("request failed: %s %s (status: %d): %s", e.Method, e.Path, e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client reads and writes dashboard resources through the shared query cache.
type Client struct {
	api   *api.Client
	cache *query.Cache
}

// NewClient creates a dashboard client on top of apiClient.
func NewClient(apiClient *api.Client, cache *query.Cache) *Client {
	return &Client{api: apiClient, cache: cache}
}

func (r Resource) path() string {
	return "/" + string(r)
}

func (r Resource) itemPath(id string) string {
	return r.path() + "/" + url.PathEscape(id)
}

func (r Resource) key() string {
	return session.DashboardPrefix + string(r)
}

func (r Resource) itemKey(id string) string {
	return r.key() + "/" + id
}

// List returns every item of resource r.
func List[T any](ctx context.Context, c *Client, r Resource) ([]T, error) {
	data, err := c.read(ctx, r.key(), r.path())
	if err != nil {
		return nil, err
	}
	var items []T
	if err := decode(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", r, err)
	}
	return items, nil
}

// Get returns one item of resource r.
func Get[T any](ctx context.Context, c *Client, r Resource, id string) (T, error) {
	var item T
	data, err := c.read(ctx, r.itemKey(id), r.itemPath(id))
	if err != nil {
		return item, err
	}
	if err := decode(data, &item); err != nil {
		return item, fmt.Errorf("failed to decode %s %s: %w", r, id, err)
	}
	return item, nil
}

// Create posts body to resource r and returns the created item.
func Create[T any](ctx context.Context, c *Client, r Resource, body any) (T, error) {
	return mutate[T](ctx, c, r, http.MethodPost, r.path(), body)
}

// Update replaces item id of resource r.
func Update[T any](ctx context.Context, c *Client, r Resource, id string, body any) (T, error) {
	return mutate[T](ctx, c, r, http.MethodPut, r.itemPath(id), body)
}

// Delete removes item id of resource r.
func (c *Client) Delete(ctx context.Context, r Resource, id string) error {
	_, err := c.send(ctx, http.MethodDelete, r.itemPath(id), nil)
	c.cache.InvalidatePrefix(r.key())
	return err
}

func mutate[T any](ctx context.Context, c *Client, r Resource, method, path string, body any) (T, error) {
	var item T
	resp, err := c.send(ctx, method, path, body)
	// invalidate even when the mutation failed
	c.cache.InvalidatePrefix(r.key())
	if err != nil {
		return item, err
	}
	if err := resp.DecodeData(&item); err != nil && !errors.Is(err, api.ErrNoData) {
		return item, err
	}
	return item, nil
}

func (c *Client) read(ctx context.Context, key, path string) (json.RawMessage, error) {
	return query.Query(ctx, c.cache, key, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := c.send(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		return resp.Envelope.Data, nil
	})
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*api.JSONResponse, error) {
	resp, err := c.api.FetchJSON(ctx, method, path, body, api.RequestOptions{})
	return handleError(method, path, resp, err)
}

// handleError turns failed responses into an *APIError. Without it a failed
// response comes back with a nil error.
func handleError(method, path string, resp *api.JSONResponse, err error) (*api.JSONResponse, error) {
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !resp.OK() {
		msg := resp.Envelope.Message
		if msg == "" && resp.ParseErr != nil {
			msg = "unreadable response"
		}
		return resp, &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Counts is the number of items per resource.
type Counts map[Resource]int

// Overview loads every resource list concurrently and counts the items.
func (c *Client) Overview(ctx context.Context) (Counts, error) {
	counts := make([]int, len(Resources))

	g, ctx := errgroup.WithContext(ctx)
	for i, r := range Resources {
		g.Go(func() error {
			items, err := List[json.RawMessage](ctx, c, r)
			if err != nil {
				return err
			}
			counts[i] = len(items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(Counts, len(Resources))
	for i, r := range Resources {
		out[r] = counts[i]
	}
	return out, nil
}
