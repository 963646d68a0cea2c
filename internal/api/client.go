// Package api wraps HTTP calls to the sportdesk backend with access token
// handling: the current token is attached, rotated tokens in responses are
// captured, and a 401 triggers one refresh followed by one retry.
package api

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/raine/sportdesk/internal/auth"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 30 * time.Second

	userAgent = "sportdesk/1.0"

	pathRefresh = "/refresh"
)

// RequestOptions controls token handling for one call.
type RequestOptions struct {
	// SkipAuth sends no Authorization header and disables refresh-on-401.
	SkipAuth bool
	// OmitCredentials sends the request without cookies.
	OmitCredentials bool
	// NoRefresh returns a 401 as-is instead of refreshing and retrying.
	// For callers that handle expiry themselves.
	NoRefresh bool
}

// ClientOpts configures NewClient.
type ClientOpts struct {
	// BaseURL is the root for relative request paths.
	BaseURL string
	// AuthBaseURL is the root of the auth endpoints. Defaults to BaseURL + "/auth".
	AuthBaseURL string
	Timeout     time.Duration
	// Jar holds the refresh credential cookie. A fresh in-memory jar is used
	// when nil.
	Jar http.CookieJar
}

// Client performs authenticated requests against the backend.
type Client struct {
	http      *resty.Client // sends cookies
	anon      *resty.Client // never sends cookies
	store     *auth.Store
	refresher auth.Refresher
	authBase  string
}

// NewClient creates a client using store for the access token. It also wires
// the refresh operation into store so the background timer can use it.
func NewClient(opts ClientOpts, store *auth.Store) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	authBase := strings.TrimRight(opts.AuthBaseURL, "/")
	if authBase == "" {
		authBase = baseURL + "/auth"
	}

	jar := opts.Jar
	if jar == nil {
		j, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		jar = j
	}

	c := &Client{
		http:     newRestyClient(baseURL, opts.Timeout).SetCookieJar(jar),
		anon:     newRestyClient(baseURL, opts.Timeout).SetCookieJar(nil),
		store:    store,
		authBase: authBase,
	}

	refresher := auth.NewHTTPRefresher(c.http, c.AuthURL(pathRefresh), store)
	c.refresher = refresher
	store.SetRefresher(refresher)

	return c, nil
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetDebug(false).
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"User-Agent": userAgent,
		})
}

// AuthURL returns the absolute URL of an auth endpoint such as "/sign-in".
func (c *Client) AuthURL(path string) string {
	return c.authBase + path
}

// Store returns the token store the client reads and writes.
func (c *Client) Store() *auth.Store {
	return c.store
}

// Refresh runs the refresh operation directly.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresher.Refresh(ctx)
}

// Do performs one logical request. path may be relative to BaseURL or
// absolute. The caller never has to deal with token refresh: at most one
// refresh and one retry happen inside.
//
// A non-nil error means the request could not be performed at all, including
// when ctx ends while waiting for a refresh; HTTP error statuses are returned
// as responses.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, header http.Header, opts RequestOptions) (*resty.Response, error) {
	requestID := uuid.NewString()

	resp, err := c.send(ctx, method, path, body, header, opts, requestID)
	if err != nil {
		return nil, err
	}
	c.captureRotation(resp)

	if resp.StatusCode() != http.StatusUnauthorized || opts.SkipAuth || opts.NoRefresh {
		return resp, nil
	}

	log.Debug().Str("method", method).Str("path", path).Str("requestId", requestID).
		Msg("got 401, refreshing access token")

	if err := c.refresher.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			// Only this caller gave up; the shared refresh keeps running and
			// the session stays as it is.
			return nil, err
		}
		log.Info().Err(err).Msg("token refresh failed, ending session")
		c.store.Clear()
		return resp, nil
	}

	retry, err := c.send(ctx, method, path, body, header, opts, requestID)
	if err != nil {
		return nil, err
	}
	c.captureRotation(retry)

	return retry, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, header http.Header, opts RequestOptions, requestID string) (*resty.Response, error) {
	client := c.http
	if opts.OmitCredentials {
		client = c.anon
	}

	req := client.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", requestID)

	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	if !opts.SkipAuth {
		if token, ok := c.store.Get(); ok {
			req.SetAuthToken(token)
		}
	}

	if body != nil {
		req.SetBody(body)
	}

	return req.Execute(method, path)
}

// captureRotation stores a token the server put into the response. Any
// endpoint may extend the session this way.
func (c *Client) captureRotation(resp *resty.Response) {
	token := auth.ExtractBearer(resp.Header())
	if token == "" {
		return
	}
	if current, ok := c.store.Get(); ok && current == token {
		return
	}
	log.Debug().Msg("captured rotated access token")
	c.store.Set(token)
}
