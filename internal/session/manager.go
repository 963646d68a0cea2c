// Package session exposes the signed-in identity: a cached current-user query
// and the sign-in, sign-up and sign-out mutations that change it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/raine/sportdesk/internal/api"
	"github.com/raine/sportdesk/internal/auth"
	"github.com/raine/sportdesk/internal/query"
	"github.com/rs/zerolog/log"
)

const (
	// CurrentUserKey is the cache key of the identity query.
	CurrentUserKey = "currentUser"
	// DashboardPrefix prefixes every cache key that depends on who is signed in.
	DashboardPrefix = "dashboard/"

	pathSignIn      = "/sign-in"
	pathSignUp      = "/sign-up"
	pathCurrentUser = "/get-current-user"
)

// User is the signed-in account as returned by the identity endpoint.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Credentials is the sign-in request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest is the sign-up request body.
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Manager runs the identity query and the session mutations against one
// client and cache.
type Manager struct {
	client *api.Client
	cache  *query.Cache
}

// NewManager creates a manager. Whenever the client's token store is cleared,
// including by a failed refresh deep inside a request, the identity and every
// dashboard query are evicted from cache.
func NewManager(client *api.Client, cache *query.Cache) *Manager {
	m := &Manager{client: client, cache: cache}
	client.Store().OnClear(m.evict)
	return m
}

func (m *Manager) evict() {
	m.cache.Remove(CurrentUserKey)
	m.cache.RemovePrefix(DashboardPrefix)
}

// Cache returns the query cache shared with identity-dependent queries.
func (m *Manager) Cache() *query.Cache {
	return m.cache
}

// CurrentUser returns the signed-in user, or nil when there is no valid
// session. A session whose token can no longer be refreshed is ended here.
func (m *Manager) CurrentUser(ctx context.Context) (*User, error) {
	return query.Query(ctx, m.cache, CurrentUserKey, m.fetchCurrentUser)
}

func (m *Manager) fetchCurrentUser(ctx context.Context) (*User, error) {
	store := m.client.Store()
	if _, ok := store.Get(); !ok {
		return nil, nil
	}

	// A 401 is refreshed below; a failed refresh ends the session with a nil
	// user instead of an error.
	opts := api.RequestOptions{NoRefresh: true}
	url := m.client.AuthURL(pathCurrentUser)

	resp, err := m.client.FetchJSON(ctx, http.MethodGet, url, nil, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if err := m.client.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Info().Err(err).Msg("session expired")
			store.Clear()
			return nil, nil
		}
		resp, err = m.client.FetchJSON(ctx, http.MethodGet, url, nil, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch current user: %w", err)
		}
	}

	if !resp.OK() {
		log.Debug().Int("status", resp.StatusCode).Str("message", resp.Envelope.Message).
			Msg("no current user")
		return nil, nil
	}

	var user User
	if err := resp.DecodeData(&user); err != nil {
		if errors.Is(err, api.ErrNoData) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// SignIn posts credentials to the sign-in endpoint. Business failures such as
// wrong passwords are reported through the returned envelope.
func (m *Manager) SignIn(ctx context.Context, creds Credentials) (*api.JSONResponse, error) {
	return m.authenticate(ctx, pathSignIn, creds)
}

// SignUp registers a new account and signs it in.
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (*api.JSONResponse, error) {
	return m.authenticate(ctx, pathSignUp, req)
}

func (m *Manager) authenticate(ctx context.Context, path string, body any) (*api.JSONResponse, error) {
	resp, err := m.client.FetchJSON(ctx, http.MethodPost, m.client.AuthURL(path), body, api.RequestOptions{SkipAuth: true})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, nil
	}

	// Do has already stored a token sent in the Authorization header
	if auth.ExtractBearer(resp.Header) == "" {
		if token := auth.TokenFromJSON(resp.Raw); token != "" {
			m.client.Store().Set(token)
		}
	}

	m.cache.Invalidate(CurrentUserKey)
	m.cache.InvalidatePrefix(DashboardPrefix)
	return resp, nil
}

// SignOut ends the session locally. Server-side session termination is not
// part of this. Clearing the store evicts the cached identity.
func (m *Manager) SignOut() {
	m.client.Store().Clear()
}
