package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrRefreshFailed wraps every failure of the refresh operation.
var ErrRefreshFailed = errors.New("token refresh failed")

// HTTPRefresher calls the refresh endpoint. The refresh credential travels as
// an HTTP-only cookie in the client's cookie jar; the current access token is
// never attached, since it may already be expired.
//
// Concurrent Refresh calls share one request.
type HTTPRefresher struct {
	client   *resty.Client
	endpoint string
	store    *Store
	group    singleflight.Group
}

// NewHTTPRefresher creates a refresher posting to endpoint with client and
// writing new tokens into store. The client must carry the cookie jar holding
// the refresh credential.
func NewHTTPRefresher(client *resty.Client, endpoint string, store *Store) *HTTPRefresher {
	return &HTTPRefresher{
		client:   client,
		endpoint: endpoint,
		store:    store,
	}
}

// Refresh obtains a new access token and stores it. Callers that arrive while
// a refresh is in flight wait for that one instead of starting their own.
func (r *HTTPRefresher) Refresh(ctx context.Context) error {
	// The shared request must not die with whichever caller started it
	ch := r.group.DoChan("refresh", func() (any, error) {
		return nil, r.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	}
}

func (r *HTTPRefresher) refresh(ctx context.Context) error {
	epoch := r.store.clearEpoch()

	log.Debug().Str("endpoint", r.endpoint).Msg("refreshing access token")

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Post(r.endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode())
	}

	token := ExtractBearer(resp.Header())
	if token == "" {
		token = TokenFromJSON(resp.Body())
	}
	if token == "" {
		return fmt.Errorf("%w: no access token in response", ErrRefreshFailed)
	}

	if !r.store.setUnlessCleared(epoch, token) {
		return fmt.Errorf("%w: session cleared during refresh", ErrRefreshFailed)
	}

	log.Debug().Msg("access token refreshed")
	return nil
}
