package auth

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raine/sportdesk/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefresher(t *testing.T, handler http.HandlerFunc) (*HTTPRefresher, *Store, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, _ := url.Parse(ts.URL)
	jar.SetCookies(u, []*http.Cookie{{Name: "rt", Value: "refresh-cookie", Path: "/"}})

	store, _ := newTestStore(t, storage.NewMemoryStore(), StoreOptions{})
	client := resty.New().SetCookieJar(jar).SetTimeout(5 * time.Second)
	return NewHTTPRefresher(client, ts.URL+"/auth/refresh", store), store, ts
}

func TestRefresh_TokenFromHeader(t *testing.T) {
	var req *http.Request
	r, store, _ := newTestRefresher(t, func(w http.ResponseWriter, rq *http.Request) {
		req = rq
		w.Header().Set("Authorization", "Bearer T2")
		w.WriteHeader(http.StatusOK)
	})
	store.Set("expired")

	require.NoError(t, r.Refresh(context.Background()))

	token, ok := store.Get()
	assert.True(t, ok)
	assert.Equal(t, "T2", token)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/auth/refresh", req.URL.Path)
	assert.Empty(t, req.Header.Get("Authorization"), "refresh must not send the access token")
	cookie, err := req.Cookie("rt")
	require.NoError(t, err)
	assert.Equal(t, "refresh-cookie", cookie.Value)
}

func TestRefresh_TokenFromBody(t *testing.T) {
	r, store, _ := newTestRefresher(t, func(w http.ResponseWriter, rq *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"accessToken":"new1"}}`))
	})

	require.NoError(t, r.Refresh(context.Background()))
	token, _ := store.Get()
	assert.Equal(t, "new1", token)
}

func TestRefresh_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"no token", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"data":{}}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, _ := newTestRefresher(t, tt.handler)
			store.Set("old")

			err := r.Refresh(context.Background())
			assert.ErrorIs(t, err, ErrRefreshFailed)

			// the refresh operation itself never clears the session
			token, ok := store.Get()
			assert.True(t, ok)
			assert.Equal(t, "old", token)
		})
	}
}

func TestRefresh_NetworkError(t *testing.T) {
	r, _, ts := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {})
	ts.Close()

	err := r.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefresh_SingleFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	r, store, _ := newTestRefresher(t, func(w http.ResponseWriter, rq *http.Request) {
		hits.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Authorization", "Bearer shared")
	})

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Refresh(context.Background())
		}(i)
	}

	<-entered
	// let the remaining callers join the in-flight refresh
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	token, _ := store.Get()
	assert.Equal(t, "shared", token)
}

func TestRefresh_CallerCancelDoesNotAbortSharedRefresh(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	r, store, _ := newTestRefresher(t, func(w http.ResponseWriter, rq *http.Request) {
		close(entered)
		<-release
		w.Header().Set("Authorization", "Bearer survived")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Refresh(ctx) }()

	<-entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// a second caller joins the same flight and sees it complete
	second := make(chan error, 1)
	go func() { second <- r.Refresh(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-second)
	token, _ := store.Get()
	assert.Equal(t, "survived", token)
}

func TestRefresh_ClearedDuringRefresh(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	r, store, _ := newTestRefresher(t, func(w http.ResponseWriter, rq *http.Request) {
		close(entered)
		<-release
		w.Header().Set("Authorization", "Bearer late")
	})
	store.Set("t1")

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()

	<-entered
	store.Clear()
	close(release)

	assert.ErrorIs(t, <-done, ErrRefreshFailed)
	_, ok := store.Get()
	assert.False(t, ok, "sign-out must not be undone by a late refresh")
}
