package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raine/sportdesk/internal/api"
	"github.com/raine/sportdesk/internal/auth"
	"github.com/raine/sportdesk/internal/query"
	"github.com/raine/sportdesk/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer mimics the auth endpoints. Sign-in accepts a@b.com/x and
// issues signInToken; refresh issues refreshToken or fails when it is empty.
type fakeAuthServer struct {
	mu           sync.Mutex
	valid        string
	signInToken  string
	tokenInBody  bool
	refreshToken string

	meDelay time.Duration

	meCalls      atomic.Int32
	refreshCalls atomic.Int32
}

func (s *fakeAuthServer) update(fn func(s *fakeAuthServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/auth/sign-in", "/auth/sign-up":
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["email"] != "a@b.com" || creds["password"] != "x" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
			return
		}
		s.mu.Lock()
		s.valid = s.signInToken
		inBody := s.tokenInBody
		s.mu.Unlock()
		if inBody {
			w.Write([]byte(`{"success":true,"data":{"accessToken":"` + s.signInToken + `"}}`))
			return
		}
		w.Header().Set("Authorization", "Bearer "+s.signInToken)
		w.Write([]byte(`{"success":true}`))
	case "/auth/refresh":
		s.refreshCalls.Add(1)
		s.mu.Lock()
		next := s.refreshToken
		if next != "" {
			s.valid = next
		}
		s.mu.Unlock()
		if next == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Authorization", "Bearer "+next)
	case "/auth/get-current-user":
		s.meCalls.Add(1)
		s.mu.Lock()
		ok := s.valid != "" && r.Header.Get("Authorization") == "Bearer "+s.valid
		delay := s.meDelay
		s.mu.Unlock()
		time.Sleep(delay)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"message":"Unauthorized"}`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{"id":"u1","email":"a@b.com","name":"Ada","role":"coach"}}`))
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	server  *fakeAuthServer
	backend *storage.MemoryStore
	store   *auth.Store
	client  *api.Client
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := &fakeAuthServer{signInToken: "abc123"}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	backend := storage.NewMemoryStore()
	store := auth.NewStore(backend, auth.StoreOptions{})
	t.Cleanup(store.Close)

	client, err := api.NewClient(api.ClientOpts{BaseURL: ts.URL, Timeout: 5 * time.Second}, store)
	require.NoError(t, err)

	return &fixture{
		server:  srv,
		backend: backend,
		store:   store,
		client:  client,
		manager: NewManager(client, query.NewCache(time.Minute)),
	}
}

func TestSignInThenSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.manager.SignIn(ctx, Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	token, ok := f.store.Get()
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)

	saved, ok, err := f.backend.Get(ctx, auth.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", saved)

	f.manager.SignOut()

	_, ok = f.store.Get()
	assert.False(t, ok)
	_, ok, err = f.backend.Get(ctx, auth.StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignIn_TokenFromBody(t *testing.T) {
	f := newFixture(t)
	f.server.update(func(s *fakeAuthServer) { s.tokenInBody = true })

	resp, err := f.manager.SignIn(context.Background(), Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	token, _ := f.store.Get()
	assert.Equal(t, "abc123", token)
}

func TestSignIn_WrongPassword(t *testing.T) {
	f := newFixture(t)

	resp, err := f.manager.SignIn(context.Background(), Credentials{Email: "a@b.com", Password: "nope"})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, "Invalid credentials", resp.Envelope.Message)

	_, ok := f.store.Get()
	assert.False(t, ok)
	assert.Equal(t, int32(0), f.server.refreshCalls.Load())
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)

	resp, err := f.manager.SignUp(context.Background(), SignUpRequest{Name: "Ada", Email: "a@b.com", Password: "x"})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	token, _ := f.store.Get()
	assert.Equal(t, "abc123", token)
}

func TestCurrentUser_NoTokenSkipsNetwork(t *testing.T) {
	f := newFixture(t)

	user, err := f.manager.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, int32(0), f.server.meCalls.Load())
}

func TestCurrentUser_CachedAfterSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = f.manager.SignIn(ctx, Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	user, err = f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, User{ID: "u1", Email: "a@b.com", Name: "Ada", Role: "coach"}, *user)

	_, err = f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.server.meCalls.Load())
}

func TestCurrentUser_RefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.server.update(func(s *fakeAuthServer) {
		s.valid = "current"
		s.refreshToken = "new1"
	})
	f.store.Set("expired")

	user, err := f.manager.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)

	assert.Equal(t, int32(1), f.server.refreshCalls.Load())
	assert.Equal(t, int32(2), f.server.meCalls.Load())
	token, _ := f.store.Get()
	assert.Equal(t, "new1", token)
}

func TestCurrentUser_RefreshFailureEndsSession(t *testing.T) {
	f := newFixture(t)
	f.server.update(func(s *fakeAuthServer) { s.valid = "current" })
	f.store.Set("expired")

	user, err := f.manager.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)

	assert.Equal(t, int32(1), f.server.refreshCalls.Load())
	assert.Equal(t, int32(1), f.server.meCalls.Load())
	_, ok := f.store.Get()
	assert.False(t, ok)
}

func TestCurrentUser_ConcurrentReadersShareOneFetch(t *testing.T) {
	f := newFixture(t)
	f.server.update(func(s *fakeAuthServer) { s.meDelay = 50 * time.Millisecond })
	_, err := f.manager.SignIn(context.Background(), Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := f.manager.CurrentUser(context.Background())
			assert.NoError(t, err)
			assert.NotNil(t, user)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.server.meCalls.Load())
}

func TestSignOut_EvictsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.manager.SignIn(ctx, Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	user, err := f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)

	f.manager.SignOut()

	_, ok := f.manager.Cache().Get(CurrentUserKey)
	assert.False(t, ok)
	user, err = f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, int32(1), f.server.meCalls.Load())
}

func TestCurrentUser_ClearedWhenRequestEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.manager.SignIn(ctx, Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	user, err := f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	_, err = query.Query(ctx, f.manager.Cache(), DashboardPrefix+"clubs", func(context.Context) (int, error) {
		return 3, nil
	})
	require.NoError(t, err)

	// server revokes the token and the refresh cookie
	f.server.update(func(s *fakeAuthServer) { s.valid = "" })

	resp, err := f.client.FetchJSON(ctx, http.MethodGet, f.client.AuthURL("/get-current-user"), nil, api.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, ok := f.store.Get()
	require.False(t, ok)

	_, ok = f.manager.Cache().Get(DashboardPrefix + "clubs")
	assert.False(t, ok)
	user, err = f.manager.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, int32(2), f.server.meCalls.Load())
}

func TestCurrentUser_CallerCancelKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.server.update(func(s *fakeAuthServer) {
		s.valid = "current"
		s.refreshToken = "new1"
	})
	f.store.Set("expired")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.manager.CurrentUser(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	user, err := f.manager.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	token, _ := f.store.Get()
	assert.Equal(t, "new1", token)
}
