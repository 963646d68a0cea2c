// Package auth implements the access token lifecycle: the token store with its
// durable mirror and background refresh timer, and the refresh operation that
// trades the cookie-held refresh credential for a new access token.
package auth

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/raine/sportdesk/internal/storage"
	"github.com/rs/zerolog/log"
)

// Refresher exchanges the refresh credential for a new access token and
// writes it into the Store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StoreOptions configures token lifetime handling. Zero values fall back to
// the package defaults.
type StoreOptions struct {
	// Lifetime is the assumed lifetime of an access token.
	Lifetime time.Duration
	// RefreshBuffer is subtracted from Lifetime to get the timer interval.
	RefreshBuffer time.Duration
	// RefreshTimeout bounds one background refresh.
	RefreshTimeout time.Duration
	// StorageTimeout bounds one durable storage call.
	StorageTimeout time.Duration
	// MaxProactiveFailures clears the session after that many consecutive
	// background refresh failures. 0 never clears.
	MaxProactiveFailures int
	// DecodeJWTExpiry derives the timer interval from the token's exp claim
	// when the token is a JWT.
	DecodeJWTExpiry bool
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Lifetime <= 0 {
		o.Lifetime = DefaultTokenLifetime
	}
	if o.RefreshBuffer < 0 {
		o.RefreshBuffer = 0
	} else if o.RefreshBuffer == 0 {
		o.RefreshBuffer = DefaultRefreshBuffer
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = DefaultRefreshTimeout
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = DefaultStorageTimeout
	}
	return o
}

// ticker is the part of time.Ticker the refresh timer uses.
type ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }
func (r realTicker) Stop()                 { r.t.Stop() }

func newRealTicker(d time.Duration) ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Store holds the current access token. It is the single source of truth for
// the token within a process: the in-memory value is authoritative and is
// mirrored to a durable backend so a restarted process can pick it up again.
//
// While a token is held, a background timer refreshes it shortly before the
// assumed expiry. At most one timer runs at a time.
type Store struct {
	backend   storage.Backend
	opts      StoreOptions
	newTicker func(time.Duration) ticker

	mu        sync.Mutex
	token     string
	version   uint64 // bumped on every change of token
	clears    uint64 // bumped on every Clear
	refresher Refresher
	onClear   []func()
	stopTimer chan struct{} // non-nil while the timer runs
	failures  int           // consecutive background refresh failures

	// backendStale is set once a write to the backend failed; from then on
	// the backend may hold an outdated token and is no longer read.
	backendStale bool

	persistMu sync.Mutex
	wg        sync.WaitGroup
}

// NewStore creates a token store mirrored to backend. A nil backend keeps the
// token in memory only.
func NewStore(backend storage.Backend, opts StoreOptions) *Store {
	return &Store{
		backend:   backend,
		opts:      opts.withDefaults(),
		newTicker: newRealTicker,
	}
}

// SetRefresher sets the refresh operation used by the background timer.
func (s *Store) SetRefresher(r Refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresher = r
}

// OnClear registers fn to run after every Clear, whoever triggers it: sign-out,
// a failed refresh after a 401, or repeated background refresh failures. fn
// runs without the store's lock held.
func (s *Store) OnClear(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClear = append(s.onClear, fn)
}

// Set replaces the current token and starts the background timer if needed.
// An empty token is the same as Clear.
func (s *Store) Set(token string) {
	if token == "" {
		s.Clear()
		return
	}
	s.mu.Lock()
	s.setLocked(token)
	s.mu.Unlock()
	s.persist()
}

// setUnlessCleared stores token only if Clear has not been called since
// clearEpoch returned epoch. Used by refreshes so that a sign-out during an
// in-flight refresh is not undone when the refresh completes.
func (s *Store) setUnlessCleared(epoch uint64, token string) bool {
	s.mu.Lock()
	if s.clears != epoch {
		s.mu.Unlock()
		return false
	}
	s.setLocked(token)
	s.mu.Unlock()
	s.persist()
	return true
}

func (s *Store) clearEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

func (s *Store) setLocked(token string) {
	s.token = token
	s.version++
	s.failures = 0
	s.startTimerLocked()
}

// Get returns the current token. When nothing is held in memory (for example
// right after a restart) the durable backend is consulted and a stored token
// is adopted. Backend failures are treated as "no token".
func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	token, version, stale := s.token, s.version, s.backendStale
	s.mu.Unlock()

	if token != "" {
		return token, true
	}
	if stale {
		return "", false
	}

	stored, ok := s.load()
	if !ok {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != version {
		// Set or Clear ran while we were reading; memory wins
		return s.token, s.token != ""
	}
	s.setLocked(stored)
	log.Debug().Msg("restored access token from storage")
	return stored, true
}

// Clear forgets the token, removes it from the backend and stops the timer.
// Calling Clear repeatedly is harmless.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = ""
	s.version++
	s.clears++
	s.failures = 0
	s.stopTimerLocked()
	hooks := slices.Clone(s.onClear)
	s.mu.Unlock()
	s.persist()

	for _, fn := range hooks {
		fn()
	}
}

// Close stops the background timer and waits for an in-progress tick to
// finish. The token itself is kept.
func (s *Store) Close() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Store) load() (string, bool) {
	if s.backend == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StorageTimeout)
	defer cancel()

	v, ok, err := s.backend.Get(ctx, StorageKey)
	if err != nil {
		log.Debug().Err(err).Msg("token storage unavailable")
		return "", false
	}
	return v, ok && v != ""
}

// persist mirrors the current in-memory token to the backend. Writes are
// serialized and always write the latest value, so the backend converges on
// whatever memory holds.
func (s *Store) persist() {
	if s.backend == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StorageTimeout)
	defer cancel()

	var err error
	if token == "" {
		err = s.backend.Delete(ctx, StorageKey)
	} else {
		err = s.backend.Set(ctx, StorageKey, token)
	}
	if err != nil {
		log.Debug().Err(err).Msg("token storage unavailable, keeping token in memory only")
		s.mu.Lock()
		s.backendStale = true
		s.mu.Unlock()
	}
}

// refreshInterval returns how often the timer fires for token.
func (s *Store) refreshInterval(token string) time.Duration {
	lifetime := s.opts.Lifetime
	if s.opts.DecodeJWTExpiry {
		if exp, ok := TokenExpiry(token); ok {
			lifetime = time.Until(exp)
		}
	}
	d := lifetime - s.opts.RefreshBuffer
	if d < minRefreshInterval {
		d = minRefreshInterval
	}
	return d
}

func (s *Store) startTimerLocked() {
	if s.stopTimer != nil {
		return
	}
	stop := make(chan struct{})
	s.stopTimer = stop
	interval := s.refreshInterval(s.token)
	t := s.newTicker(interval)

	log.Debug().Dur("interval", interval).Msg("starting token refresh timer")

	s.wg.Add(1)
	go s.runTimer(t, stop)
}

func (s *Store) stopTimerLocked() {
	if s.stopTimer == nil {
		return
	}
	close(s.stopTimer)
	s.stopTimer = nil
	log.Debug().Msg("stopped token refresh timer")
}

func (s *Store) runTimer(t ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			// A stop that raced with the tick wins
			select {
			case <-stop:
				return
			default:
			}
			s.tick(t)
		}
	}
}

func (s *Store) tick(t ticker) {
	s.mu.Lock()
	token, r := s.token, s.refresher
	s.mu.Unlock()

	if token == "" || r == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RefreshTimeout)
	defer cancel()

	if err := r.Refresh(ctx); err != nil {
		s.proactiveFailure(err)
		return
	}

	if s.opts.DecodeJWTExpiry {
		s.mu.Lock()
		next := s.refreshInterval(s.token)
		s.mu.Unlock()
		t.Reset(next)
	}
}

// proactiveFailure records a failed background refresh. The session is kept:
// the next request that gets a 401 will try again and clear it if needed.
func (s *Store) proactiveFailure(err error) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()

	log.Warn().Err(err).Int("consecutiveFailures", n).Msg("background token refresh failed")

	if limit := s.opts.MaxProactiveFailures; limit > 0 && n >= limit {
		log.Warn().Int("maxFailures", limit).Msg("clearing session after repeated background refresh failures")
		s.Clear()
	}
}
