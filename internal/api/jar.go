package api

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raine/sportdesk/internal/storage"
	"github.com/rs/zerolog/log"
)

// CookieStorageKey is the durable storage key holding the auth cookies.
const CookieStorageKey = "se_rc"

const jarStorageTimeout = 3 * time.Second

type savedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
}

func (c savedCookie) key() string {
	return c.Name + ";" + c.Path
}

func (c savedCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// PersistentJar is a cookie jar that mirrors the cookies set by the auth
// host into a storage backend, so the HTTP-only refresh credential survives a
// process restart the way browser cookies survive a reload.
type PersistentJar struct {
	backend storage.Backend
	scope   *url.URL
	now     func() time.Time

	mu    sync.Mutex
	jar   *cookiejar.Jar
	saved map[string]savedCookie // keyed by name and path
}

// NewPersistentJar creates a jar scoped to the host of authBaseURL and loads
// any cookies previously saved in backend.
func NewPersistentJar(ctx context.Context, backend storage.Backend, authBaseURL string) (*PersistentJar, error) {
	scope, err := url.Parse(authBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth base URL: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	p := &PersistentJar{
		backend: backend,
		scope:   scope,
		now:     time.Now,
		jar:     jar,
		saved:   make(map[string]savedCookie),
	}
	p.load(ctx)
	return p, nil
}

func (p *PersistentJar) load(ctx context.Context) {
	raw, ok, err := p.backend.Get(ctx, CookieStorageKey)
	if err != nil {
		log.Debug().Err(err).Msg("cookie storage unavailable")
		return
	}
	if !ok {
		return
	}

	var saved []savedCookie
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		log.Debug().Err(err).Msg("ignoring unreadable saved cookies")
		return
	}

	now := p.now()
	for _, c := range saved {
		if c.Path == "" {
			c.Path = "/"
		}
		if c.expired(now) {
			continue
		}
		p.saved[c.key()] = c

		u := *p.scope
		u.Path = c.Path
		p.jar.SetCookies(&u, []*http.Cookie{{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			Expires:  c.Expires,
		}})
	}
}

// SetCookies implements http.CookieJar.
func (p *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jar.SetCookies(u, cookies)

	if !strings.EqualFold(u.Hostname(), p.scope.Hostname()) {
		return
	}
	for _, c := range cookies {
		p.record(u, c)
	}
	p.save()
}

// Cookies implements http.CookieJar.
func (p *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jar.Cookies(u)
}

// Clear forgets every cookie, including the saved copy.
func (p *PersistentJar) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	// cookiejar.New only fails for invalid options
	jar, _ := cookiejar.New(nil)
	p.jar = jar
	p.saved = make(map[string]savedCookie)
	p.save()
}

// record must be called with mu held. Attribute handling follows the jar:
// Max-Age wins over Expires, and a missing path defaults to the directory of
// the request path.
func (p *PersistentJar) record(u *url.URL, c *http.Cookie) {
	now := p.now()
	sc := savedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		Expires:  c.Expires,
	}
	if sc.Path == "" || sc.Path[0] != '/' {
		sc.Path = defaultCookiePath(u.Path)
	}
	if c.MaxAge > 0 {
		sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
	}

	if c.MaxAge < 0 || sc.expired(now) {
		delete(p.saved, sc.key())
		return
	}
	p.saved[sc.key()] = sc
}

func defaultCookiePath(requestPath string) string {
	i := strings.LastIndex(requestPath, "/")
	if i <= 0 {
		return "/"
	}
	return requestPath[:i]
}

// save must be called with mu held.
func (p *PersistentJar) save() {
	ctx, cancel := context.WithTimeout(context.Background(), jarStorageTimeout)
	defer cancel()

	now := p.now()
	saved := make([]savedCookie, 0, len(p.saved))
	for _, k := range slices.Sorted(maps.Keys(p.saved)) {
		c := p.saved[k]
		if c.expired(now) {
			delete(p.saved, k)
			continue
		}
		saved = append(saved, c)
	}

	if len(saved) == 0 {
		if err := p.backend.Delete(ctx, CookieStorageKey); err != nil {
			log.Debug().Err(err).Msg("failed to remove saved cookies")
		}
		return
	}

	data, err := json.Marshal(saved)
	if err != nil {
		log.Debug().Err(err).Msg("failed to encode cookies")
		return
	}
	if err := p.backend.Set(ctx, CookieStorageKey, string(data)); err != nil {
		log.Debug().Err(err).Msg("failed to save cookies")
	}
}
