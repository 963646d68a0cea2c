package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raine/sportdesk/internal/api"
	"github.com/raine/sportdesk/internal/auth"
	"github.com/raine/sportdesk/internal/config"
	"github.com/raine/sportdesk/internal/dashboard"
	"github.com/raine/sportdesk/internal/query"
	"github.com/raine/sportdesk/internal/session"
	"github.com/raine/sportdesk/internal/storage"
	"github.com/rs/zerolog/log"
)

type app struct {
	cfg       *config.Config
	backend   storage.Backend
	jar       *api.PersistentJar
	store     *auth.Store
	client    *api.Client
	session   *session.Manager
	dashboard *dashboard.Client

	promptCredentials func(withName bool) (string, session.Credentials, error)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	authBase := cfg.AuthBaseURL
	if authBase == "" {
		authBase = cfg.APIBaseURL + "/auth"
	}
	jar, err := api.NewPersistentJar(ctx, backend, authBase)
	if err != nil {
		backend.Close()
		return nil, err
	}

	store := auth.NewStore(backend, auth.StoreOptions{
		Lifetime:             cfg.TokenLifetime,
		RefreshBuffer:        cfg.RefreshBuffer,
		RefreshTimeout:       cfg.RefreshTimeout,
		MaxProactiveFailures: cfg.MaxProactiveFailures,
		DecodeJWTExpiry:      cfg.DecodeJWTExpiry,
	})

	client, err := api.NewClient(api.ClientOpts{
		BaseURL:     cfg.APIBaseURL,
		AuthBaseURL: authBase,
		Timeout:     cfg.HTTPTimeout,
		Jar:         jar,
	}, store)
	if err != nil {
		store.Close()
		backend.Close()
		return nil, err
	}

	cache := query.NewCache(cfg.CacheStaleTime)
	return &app{
		cfg:       cfg,
		backend:   backend,
		jar:       jar,
		store:     store,
		client:    client,
		session:   session.NewManager(client, cache),
		dashboard: dashboard.NewClient(client, cache),

		promptCredentials: promptCredentials,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	if err := a.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close storage")
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		store, err := storage.NewRedisStore(ctx, cfg.RedisURL, "")
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendMemory:
		log.Warn().Msg("using memory storage, the session ends with this process")
		return storage.NewMemoryStore(), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.StoragePath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		if cfg.StorageKey == "" {
			log.Warn().Msg("STORAGE_KEY is not set, credentials are stored unencrypted")
		}
		store, err := storage.NewSQLiteStore(cfg.StoragePath, cfg.StorageKey)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("dbPath", cfg.StoragePath).Msg("session storage initialized")
		return store, nil
	}
}
