package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"videosync/config"
	vhttp "videosync/http"
	"videosync/internal/retry"
	"videosync/internal/store"
	"videosync/internal/vault"
	"videosync/oauth"
	"videosync/storage"
	"videosync/trigger"
	"videosync/youtube"
)

// app is the wired object graph behind every store-backed command.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	content *store.JSONStore
	state   storage.StateStore
	lock    storage.Locker
	vault   *vault.Vault
	http    *vhttp.Client
	session *oauth.SessionManager
	catalog *youtube.Catalog
	syncer  *youtube.SyncManager
	trigger *trigger.Trigger

	closers []func() error
}

// open builds the app from configuration. Callers must Close it.
func (e *env) open(ctx context.Context) (*app, error) {
	a := &app{cfg: e.cfg, log: e.log}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	a.http = vhttp.New(httpConfig(cfg), nil, a.log)
	a.closers = append(a.closers, a.http.Close)

	var opts []store.Option
	if cfg.Storage.MediaDir != "" {
		if err := os.MkdirAll(cfg.Storage.MediaDir, 0o755); err != nil {
			return fmt.Errorf("create media dir: %w", err)
		}
		opts = append(opts, store.WithMediaDir(cfg.Storage.MediaDir, a.http.Standard()))
	}
	content, err := store.NewJSONStore(cfg.Storage.Path, opts...)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Storage.Path, err)
	}
	a.content = content
	a.closers = append(a.closers, content.Close)

	var states oauth.StateTokenStore
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		a.state = store.NewRedisStore(rdb, cfg.Redis.Prefix)
		a.lock = store.NewRedisLock(rdb, cfg.Redis.Prefix, cfg.Sync.LockTTL)
		states = store.NewRedisStateTokens(rdb, cfg.Redis.Prefix)
	default:
		a.state = content
		a.lock = content.RunLock()
		states = store.NewStateTokens(content)
	}

	if a.vault, err = vault.New(cfg.Vault.Secrets...); err != nil {
		if errors.Is(err, vault.ErrNoKeyMaterial) {
			return fmt.Errorf("%w: set vault.secrets or %s_VAULT_SECRETS", err, config.EnvPrefix)
		}
		return err
	}
	a.session = a.newSession(states)

	a.catalog, err = youtube.NewCatalog(ctx, a.session, a.state, a.http.Standard(), youtube.CatalogConfig{
		Endpoint: cfg.YouTube.Endpoint,
		Retry: retry.Config{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
			JitterFraction: retry.DefaultConfig().JitterFraction,
		},
	}, a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.catalog.Close(); return nil })

	a.syncer = youtube.NewSyncManager(a.catalog, a.content, a.state, youtube.WithSyncLogger(a.log))
	a.trigger = trigger.New(a.syncer, a.lock,
		trigger.WithMaxVideos(cfg.Sync.MaxVideos),
		trigger.WithRunTimeout(cfg.Sync.RunTimeout),
		trigger.WithLogger(a.log),
	)
	return nil
}

// newSession builds a session manager sharing the app's store, vault and
// transport with the given CSRF state store.
func (a *app) newSession(states oauth.StateTokenStore) *oauth.SessionManager {
	return oauth.NewSessionManager(oauth.Config{
		RedirectURL: a.cfg.OAuth.RedirectURL,
		AuthURL:     a.cfg.OAuth.AuthURL,
		TokenURL:    a.cfg.OAuth.TokenURL,
		RevokeURL:   a.cfg.OAuth.RevokeURL,
	}, a.state, a.vault, states,
		oauth.WithHTTPClient(a.http.Standard()),
		oauth.WithLogger(a.log),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func httpConfig(cfg *config.Config) *vhttp.Config {
	hc := vhttp.DefaultConfig()
	hc.Timeout = cfg.HTTP.Timeout
	hc.RateLimiter.RequestsPerSecond = cfg.HTTP.RequestsPerSecond
	return hc
}
