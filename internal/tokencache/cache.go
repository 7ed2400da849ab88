// Package tokencache keeps the drive access token for the whole process.
// The token lives in a persistent key-value store (written by the login and
// refresh commands); the cache reads it once and serves it from memory until
// the expiry derived from the store's remaining TTL has passed.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/onedrive-serve/internal/kvstore"
)

// ErrNoToken is returned when the store holds no access token. Callers
// treat it as "service unavailable for authenticated operations".
var ErrNoToken = errors.New("tokencache: no access token")

// Key suffixes appended to the configured prefix.
const (
	accessTokenSuffix  = "access_token"
	refreshTokenSuffix = "refresh_token"
)

// AccessToken is a bearer token and the instant after which it must be
// re-read from the store. A zero ExpiresAt means "always re-read".
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Tokens is the pair persisted after a login or refresh.
type Tokens struct {
	AccessToken  string
	AccessTTL    time.Duration
	RefreshToken string
}

// Cache is the process-wide token provider. Construct one at startup and
// pass it to every consumer.
type Cache struct {
	store   kvstore.Store
	prefix  string
	logger  *slog.Logger
	nowFunc func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	access  AccessToken
	refresh string
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

// New creates a Cache reading keys "{prefix}access_token" and
// "{prefix}refresh_token" from store.
func New(store kvstore.Store, prefix string, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		store:   store,
		prefix:  prefix,
		logger:  logger,
		nowFunc: time.Now,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// AccessKey is the store key of the access token.
func (c *Cache) AccessKey() string { return c.prefix + accessTokenSuffix }

// RefreshKey is the store key of the refresh token.
func (c *Cache) RefreshKey() string { return c.prefix + refreshTokenSuffix }

// Token returns a valid bearer token, reading the store only when nothing is
// cached or the cached token has expired.
func (c *Cache) Token(ctx context.Context) (string, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	return tok.Value, nil
}

// AccessToken is Token with the expiry attached.
func (c *Cache) AccessToken(ctx context.Context) (AccessToken, error) {
	c.mu.Lock()
	cached := c.access
	c.mu.Unlock()

	if cached.Value != "" && !c.nowFunc().After(cached.ExpiresAt) {
		return cached, nil
	}

	// The read is shared by every waiting caller, so it must not end when
	// the caller that started it goes away.
	v, err, _ := c.group.Do(accessTokenSuffix, func() (any, error) {
		return c.fetchAccess(context.WithoutCancel(ctx))
	})
	if err != nil {
		return AccessToken{}, err
	}

	return v.(AccessToken), nil
}

func (c *Cache) fetchAccess(ctx context.Context) (AccessToken, error) {
	val, ttl, err := c.store.GetWithTTL(ctx, c.AccessKey())
	if errors.Is(err, kvstore.ErrNotFound) {
		c.logger.Warn("no access token in store", slog.String("key", c.AccessKey()))
		return AccessToken{}, ErrNoToken
	}

	if err != nil {
		return AccessToken{}, fmt.Errorf("tokencache: reading access token: %w", err)
	}

	tok := AccessToken{Value: val}
	if ttl >= 0 {
		tok.ExpiresAt = c.nowFunc().Add(ttl)
	}

	c.mu.Lock()
	c.access = tok
	c.mu.Unlock()

	c.logger.Info("fetched access token from store",
		slog.Time("expires_at", tok.ExpiresAt),
	)

	return tok, nil
}

// RefreshToken returns the stored refresh token, reading it once and keeping
// it for the life of the process. Returns ErrNoToken when none is stored.
func (c *Cache) RefreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.refresh
	c.mu.Unlock()

	if cached != "" {
		return cached, nil
	}

	val, _, err := c.store.GetWithTTL(ctx, c.RefreshKey())
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrNoToken
	}

	if err != nil {
		return "", fmt.Errorf("tokencache: reading refresh token: %w", err)
	}

	c.mu.Lock()
	c.refresh = val
	c.mu.Unlock()

	return val, nil
}

// Store persists a freshly issued token pair and primes the in-memory cache
// so the next Token call needs no store read.
func (c *Cache) Store(ctx context.Context, t Tokens) error {
	if t.AccessToken == "" {
		return errors.New("tokencache: refusing to store empty access token")
	}

	if err := c.store.Set(ctx, c.AccessKey(), t.AccessToken, t.AccessTTL); err != nil {
		return fmt.Errorf("tokencache: storing access token: %w", err)
	}

	if t.RefreshToken != "" {
		if err := c.store.Set(ctx, c.RefreshKey(), t.RefreshToken, 0); err != nil {
			return fmt.Errorf("tokencache: storing refresh token: %w", err)
		}
	}

	tok := AccessToken{Value: t.AccessToken}
	if t.AccessTTL > 0 {
		tok.ExpiresAt = c.nowFunc().Add(t.AccessTTL)
	}

	c.mu.Lock()
	c.access = tok
	if t.RefreshToken != "" {
		c.refresh = t.RefreshToken
	}
	c.mu.Unlock()

	c.logger.Info("stored tokens",
		slog.Duration("access_ttl", t.AccessTTL),
		slog.Bool("refresh_token", t.RefreshToken != ""),
	)

	return nil
}

// SaveToken stores an OAuth2 token as issued by the identity platform. The
// access token TTL is the time left until tok.Expiry; a token without an
// expiry is stored without one.
func (c *Cache) SaveToken(ctx context.Context, tok *oauth2.Token) error {
	var ttl time.Duration
	if !tok.Expiry.IsZero() {
		ttl = tok.Expiry.Sub(c.nowFunc()).Truncate(time.Second)
		if ttl < time.Second {
			ttl = time.Second
		}
	}

	return c.Store(ctx, Tokens{
		AccessToken:  tok.AccessToken,
		AccessTTL:    ttl,
		RefreshToken: tok.RefreshToken,
	})
}
