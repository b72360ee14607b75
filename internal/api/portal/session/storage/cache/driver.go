package cache

import (
	"context"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/hashmap"
	"github.com/antluqmol1/openid-authentication/internal/secret"
	"time"
)

// Driver represents a session storage driver implementation that wraps another one in order to implement in-memory
// caching
type Driver struct {
	underlying session.Storage
	cache      *hashmap.ExpiringMap[string, *session.Session]
}

var _ session.Storage = (*Driver)(nil)

// New returns a new caching session storage driver whose entries live for the given lifetime
func New(underlying session.Storage, lifetime time.Duration) *Driver {
	cache := hashmap.NewExpiring[string, *session.Session](lifetime)
	cache.ScheduleCleanupTask(10 * time.Second)
	return &Driver{
		underlying: underlying,
		cache:      cache,
	}
}

// GetByRawToken retrieves a non-expired session by its raw (prior hashing) token
func (driver *Driver) GetByRawToken(ctx context.Context, rawToken string) (*session.Session, error) {
	hash, err := secret.Hash(rawToken)
	if err != nil {
		return nil, nil
	}
	if cached, ok := driver.cache.Lookup(hash); ok {
		if cached.IsExpired(time.Now()) {
			driver.cache.Unset(hash)
			return nil, nil
		}
		return cached.Clone(), nil
	}

	ses, err := driver.underlying.GetByRawToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if ses != nil {
		driver.cache.Set(ses.Token, ses.Clone())
	}
	return ses, nil
}

// Create creates a new empty session
func (driver *Driver) Create(ctx context.Context, expires int64) (string, *session.Session, error) {
	raw, ses, err := driver.underlying.Create(ctx, expires)
	if err != nil {
		return "", nil, err
	}
	driver.cache.Set(ses.Token, ses.Clone())
	return raw, ses, nil
}

// Update replaces the stored state of an existing session
func (driver *Driver) Update(ctx context.Context, ses *session.Session) error {
	if err := driver.underlying.Update(ctx, ses); err != nil {
		driver.cache.Unset(ses.Token)
		return err
	}
	driver.cache.Set(ses.Token, ses.Clone())
	return nil
}

// Terminate terminates a session by its (hashed) token
func (driver *Driver) Terminate(ctx context.Context, token string) error {
	driver.cache.Unset(token)
	return driver.underlying.Terminate(ctx, token)
}

// TerminateExpired terminates all sessions that are expired
func (driver *Driver) TerminateExpired(ctx context.Context) (int, error) {
	now := time.Now()
	driver.cache.RemoveIf(func(_ string, ses *session.Session) bool {
		return ses.IsExpired(now)
	})
	return driver.underlying.TerminateExpired(ctx)
}

// Close stops the cache cleanup task and closes the underlying storage
func (driver *Driver) Close() {
	driver.cache.StopCleanupTask()
	driver.cache.Clear()
	driver.underlying.Close()
}
