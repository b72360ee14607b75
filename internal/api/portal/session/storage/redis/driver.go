package redis

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/secret"
	"github.com/redis/go-redis/v9"
	"time"
)

var (
	tokenLength = 48
	keyPrefix   = "session:"
)

// Driver represents the Redis session storage driver.
// Session expiry is delegated to Redis key TTLs.
type Driver struct {
	client *redis.Client
}

var _ session.Storage = (*Driver)(nil)

// New creates a new Redis session storage driver and verifies the connection
func New(ctx context.Context, options *redis.Options) (*Driver, error) {
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Driver{client}, nil
}

// GetByRawToken retrieves a non-expired session by its raw (prior hashing) token
func (driver *Driver) GetByRawToken(ctx context.Context, rawToken string) (*session.Session, error) {
	hash, err := secret.Hash(rawToken)
	if err != nil {
		return nil, nil
	}

	data, err := driver.client.Get(ctx, keyPrefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	ses := new(session.Session)
	if err := json.Unmarshal(data, ses); err != nil {
		return nil, err
	}
	ses.Token = hash
	if ses.IsExpired(time.Now()) {
		return nil, nil
	}
	return ses, nil
}

// Create creates a new empty session
func (driver *Driver) Create(ctx context.Context, expires int64) (string, *session.Session, error) {
	rawToken, token := secret.MustNew(tokenLength)
	ses := &session.Session{
		Token:   token,
		Expires: expires,
	}

	data, err := json.Marshal(ses)
	if err != nil {
		return "", nil, err
	}
	if err := driver.client.Set(ctx, keyPrefix+token, data, ttl(expires)).Err(); err != nil {
		return "", nil, err
	}
	return rawToken, ses, nil
}

// Update replaces the stored state of an existing session
func (driver *Driver) Update(ctx context.Context, ses *session.Session) error {
	data, err := json.Marshal(ses)
	if err != nil {
		return err
	}
	ok, err := driver.client.SetXX(ctx, keyPrefix+ses.Token, data, ttl(ses.Expires)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return session.ErrNotFound
	}
	return nil
}

// Terminate terminates a session by its (hashed) token
func (driver *Driver) Terminate(ctx context.Context, token string) error {
	return driver.client.Del(ctx, keyPrefix+token).Err()
}

// TerminateExpired is a no-op as Redis evicts expired keys on its own
func (driver *Driver) TerminateExpired(_ context.Context) (int, error) {
	return 0, nil
}

// Close closes the Redis client
func (driver *Driver) Close() {
	_ = driver.client.Close()
}

func ttl(expires int64) time.Duration {
	remaining := time.Until(time.Unix(expires, 0))
	if remaining < time.Second {
		// Redis rejects non-positive expirations; let the key vanish almost immediately
		return time.Second
	}
	return remaining
}
