package redis

import (
	"context"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"testing"
	"time"
)

func TestTTL(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(time.Second, ttl(time.Now().Add(-time.Hour).Unix()))
	remaining := ttl(time.Now().Add(time.Hour).Unix())
	assert.True(remaining > 59*time.Minute && remaining <= time.Hour, "unexpected ttl %s", remaining)
}

// Runs against a real Redis instance and is skipped unless OA_TEST_REDIS_ADDRESS is set
func TestDriverLifecycle(t *testing.T) {
	address := os.Getenv("OA_TEST_REDIS_ADDRESS")
	if address == "" {
		t.Skip("OA_TEST_REDIS_ADDRESS not set")
	}
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	driver, err := New(ctx, &redis.Options{Addr: address})
	require.NoError(err)
	defer driver.Close()

	raw, ses, err := driver.Create(ctx, time.Now().Add(time.Hour).Unix())
	require.NoError(err)

	ses.OAuthToken = &session.Token{AccessToken: "access"}
	require.NoError(driver.Update(ctx, ses))

	found, err := driver.GetByRawToken(ctx, raw)
	require.NoError(err)
	require.NotNil(found)
	assert.Equal("access", found.OAuthToken.AccessToken)

	require.NoError(driver.Terminate(ctx, ses.Token))
	found, err = driver.GetByRawToken(ctx, raw)
	require.NoError(err)
	assert.Nil(found)
	assert.ErrorIs(driver.Update(ctx, ses), session.ErrNotFound)
}
