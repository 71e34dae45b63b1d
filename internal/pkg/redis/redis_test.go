package redis

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("memcached://localhost")
	assert.Error(t, err)
}

func TestClose_RejectsLaterCommands(t *testing.T) {
	cache, err := New("redis://127.0.0.1:1/0")
	require.NoError(t, err)

	require.NoError(t, cache.Close())

	_, err = cache.GetBytes(context.Background(), "leakdetector:thumb:x")
	assert.ErrorIs(t, err, redis.ErrClosed)
}
