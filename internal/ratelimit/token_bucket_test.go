package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(5, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestDecodeBucketReply(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		res, err := decodeBucketReply([]interface{}{int64(1), "3.5", int64(1_700_000_000_000)}, 2, 5, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Remaining)
		assert.Equal(t, 5, res.Limit)
		assert.Zero(t, res.RetryAfter)
	})

	t.Run("denied waits for the missing tokens", func(t *testing.T) {
		res, err := decodeBucketReply([]interface{}{int64(0), "0.5", int64(1_700_000_000_000)}, 2, 5, 1)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 250*time.Millisecond, res.RetryAfter)
		assert.Equal(t, time.UnixMilli(1_700_000_000_250), res.ResetTime)
	})

	t.Run("short reply", func(t *testing.T) {
		_, err := decodeBucketReply([]interface{}{int64(1)}, 1, 1, 1)
		assert.ErrorIs(t, err, errBucketBadReply)
	})
}

func TestAllowNValidation(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.AllowN(context.Background(), "k", 1, 1, 1)
	assert.ErrorIs(t, err, errBucketNotConfigured)

	bucket := NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err = bucket.AllowN(context.Background(), "", 1, 1, 1)
	assert.ErrorIs(t, err, errBucketInvalidArgs)
	_, err = bucket.AllowN(context.Background(), "k", 0, 1, 1)
	assert.ErrorIs(t, err, errBucketInvalidArgs)

	res, err := bucket.AllowN(context.Background(), "k", 1, 2, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
