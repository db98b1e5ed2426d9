package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/utils/clock"
)

func TestRedisLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 10, 16, 19, 0, 45, 0, time.UTC)
	windowStart := time.Date(2026, 10, 16, 19, 0, 0, 0, time.UTC)
	key := "ratelimit:gate-1:validations-batch:" + itoa(windowStart.Unix())

	t.Run("first request sets expiry", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		limiter := NewRedisLimiter(db, 3, time.Minute, clock.NewFixed(now))

		mock.ExpectIncr(key).SetVal(1)
		mock.ExpectExpire(key, time.Minute).SetVal(true)

		d, err := limiter.Allow(context.Background(), "gate-1:validations-batch")

		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2, d.Remaining)
		assert.Equal(t, 15*time.Second, d.ResetAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("over the limit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		limiter := NewRedisLimiter(db, 3, time.Minute, clock.NewFixed(now))

		mock.ExpectIncr(key).SetVal(4)

		d, err := limiter.Allow(context.Background(), "gate-1:validations-batch")

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, 3, d.Limit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error allows request", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		limiter := NewRedisLimiter(db, 3, time.Minute, clock.NewFixed(now))

		mock.ExpectIncr(key).SetErr(errors.New("connection refused"))

		d, err := limiter.Allow(context.Background(), "gate-1:validations-batch")

		assert.Error(t, err)
		assert.True(t, d.Allowed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func itoa(v int64) string {
	return fmt.Sprintf("%d", v)
}
