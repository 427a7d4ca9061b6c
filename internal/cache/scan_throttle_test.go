package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEventID   = uuid.MustParse("0b6f7c2a-5a7e-4f0e-9a55-7d2d9f7a1c01")
	testScannerID = uuid.MustParse("3c1d5e8f-2b4a-4d6c-8e0f-1a2b3c4d5e6f")
)

func TestRedisScanThrottle_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	throttle := NewRedisScanThrottle(db, 2*time.Second)
	key := "scan:throttle:" + testEventID.String() + ":" + testScannerID.String()

	mock.ExpectEval(scanThrottleScript, []string{key}, int64(2000)).SetVal([]interface{}{int64(1), int64(0)})

	allowed, retryAfter, err := throttle.Allow(context.Background(), testEventID, testScannerID)

	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisScanThrottle_Throttled(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	throttle := NewRedisScanThrottle(db, 2*time.Second)
	key := "scan:throttle:" + testEventID.String() + ":" + testScannerID.String()

	mock.ExpectEval(scanThrottleScript, []string{key}, int64(2000)).SetVal([]interface{}{int64(0), int64(1500)})

	allowed, retryAfter, err := throttle.Allow(context.Background(), testEventID, testScannerID)

	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 1500*time.Millisecond, retryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisScanThrottle_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()

	throttle := NewRedisScanThrottle(db, 2*time.Second)
	key := "scan:throttle:" + testEventID.String() + ":" + testScannerID.String()

	mock.ExpectEval(scanThrottleScript, []string{key}, int64(2000)).SetErr(errors.New("connection refused"))

	allowed, _, err := throttle.Allow(context.Background(), testEventID, testScannerID)

	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestNoopScanThrottle(t *testing.T) {
	allowed, retryAfter, err := NoopScanThrottle{}.Allow(context.Background(), testEventID, testScannerID)

	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
}
