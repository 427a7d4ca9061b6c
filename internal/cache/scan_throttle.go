package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ScanThrottle 每位掃描者在同一活動的掃描頻率限制
type ScanThrottle interface {
	// Allow 回傳是否放行；不放行時 retryAfter 為剩餘等待時間
	Allow(ctx context.Context, eventID, scannerID uuid.UUID) (allowed bool, retryAfter time.Duration, err error)
}

// scanThrottleScript 以 SET NX PX 佔位，已存在時回傳剩餘毫秒
const scanThrottleScript = `
	local key = KEYS[1]
	local window_ms = tonumber(ARGV[1])

	if redis.call('SET', key, '1', 'NX', 'PX', window_ms) then
		return {1, 0}
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		ttl = 0
	end
	return {0, ttl}
`

type RedisScanThrottleImpl struct {
	client *redis.Client
	window time.Duration
}

func NewRedisScanThrottle(client *redis.Client, window time.Duration) ScanThrottle {
	return &RedisScanThrottleImpl{
		client: client,
		window: window,
	}
}

func (t *RedisScanThrottleImpl) getKey(eventID, scannerID uuid.UUID) string {
	return fmt.Sprintf("scan:throttle:%s:%s", eventID, scannerID)
}

func (t *RedisScanThrottleImpl) Allow(ctx context.Context, eventID, scannerID uuid.UUID) (bool, time.Duration, error) {
	key := t.getKey(eventID, scannerID)

	result, err := t.client.Eval(ctx, scanThrottleScript, []string{key}, t.window.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}

	resSlice, ok := result.([]interface{})
	if !ok || len(resSlice) != 2 {
		return false, 0, errors.New("unexpected throttle result")
	}
	code, _ := resSlice[0].(int64)
	ttl, _ := resSlice[1].(int64)

	switch code {
	case 1:
		return true, 0, nil
	case 0:
		return false, time.Duration(ttl) * time.Millisecond, nil
	default:
		return false, 0, errors.New("unexpected throttle result")
	}
}

// NoopScanThrottle 停用限流時使用
type NoopScanThrottle struct{}

func (NoopScanThrottle) Allow(context.Context, uuid.UUID, uuid.UUID) (bool, time.Duration, error) {
	return true, 0, nil
}
