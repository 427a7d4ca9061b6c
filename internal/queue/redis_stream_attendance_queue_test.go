package queue_test

import (
	"context"
	"testing"
	"time"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/queue"
	"go-gin-event-attendance/internal/testutil"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamQueue(t *testing.T, consumerID string, cfg *queue.RedisStreamQueueConfig) (queue.AttendanceQueue, *redis.Client) {
	t.Helper()
	rdb := testutil.NewTestRedis(t)
	ctx := context.Background()
	_ = rdb.Del(ctx, queue.StreamKey, queue.DeadLetterStreamKey).Err()
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), queue.StreamKey, queue.DeadLetterStreamKey).Err()
	})

	q, err := queue.NewRedisStreamAttendanceQueue(ctx, rdb, consumerID, cfg)
	require.NoError(t, err)
	return q, rdb
}

func newAttendanceEvent() *model.AttendanceRecorded {
	return &model.AttendanceRecorded{
		EventID:          uuid.New(),
		ParticipantID:    uuid.New(),
		Generation:       1,
		TokenFingerprint: "fp",
		Source:           model.AttendanceSourceScan,
		MarkedBy:         uuid.New(),
		RecordedAt:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisStreamAttendanceQueue_EmptyConsumerID(t *testing.T) {
	q, _ := newStreamQueue(t, "", nil)
	require.NotNil(t, q)
}

// 發出去的內容與收進來的內容一致
func TestRedisStreamAttendanceQueue_Subscribe_deliversPublishedMessage(t *testing.T) {
	q, _ := newStreamQueue(t, "deliver-test", nil)
	ctx := context.Background()

	event := newAttendanceEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	delCh, err := q.SubscribeAttendance(subCtx)
	require.NoError(t, err)

	select {
	case d, ok := <-delCh:
		require.True(t, ok, "應收到一筆")
		require.NotNil(t, d.Data)
		assert.Equal(t, event.EventID, d.Data.EventID)
		assert.Equal(t, event.ParticipantID, d.Data.ParticipantID)
		assert.Equal(t, event.Source, d.Data.Source)
		assert.True(t, event.RecordedAt.Equal(d.Data.RecordedAt))
		d.Ack()
	case <-subCtx.Done():
		t.Fatal("timeout 未收到訊息")
	}
}

// Nack(false) 丟棄後不應再投遞
func TestRedisStreamAttendanceQueue_NackDiscard_preventsRedelivery(t *testing.T) {
	cfg := &queue.RedisStreamQueueConfig{
		ClaimMinIdleTime:   200 * time.Millisecond,
		ReadGroupBlockTime: 500 * time.Millisecond,
	}
	q, _ := newStreamQueue(t, "nack-discard-test", cfg)
	ctx := context.Background()

	event := newAttendanceEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	delCh, err := q.SubscribeAttendance(subCtx)
	require.NoError(t, err)

	select {
	case d := <-delCh:
		require.NotNil(t, d.Data)
		d.Nack(false)
	case <-subCtx.Done():
		t.Fatal("timeout 未收到第一筆")
	}

	select {
	case d, ok := <-delCh:
		if ok && d.Data != nil && d.Data.ParticipantID == event.ParticipantID {
			t.Fatal("Nack(false) 後不應再投遞同一筆")
		}
	case <-time.After(time.Second):
	}
}

// Nack(true) 約 ClaimMinIdleTime 後由 XAUTOCLAIM 再次投遞
func TestRedisStreamAttendanceQueue_NackRequeue_redeliversAfterIdle(t *testing.T) {
	cfg := &queue.RedisStreamQueueConfig{
		ClaimMinIdleTime:   200 * time.Millisecond,
		ReadGroupBlockTime: 500 * time.Millisecond,
	}
	q, _ := newStreamQueue(t, "nack-requeue-test", cfg)
	ctx := context.Background()

	event := newAttendanceEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	delCh, err := q.SubscribeAttendance(subCtx)
	require.NoError(t, err)

	first := <-delCh
	require.NotNil(t, first.Data)
	first.Nack(true)

	select {
	case d, ok := <-delCh:
		require.True(t, ok)
		assert.Equal(t, event.ParticipantID, d.Data.ParticipantID)
		d.Ack()
	case <-subCtx.Done():
		t.Fatal("timeout 未收到重試投遞")
	}
}

// 格式錯誤的消息不會投遞給 worker
func TestRedisStreamAttendanceQueue_SkipsMalformedMessage(t *testing.T) {
	q, rdb := newStreamQueue(t, "malformed-test", nil)
	ctx := context.Background()

	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: queue.StreamKey,
		Values: map[string]interface{}{"attendance": "{not json"},
	}).Err())
	event := newAttendanceEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	delCh, err := q.SubscribeAttendance(subCtx)
	require.NoError(t, err)

	select {
	case d := <-delCh:
		require.NotNil(t, d.Data)
		assert.Equal(t, event.ParticipantID, d.Data.ParticipantID)
		d.Ack()
	case <-subCtx.Done():
		t.Fatal("timeout 未收到訊息")
	}

	dead, err := rdb.XRange(ctx, queue.DeadLetterStreamKey, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "{not json", dead[0].Values["attendance"])
}

// 一直 Nack(true) 的事件重送 MaxRetryCount 次後移到 dead letter stream
func TestRedisStreamAttendanceQueue_ExhaustedRetries_moveToDeadLetter(t *testing.T) {
	cfg := &queue.RedisStreamQueueConfig{
		ClaimMinIdleTime:   100 * time.Millisecond,
		ReadGroupBlockTime: 200 * time.Millisecond,
		MaxRetryCount:      2,
	}
	q, rdb := newStreamQueue(t, "exhausted-test", cfg)
	ctx := context.Background()

	event := newAttendanceEvent()
	require.NoError(t, q.PublishAttendance(ctx, event))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	delCh, err := q.SubscribeAttendance(subCtx)
	require.NoError(t, err)

	deliveries := 0
	require.Eventually(t, func() bool {
		select {
		case d := <-delCh:
			if assert.NotNil(t, d.Data) {
				assert.Equal(t, event.ParticipantID, d.Data.ParticipantID)
			}
			deliveries++
			d.Nack(true)
		default:
		}
		n, err := rdb.XLen(ctx, queue.DeadLetterStreamKey).Result()
		return err == nil && n == 1
	}, 4*time.Second, 20*time.Millisecond)

	// 第一次投遞加上兩次重送
	assert.Equal(t, 3, deliveries)

	pending, err := rdb.XPending(ctx, queue.StreamKey, queue.ConsumerGroupName).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	dead, err := rdb.XRange(ctx, queue.DeadLetterStreamKey, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Values["reason"], "exceeded 2 retries")
}
