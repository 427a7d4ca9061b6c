package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StreamKey           = "attendance:stream"
	DeadLetterStreamKey = "attendance:stream:dead"
	ConsumerGroupName   = "attendance-workers"
	ConsumerNamePrefix  = "worker"

	attendanceField = "attendance"
	batchSize       = 10
)

// RedisStreamQueueConfig 零值欄位使用預設
type RedisStreamQueueConfig struct {
	ClaimMinIdleTime   time.Duration // Nack(true) 後至少等這麼久才重新投遞
	MaxRetryCount      int           // 重新投遞超過此次數就移到 dead letter stream
	ReadGroupBlockTime time.Duration
	MaxLen             int64 // stream 約略長度上限
}

func (c RedisStreamQueueConfig) withDefaults() RedisStreamQueueConfig {
	if c.ClaimMinIdleTime <= 0 {
		c.ClaimMinIdleTime = 5 * time.Second
	}
	if c.MaxRetryCount <= 0 {
		c.MaxRetryCount = 5
	}
	if c.ReadGroupBlockTime <= 0 {
		c.ReadGroupBlockTime = 2 * time.Second
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 100000
	}
	return c
}

// RedisStreamAttendanceQueue 出席事件走 Redis Stream consumer group
// 未 ack 的事件留在 PEL，由 XAUTOCLAIM 領回重送
type RedisStreamAttendanceQueue struct {
	client   *redis.Client
	consumer string
	cfg      RedisStreamQueueConfig
}

func NewRedisStreamAttendanceQueue(ctx context.Context, client *redis.Client, consumerID string, config *RedisStreamQueueConfig) (AttendanceQueue, error) {
	if consumerID == "" {
		consumerID = uuid.NewString()
	}
	var cfg RedisStreamQueueConfig
	if config != nil {
		cfg = *config
	}

	q := &RedisStreamAttendanceQueue{
		client:   client,
		consumer: ConsumerNamePrefix + ":" + consumerID,
		cfg:      cfg.withDefaults(),
	}
	err := client.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *RedisStreamAttendanceQueue) PublishAttendance(ctx context.Context, event *model.AttendanceRecorded) error {
	body, err := encodeAttendance(event)
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{attendanceField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd attendance: %w", err)
	}
	return nil
}

func (q *RedisStreamAttendanceQueue) SubscribeAttendance(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		claimDone := make(chan struct{})
		go func() {
			defer close(claimDone)
			q.claimLoop(ctx, out)
		}()
		q.readLoop(ctx, out)
		<-claimDone
	}()
	return out, nil
}

// readLoop 只讀新事件(">")，已投遞過的交給 claimLoop
func (q *RedisStreamAttendanceQueue) readLoop(ctx context.Context, out chan<- Delivery) {
	log := logger.WithComponent("mq")
	for ctx.Err() == nil {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroupName,
			Consumer: q.consumer,
			Streams:  []string{StreamKey, ">"},
			Count:    batchSize,
			Block:    q.cfg.ReadGroupBlockTime,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("read attendance stream failed", zap.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}
		for _, stream := range streams {
			if !q.dispatch(ctx, out, stream.Messages) {
				return
			}
		}
	}
}

// claimLoop 定期領回閒置超過 ClaimMinIdleTime 的事件
func (q *RedisStreamAttendanceQueue) claimLoop(ctx context.Context, out chan<- Delivery) {
	log := logger.WithComponent("mq")
	ticker := time.NewTicker(q.cfg.ClaimMinIdleTime)
	defer ticker.Stop()

	cursor := "0-0"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		claimed, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   StreamKey,
			Group:    ConsumerGroupName,
			Consumer: q.consumer,
			MinIdle:  q.cfg.ClaimMinIdleTime,
			Start:    cursor,
			Count:    batchSize,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() == nil {
				log.Error("claim idle attendance failed", zap.Error(err))
			}
			continue
		}
		cursor = next
		if cursor == "" {
			cursor = "0-0"
		}

		if !q.dispatch(ctx, out, q.dropExhausted(ctx, claimed)) {
			return
		}
	}
}

// dispatch 解碼後送給 worker，ctx 結束時回傳 false
func (q *RedisStreamAttendanceQueue) dispatch(ctx context.Context, out chan<- Delivery, msgs []redis.XMessage) bool {
	for _, msg := range msgs {
		event, err := decodeMessage(msg)
		if err != nil {
			q.deadLetter(ctx, msg, err.Error())
			continue
		}
		select {
		case out <- q.delivery(ctx, msg.ID, event):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// dropExhausted 重送次數用完的事件移到 dead letter stream，回傳其餘事件
func (q *RedisStreamAttendanceQueue) dropExhausted(ctx context.Context, claimed []redis.XMessage) []redis.XMessage {
	if len(claimed) == 0 {
		return nil
	}
	deliveries, err := q.deliveryCounts(ctx, claimed[0].ID, claimed[len(claimed)-1].ID)
	if err != nil {
		// 查不到次數就照常投遞，下一輪再判斷
		logger.WithComponent("mq").Warn("load delivery counts failed", zap.Error(err))
		return claimed
	}

	kept := claimed[:0]
	for _, msg := range claimed {
		// 第一次投遞不算重送
		if retries := deliveries[msg.ID] - 1; retries > int64(q.cfg.MaxRetryCount) {
			q.deadLetter(ctx, msg, fmt.Sprintf("exceeded %d retries", q.cfg.MaxRetryCount))
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

func (q *RedisStreamAttendanceQueue) deliveryCounts(ctx context.Context, from, to string) (map[string]int64, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroupName,
		Start:    from,
		End:      to,
		Count:    batchSize,
		Consumer: q.consumer,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// deadLetter 保留原始內容供人工檢查，再從 consumer group ack 掉
func (q *RedisStreamAttendanceQueue) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	log := logger.WithComponent("mq").With(zap.String("message_id", msg.ID), zap.String("reason", reason))
	raw, _ := msg.Values[attendanceField].(string)

	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			attendanceField: raw,
			"source_id":     msg.ID,
			"reason":        reason,
		},
	}).Err()
	if err != nil {
		// 沒寫進 dead letter 就不 ack，留給下一輪
		log.Error("dead letter attendance failed", zap.Error(err))
		return
	}
	if err := q.client.XAck(ctx, StreamKey, ConsumerGroupName, msg.ID).Err(); err != nil {
		log.Error("ack dead letter failed", zap.Error(err))
		return
	}
	log.Warn("attendance event moved to dead letter stream")
}

func (q *RedisStreamAttendanceQueue) delivery(ctx context.Context, id string, event *model.AttendanceRecorded) Delivery {
	ack := func() {
		if err := q.client.XAck(ctx, StreamKey, ConsumerGroupName, id).Err(); err != nil {
			logger.WithComponent("mq").Error("ack attendance failed", zap.String("message_id", id), zap.Error(err))
		}
	}
	return Delivery{
		Data: event,
		Ack:  ack,
		Nack: func(requeue bool) {
			if !requeue {
				ack()
				return
			}
			// 留在 PEL，等 claimLoop 領回
			logger.WithComponent("mq").Info("attendance event requeued",
				zap.String("message_id", id),
				zap.Duration("retry_after", q.cfg.ClaimMinIdleTime),
			)
		},
	}
}

func decodeMessage(msg redis.XMessage) (*model.AttendanceRecorded, error) {
	raw, ok := msg.Values[attendanceField].(string)
	if !ok {
		return nil, errors.New("missing attendance field")
	}
	return decodeAttendance([]byte(raw))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
