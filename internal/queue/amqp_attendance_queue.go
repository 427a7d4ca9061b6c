package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPAttendanceQueueImpl RabbitMQ 版出席事件隊列，使用預設 exchange，routing key 即隊列名稱
type AMQPAttendanceQueueImpl struct {
	conn      *amqp.Connection
	queueName string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPAttendanceQueue 連線並宣告 durable 隊列
func NewAMQPAttendanceQueue(url, queueName string) (*AMQPAttendanceQueueImpl, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	return &AMQPAttendanceQueueImpl{
		conn:      conn,
		queueName: queueName,
		ch:        ch,
	}, nil
}

func (q *AMQPAttendanceQueueImpl) PublishAttendance(ctx context.Context, event *model.AttendanceRecorded) error {
	body, err := encodeAttendance(event)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	// amqp.Channel 不保證併發安全
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ch.PublishWithContext(ctx, "", q.queueName, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (q *AMQPAttendanceQueueImpl) SubscribeAttendance(ctx context.Context) (<-chan Delivery, error) {
	// 消費使用獨立 channel，避免與 publish 共用
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.Qos(50, 0, false); err != nil {
		logger.WithComponent("mq").Warn("rabbitmq set QoS failed", zap.Error(err))
	}

	msgs, err := ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.WithComponent("mq").Warn("rabbitmq deliveries channel closed")
					return
				}
				d := newAMQPDelivery(msg)
				if d == nil {
					continue
				}
				select {
				case out <- *d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// acknowledger 只取 amqp.Delivery 中用得到的部分
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func newAMQPDelivery(msg amqp.Delivery) *Delivery {
	return wrapAMQPMessage(msg.Body, msg.DeliveryTag, &msg)
}

func wrapAMQPMessage(body []byte, tag uint64, ack acknowledger) *Delivery {
	log := logger.WithComponent("mq")

	event, err := decodeAttendance(body)
	if err != nil {
		log.Warn("decode attendance failed", zap.Uint64("delivery_tag", tag), zap.Error(err))
		// 格式錯誤不重新入列，避免無限循環
		_ = ack.Nack(false, false)
		return nil
	}

	return &Delivery{
		Data: event,
		Ack: func() {
			if err := ack.Ack(false); err != nil {
				log.Error("rabbitmq ack failed", zap.Uint64("delivery_tag", tag), zap.Error(err))
			}
		},
		Nack: func(requeue bool) {
			if err := ack.Nack(false, requeue); err != nil {
				log.Error("rabbitmq nack failed", zap.Uint64("delivery_tag", tag), zap.Error(err))
			}
		},
	}
}

func (q *AMQPAttendanceQueueImpl) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
