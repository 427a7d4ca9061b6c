package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-gin-event-attendance/internal/model"
)

var ErrQueueFull = errors.New("attendance queue is full")

type Delivery struct {
	Data *model.AttendanceRecorded
	Ack  func()
	Nack func(requeue bool)
}

// AttendanceQueue 核銷成功後的出席事件，下游通知 / 分析服務訂閱
type AttendanceQueue interface {
	// 發送出席事件
	PublishAttendance(ctx context.Context, event *model.AttendanceRecorded) error
	// 訂閱出席事件
	SubscribeAttendance(ctx context.Context) (<-chan Delivery, error)
}

type MemoryAttendanceQueueImpl struct {
	// 使用 Go channel 模擬 MQ 隊列
	ch chan *model.AttendanceRecorded
}

func NewMemoryAttendanceQueue(bufferSize int) AttendanceQueue {
	return &MemoryAttendanceQueueImpl{
		ch: make(chan *model.AttendanceRecorded, bufferSize),
	}
}

// PublishAttendance 不阻塞呼叫端，隊列滿時回傳 ErrQueueFull
func (q *MemoryAttendanceQueueImpl) PublishAttendance(ctx context.Context, event *model.AttendanceRecorded) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryAttendanceQueueImpl) SubscribeAttendance(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-q.ch:
				if !ok {
					return
				}

				d := Delivery{
					Data: event,
					Ack:  func() {},
					Nack: func(requeue bool) {
						if requeue {
							select {
							case q.ch <- event:
							default:
							}
						}
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func encodeAttendance(event *model.AttendanceRecorded) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal attendance event: %w", err)
	}
	return body, nil
}

func decodeAttendance(body []byte) (*model.AttendanceRecorded, error) {
	var event model.AttendanceRecorded
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("unmarshal attendance event: %w", err)
	}
	return &event, nil
}
