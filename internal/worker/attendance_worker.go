package worker

import (
	"context"
	"fmt"
	"sync"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/queue"
	"go-gin-event-attendance/pkg/logger"

	"go.uber.org/zap"
)

// AttendanceHandler 處理一筆出席事件，回傳錯誤時消息會重新入列
type AttendanceHandler interface {
	HandleAttendance(ctx context.Context, event *model.AttendanceRecorded) error
}

// HandlerFunc 讓一般函式符合 AttendanceHandler
type HandlerFunc func(ctx context.Context, event *model.AttendanceRecorded) error

func (f HandlerFunc) HandleAttendance(ctx context.Context, event *model.AttendanceRecorded) error {
	return f(ctx, event)
}

type AttendanceWorker interface {
	// 訂閱出席事件隊列，ctx 取消後停止
	Start(ctx context.Context) error
	// Wait 等待處理迴圈結束
	Wait()
}

type AttendanceWorkerImpl struct {
	handler AttendanceHandler
	queue   queue.AttendanceQueue
	wg      sync.WaitGroup
}

func NewAttendanceWorker(handler AttendanceHandler, queue queue.AttendanceQueue) AttendanceWorker {
	return &AttendanceWorkerImpl{
		handler: handler,
		queue:   queue,
	}
}

func (w *AttendanceWorkerImpl) Start(ctx context.Context) error {
	msgs, err := w.queue.SubscribeAttendance(ctx)
	if err != nil {
		return fmt.Errorf("subscribe attendance: %w", err)
	}

	log := logger.WithComponent("worker")
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for msg := range msgs {
			if err := w.handler.HandleAttendance(ctx, msg.Data); err != nil {
				// 下游暫時失敗，重新入列
				log.Warn("handle attendance failed, requeue",
					zap.String("event_id", msg.Data.EventID.String()),
					zap.String("participant_id", msg.Data.ParticipantID.String()),
					zap.Error(err),
				)
				msg.Nack(true)
				continue
			}
			msg.Ack()
		}
		log.Info("attendance worker stopped")
	}()
	return nil
}

func (w *AttendanceWorkerImpl) Wait() {
	w.wg.Wait()
}
