package worker

import (
	"context"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/pkg/logger"

	"go.uber.org/zap"
)

// AuditSink 每筆出席事件寫一行稽核紀錄
type AuditSink struct {
	log *zap.Logger
}

func NewAuditSink() *AuditSink {
	return &AuditSink{log: logger.WithComponent("audit")}
}

func (s *AuditSink) HandleAttendance(_ context.Context, event *model.AttendanceRecorded) error {
	s.log.Info("attendance recorded",
		zap.String("event_id", event.EventID.String()),
		zap.String("participant_id", event.ParticipantID.String()),
		zap.String("marked_by", event.MarkedBy.String()),
		zap.String("source", string(event.Source)),
		zap.Int("generation", event.Generation),
		zap.String("token_fp", event.TokenFingerprint),
		zap.Bool("backfilled", event.Backfilled),
		zap.Time("recorded_at", event.RecordedAt),
	)
	return nil
}
