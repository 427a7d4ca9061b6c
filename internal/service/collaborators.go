package service

import (
	"context"
	"time"

	"go-gin-event-attendance/internal/metrics"
	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/queue"
	"go-gin-event-attendance/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 票券服務依賴的外部系統；repository 套件的 Postgres 與記憶體實作都符合這些介面

type RegistrationChecker interface {
	HasConfirmedRegistration(ctx context.Context, eventID, participantID uuid.UUID) (bool, error)
}

type EventDirectory interface {
	GetEventWindow(ctx context.Context, eventID uuid.UUID) (model.EventWindow, error)
	HasConcluded(ctx context.Context, eventID uuid.UUID, now time.Time) (bool, error)
}

type AccessControl interface {
	IsHostOrCoHost(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
}

type ParticipantDirectory interface {
	GetSummary(ctx context.Context, participantID uuid.UUID) (*model.ParticipantSummary, error)
}

// TicketCodec token 產生、渲染與掃描輸入檢查
type TicketCodec interface {
	Encode() (token string, qrImage []byte, err error)
	Render(token string) ([]byte, error)
	Decode(raw string) (string, error)
	ContentType() string
}

// TicketPolicy 票券相關的可調參數
type TicketPolicy struct {
	GraceWindow      time.Duration
	IssueRetries     int
	MaxBulkSize      int
	BulkExpiryPolicy model.BulkExpiryPolicy
}

func DefaultTicketPolicy() TicketPolicy {
	return TicketPolicy{
		GraceWindow:      2 * time.Hour,
		IssueRetries:     3,
		MaxBulkSize:      500,
		BulkExpiryPolicy: model.BulkExpiryOverride,
	}
}

const publishTimeout = 2 * time.Second

// publishAttendance 發送出席事件，失敗只記錄不回傳，核銷結果已經確定
// 使用 WithoutCancel，請求中斷也不會漏發
func publishAttendance(ctx context.Context, q queue.AttendanceQueue, event *model.AttendanceRecorded) {
	if q == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := q.PublishAttendance(pubCtx, event); err != nil {
		metrics.TrackPublish("failed")
		logger.WithComponent("service").Warn("publish attendance failed",
			zap.String("event_id", event.EventID.String()),
			zap.String("participant_id", event.ParticipantID.String()),
			zap.Error(err),
		)
		return
	}
	metrics.TrackPublish("ok")
}
