package service

import (
	"context"
	"fmt"

	"go-gin-event-attendance/internal/clock"
	"go-gin-event-attendance/internal/codec"
	"go-gin-event-attendance/internal/metrics"
	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/queue"
	"go-gin-event-attendance/internal/repository"
	apperrors "go-gin-event-attendance/pkg/app_errors"
	"go-gin-event-attendance/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AttendanceService interface {
	// ApplyBulk 主辦批次簽到，可重複呼叫
	ApplyBulk(ctx context.Context, req model.BulkAttendanceRequest) (*model.BulkAttendanceResult, error)
	Stats(ctx context.Context, eventID, requesterID uuid.UUID) (*model.AttendanceStats, error)
}

type AttendanceServiceImpl struct {
	tickets repository.TicketRepository
	access  AccessControl
	queue   queue.AttendanceQueue
	clock   clock.Clock
	policy  TicketPolicy
}

func NewAttendanceService(
	tickets repository.TicketRepository,
	access AccessControl,
	attendanceQueue queue.AttendanceQueue,
	clk clock.Clock,
	policy TicketPolicy,
) AttendanceService {
	return &AttendanceServiceImpl{
		tickets: tickets,
		access:  access,
		queue:   attendanceQueue,
		clock:   clk,
		policy:  policy,
	}
}

func (s *AttendanceServiceImpl) ApplyBulk(ctx context.Context, req model.BulkAttendanceRequest) (*model.BulkAttendanceResult, error) {
	if err := s.authorize(ctx, req.EventID, req.RequesterID); err != nil {
		return nil, err
	}

	ids, err := s.normalizeIDs(req.ParticipantIDs)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entries, err := s.tickets.MarkAttended(ctx, model.MarkAttendedParams{
		EventID:        req.EventID,
		ParticipantIDs: ids,
		Now:            now,
		MarkedBy:       req.RequesterID,
		Policy:         s.policy.BulkExpiryPolicy,
	})
	if err != nil {
		return nil, err
	}

	result := model.NewBulkAttendanceResult()
	counts := make(map[string]int)
	for _, entry := range entries {
		result.Add(entry)
		counts[string(entry.Outcome)]++

		if entry.Outcome != model.BulkOutcomeMarked && entry.Outcome != model.BulkOutcomeBackfilled {
			continue
		}
		// 重新產生前已掃描入場，出席事件已發過
		if entry.PreviouslyAttended {
			continue
		}
		publishAttendance(ctx, s.queue, &model.AttendanceRecorded{
			EventID:          req.EventID,
			ParticipantID:    entry.ParticipantID,
			Generation:       entry.Ticket.Generation,
			TokenFingerprint: codec.Fingerprint(entry.Ticket.Token),
			Source:           model.AttendanceSourceBulk,
			MarkedBy:         req.RequesterID,
			RecordedAt:       now,
			Backfilled:       entry.Outcome == model.BulkOutcomeBackfilled,
		})
	}
	metrics.ObserveBulk(len(ids), counts)

	logger.WithComponent("service").Info("bulk attendance applied",
		zap.String("event_id", req.EventID.String()),
		zap.String("requester_id", req.RequesterID.String()),
		zap.Int("requested", len(ids)),
		zap.Int("newly_marked", len(result.NewlyMarked)),
		zap.Int("backfilled", len(result.Backfilled)),
		zap.Int("not_found", len(result.NotFound)),
	)
	return result, nil
}

func (s *AttendanceServiceImpl) Stats(ctx context.Context, eventID, requesterID uuid.UUID) (*model.AttendanceStats, error) {
	if err := s.authorize(ctx, eventID, requesterID); err != nil {
		return nil, err
	}
	return s.tickets.AttendanceStats(ctx, eventID, s.clock.Now())
}

// normalizeIDs 去除重複並保留原順序
func (s *AttendanceServiceImpl) normalizeIDs(ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: participant_ids is empty", apperrors.ErrInvalidInput)
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return nil, fmt.Errorf("%w: nil participant id", apperrors.ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if s.policy.MaxBulkSize > 0 && len(out) > s.policy.MaxBulkSize {
		return nil, fmt.Errorf("%w: at most %d participants per request", apperrors.ErrInvalidInput, s.policy.MaxBulkSize)
	}
	return out, nil
}

func (s *AttendanceServiceImpl) authorize(ctx context.Context, eventID, requesterID uuid.UUID) error {
	ok, err := s.access.IsHostOrCoHost(ctx, eventID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrUnauthorized
	}
	return nil
}
