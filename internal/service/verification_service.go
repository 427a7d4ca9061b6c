package service

import (
	"context"
	"errors"
	"time"

	"go-gin-event-attendance/internal/cache"
	"go-gin-event-attendance/internal/clock"
	"go-gin-event-attendance/internal/codec"
	"go-gin-event-attendance/internal/metrics"
	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/queue"
	"go-gin-event-attendance/internal/repository"
	apperrors "go-gin-event-attendance/pkg/app_errors"
	"go-gin-event-attendance/pkg/logger"

	"go.uber.org/zap"
)

type VerificationService interface {
	// Scan 驗票並核銷；業務結果一律放在 ScanResult.Outcome，error 只代表系統錯誤
	Scan(ctx context.Context, req model.ScanRequest) (*model.ScanResult, error)
}

type VerificationServiceImpl struct {
	tickets      repository.TicketRepository
	access       AccessControl
	participants ParticipantDirectory
	codec        TicketCodec
	throttle     cache.ScanThrottle
	queue        queue.AttendanceQueue
	clock        clock.Clock
}

func NewVerificationService(
	tickets repository.TicketRepository,
	access AccessControl,
	participants ParticipantDirectory,
	codec TicketCodec,
	throttle cache.ScanThrottle,
	attendanceQueue queue.AttendanceQueue,
	clk clock.Clock,
) VerificationService {
	if throttle == nil {
		throttle = cache.NoopScanThrottle{}
	}
	return &VerificationServiceImpl{
		tickets:      tickets,
		access:       access,
		participants: participants,
		codec:        codec,
		throttle:     throttle,
		queue:        attendanceQueue,
		clock:        clk,
	}
}

func (s *VerificationServiceImpl) Scan(ctx context.Context, req model.ScanRequest) (result *model.ScanResult, err error) {
	start := time.Now()
	defer func() {
		if result != nil {
			metrics.ObserveScan(string(result.Outcome), time.Since(start))
		}
	}()

	log := logger.WithComponent("service").With(
		zap.String("event_id", req.EventID.String()),
		zap.String("scanner_id", req.ScannerID.String()),
	)

	ok, err := s.access.IsHostOrCoHost(ctx, req.EventID, req.ScannerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &model.ScanResult{Outcome: model.ScanOutcomeUnauthorized}, nil
	}

	allowed, retryAfter, err := s.throttle.Allow(ctx, req.EventID, req.ScannerID)
	if err != nil {
		// 限流只是保護，Redis 異常時放行
		log.Warn("scan throttle unavailable", zap.Error(err))
	} else if !allowed {
		log.Debug("scan throttled", zap.Duration("retry_after", retryAfter))
		return s.throttledResult(ctx, req), nil
	}

	token, err := s.codec.Decode(req.RawToken)
	if err != nil {
		if errors.Is(err, apperrors.ErrMalformedToken) {
			return &model.ScanResult{Outcome: model.ScanOutcomeMalformedToken}, nil
		}
		return nil, err
	}

	ticket, err := s.tickets.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrTicketNotFound) {
			return &model.ScanResult{Outcome: model.ScanOutcomeNotFound}, nil
		}
		return nil, err
	}
	// 不透露票券屬於哪個活動
	if ticket.EventID != req.EventID {
		log.Info("scan event mismatch", zap.String("token_fp", codec.Fingerprint(token)))
		return &model.ScanResult{Outcome: model.ScanOutcomeEventMismatch}, nil
	}

	now := s.clock.Now()
	consumed, err := s.tickets.TryConsume(ctx, token, now, req.ScannerID)
	if err != nil {
		return nil, err
	}

	result = &model.ScanResult{Outcome: consumed.Outcome}
	if consumed.Ticket != nil {
		result.Generation = consumed.Ticket.Generation
	}

	switch consumed.Outcome {
	case model.ScanOutcomeSuccess:
		t := consumed.Ticket
		result.ConsumedAt = t.ConsumedAt
		summary, err := s.participants.GetSummary(ctx, t.ParticipantID)
		if err != nil {
			// 核銷已完成，缺參加者資料不影響結果
			log.Warn("load participant summary failed",
				zap.String("participant_id", t.ParticipantID.String()),
				zap.Error(err),
			)
			summary = &model.ParticipantSummary{ParticipantID: t.ParticipantID}
		}
		result.Participant = summary

		publishAttendance(ctx, s.queue, &model.AttendanceRecorded{
			EventID:          t.EventID,
			ParticipantID:    t.ParticipantID,
			Generation:       t.Generation,
			TokenFingerprint: codec.Fingerprint(token),
			Source:           model.AttendanceSourceScan,
			MarkedBy:         req.ScannerID,
			RecordedAt:       now,
		})
		log.Info("ticket consumed",
			zap.String("participant_id", t.ParticipantID.String()),
			zap.Int("generation", t.Generation),
		)
	case model.ScanOutcomeAlreadyConsumed:
		result.ConsumedAt = consumed.Ticket.ConsumedAt
	}

	return result, nil
}

// throttledResult 被限流時仍回報已核銷的票，避免成功後重掃被當成限流
func (s *VerificationServiceImpl) throttledResult(ctx context.Context, req model.ScanRequest) *model.ScanResult {
	throttled := &model.ScanResult{Outcome: model.ScanOutcomeThrottled}

	token, err := s.codec.Decode(req.RawToken)
	if err != nil {
		return throttled
	}
	ticket, err := s.tickets.GetByToken(ctx, token)
	if err != nil || ticket.EventID != req.EventID || ticket.State != model.TicketStateConsumed {
		return throttled
	}
	return &model.ScanResult{
		Outcome:    model.ScanOutcomeAlreadyConsumed,
		Generation: ticket.Generation,
		ConsumedAt: ticket.ConsumedAt,
	}
}
