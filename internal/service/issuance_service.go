package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-gin-event-attendance/internal/clock"
	"go-gin-event-attendance/internal/codec"
	"go-gin-event-attendance/internal/metrics"
	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/repository"
	apperrors "go-gin-event-attendance/pkg/app_errors"
	"go-gin-event-attendance/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type IssuanceService interface {
	// 報名確認後發行票券；已有票券時回傳現有票券，不替換
	IssueOnRegistration(ctx context.Context, eventID, participantID uuid.UUID) (*model.IssuedTicket, error)
	// 重新產生 QR，舊 token 立即失效
	Regenerate(ctx context.Context, req model.RegenerateRequest) (*model.IssuedTicket, error)
	// 主辦作廢票券
	Revoke(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.TicketStatus, error)
	// 票券狀態（不含 token）
	GetStatus(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.TicketStatus, error)
	// 參加者重新下載目前的 QR 圖片
	Download(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.IssuedTicket, error)
}

type IssuanceServiceImpl struct {
	tickets       repository.TicketRepository
	registrations RegistrationChecker
	events        EventDirectory
	access        AccessControl
	codec         TicketCodec
	clock         clock.Clock
	policy        TicketPolicy
}

func NewIssuanceService(
	tickets repository.TicketRepository,
	registrations RegistrationChecker,
	events EventDirectory,
	access AccessControl,
	codec TicketCodec,
	clk clock.Clock,
	policy TicketPolicy,
) IssuanceService {
	if policy.IssueRetries < 1 {
		policy.IssueRetries = 1
	}
	return &IssuanceServiceImpl{
		tickets:       tickets,
		registrations: registrations,
		events:        events,
		access:        access,
		codec:         codec,
		clock:         clk,
		policy:        policy,
	}
}

func (s *IssuanceServiceImpl) IssueOnRegistration(ctx context.Context, eventID, participantID uuid.UUID) (*model.IssuedTicket, error) {
	confirmed, err := s.registrations.HasConfirmedRegistration(ctx, eventID, participantID)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, apperrors.ErrRegistrationNotFound
	}

	now := s.clock.Now()
	window, err := s.events.GetEventWindow(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if window.HasConcluded(now) {
		return nil, apperrors.ErrEventConcluded
	}

	var (
		ticket  *model.Ticket
		image   []byte
		created bool
	)
	err = s.withTokenRetry(func() error {
		token, qr, err := s.codec.Encode()
		if err != nil {
			return err
		}
		ticket, created, err = s.tickets.CreateIfAbsent(ctx, s.issueParams(eventID, participantID, token, now, window))
		image = qr
		return err
	})
	if err != nil {
		metrics.TrackTicketOperation("issue", "failed")
		return nil, err
	}

	if !created {
		// 重複的報名通知，沿用現有票券
		image, err = s.codec.Render(ticket.Token)
		if err != nil {
			return nil, err
		}
	}

	metrics.TrackTicketOperation("issue", "ok")
	logger.WithComponent("service").Info("ticket issued",
		zap.String("event_id", eventID.String()),
		zap.String("participant_id", participantID.String()),
		zap.Bool("created", created),
		zap.Int("generation", ticket.Generation),
		zap.String("token_fp", codec.Fingerprint(ticket.Token)),
	)
	return s.issued(ticket, image, 0), nil
}

func (s *IssuanceServiceImpl) Regenerate(ctx context.Context, req model.RegenerateRequest) (*model.IssuedTicket, error) {
	if err := s.authorizeSelfOrHost(ctx, req.EventID, req.ParticipantID, req.RequesterID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	concluded, err := s.events.HasConcluded(ctx, req.EventID, now)
	if err != nil {
		return nil, err
	}
	if concluded {
		return nil, apperrors.ErrEventConcluded
	}

	// 只替換已存在的票券，不在這裡首次發行
	previous, err := s.tickets.GetByParticipant(ctx, req.EventID, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	// 被撤銷的票只有主辦能恢復
	if previous.State == model.TicketStateRevoked && req.RequesterID == req.ParticipantID {
		isHost, err := s.access.IsHostOrCoHost(ctx, req.EventID, req.RequesterID)
		if err != nil {
			return nil, err
		}
		if !isHost {
			return nil, apperrors.ErrTicketRevoked
		}
	}

	window, err := s.events.GetEventWindow(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	var (
		ticket *model.Ticket
		image  []byte
	)
	err = s.withTokenRetry(func() error {
		token, qr, err := s.codec.Encode()
		if err != nil {
			return err
		}
		ticket, err = s.tickets.CreateOrReplace(ctx, s.issueParams(req.EventID, req.ParticipantID, token, now, window))
		image = qr
		return err
	})
	if err != nil {
		metrics.TrackTicketOperation("regenerate", "failed")
		return nil, err
	}

	metrics.TrackTicketOperation("regenerate", "ok")
	logger.WithComponent("service").Info("ticket regenerated",
		zap.String("event_id", req.EventID.String()),
		zap.String("participant_id", req.ParticipantID.String()),
		zap.String("requester_id", req.RequesterID.String()),
		zap.Int("generation", ticket.Generation),
		zap.String("old_token_fp", codec.Fingerprint(previous.Token)),
		zap.String("token_fp", codec.Fingerprint(ticket.Token)),
	)
	return s.issued(ticket, image, ticket.Generation-1), nil
}

func (s *IssuanceServiceImpl) Revoke(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.TicketStatus, error) {
	if err := s.authorizeHost(ctx, eventID, requesterID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ticket, err := s.tickets.Revoke(ctx, eventID, participantID, now)
	if err != nil {
		metrics.TrackTicketOperation("revoke", "failed")
		return nil, err
	}

	metrics.TrackTicketOperation("revoke", "ok")
	logger.WithComponent("service").Info("ticket revoked",
		zap.String("event_id", eventID.String()),
		zap.String("participant_id", participantID.String()),
		zap.String("requester_id", requesterID.String()),
		zap.Int("generation", ticket.Generation),
	)
	status := ticket.Status(now)
	return &status, nil
}

func (s *IssuanceServiceImpl) GetStatus(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.TicketStatus, error) {
	if err := s.authorizeSelfOrHost(ctx, eventID, participantID, requesterID); err != nil {
		return nil, err
	}

	ticket, err := s.tickets.GetByParticipant(ctx, eventID, participantID)
	if err != nil {
		return nil, err
	}
	status := ticket.Status(s.clock.Now())
	return &status, nil
}

func (s *IssuanceServiceImpl) Download(ctx context.Context, eventID, participantID, requesterID uuid.UUID) (*model.IssuedTicket, error) {
	// QR 內容即憑證，只給本人
	if requesterID != participantID {
		return nil, apperrors.ErrUnauthorized
	}

	ticket, err := s.tickets.GetByParticipant(ctx, eventID, participantID)
	if err != nil {
		return nil, err
	}

	image, err := s.codec.Render(ticket.Token)
	if err != nil {
		return nil, err
	}
	metrics.TrackTicketOperation("download", "ok")
	return s.issued(ticket, image, 0), nil
}

// withTokenRetry token 碰撞時換一組重試
func (s *IssuanceServiceImpl) withTokenRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < s.policy.IssueRetries; attempt++ {
		err = fn()
		if !errors.Is(err, apperrors.ErrTokenCollision) {
			return err
		}
		logger.WithComponent("service").Warn("token collision, retrying", zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("allocate token after %d attempts: %w", s.policy.IssueRetries, err)
}

func (s *IssuanceServiceImpl) issueParams(eventID, participantID uuid.UUID, token string, now time.Time, window model.EventWindow) model.IssueTicketParams {
	return model.IssueTicketParams{
		EventID:          eventID,
		ParticipantID:    participantID,
		Token:            token,
		TokenFingerprint: codec.Fingerprint(token),
		IssuedAt:         now,
		ExpiresAt:        window.EndTime.Add(s.policy.GraceWindow),
	}
}

func (s *IssuanceServiceImpl) issued(ticket *model.Ticket, image []byte, invalidated int) *model.IssuedTicket {
	return &model.IssuedTicket{
		QRImage:               image,
		ContentType:           s.codec.ContentType(),
		State:                 ticket.EffectiveState(s.clock.Now()),
		Generation:            ticket.Generation,
		IssuedAt:              ticket.IssuedAt,
		ExpiresAt:             ticket.ExpiresAt,
		InvalidatedGeneration: invalidated,
	}
}

func (s *IssuanceServiceImpl) authorizeHost(ctx context.Context, eventID, requesterID uuid.UUID) error {
	ok, err := s.access.IsHostOrCoHost(ctx, eventID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrUnauthorized
	}
	return nil
}

func (s *IssuanceServiceImpl) authorizeSelfOrHost(ctx context.Context, eventID, participantID, requesterID uuid.UUID) error {
	if requesterID == participantID {
		return nil
	}
	return s.authorizeHost(ctx, eventID, requesterID)
}
