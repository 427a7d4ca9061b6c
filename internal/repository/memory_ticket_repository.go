package repository

import (
	"context"
	"sync"
	"time"

	"go-gin-event-attendance/internal/codec"
	"go-gin-event-attendance/internal/model"
	apperrors "go-gin-event-attendance/pkg/app_errors"

	"github.com/google/uuid"
)

type ticketKey struct {
	eventID       uuid.UUID
	participantID uuid.UUID
}

// MemoryTicketRepository 單一程序內的票券儲存，語意與 Postgres 版相同
// 每個操作都在同一把鎖內完成
type MemoryTicketRepository struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[ticketKey]*model.Ticket
	byToken map[string]ticketKey
	retired map[string]struct{}
}

func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[ticketKey]*model.Ticket),
		byToken: make(map[string]ticketKey),
		retired: make(map[string]struct{}),
	}
}

var _ TicketRepository = (*MemoryTicketRepository)(nil)

func clone(t *model.Ticket) *model.Ticket {
	c := *t
	return &c
}

func (r *MemoryTicketRepository) GetByParticipant(_ context.Context, eventID, participantID uuid.UUID) (*model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[ticketKey{eventID, participantID}]
	if !ok {
		return nil, apperrors.ErrTicketNotFound
	}
	return clone(ticket), nil
}

func (r *MemoryTicketRepository) GetByToken(_ context.Context, token string) (*model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.lookupToken(token)
	if !ok {
		return nil, apperrors.ErrTicketNotFound
	}
	return clone(ticket), nil
}

func (r *MemoryTicketRepository) lookupToken(token string) (*model.Ticket, bool) {
	key, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	ticket, ok := r.tickets[key]
	return ticket, ok
}

// checkToken 新 token 不可與現有或退役的 token 重複
func (r *MemoryTicketRepository) checkToken(params model.IssueTicketParams) error {
	if _, used := r.byToken[params.Token]; used {
		return apperrors.ErrTokenCollision
	}
	if _, retired := r.retired[params.TokenFingerprint]; retired {
		return apperrors.ErrTokenCollision
	}
	return nil
}

func (r *MemoryTicketRepository) insert(key ticketKey, params model.IssueTicketParams) *model.Ticket {
	r.nextID++
	ticket := &model.Ticket{
		ID:            r.nextID,
		EventID:       params.EventID,
		ParticipantID: params.ParticipantID,
		Token:         params.Token,
		State:         model.TicketStateActive,
		Generation:    1,
		IssuedAt:      params.IssuedAt,
		ExpiresAt:     params.ExpiresAt,
		CreatedAt:     params.IssuedAt,
		UpdatedAt:     params.IssuedAt,
	}
	r.tickets[key] = ticket
	r.byToken[params.Token] = key
	return ticket
}

func (r *MemoryTicketRepository) CreateIfAbsent(_ context.Context, params model.IssueTicketParams) (*model.Ticket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ticketKey{params.EventID, params.ParticipantID}
	if existing, ok := r.tickets[key]; ok {
		return clone(existing), false, nil
	}
	if err := r.checkToken(params); err != nil {
		return nil, false, err
	}
	return clone(r.insert(key, params)), true, nil
}

func (r *MemoryTicketRepository) CreateOrReplace(_ context.Context, params model.IssueTicketParams) (*model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkToken(params); err != nil {
		return nil, err
	}

	key := ticketKey{params.EventID, params.ParticipantID}
	existing, ok := r.tickets[key]
	if !ok {
		return clone(r.insert(key, params)), nil
	}

	delete(r.byToken, existing.Token)
	r.retired[codec.Fingerprint(existing.Token)] = struct{}{}

	existing.Token = params.Token
	existing.State = model.TicketStateActive
	existing.Generation++
	existing.IssuedAt = params.IssuedAt
	existing.ExpiresAt = params.ExpiresAt
	existing.ConsumedAt = nil
	existing.ConsumedBy = nil
	existing.RevokedAt = nil
	existing.UpdatedAt = params.IssuedAt
	r.byToken[params.Token] = key

	return clone(existing), nil
}

func (r *MemoryTicketRepository) TryConsume(_ context.Context, token string, now time.Time, consumedBy uuid.UUID) (model.ConsumeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.lookupToken(token)
	if !ok {
		return model.ConsumeResult{Outcome: model.ScanOutcomeNotFound}, nil
	}
	if ticket.State != model.TicketStateActive || ticket.IsExpired(now) {
		return classifyConsumeFailure(clone(ticket), now)
	}

	consume(ticket, now, consumedBy)
	return model.ConsumeResult{Outcome: model.ScanOutcomeSuccess, Ticket: clone(ticket)}, nil
}

func consume(ticket *model.Ticket, now time.Time, by uuid.UUID) {
	consumedAt := now
	consumedBy := by
	ticket.State = model.TicketStateConsumed
	ticket.ConsumedAt = &consumedAt
	ticket.ConsumedBy = &consumedBy
	if ticket.AttendedAt == nil {
		attendedAt := now
		ticket.AttendedAt = &attendedAt
	}
	ticket.UpdatedAt = now
}

func (r *MemoryTicketRepository) MarkAttended(_ context.Context, params model.MarkAttendedParams) ([]model.BulkEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]model.BulkEntry, 0, len(params.ParticipantIDs))
	for _, participantID := range params.ParticipantIDs {
		entry := model.BulkEntry{ParticipantID: participantID}

		ticket, ok := r.tickets[ticketKey{params.EventID, participantID}]
		if !ok {
			entry.Outcome = model.BulkOutcomeNotFound
			entries = append(entries, entry)
			continue
		}

		outcome, shouldConsume := decideBulkOutcome(ticket, params)
		entry.PreviouslyAttended = ticket.AttendedAt != nil
		if shouldConsume {
			consume(ticket, params.Now, params.MarkedBy)
		}
		entry.Outcome = outcome
		entry.Ticket = clone(ticket)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *MemoryTicketRepository) Revoke(_ context.Context, eventID, participantID uuid.UUID, now time.Time) (*model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[ticketKey{eventID, participantID}]
	if !ok {
		return nil, apperrors.ErrTicketNotFound
	}
	if !ticket.State.CanTransitionTo(model.TicketStateRevoked) {
		return nil, revokeFailure(ticket)
	}

	revokedAt := now
	ticket.State = model.TicketStateRevoked
	ticket.RevokedAt = &revokedAt
	ticket.UpdatedAt = now
	return clone(ticket), nil
}

func (r *MemoryTicketRepository) AttendanceStats(_ context.Context, eventID uuid.UUID, now time.Time) (*model.AttendanceStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := model.AttendanceStats{EventID: eventID}
	for key, ticket := range r.tickets {
		if key.eventID != eventID {
			continue
		}
		stats.TotalTickets++
		switch ticket.EffectiveState(now) {
		case model.TicketStateActive:
			stats.Active++
		case model.TicketStateExpired:
			stats.Expired++
		case model.TicketStateConsumed:
			stats.Consumed++
		case model.TicketStateRevoked:
			stats.Revoked++
		}
		if ticket.AttendedAt != nil {
			stats.Attended++
		}
	}
	stats.ComputeRate()
	return &stats, nil
}
