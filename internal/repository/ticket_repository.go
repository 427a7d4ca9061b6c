package repository

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"go-gin-event-attendance/internal/codec"
	"go-gin-event-attendance/internal/model"
	apperrors "go-gin-event-attendance/pkg/app_errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TicketRepository 票券儲存，所有改變狀態的操作都是單一原子單位
type TicketRepository interface {
	GetByParticipant(ctx context.Context, eventID, participantID uuid.UUID) (*model.Ticket, error)
	GetByToken(ctx context.Context, token string) (*model.Ticket, error)

	// CreateIfAbsent 沒有票券才建立；已存在時回傳現有票券與 created=false
	CreateIfAbsent(ctx context.Context, params model.IssueTicketParams) (ticket *model.Ticket, created bool, err error)
	// CreateOrReplace 建立或原地替換 token / generation，舊 token 立即失效
	CreateOrReplace(ctx context.Context, params model.IssueTicketParams) (*model.Ticket, error)

	TryConsume(ctx context.Context, token string, now time.Time, consumedBy uuid.UUID) (model.ConsumeResult, error)
	MarkAttended(ctx context.Context, params model.MarkAttendedParams) ([]model.BulkEntry, error)
	Revoke(ctx context.Context, eventID, participantID uuid.UUID, now time.Time) (*model.Ticket, error)
	AttendanceStats(ctx context.Context, eventID uuid.UUID, now time.Time) (*model.AttendanceStats, error)
}

type TicketRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &TicketRepositoryImpl{
		pool: pool,
	}
}

const ticketColumns = `id, event_id, participant_id, token, state, generation,
		issued_at, expires_at, consumed_at, consumed_by, attended_at, revoked_at,
		created_at, updated_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var ticket model.Ticket
	err := row.Scan(
		&ticket.ID,
		&ticket.EventID,
		&ticket.ParticipantID,
		&ticket.Token,
		&ticket.State,
		&ticket.Generation,
		&ticket.IssuedAt,
		&ticket.ExpiresAt,
		&ticket.ConsumedAt,
		&ticket.ConsumedBy,
		&ticket.AttendedAt,
		&ticket.RevokedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *TicketRepositoryImpl) GetByParticipant(ctx context.Context, eventID, participantID uuid.UUID) (*model.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE event_id = $1 AND participant_id = $2
	`

	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, eventID, participantID))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket by participant: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepositoryImpl) GetByToken(ctx context.Context, token string) (*model.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE token = $1
	`

	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, token))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket by token: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepositoryImpl) findByParticipantWithLock(ctx context.Context, eventID, participantID uuid.UUID) (*model.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE event_id = $1 AND participant_id = $2
		FOR UPDATE
	`

	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, eventID, participantID))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, fmt.Errorf("lock ticket: %w", err)
	}
	return ticket, nil
}

// tokenRetired 新 token 不可與任何退役 token 相同
func (r *TicketRepositoryImpl) tokenRetired(ctx context.Context, fingerprint string) (bool, error) {
	var retired bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ticket_token_history WHERE token_fingerprint = $1)`,
		fingerprint,
	).Scan(&retired)
	if err != nil {
		return false, fmt.Errorf("check token history: %w", err)
	}
	return retired, nil
}

// insertIfAbsent 回傳 nil 表示該 (活動, 參加者) 已有票券
func (r *TicketRepositoryImpl) insertIfAbsent(ctx context.Context, params model.IssueTicketParams) (*model.Ticket, error) {
	query := `
		INSERT INTO tickets (event_id, participant_id, token, state, generation, issued_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $5, $5)
		ON CONFLICT (event_id, participant_id) DO NOTHING
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query,
		params.EventID, params.ParticipantID, params.Token, model.TicketStateActive,
		params.IssuedAt, params.ExpiresAt,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return nil, apperrors.ErrTokenCollision
		}
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepositoryImpl) CreateIfAbsent(ctx context.Context, params model.IssueTicketParams) (*model.Ticket, bool, error) {
	var (
		ticket  *model.Ticket
		created bool
	)

	err := withTx(ctx, r.pool, func(ctx context.Context) error {
		retired, err := r.tokenRetired(ctx, params.TokenFingerprint)
		if err != nil {
			return err
		}
		if retired {
			return apperrors.ErrTokenCollision
		}

		inserted, err := r.insertIfAbsent(ctx, params)
		if err != nil {
			return err
		}
		if inserted != nil {
			ticket, created = inserted, true
			return nil
		}

		ticket, err = r.GetByParticipant(ctx, params.EventID, params.ParticipantID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return ticket, created, nil
}

func (r *TicketRepositoryImpl) CreateOrReplace(ctx context.Context, params model.IssueTicketParams) (*model.Ticket, error) {
	var ticket *model.Ticket

	err := withTx(ctx, r.pool, func(ctx context.Context) error {
		retired, err := r.tokenRetired(ctx, params.TokenFingerprint)
		if err != nil {
			return err
		}
		if retired {
			return apperrors.ErrTokenCollision
		}

		existing, err := r.findByParticipantWithLock(ctx, params.EventID, params.ParticipantID)
		if err != nil && err != apperrors.ErrTicketNotFound {
			return err
		}

		if existing == nil {
			inserted, err := r.insertIfAbsent(ctx, params)
			if err != nil {
				return err
			}
			if inserted != nil {
				ticket = inserted
				return nil
			}
			// 併發建立時另一筆先寫入，改走替換流程
			existing, err = r.findByParticipantWithLock(ctx, params.EventID, params.ParticipantID)
			if err != nil {
				return err
			}
		}

		ticket, err = r.replace(ctx, existing, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// replace 呼叫前必須已鎖定 existing
func (r *TicketRepositoryImpl) replace(ctx context.Context, existing *model.Ticket, params model.IssueTicketParams) (*model.Ticket, error) {
	q := conn(ctx, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO ticket_token_history (token_fingerprint, event_id, participant_id, generation, retired_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_fingerprint) DO NOTHING
	`, codec.Fingerprint(existing.Token), existing.EventID, existing.ParticipantID, existing.Generation, params.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("retire token: %w", err)
	}

	query := `
		UPDATE tickets
		SET token = $1, state = $2, generation = generation + 1,
			issued_at = $3, expires_at = $4,
			consumed_at = NULL, consumed_by = NULL, revoked_at = NULL,
			updated_at = $3
		WHERE id = $5
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(q.QueryRow(ctx, query,
		params.Token, model.TicketStateActive, params.IssuedAt, params.ExpiresAt, existing.ID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ErrTokenCollision
		}
		return nil, fmt.Errorf("replace ticket: %w", err)
	}
	return ticket, nil
}

func (r *TicketRepositoryImpl) TryConsume(ctx context.Context, token string, now time.Time, consumedBy uuid.UUID) (model.ConsumeResult, error) {
	// compare-and-swap：只有 ACTIVE 且未過期的票券會被更新
	query := `
		UPDATE tickets
		SET state = $2, consumed_at = $3, consumed_by = $4,
			attended_at = COALESCE(attended_at, $3), updated_at = $3
		WHERE token = $1 AND state = $5 AND expires_at > $3
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query,
		token, model.TicketStateConsumed, now, consumedBy, model.TicketStateActive,
	))
	if err == nil {
		return model.ConsumeResult{Outcome: model.ScanOutcomeSuccess, Ticket: ticket}, nil
	}
	if !isNoRows(err) {
		return model.ConsumeResult{}, fmt.Errorf("consume ticket: %w", err)
	}

	// 沒有更新任何資料，唯讀查詢判斷原因
	current, err := r.GetByToken(ctx, token)
	if err != nil {
		if err == apperrors.ErrTicketNotFound {
			return model.ConsumeResult{Outcome: model.ScanOutcomeNotFound}, nil
		}
		return model.ConsumeResult{}, err
	}
	return classifyConsumeFailure(current, now)
}

// classifyConsumeFailure 條件更新失敗後判斷原因，兩種 store 共用
func classifyConsumeFailure(ticket *model.Ticket, now time.Time) (model.ConsumeResult, error) {
	switch ticket.State {
	case model.TicketStateRevoked:
		return model.ConsumeResult{Outcome: model.ScanOutcomeRevoked, Ticket: ticket}, nil
	case model.TicketStateConsumed:
		return model.ConsumeResult{Outcome: model.ScanOutcomeAlreadyConsumed, Ticket: ticket}, nil
	case model.TicketStateActive:
		if ticket.IsExpired(now) {
			return model.ConsumeResult{Outcome: model.ScanOutcomeExpired, Ticket: ticket}, nil
		}
	}
	return model.ConsumeResult{}, fmt.Errorf("ticket %d in state %s could not be consumed", ticket.ID, ticket.State)
}

func (r *TicketRepositoryImpl) MarkAttended(ctx context.Context, params model.MarkAttendedParams) ([]model.BulkEntry, error) {
	// 依 id 排序上鎖，同時進行的批次不會互相死鎖
	lockOrder := sortedUniqueIDs(params.ParticipantIDs)
	byID := make(map[uuid.UUID]model.BulkEntry, len(lockOrder))

	err := withTx(ctx, r.pool, func(ctx context.Context) error {
		for _, participantID := range lockOrder {
			entry, err := r.markOne(ctx, params, participantID)
			if err != nil {
				return err
			}
			byID[participantID] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]model.BulkEntry, 0, len(params.ParticipantIDs))
	for _, participantID := range params.ParticipantIDs {
		entries = append(entries, byID[participantID])
	}
	return entries, nil
}

func sortedUniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

func (r *TicketRepositoryImpl) markOne(ctx context.Context, params model.MarkAttendedParams, participantID uuid.UUID) (model.BulkEntry, error) {
	entry := model.BulkEntry{ParticipantID: participantID}

	// 鎖住該列，與同時進行的掃描互斥
	ticket, err := r.findByParticipantWithLock(ctx, params.EventID, participantID)
	if err != nil {
		if err == apperrors.ErrTicketNotFound {
			entry.Outcome = model.BulkOutcomeNotFound
			return entry, nil
		}
		return entry, err
	}

	outcome, consume := decideBulkOutcome(ticket, params)
	entry.Outcome = outcome
	entry.Ticket = ticket
	entry.PreviouslyAttended = ticket.AttendedAt != nil
	if !consume {
		return entry, nil
	}

	query := `
		UPDATE tickets
		SET state = $2, consumed_at = $3, consumed_by = $4,
			attended_at = COALESCE(attended_at, $3), updated_at = $3
		WHERE id = $1 AND state = $5
		RETURNING ` + ticketColumns

	updated, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.ID, model.TicketStateConsumed, params.Now, params.MarkedBy, model.TicketStateActive,
	))
	if err != nil {
		return entry, fmt.Errorf("mark attended: %w", err)
	}
	entry.Ticket = updated
	return entry, nil
}

// decideBulkOutcome 依目前狀態決定批次結果，consume 為 true 時需轉為 CONSUMED
func decideBulkOutcome(ticket *model.Ticket, params model.MarkAttendedParams) (model.BulkOutcome, bool) {
	switch ticket.State {
	case model.TicketStateConsumed:
		return model.BulkOutcomeAlreadyMarked, false
	case model.TicketStateRevoked:
		return model.BulkOutcomeRevoked, false
	}

	if ticket.IsExpired(params.Now) {
		if params.Policy == model.BulkExpiryReject {
			return model.BulkOutcomeExpired, false
		}
		return model.BulkOutcomeBackfilled, true
	}
	// 重新產生後的新世代，出席早已記錄過
	if ticket.AttendedAt != nil {
		return model.BulkOutcomeAlreadyMarked, true
	}
	return model.BulkOutcomeMarked, true
}

func (r *TicketRepositoryImpl) Revoke(ctx context.Context, eventID, participantID uuid.UUID, now time.Time) (*model.Ticket, error) {
	query := `
		UPDATE tickets
		SET state = $3, revoked_at = $4, updated_at = $4
		WHERE event_id = $1 AND participant_id = $2 AND state = $5
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query,
		eventID, participantID, model.TicketStateRevoked, now, model.TicketStateActive,
	))
	if err == nil {
		return ticket, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("revoke ticket: %w", err)
	}

	current, err := r.GetByParticipant(ctx, eventID, participantID)
	if err != nil {
		return nil, err
	}
	return nil, revokeFailure(current)
}

func revokeFailure(ticket *model.Ticket) error {
	switch ticket.State {
	case model.TicketStateConsumed:
		return apperrors.ErrTicketAlreadyConsumed
	case model.TicketStateRevoked:
		return apperrors.ErrTicketRevoked
	}
	return fmt.Errorf("ticket %d in state %s could not be revoked", ticket.ID, ticket.State)
}

func (r *TicketRepositoryImpl) AttendanceStats(ctx context.Context, eventID uuid.UUID, now time.Time) (*model.AttendanceStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'ACTIVE' AND expires_at > $2),
			COUNT(*) FILTER (WHERE state = 'ACTIVE' AND expires_at <= $2),
			COUNT(*) FILTER (WHERE state = 'CONSUMED'),
			COUNT(*) FILTER (WHERE state = 'REVOKED'),
			COUNT(*) FILTER (WHERE attended_at IS NOT NULL)
		FROM tickets
		WHERE event_id = $1
	`

	stats := model.AttendanceStats{EventID: eventID}
	err := conn(ctx, r.pool).QueryRow(ctx, query, eventID, now).Scan(
		&stats.TotalTickets,
		&stats.Active,
		&stats.Expired,
		&stats.Consumed,
		&stats.Revoked,
		&stats.Attended,
	)
	if err != nil {
		return nil, fmt.Errorf("attendance stats: %w", err)
	}
	stats.ComputeRate()
	return &stats, nil
}
