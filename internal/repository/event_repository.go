package repository

import (
	"context"
	"fmt"
	"time"

	"go-gin-event-attendance/internal/model"
	apperrors "go-gin-event-attendance/pkg/app_errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository 活動資料由外部系統維護，票券服務只讀取時間窗與主辦資訊
type EventRepository interface {
	Create(ctx context.Context, event *model.Event) (*model.Event, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*model.Event, error)
	AddCoHost(ctx context.Context, eventID, userID uuid.UUID, approved bool) error

	GetEventWindow(ctx context.Context, eventID uuid.UUID) (model.EventWindow, error)
	HasConcluded(ctx context.Context, eventID uuid.UUID, now time.Time) (bool, error)
	IsHostOrCoHost(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
}

type EventRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &EventRepositoryImpl{
		pool: pool,
	}
}

func (r *EventRepositoryImpl) Create(ctx context.Context, event *model.Event) (*model.Event, error) {
	query := `
		INSERT INTO events (event_id, name, description, host_id, starts_at, ends_at, concluded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		event.EventID, event.Name, event.Description, event.HostID,
		event.StartsAt, event.EndsAt, event.ConcludedAt,
	).Scan(
		&event.ID,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

func (r *EventRepositoryImpl) FindByEventID(ctx context.Context, eventID uuid.UUID) (*model.Event, error) {
	query := `
		SELECT id, event_id, name, description, host_id, starts_at, ends_at,
			concluded_at, created_at, updated_at
		FROM events
		WHERE event_id = $1
	`

	var event model.Event
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&event.ID,
		&event.EventID,
		&event.Name,
		&event.Description,
		&event.HostID,
		&event.StartsAt,
		&event.EndsAt,
		&event.ConcludedAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &event, nil
}

func (r *EventRepositoryImpl) AddCoHost(ctx context.Context, eventID, userID uuid.UUID, approved bool) error {
	status := "pending"
	if approved {
		status = "approved"
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_cohosts (event_id, user_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, user_id) DO UPDATE SET status = EXCLUDED.status
	`, eventID, userID, status)
	if err != nil {
		return fmt.Errorf("add co-host: %w", err)
	}
	return nil
}

func (r *EventRepositoryImpl) GetEventWindow(ctx context.Context, eventID uuid.UUID) (model.EventWindow, error) {
	var window model.EventWindow
	err := r.pool.QueryRow(ctx,
		`SELECT starts_at, ends_at, concluded_at FROM events WHERE event_id = $1`,
		eventID,
	).Scan(&window.StartTime, &window.EndTime, &window.ConcludedAt)
	if err != nil {
		if isNoRows(err) {
			return model.EventWindow{}, apperrors.ErrEventNotFound
		}
		return model.EventWindow{}, fmt.Errorf("get event window: %w", err)
	}
	return window, nil
}

func (r *EventRepositoryImpl) HasConcluded(ctx context.Context, eventID uuid.UUID, now time.Time) (bool, error) {
	window, err := r.GetEventWindow(ctx, eventID)
	if err != nil {
		return false, err
	}
	return window.HasConcluded(now), nil
}

// IsHostOrCoHost 只有已核准的協辦人算數
func (r *EventRepositoryImpl) IsHostOrCoHost(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM events WHERE event_id = $1 AND host_id = $2
			UNION ALL
			SELECT 1 FROM event_cohosts WHERE event_id = $1 AND user_id = $2 AND status = 'approved'
		)
	`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, eventID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check host: %w", err)
	}
	return ok, nil
}
