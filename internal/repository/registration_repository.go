package repository

import (
	"context"
	"fmt"

	"go-gin-event-attendance/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RegistrationRepository interface {
	Upsert(ctx context.Context, eventID, participantID uuid.UUID, status model.RegistrationStatus) error
	HasConfirmedRegistration(ctx context.Context, eventID, participantID uuid.UUID) (bool, error)
}

type RegistrationRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewRegistrationRepository(pool *pgxpool.Pool) RegistrationRepository {
	return &RegistrationRepositoryImpl{
		pool: pool,
	}
}

func (r *RegistrationRepositoryImpl) Upsert(ctx context.Context, eventID, participantID uuid.UUID, status model.RegistrationStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO registrations (event_id, participant_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, participant_id) DO UPDATE SET status = EXCLUDED.status
	`, eventID, participantID, status)
	if err != nil {
		return fmt.Errorf("upsert registration: %w", err)
	}
	return nil
}

func (r *RegistrationRepositoryImpl) HasConfirmedRegistration(ctx context.Context, eventID, participantID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM registrations
			WHERE event_id = $1 AND participant_id = $2 AND status = $3
		)
	`, eventID, participantID, model.RegistrationStatusConfirmed).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return ok, nil
}
