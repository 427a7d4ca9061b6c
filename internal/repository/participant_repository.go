package repository

import (
	"context"
	"fmt"

	"go-gin-event-attendance/internal/model"
	apperrors "go-gin-event-attendance/pkg/app_errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ParticipantRepository interface {
	Create(ctx context.Context, participant *model.Participant) (*model.Participant, error)
	FindByID(ctx context.Context, participantID uuid.UUID) (*model.Participant, error)
	GetSummary(ctx context.Context, participantID uuid.UUID) (*model.ParticipantSummary, error)
}

type ParticipantRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) ParticipantRepository {
	return &ParticipantRepositoryImpl{
		pool: pool,
	}
}

func (r *ParticipantRepositoryImpl) Create(ctx context.Context, participant *model.Participant) (*model.Participant, error) {
	query := `
		INSERT INTO participants (participant_id, name, email)
		VALUES ($1, $2, $3)
		RETURNING participant_id, name, email, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		participant.ParticipantID, participant.Name, participant.Email,
	).Scan(
		&participant.ParticipantID,
		&participant.Name,
		&participant.Email,
		&participant.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	return participant, nil
}

func (r *ParticipantRepositoryImpl) FindByID(ctx context.Context, participantID uuid.UUID) (*model.Participant, error) {
	query := `
		SELECT participant_id, name, email, created_at
		FROM participants
		WHERE participant_id = $1
	`

	var participant model.Participant
	err := r.pool.QueryRow(ctx, query, participantID).Scan(
		&participant.ParticipantID,
		&participant.Name,
		&participant.Email,
		&participant.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return &participant, nil
}

func (r *ParticipantRepositoryImpl) GetSummary(ctx context.Context, participantID uuid.UUID) (*model.ParticipantSummary, error) {
	participant, err := r.FindByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return participant.Summary(), nil
}
