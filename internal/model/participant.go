package model

import (
	"time"

	"github.com/google/uuid"
)

// Participant 參加者，由會員系統同步
type Participant struct {
	ParticipantID uuid.UUID `json:"participant_id" db:"participant_id"`
	Name          string    `json:"name" db:"name"`
	Email         string    `json:"email" db:"email"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

func (p *Participant) Summary() *ParticipantSummary {
	return &ParticipantSummary{
		ParticipantID: p.ParticipantID,
		Name:          p.Name,
		Email:         p.Email,
	}
}
