package model

import (
	"time"

	"github.com/google/uuid"
)

// Event 活動資料，由外部活動管理系統維護，本服務只讀取
type Event struct {
	ID          int        `json:"id" db:"id"`
	EventID     uuid.UUID  `json:"event_id" db:"event_id"`
	Name        string     `json:"name" db:"name"`
	Description *string    `json:"description,omitempty" db:"description"`
	HostID      uuid.UUID  `json:"host_id" db:"host_id"`
	StartsAt    time.Time  `json:"starts_at" db:"starts_at"`
	EndsAt      time.Time  `json:"ends_at" db:"ends_at"`
	ConcludedAt *time.Time `json:"concluded_at,omitempty" db:"concluded_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// EventWindow 活動時間窗，票券到期時間由 EndTime 推導
type EventWindow struct {
	StartTime   time.Time
	EndTime     time.Time
	ConcludedAt *time.Time
}

// HasConcluded 主辦提前結束或已過結束時間即視為結束
func (w EventWindow) HasConcluded(now time.Time) bool {
	if w.ConcludedAt != nil && !now.Before(*w.ConcludedAt) {
		return true
	}
	return !now.Before(w.EndTime)
}

// RegistrationStatus 報名狀態
type RegistrationStatus string

const (
	RegistrationStatusConfirmed  RegistrationStatus = "confirmed"
	RegistrationStatusWaitlisted RegistrationStatus = "waitlisted"
	RegistrationStatusCancelled  RegistrationStatus = "cancelled"
)

// ParticipantSummary 驗票成功時給掃描端顯示的參加者資訊
type ParticipantSummary struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
}
