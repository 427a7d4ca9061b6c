package model

import (
	"time"

	"github.com/google/uuid"
)

// TicketState 票券狀態
type TicketState string

const (
	TicketStateActive   TicketState = "ACTIVE"
	TicketStateConsumed TicketState = "CONSUMED"
	// TicketStateExpired 不會寫入資料庫，由 expires_at 推導
	TicketStateExpired TicketState = "EXPIRED"
	TicketStateRevoked TicketState = "REVOKED"
)

// CanTransitionTo 檢查同一世代內是否可以轉換到目標狀態
func (s TicketState) CanTransitionTo(target TicketState) bool {
	transitions := map[TicketState][]TicketState{
		TicketStateActive:   {TicketStateConsumed, TicketStateRevoked},
		TicketStateConsumed: {},
		TicketStateExpired:  {},
		TicketStateRevoked:  {},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}
	return false
}

// Ticket 入場票券，每個 (活動, 參加者) 只有一筆
type Ticket struct {
	ID            int64       `json:"id" db:"id"`
	EventID       uuid.UUID   `json:"event_id" db:"event_id"`
	ParticipantID uuid.UUID   `json:"participant_id" db:"participant_id"`
	Token         string      `json:"-" db:"token"`
	State         TicketState `json:"state" db:"state"`
	Generation    int         `json:"generation" db:"generation"`
	IssuedAt      time.Time   `json:"issued_at" db:"issued_at"`
	ExpiresAt     time.Time   `json:"expires_at" db:"expires_at"`
	ConsumedAt    *time.Time  `json:"consumed_at,omitempty" db:"consumed_at"`
	ConsumedBy    *uuid.UUID  `json:"consumed_by,omitempty" db:"consumed_by"`
	AttendedAt    *time.Time  `json:"attended_at,omitempty" db:"attended_at"`
	RevokedAt     *time.Time  `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// IsExpired 票券只在 now < expires_at 時有效
func (t *Ticket) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// EffectiveState 回傳考慮過期後的狀態
func (t *Ticket) EffectiveState(now time.Time) TicketState {
	if t.State == TicketStateActive && t.IsExpired(now) {
		return TicketStateExpired
	}
	return t.State
}

// Status 轉成不含 token 的狀態回應
func (t *Ticket) Status(now time.Time) TicketStatus {
	return TicketStatus{
		EventID:       t.EventID,
		ParticipantID: t.ParticipantID,
		State:         t.EffectiveState(now),
		Generation:    t.Generation,
		IssuedAt:      t.IssuedAt,
		ExpiresAt:     t.ExpiresAt,
		ConsumedAt:    t.ConsumedAt,
	}
}

// IssueTicketParams 建立或替換票券所需資料
type IssueTicketParams struct {
	EventID       uuid.UUID
	ParticipantID uuid.UUID
	Token         string
	// TokenFingerprint 用於比對已退役的 token
	TokenFingerprint string
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// TicketStatus 票券狀態回應（不含 token）
type TicketStatus struct {
	EventID       uuid.UUID   `json:"event_id"`
	ParticipantID uuid.UUID   `json:"participant_id"`
	State         TicketState `json:"state"`
	Generation    int         `json:"generation"`
	IssuedAt      time.Time   `json:"issued_at"`
	ExpiresAt     time.Time   `json:"expires_at"`
	ConsumedAt    *time.Time  `json:"consumed_at,omitempty"`
}

// IssuedTicket 發行 / 重新產生後回傳給參加者的內容
type IssuedTicket struct {
	QRImage     []byte      `json:"qr_image"`
	ContentType string      `json:"content_type"`
	State       TicketState `json:"state"`
	Generation  int         `json:"generation"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	// InvalidatedGeneration 重新產生時被作廢的世代，首次發行為 0
	InvalidatedGeneration int `json:"invalidated_generation,omitempty"`
}

// RegenerateRequest 重新產生票券請求
type RegenerateRequest struct {
	EventID       uuid.UUID
	ParticipantID uuid.UUID
	RequesterID   uuid.UUID
}
