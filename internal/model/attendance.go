package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanOutcome 驗票結果，每一種都要能在 UI 上顯示不同訊息
type ScanOutcome string

const (
	ScanOutcomeSuccess         ScanOutcome = "SUCCESS"
	ScanOutcomeAlreadyConsumed ScanOutcome = "ALREADY_CONSUMED"
	ScanOutcomeExpired         ScanOutcome = "EXPIRED"
	ScanOutcomeNotFound        ScanOutcome = "NOT_FOUND"
	ScanOutcomeRevoked         ScanOutcome = "REVOKED"
	ScanOutcomeEventMismatch   ScanOutcome = "EVENT_MISMATCH"
	ScanOutcomeUnauthorized    ScanOutcome = "UNAUTHORIZED"
	ScanOutcomeMalformedToken  ScanOutcome = "MALFORMED_TOKEN"
	ScanOutcomeThrottled       ScanOutcome = "THROTTLED"
)

// ConsumeResult TryConsume 的結果；失敗時 Ticket 為查到的現況（NOT_FOUND 時為 nil）
type ConsumeResult struct {
	Outcome ScanOutcome
	Ticket  *Ticket
}

// ScanRequest 掃描端送來的驗票請求
type ScanRequest struct {
	EventID   uuid.UUID
	RawToken  string
	ScannerID uuid.UUID
}

// ScanResult 驗票回應
type ScanResult struct {
	Outcome     ScanOutcome         `json:"outcome"`
	Participant *ParticipantSummary `json:"participant,omitempty"`
	Generation  int                 `json:"generation,omitempty"`
	ConsumedAt  *time.Time          `json:"consumed_at,omitempty"`
}

// BulkExpiryPolicy 批次簽到遇到已過期票券時的處理方式
type BulkExpiryPolicy string

const (
	// BulkExpiryOverride 主辦可事後補登，過期仍標記為出席
	BulkExpiryOverride BulkExpiryPolicy = "override"
	// BulkExpiryReject 與掃描相同，過期不可標記
	BulkExpiryReject BulkExpiryPolicy = "reject"
)

func ParseBulkExpiryPolicy(s string) (BulkExpiryPolicy, error) {
	switch p := BulkExpiryPolicy(s); p {
	case BulkExpiryOverride, BulkExpiryReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown bulk expiry policy %q", s)
}

// BulkOutcome 批次簽到中單一參加者的結果
type BulkOutcome string

const (
	BulkOutcomeMarked        BulkOutcome = "MARKED"
	BulkOutcomeAlreadyMarked BulkOutcome = "ALREADY_MARKED"
	BulkOutcomeNotFound      BulkOutcome = "NOT_FOUND"
	BulkOutcomeBackfilled    BulkOutcome = "BACKFILLED"
	BulkOutcomeExpired       BulkOutcome = "EXPIRED"
	BulkOutcomeRevoked       BulkOutcome = "REVOKED"
)

type BulkEntry struct {
	ParticipantID uuid.UUID
	Outcome       BulkOutcome
	Ticket        *Ticket
	// PreviouslyAttended 先前世代已記錄出席，本次只補上核銷，不再算一次出席
	PreviouslyAttended bool
}

type MarkAttendedParams struct {
	EventID        uuid.UUID
	ParticipantIDs []uuid.UUID
	Now            time.Time
	MarkedBy       uuid.UUID
	Policy         BulkExpiryPolicy
}

type BulkAttendanceRequest struct {
	EventID        uuid.UUID
	ParticipantIDs []uuid.UUID
	RequesterID    uuid.UUID
}

// BulkAttendanceResult 批次簽到回應
type BulkAttendanceResult struct {
	NewlyMarked   []uuid.UUID `json:"newly_marked"`
	AlreadyMarked []uuid.UUID `json:"already_marked"`
	NotFound      []uuid.UUID `json:"not_found"`
	// Backfilled 票券已過期但由主辦補登
	Backfilled []uuid.UUID `json:"backfilled"`
	Expired    []uuid.UUID `json:"expired"`
	Revoked    []uuid.UUID `json:"revoked"`
}

// NewBulkAttendanceResult 各清單初始化為空 slice，JSON 輸出為 [] 而非 null
func NewBulkAttendanceResult() *BulkAttendanceResult {
	return &BulkAttendanceResult{
		NewlyMarked:   []uuid.UUID{},
		AlreadyMarked: []uuid.UUID{},
		NotFound:      []uuid.UUID{},
		Backfilled:    []uuid.UUID{},
		Expired:       []uuid.UUID{},
		Revoked:       []uuid.UUID{},
	}
}

func (r *BulkAttendanceResult) Add(entry BulkEntry) {
	switch entry.Outcome {
	case BulkOutcomeMarked:
		r.NewlyMarked = append(r.NewlyMarked, entry.ParticipantID)
	case BulkOutcomeAlreadyMarked:
		r.AlreadyMarked = append(r.AlreadyMarked, entry.ParticipantID)
	case BulkOutcomeNotFound:
		r.NotFound = append(r.NotFound, entry.ParticipantID)
	case BulkOutcomeBackfilled:
		r.Backfilled = append(r.Backfilled, entry.ParticipantID)
	case BulkOutcomeExpired:
		r.Expired = append(r.Expired, entry.ParticipantID)
	case BulkOutcomeRevoked:
		r.Revoked = append(r.Revoked, entry.ParticipantID)
	}
}

// AttendanceStats 活動出席統計
type AttendanceStats struct {
	EventID        uuid.UUID `json:"event_id"`
	TotalTickets   int       `json:"total_tickets"`
	Active         int       `json:"active"`
	Expired        int       `json:"expired"`
	Consumed       int       `json:"consumed"`
	Revoked        int       `json:"revoked"`
	Attended       int       `json:"attended"`
	AttendanceRate float64   `json:"attendance_rate"`
}

// AttendanceSource 出席紀錄來源
type AttendanceSource string

const (
	AttendanceSourceScan AttendanceSource = "scan"
	AttendanceSourceBulk AttendanceSource = "bulk"
)

// AttendanceRecorded 核銷成功後發出的事件，交給下游通知 / 分析服務
type AttendanceRecorded struct {
	EventID          uuid.UUID        `json:"event_id"`
	ParticipantID    uuid.UUID        `json:"participant_id"`
	Generation       int              `json:"generation"`
	TokenFingerprint string           `json:"token_fp,omitempty"`
	Source           AttendanceSource `json:"source"`
	MarkedBy         uuid.UUID        `json:"marked_by"`
	RecordedAt       time.Time        `json:"recorded_at"`
	// Backfilled 票券過期後才由主辦補登
	Backfilled bool `json:"backfilled,omitempty"`
}

// ComputeRate 出席率 = 已出席 / 票券總數
func (s *AttendanceStats) ComputeRate() {
	if s.TotalTickets == 0 {
		s.AttendanceRate = 0
		return
	}
	s.AttendanceRate = float64(s.Attended) / float64(s.TotalTickets)
}
