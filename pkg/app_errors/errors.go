package apperrors

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")

	// 票券相關
	ErrMalformedToken        = errors.New("malformed token")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrTicketAlreadyConsumed = errors.New("ticket already consumed")
	ErrTicketRevoked         = errors.New("ticket revoked")
	ErrTokenCollision        = errors.New("token collision")

	// 活動 / 報名相關
	ErrEventNotFound        = errors.New("event not found")
	ErrEventConcluded       = errors.New("event has concluded")
	ErrRegistrationNotFound = errors.New("confirmed registration not found")
	ErrParticipantNotFound  = errors.New("participant not found")
)
