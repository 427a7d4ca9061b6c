package handler

import (
	"errors"
	"net/http"

	apperrors "go-gin-event-attendance/pkg/app_errors"
	"go-gin-event-attendance/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func BindJson(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return err
	}
	return nil
}

func BindUri(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindUri(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return err
	}
	return nil
}

// ticketUri 票券路由共用的路徑參數
type ticketUri struct {
	EventID       string `uri:"eventId" binding:"required,uuid"`
	ParticipantID string `uri:"participantId" binding:"required,uuid"`
}

type eventUri struct {
	EventID string `uri:"eventId" binding:"required,uuid"`
}

func (u ticketUri) ids() (uuid.UUID, uuid.UUID) {
	return uuid.MustParse(u.EventID), uuid.MustParse(u.ParticipantID)
}

func (u eventUri) id() uuid.UUID {
	return uuid.MustParse(u.EventID)
}

// errorResponse 每種錯誤對應的 HTTP 狀態與訊息
type errorResponse struct {
	status  int
	message string
}

var knownErrors = []struct {
	err  error
	resp errorResponse
}{
	{apperrors.ErrInvalidInput, errorResponse{http.StatusBadRequest, "Invalid input"}},
	{apperrors.ErrMalformedToken, errorResponse{http.StatusBadRequest, "Malformed ticket token"}},
	{apperrors.ErrUnauthorized, errorResponse{http.StatusForbidden, "Not allowed for this event"}},
	{apperrors.ErrTicketNotFound, errorResponse{http.StatusNotFound, "Ticket not found"}},
	{apperrors.ErrEventNotFound, errorResponse{http.StatusNotFound, "Event not found"}},
	{apperrors.ErrParticipantNotFound, errorResponse{http.StatusNotFound, "Participant not found"}},
	{apperrors.ErrRegistrationNotFound, errorResponse{http.StatusConflict, "No confirmed registration for this event"}},
	{apperrors.ErrEventConcluded, errorResponse{http.StatusConflict, "Event has concluded"}},
	{apperrors.ErrTicketAlreadyConsumed, errorResponse{http.StatusConflict, "Ticket already used"}},
	{apperrors.ErrTicketRevoked, errorResponse{http.StatusConflict, "Ticket revoked"}},
	{apperrors.ErrTokenCollision, errorResponse{http.StatusServiceUnavailable, "Could not allocate ticket, please retry"}},
}

func handleError(c *gin.Context, err error, operation string) {
	log := logger.WithComponent("handler").With(zap.String("operation", operation), zap.Error(err))
	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			log.Warn(known.resp.message)
			c.JSON(known.resp.status, gin.H{"error": known.resp.message})
			return
		}
	}
	// 未知錯誤多半是資料庫或 Redis 暫時異常，可以重試
	log.Error("Unexpected error")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
}
