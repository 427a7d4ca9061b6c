package handler

import (
	"net/http"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AttendanceHandler struct {
	verification service.VerificationService
	attendance   service.AttendanceService
}

func NewAttendanceHandler(verification service.VerificationService, attendance service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{
		verification: verification,
		attendance:   attendance,
	}
}

func (h *AttendanceHandler) RegisterRoutes(router gin.IRouter) {
	events := router.Group("events/:eventId")
	{
		events.POST("scan", h.Scan)
		events.POST("attendance/bulk", h.ApplyBulk)
		events.GET("attendance/stats", h.Stats)
	}
}

// ScanRequest 掃描端送出的 QR 內容
type ScanRequest struct {
	Token string `json:"token" binding:"required"`
}

// BulkAttendanceRequest 批次簽到請求
type BulkAttendanceRequest struct {
	ParticipantIDs []uuid.UUID `json:"participant_ids" binding:"required"`
}

// Scan 業務結果都以 200 回傳，由 outcome 區分
func (h *AttendanceHandler) Scan(c *gin.Context) {
	var uri eventUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	scanner, ok := mustRequester(c)
	if !ok {
		return
	}
	var req ScanRequest
	if err := BindJson(c, &req); err != nil {
		return
	}

	result, err := h.verification.Scan(c, model.ScanRequest{
		EventID:   uri.id(),
		RawToken:  req.Token,
		ScannerID: scanner,
	})
	if err != nil {
		handleError(c, err, "Scan")
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case model.ScanOutcomeUnauthorized:
		status = http.StatusForbidden
	case model.ScanOutcomeThrottled:
		status = http.StatusTooManyRequests
	}
	c.JSON(status, result)
}

func (h *AttendanceHandler) ApplyBulk(c *gin.Context) {
	var uri eventUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}
	var req BulkAttendanceRequest
	if err := BindJson(c, &req); err != nil {
		return
	}

	result, err := h.attendance.ApplyBulk(c, model.BulkAttendanceRequest{
		EventID:        uri.id(),
		ParticipantIDs: req.ParticipantIDs,
		RequesterID:    requester,
	})
	if err != nil {
		handleError(c, err, "ApplyBulk")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AttendanceHandler) Stats(c *gin.Context) {
	var uri eventUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}

	stats, err := h.attendance.Stats(c, uri.id(), requester)
	if err != nil {
		handleError(c, err, "Stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
