package handler

import (
	"net/http"

	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/service"

	"github.com/gin-gonic/gin"
)

type TicketHandler struct {
	service service.IssuanceService
}

func NewTicketHandler(service service.IssuanceService) *TicketHandler {
	return &TicketHandler{service: service}
}

// RegisterRoutes router 需已掛上 JWTAuth
func (h *TicketHandler) RegisterRoutes(router gin.IRouter) {
	events := router.Group("events/:eventId")
	{
		events.POST("tickets", h.Issue)
		events.GET("tickets/:participantId", h.GetStatus)
		events.GET("tickets/:participantId/qr", h.DownloadQR)
		events.POST("tickets/:participantId/regenerate", h.Regenerate)
		events.POST("tickets/:participantId/revoke", h.Revoke)
	}
}

// Issue 參加者報名確認後領取自己的票券
func (h *TicketHandler) Issue(c *gin.Context) {
	var uri eventUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}

	issued, err := h.service.IssueOnRegistration(c, uri.id(), requester)
	if err != nil {
		handleError(c, err, "Issue")
		return
	}
	c.JSON(http.StatusCreated, issued)
}

func (h *TicketHandler) GetStatus(c *gin.Context) {
	var uri ticketUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}

	eventID, participantID := uri.ids()
	status, err := h.service.GetStatus(c, eventID, participantID, requester)
	if err != nil {
		handleError(c, err, "GetStatus")
		return
	}
	c.JSON(http.StatusOK, status)
}

// DownloadQR 直接回傳 PNG
func (h *TicketHandler) DownloadQR(c *gin.Context) {
	var uri ticketUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}

	eventID, participantID := uri.ids()
	issued, err := h.service.Download(c, eventID, participantID, requester)
	if err != nil {
		handleError(c, err, "DownloadQR")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, issued.ContentType, issued.QRImage)
}

func (h *TicketHandler) Regenerate(c *gin.Context) {
	var uri ticketUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}

	eventID, participantID := uri.ids()
	issued, err := h.service.Regenerate(c, model.RegenerateRequest{
		EventID:       eventID,
		ParticipantID: participantID,
		RequesterID:   requester,
	})
	if err != nil {
		handleError(c, err, "Regenerate")
		return
	}
	c.JSON(http.StatusOK, issued)
}

func (h *TicketHandler) Revoke(c *gin.Context) {
	var uri ticketUri
	if err := BindUri(c, &uri); err != nil {
		return
	}
	requester, ok := mustRequester(c)
	if !ok {
		return
	}

	eventID, participantID := uri.ids()
	status, err := h.service.Revoke(c, eventID, participantID, requester)
	if err != nil {
		handleError(c, err, "Revoke")
		return
	}
	c.JSON(http.StatusOK, status)
}
