package v1

import (
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CalendarHandler struct {
	svc *service.CalendarService
	log *zap.Logger
}

func NewCalendarHandler(svc *service.CalendarService, log *zap.Logger) *CalendarHandler {
	return &CalendarHandler{svc: svc, log: log}
}

func (h *CalendarHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/calendar")
	g.GET("/slots", h.ListSlots)
	g.POST("/slots/bulk", h.BulkUpdate)
	g.POST("/slots/:id/book", h.Book)
}

type dayResponse struct {
	ProviderID uuid.UUID   `json:"provider_id"`
	Date       string      `json:"date"`
	Slots      []slot.View `json:"slots"`
}

// GET /calendar/slots?date=YYYY-MM-DD[&provider_id=]
func (h *CalendarHandler) ListSlots(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	providerID, ok := providerFor(c, caller, "")
	if !ok {
		return
	}
	date, ok := parseDate(c, "date")
	if !ok {
		return
	}

	views, err := h.svc.ListSlots(c.Request.Context(), caller, providerID, date)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, dayResponse{ProviderID: providerID, Date: date.Format("2006-01-02"), Slots: views})
}

type bulkUpdateRequest struct {
	ProviderID string      `json:"provider_id"`
	SlotIDs    []uuid.UUID `json:"slot_ids"`
	Status     string      `json:"status" binding:"required"`
	Recurrence bool        `json:"recurrence"`
}

// POST /calendar/slots/bulk
func (h *CalendarHandler) BulkUpdate(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	var req bulkUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	providerID, ok := providerFor(c, caller, req.ProviderID)
	if !ok {
		return
	}

	status, err := slot.ParseStatus(req.Status)
	if err != nil {
		// Validate reports the unknown label with the other field problems.
		status = slot.Status(req.Status)
	}

	res, err := h.svc.ApplyBulkUpdate(c.Request.Context(), caller, &service.BulkUpdateCommand{
		ProviderID: providerID,
		SlotIDs:    req.SlotIDs,
		Status:     status,
		Recurrence: req.Recurrence,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, res)
}

type bookRequest struct {
	CounterpartID uuid.UUID `json:"counterpart_id" binding:"required"`
}

// POST /calendar/slots/:id/book
func (h *CalendarHandler) Book(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	slotID, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req bookRequest
	if !bindJSON(c, &req) {
		return
	}

	sess, err := h.svc.BookSlot(c.Request.Context(), caller, &session.BookCommand{
		SlotID:        slotID,
		CounterpartID: req.CounterpartID,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondCreated(c, sess)
}
