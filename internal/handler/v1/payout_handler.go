package v1

import (
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/middleware"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PayoutHandler struct {
	svc *service.PayoutService
	log *zap.Logger
}

func NewPayoutHandler(svc *service.PayoutService, log *zap.Logger) *PayoutHandler {
	return &PayoutHandler{svc: svc, log: log}
}

func (h *PayoutHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/payouts")
	g.GET("/eligibility", h.Eligibility)
	g.GET("", h.List)
	// Staff manage calendars on a provider's behalf but do not move money.
	g.POST("", middleware.RequireRole(domain.RoleProvider, domain.RoleAdmin), h.Request)
}

func (h *PayoutHandler) Eligibility(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	providerID, ok := providerFor(c, caller, "")
	if !ok {
		return
	}
	e, err := h.svc.Eligibility(c.Request.Context(), caller, providerID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, e)
}

func (h *PayoutHandler) List(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	providerID, ok := providerFor(c, caller, "")
	if !ok {
		return
	}
	reqs, err := h.svc.ListRequests(c.Request.Context(), caller, providerID, parseQueryInt(c, "limit", 0))
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, reqs)
}

type payoutRequest struct {
	ProviderID            string `json:"provider_id"`
	PeriodLabel           string `json:"period_label"`
	AmountCents           int64  `json:"amount_cents"`
	SessionCount          int    `json:"session_count"`
	SupportingDocumentRef string `json:"supporting_document_ref"`
}

func (h *PayoutHandler) Request(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	var req payoutRequest
	if !bindJSON(c, &req) {
		return
	}
	providerID, ok := providerFor(c, caller, req.ProviderID)
	if !ok {
		return
	}

	created, err := h.svc.RequestPayout(c.Request.Context(), caller, &payout.CreateRequestCommand{
		ProviderID:            providerID,
		PeriodLabel:           req.PeriodLabel,
		AmountCents:           req.AmountCents,
		SessionCount:          req.SessionCount,
		SupportingDocumentRef: req.SupportingDocumentRef,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondCreated(c, created)
}
