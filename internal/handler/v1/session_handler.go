package v1

import (
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	svc *service.SessionService
	log *zap.Logger
}

func NewSessionHandler(svc *service.SessionService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, log: log}
}

func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/sessions")
	g.GET("/dashboard", h.Dashboard)
	g.GET("/:id", h.Get)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/complete", h.Complete)
	g.GET("/:id/cancellation", h.AuthorizeCancellation)
	g.POST("/:id/cancellation", h.SubmitCancellation)
	g.GET("/:id/cancellation/record", h.GetCancellation)
}

// GET /sessions/dashboard[?provider_id=]
func (h *SessionHandler) Dashboard(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	providerID, ok := providerFor(c, caller, "")
	if !ok {
		return
	}
	d, err := h.svc.Dashboard(c.Request.Context(), caller, providerID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, d)
}

func (h *SessionHandler) Get(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.GetSession(c.Request.Context(), caller, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, v)
}

func (h *SessionHandler) Start(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.StartSession(c.Request.Context(), caller, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, v)
}

func (h *SessionHandler) Complete(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.CompleteSession(c.Request.Context(), caller, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, v)
}

// GET /sessions/:id/cancellation opens the flow: it returns the category and
// what the submission must carry.
func (h *SessionHandler) AuthorizeCancellation(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	auth, err := h.svc.AuthorizeCancellation(c.Request.Context(), caller, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, auth)
}

type cancelRequest struct {
	// Category is the one returned when the flow was opened.
	Category      string `json:"category" binding:"required"`
	Justification string `json:"justification"`
	DocumentRef   string `json:"document_ref"`
}

func (h *SessionHandler) SubmitCancellation(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.svc.SubmitCancellation(c.Request.Context(), caller, &session.CancelCommand{
		SessionID:     id,
		Category:      session.CancellationCategory(req.Category),
		Justification: req.Justification,
		DocumentRef:   req.DocumentRef,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondCreated(c, rec)
}

// GET /sessions/:id/cancellation/record returns what was stored when the
// session was cancelled.
func (h *SessionHandler) GetCancellation(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.GetCancellation(c.Request.Context(), caller, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, rec)
}
