package v1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/middleware"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Refetch tells the client its view is stale and must be re-read
	// before retrying.
	Refetch bool `json:"refetch,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

// respondServiceError maps the error taxonomy onto HTTP. Anything without a
// business kind is an infrastructure failure and is never echoed to clients.
func respondServiceError(c *gin.Context, log *zap.Logger, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Code:   "validation_failed",
			Fields: verr.Fields,
		})
		return
	}
	if errors.Is(err, service.ErrForbidden) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied", Code: "forbidden"})
		return
	}

	body := ErrorResponse{Error: err.Error(), Code: domain.CodeOf(err), Refetch: domain.RequiresRefetch(err)}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		c.JSON(http.StatusBadRequest, body)
	case domain.KindPolicy:
		c.JSON(http.StatusUnprocessableEntity, body)
	case domain.KindInvalidTransition:
		c.JSON(http.StatusConflict, body)
	case domain.KindNotFound:
		c.JSON(http.StatusNotFound, body)
	default:
		_ = c.Error(err)
		log.Error("request failed",
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// callerFrom builds the service caller from the verified token.
func callerFrom(c *gin.Context) (service.Caller, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthenticated")
		return service.Caller{}, false
	}
	return service.Caller{
		UserID:     claims.UserID,
		Role:       claims.Role,
		ProviderID: claims.ProviderID,
		IPAddress:  c.ClientIP(),
		RequestID:  middleware.RequestIDFrom(c),
	}, true
}

// providerFor resolves whose calendar a request targets: an explicit
// provider_id wins, otherwise the caller's own.
func providerFor(c *gin.Context, caller service.Caller, explicit string) (uuid.UUID, bool) {
	if explicit == "" {
		explicit = c.Query("provider_id")
	}
	if explicit != "" {
		id, err := uuid.Parse(explicit)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid provider_id: must be a valid UUID")
			return uuid.Nil, false
		}
		return id, true
	}
	if caller.ProviderID == nil {
		respondError(c, http.StatusBadRequest, "provider_id is required")
		return uuid.Nil, false
	}
	return *caller.ProviderID, true
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// parseDate reads a YYYY-MM-DD calendar day.
func parseDate(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: key + " is required"})
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + key + ": expected YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}
