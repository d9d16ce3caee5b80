package v1

import (
	"context"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/gin-gonic/gin"
)

// TopicAuthorizer grants provider topics to callers who may act for the
// provider, and session topics to callers who may act for the session's
// provider.
func TopicAuthorizer(sessions *service.SessionService) realtime.TopicAuthorizer {
	return func(ctx context.Context, claims *domain.Claims, topic string) bool {
		caller := service.Caller{UserID: claims.UserID, Role: claims.Role, ProviderID: claims.ProviderID}
		if id, ok := realtime.ProviderIDFromTopic(topic); ok {
			return caller.CanActFor(id)
		}
		if id, ok := realtime.SessionIDFromTopic(topic); ok {
			sess, err := sessions.GetByID(ctx, id)
			if err != nil {
				return false
			}
			return caller.CanActFor(sess.ProviderID)
		}
		return false
	}
}

func RegisterRealtime(rg *gin.RouterGroup, ws *realtime.WebSocketHandler) {
	rg.GET("/realtime/ws", ws.HandleConnect)
}
