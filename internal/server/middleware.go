package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorType = "X-Actor-Type"
)

// actorFromRequest reads the caller identity the gateway in front of the API forwards.
// A request without an actor id is attributed to the system.
func actorFromRequest(c *gin.Context) auditdomain.Actor {
	id := strings.TrimSpace(c.GetHeader(HeaderActorID))
	if id == "" {
		return auditdomain.SystemActor()
	}
	switch auditdomain.ActorType(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorType)))) {
	case auditdomain.ActorTypeDevice:
		return auditdomain.DeviceActor(id)
	case auditdomain.ActorTypeSystem:
		return auditdomain.Actor{Type: auditdomain.ActorTypeSystem, ID: id}
	default:
		return auditdomain.UserActor(id)
	}
}

// pathID parses the :id route parameter, aborting with a validation error when malformed.
func pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
