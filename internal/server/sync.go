package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	syncdomain "github.com/smallbiznis/carehub/internal/syncintake/domain"
)

type syncOrderRequest struct {
	DeviceID string                  `json:"device_id" binding:"required"`
	LocalID  string                  `json:"local_id" binding:"required"`
	Order    syncdomain.OrderPayload `json:"order" binding:"required"`
}

type syncBatchRequest struct {
	DeviceID string                 `json:"device_id" binding:"required"`
	Items    []syncdomain.BatchItem `json:"items"`
}

// SubmitSyncOrder answers 201 for a new order and 200 when the submission was already applied.
func (s *Server) SubmitSyncOrder(c *gin.Context) {
	var req syncOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)

	result, err := s.syncSvc.Submit(c.Request.Context(), syncdomain.SubmitRequest{
		DeviceID: deviceID,
		LocalID:  strings.TrimSpace(req.LocalID),
		Order:    req.Order,
		Actor:    syncActor(c, deviceID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == syncdomain.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": result})
}

// SubmitSyncBatch reports one outcome per item; a rejected item never fails the batch.
func (s *Server) SubmitSyncBatch(c *gin.Context) {
	var req syncBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)

	result, err := s.syncSvc.SubmitBatch(c.Request.Context(), deviceID, req.Items, syncActor(c, deviceID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// syncActor attributes a submission to the device unless an operator identity was forwarded.
func syncActor(c *gin.Context, deviceID string) auditdomain.Actor {
	actor := actorFromRequest(c)
	if actor.ID == "" {
		return auditdomain.DeviceActor(deviceID)
	}
	return actor
}
