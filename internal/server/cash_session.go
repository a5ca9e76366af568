package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
)

type openCashSessionRequest struct {
	UserID         string          `json:"user_id" binding:"required"`
	DeviceID       string          `json:"device_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance" binding:"gte=0"`
	Notes          string          `json:"notes"`
}

type cashMovementRequest struct {
	Type        cashdomain.MovementType `json:"type" binding:"required"`
	Amount      decimal.Decimal         `json:"amount" binding:"gt=0"`
	Method      string                  `json:"method"`
	Description string                  `json:"description"`
	OrderID     string                  `json:"order_id"`
}

type closeCashSessionRequest struct {
	Counted map[string]decimal.Decimal `json:"counted" binding:"required"`
	Notes   string                     `json:"notes"`
}

type auditCashSessionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) OpenCashSession(c *gin.Context) {
	var req openCashSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.cashSvc.Open(c.Request.Context(), cashdomain.OpenRequest{
		UserID:         strings.TrimSpace(req.UserID),
		DeviceID:       strings.TrimSpace(req.DeviceID),
		OpeningBalance: req.OpeningBalance,
		Notes:          strings.TrimSpace(req.Notes),
		Actor:          actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

// CurrentCashSession returns the caller's open session; user_id defaults to the actor.
func (s *Server) CurrentCashSession(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		userID = actorFromRequest(c).ID
	}

	session, err := s.cashSvc.Current(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) GetCashSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	session, err := s.cashSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) CashSessionSummary(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	summary, err := s.cashSvc.Summary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) RecordCashMovement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cashMovementRequest
	if !bindJSON(c, &req) {
		return
	}
	orderID, err := parseOptionalSnowflakeID(req.OrderID)
	if err != nil {
		AbortWithError(c, newValidationError("order_id", "invalid_order_id", "invalid order_id"))
		return
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = cashdomain.MethodCash
	}

	movement, err := s.cashSvc.RecordMovement(c.Request.Context(), cashdomain.MovementRequest{
		SessionID:   id,
		Type:        cashdomain.MovementType(strings.ToLower(strings.TrimSpace(string(req.Type)))),
		Amount:      req.Amount,
		Method:      method,
		Description: strings.TrimSpace(req.Description),
		OrderID:     orderID,
		Actor:       actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": movement})
}

// CloseCashSession takes the blind count and returns the per-method differences.
func (s *Server) CloseCashSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req closeCashSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	counted := make(map[string]decimal.Decimal, len(req.Counted))
	for method, amount := range req.Counted {
		counted[strings.ToLower(strings.TrimSpace(method))] = amount
	}

	result, err := s.cashSvc.Close(c.Request.Context(), cashdomain.CloseRequest{
		SessionID:       id,
		CountedByMethod: counted,
		Notes:           strings.TrimSpace(req.Notes),
		Actor:           actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result, "balanced": result.Balanced()})
}

func (s *Server) AuditCashSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req auditCashSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := s.cashSvc.Audit(c.Request.Context(), cashdomain.AuditRequest{
		SessionID: id,
		Notes:     strings.TrimSpace(req.Notes),
		Actor:     actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}
