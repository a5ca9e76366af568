package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/carehub/internal/payment/domain"
)

type createPaymentIntentRequest struct {
	OrderID         string                        `json:"order_id"`
	InvoiceID       string                        `json:"invoice_id"`
	IntegrationType paymentdomain.IntegrationType `json:"integration_type" binding:"required"`
	Provider        string                        `json:"provider"`
	PaymentMethod   paymentdomain.Method          `json:"payment_method" binding:"required"`
	Amount          decimal.Decimal               `json:"amount" binding:"gte=0"`
	TerminalID      string                        `json:"terminal_id"`
	CashSessionID   string                        `json:"cash_session_id"`
	Description     string                        `json:"description"`
}

type confirmManualRequest struct {
	Approved          bool   `json:"approved"`
	AuthorizationCode string `json:"authorization_code"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req createPaymentIntentRequest
	if !bindJSON(c, &req) {
		return
	}
	orderID, err := parseOptionalSnowflakeID(req.OrderID)
	if err != nil {
		AbortWithError(c, newValidationError("order_id", "invalid_order_id", "invalid order_id"))
		return
	}
	invoiceID, err := parseOptionalSnowflakeID(req.InvoiceID)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice_id"))
		return
	}
	cashSessionID, err := parseOptionalSnowflakeID(req.CashSessionID)
	if err != nil {
		AbortWithError(c, newValidationError("cash_session_id", "invalid_cash_session_id", "invalid cash_session_id"))
		return
	}

	intent, err := s.paymentSvc.CreateIntent(c.Request.Context(), paymentdomain.CreateIntentRequest{
		OrderID:         orderID,
		InvoiceID:       invoiceID,
		IntegrationType: paymentdomain.IntegrationType(strings.ToLower(strings.TrimSpace(string(req.IntegrationType)))),
		Provider:        strings.TrimSpace(req.Provider),
		PaymentMethod:   paymentdomain.Method(strings.ToLower(strings.TrimSpace(string(req.PaymentMethod)))),
		Amount:          req.Amount,
		TerminalID:      strings.TrimSpace(req.TerminalID),
		CashSessionID:   cashSessionID,
		Description:     strings.TrimSpace(req.Description),
		Actor:           actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) GetPaymentIntent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	intent, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

// CheckPaymentIntent polls the gateway and applies whatever status it reports.
func (s *Server) CheckPaymentIntent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	intent, err := s.paymentSvc.CheckStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) CancelPaymentIntent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	intent, err := s.paymentSvc.Cancel(c.Request.Context(), id, actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) RefundPaymentIntent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	intent, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundRequest{
		IntentID: id,
		Reason:   strings.TrimSpace(req.Reason),
		Actor:    actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) ConfirmManualPaymentIntent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req confirmManualRequest
	if !bindJSON(c, &req) {
		return
	}

	intent, err := s.paymentSvc.ConfirmManual(c.Request.Context(), paymentdomain.ConfirmManualRequest{
		IntentID:          id,
		Approved:          req.Approved,
		AuthorizationCode: strings.TrimSpace(req.AuthorizationCode),
		Actor:             actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}
