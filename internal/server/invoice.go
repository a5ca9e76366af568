package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
)

type generateInvoiceRequest struct {
	AccountID   string          `json:"account_id" binding:"required"`
	PeriodStart string          `json:"period_start" binding:"required"`
	PeriodEnd   string          `json:"period_end" binding:"required"`
	Discount    decimal.Decimal `json:"discount" binding:"gte=0"`
	DueDays     int             `json:"due_days" binding:"gte=0"`
	AsDraft     bool            `json:"as_draft"`
}

type registerPaymentRequest struct {
	Amount    decimal.Decimal             `json:"amount" binding:"gt=0"`
	Method    invoicedomain.PaymentMethod `json:"method" binding:"required"`
	PaidAt    *time.Time                  `json:"paid_at,omitempty"`
	Reference string                      `json:"reference"`
}

type applyDiscountRequest struct {
	Discount decimal.Decimal `json:"discount" binding:"gte=0"`
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		AccountID string `form:"account_id"`
		Status    string `form:"status"`
		Type      string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseOptionalSnowflakeID(query.AccountID)
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}

	req := invoicedomain.ListInvoiceRequest{
		Pagination: query.Pagination,
		AccountID:  accountID,
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		value := invoicedomain.InvoiceStatus(strings.ToLower(status))
		req.Status = &value
	}
	if invoiceType := strings.TrimSpace(query.Type); invoiceType != "" {
		value := invoicedomain.InvoiceType(strings.ToLower(invoiceType))
		req.Type = &value
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GenerateConsumptionInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	accountID, err := parseOptionalSnowflakeID(req.AccountID)
	if err != nil || accountID == nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}
	periodStart, err := parseRequiredTime(req.PeriodStart, false)
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_period_start", "invalid period_start"))
		return
	}
	periodEnd, err := parseRequiredTime(req.PeriodEnd, true)
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_period_end", "invalid period_end"))
		return
	}

	invoice, err := s.invoiceSvc.GenerateConsumption(c.Request.Context(), invoicedomain.GenerateConsumptionRequest{
		AccountID:   *accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Discount:    req.Discount,
		DueDays:     req.DueDays,
		AsDraft:     req.AsDraft,
		Actor:       actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) ListInvoicePayments(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	payments, err := s.invoiceSvc.ListPayments(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) IssueInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Issue(c.Request.Context(), id, actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) ApplyInvoiceDiscount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req applyDiscountRequest
	if !bindJSON(c, &req) {
		return
	}

	invoice, err := s.invoiceSvc.ApplyDiscount(c.Request.Context(), invoicedomain.ApplyDiscountRequest{
		InvoiceID: id,
		Discount:  req.Discount,
		Actor:     actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) RegisterInvoicePayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req registerPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	var paidAt time.Time
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	invoice, err := s.invoiceSvc.RegisterPayment(c.Request.Context(), invoicedomain.RegisterPaymentRequest{
		InvoiceID: id,
		Amount:    req.Amount,
		Method:    invoicedomain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.Method)))),
		PaidAt:    paidAt,
		Reference: strings.TrimSpace(req.Reference),
		Actor:     actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	invoice, err := s.invoiceSvc.Cancel(c.Request.Context(), invoicedomain.CancelRequest{
		InvoiceID: id,
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}
