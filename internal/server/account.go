package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
)

type createAccountRequest struct {
	Name        string          `json:"name" binding:"required"`
	ExternalRef string          `json:"external_ref"`
	CreditLimit decimal.Decimal `json:"credit_limit" binding:"gte=0"`
}

type ledgerMovementRequest struct {
	Amount         decimal.Decimal `json:"amount" binding:"gt=0"`
	Reason         string          `json:"reason" binding:"required"`
	CorrelationRef string          `json:"correlation_ref"`
	Kind           string          `json:"kind"`
	ExternalRef    string          `json:"external_ref"`
	OrderID        string          `json:"order_id"`
	InvoiceID      string          `json:"invoice_id"`
}

type adjustLimitRequest struct {
	CreditLimit decimal.Decimal `json:"credit_limit" binding:"gte=0"`
	Reason      string          `json:"reason" binding:"required"`
}

type adjustAccountRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason" binding:"required"`
	CorrelationRef string          `json:"correlation_ref"`
	InvoiceID      string          `json:"invoice_id"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateAccountRequest{
		Name:        strings.TrimSpace(req.Name),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		CreditLimit: req.CreditLimit,
		Actor:       actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	account, err := s.accountSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) DebitAccount(c *gin.Context) {
	s.postLedgerMovement(c, true)
}

func (s *Server) CreditAccount(c *gin.Context) {
	s.postLedgerMovement(c, false)
}

func (s *Server) postLedgerMovement(c *gin.Context, debit bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ledgerMovementRequest
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

	ctx := c.Request.Context()
	kind := accountdomain.TransactionType(strings.TrimSpace(req.Kind))
	var txn *accountdomain.LedgerTransaction
	if debit {
		txn, err = s.accountSvc.Debit(ctx, accountdomain.DebitRequest{
			AccountID:      id,
			Amount:         req.Amount,
			Reason:         strings.TrimSpace(req.Reason),
			CorrelationRef: strings.TrimSpace(req.CorrelationRef),
			Kind:           kind,
			OrderID:        orderID,
			InvoiceID:      invoiceID,
			ExternalRef:    strings.TrimSpace(req.ExternalRef),
			Actor:          actorFromRequest(c),
		})
	} else {
		txn, err = s.accountSvc.Credit(ctx, accountdomain.CreditRequest{
			AccountID:      id,
			Amount:         req.Amount,
			Reason:         strings.TrimSpace(req.Reason),
			CorrelationRef: strings.TrimSpace(req.CorrelationRef),
			Kind:           kind,
			OrderID:        orderID,
			InvoiceID:      invoiceID,
			ExternalRef:    strings.TrimSpace(req.ExternalRef),
			Actor:          actorFromRequest(c),
		})
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) AdjustAccountLimit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req adjustLimitRequest
	if !bindJSON(c, &req) {
		return
	}

	txn, err := s.accountSvc.AdjustLimit(c.Request.Context(), accountdomain.AdjustLimitRequest{
		AccountID: id,
		NewLimit:  req.CreditLimit,
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) AdjustAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req adjustAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	invoiceID, err := parseOptionalSnowflakeID(req.InvoiceID)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice_id"))
		return
	}

	txn, err := s.accountSvc.Adjust(c.Request.Context(), accountdomain.AdjustRequest{
		AccountID:      id,
		Amount:         req.Amount,
		Reason:         strings.TrimSpace(req.Reason),
		CorrelationRef: strings.TrimSpace(req.CorrelationRef),
		InvoiceID:      invoiceID,
		Actor:          actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) BlockAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := s.accountSvc.Block(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) UnblockAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := s.accountSvc.Unblock(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) RetireAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	account, err := s.accountSvc.Retire(c.Request.Context(), id, actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) ListAccountTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var query struct {
		pagination.Pagination
		Type string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.ListTransactions(c.Request.Context(), accountdomain.ListTransactionsRequest{
		Pagination: query.Pagination,
		AccountID:  id,
		Type:       accountdomain.TransactionType(strings.TrimSpace(query.Type)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) VerifyAccountLedger(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := s.accountSvc.VerifyLedger(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
