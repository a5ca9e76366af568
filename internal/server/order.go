package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
)

type createOrderRequest struct {
	AccountID     *snowflake.ID             `json:"account_id,omitempty"`
	Items         []orderdomain.ItemInput   `json:"items" binding:"required,min=1"`
	Total         decimal.Decimal           `json:"total"`
	PaymentMethod orderdomain.PaymentMethod `json:"payment_method" binding:"required"`
	Origin        orderdomain.Origin        `json:"origin"`
	CashSessionID *snowflake.ID             `json:"cash_session_id,omitempty"`
	PlacedAt      *time.Time                `json:"placed_at,omitempty"`
	Notes         string                    `json:"notes"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	origin := req.Origin
	if origin == "" {
		origin = orderdomain.OriginPOS
	}
	var placedAt time.Time
	if req.PlacedAt != nil {
		placedAt = *req.PlacedAt
	}

	order, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateRequest{
		AccountID:     req.AccountID,
		Items:         req.Items,
		Total:         req.Total,
		PaymentMethod: req.PaymentMethod,
		Origin:        origin,
		CashSessionID: req.CashSessionID,
		PlacedAt:      placedAt,
		Notes:         strings.TrimSpace(req.Notes),
		Actor:         actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) CancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := s.orderSvc.Cancel(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorFromRequest(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}
