package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/carehub/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	AccountID    string                          `json:"account_id" binding:"required"`
	PlanName     string                          `json:"plan_name" binding:"required"`
	PlanAmount   decimal.Decimal                 `json:"plan_amount" binding:"gt=0"`
	BillingCycle subscriptiondomain.BillingCycle `json:"billing_cycle"`
	BillingDay   int                             `json:"billing_day" binding:"gte=0,lte=28"`
	TrialDays    int                             `json:"trial_days" binding:"gte=0"`
	StartAt      *time.Time                      `json:"start_at,omitempty"`
	StartPending bool                            `json:"start_pending"`
}

type subscriptionTransition func(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*subscriptiondomain.Subscription, error)

var subscriptionActions = []string{"activate", "pause", "resume", "suspend", "cancel", "expire"}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}
	accountID, err := parseOptionalSnowflakeID(req.AccountID)
	if err != nil || accountID == nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = subscriptiondomain.CycleMonthly
	}
	var startAt time.Time
	if req.StartAt != nil {
		startAt = *req.StartAt
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		AccountID:    *accountID,
		PlanName:     strings.TrimSpace(req.PlanName),
		PlanAmount:   req.PlanAmount,
		BillingCycle: subscriptiondomain.BillingCycle(strings.ToLower(string(cycle))),
		BillingDay:   req.BillingDay,
		TrialDays:    req.TrialDays,
		StartAt:      startAt,
		StartPending: req.StartPending,
		Actor:        actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

// GenerateSubscriptionInvoice bills the subscription's current period on demand.
func (s *Server) GenerateSubscriptionInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.GenerateSubscription(c.Request.Context(), invoicedomain.GenerateSubscriptionRequest{
		SubscriptionID: id,
		Actor:          actorFromRequest(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) TransitionSubscription(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		transition := s.subscriptionTransition(action)
		if transition == nil {
			AbortWithError(c, ErrNotFound)
			return
		}

		sub, err := transition(c.Request.Context(), id, actorFromRequest(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": sub})
	}
}

func (s *Server) subscriptionTransition(action string) subscriptionTransition {
	switch action {
	case "activate":
		return s.subscriptionSvc.Activate
	case "pause":
		return s.subscriptionSvc.Pause
	case "resume":
		return s.subscriptionSvc.Resume
	case "suspend":
		return s.subscriptionSvc.Suspend
	case "cancel":
		return s.subscriptionSvc.Cancel
	case "expire":
		return s.subscriptionSvc.Expire
	default:
		return nil
	}
}
