package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/carehub/internal/payment/domain"
)

// HandlePaymentWebhook acknowledges every verified notification, including replays and ones the gateway
// sends for events we do not track, so providers stop retrying them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.ApplyNotification(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrNotificationIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"status": "ok"}
	if intent != nil {
		resp["payment_intent_id"] = intent.ID.String()
		resp["payment_status"] = intent.Status
	}
	c.JSON(http.StatusOK, resp)
}
