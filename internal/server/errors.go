package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	paymentdomain "github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/carehub/internal/subscription/domain"
	syncdomain "github.com/smallbiznis/carehub/internal/syncintake/domain"
	"github.com/smallbiznis/carehub/pkg/transition"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details any               `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

var validationSentinels = []error{
	ErrInvalidRequest,
	accountdomain.ErrInvalidAmount,
	accountdomain.ErrInvalidKind,
	accountdomain.ErrInvalidLimit,
	accountdomain.ErrInvalidName,
	accountdomain.ErrInvalidReason,
	accountdomain.ErrInvalidPageToken,
	orderdomain.ErrInvalidItems,
	orderdomain.ErrInvalidMethod,
	orderdomain.ErrInvalidOrigin,
	orderdomain.ErrAccountRequired,
	orderdomain.ErrTotalMismatch,
	orderdomain.ErrCashSessionRequired,
	cashdomain.ErrInvalidMovement,
	cashdomain.ErrInvalidMethod,
	cashdomain.ErrInvalidAmount,
	cashdomain.ErrInvalidUser,
	invoicedomain.ErrInvalidAccount,
	invoicedomain.ErrInvalidPeriod,
	invoicedomain.ErrInvalidAmount,
	invoicedomain.ErrInvalidDiscount,
	invoicedomain.ErrInvalidMethod,
	invoicedomain.ErrInvalidReference,
	invoicedomain.ErrInvalidReason,
	invoicedomain.ErrInvalidPageToken,
	subscriptiondomain.ErrInvalidAccount,
	subscriptiondomain.ErrInvalidPlan,
	subscriptiondomain.ErrInvalidAmount,
	subscriptiondomain.ErrInvalidBillingCycle,
	subscriptiondomain.ErrInvalidBillingDay,
	subscriptiondomain.ErrInvalidTrialDays,
	paymentdomain.ErrInvalidTarget,
	paymentdomain.ErrInvalidIntegration,
	paymentdomain.ErrInvalidMethod,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrTerminalRequired,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidNotification,
	paymentdomain.ErrUnsupported,
	syncdomain.ErrInvalidSubmission,
	syncdomain.ErrEmptyBatch,
	syncdomain.ErrBatchTooLarge,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var notFoundSentinels = []error{
	ErrNotFound,
	accountdomain.ErrAccountNotFound,
	orderdomain.ErrOrderNotFound,
	cashdomain.ErrSessionNotFound,
	invoicedomain.ErrInvoiceNotFound,
	subscriptiondomain.ErrSubscriptionNotFound,
	paymentdomain.ErrIntentNotFound,
	paymentdomain.ErrProviderNotFound,
	scheduler.ErrUnknownJob,
	gorm.ErrRecordNotFound,
}

var conflictSentinels = []error{
	ErrConflict,
	transition.ErrInvalidTransition,
	accountdomain.ErrAccountBlocked,
	accountdomain.ErrAccountRetired,
	accountdomain.ErrDuplicateExternal,
	accountdomain.ErrCorrelationConflict,
	orderdomain.ErrOrderInvoiced,
	cashdomain.ErrSessionAlreadyOpen,
	cashdomain.ErrSessionClosed,
	cashdomain.ErrSessionStillOpen,
	invoicedomain.ErrAlreadySettled,
	invoicedomain.ErrReferenceConflict,
	invoicedomain.ErrPeriodAlreadyBilled,
	invoicedomain.ErrSubscriptionNotDue,
	subscriptiondomain.ErrSubscriptionNotActive,
	paymentdomain.ErrTargetNotPayable,
	paymentdomain.ErrProviderMismatch,
	paymentdomain.ErrNotManualIntent,
}

// unprocessableSentinels are well-formed requests the current balances cannot satisfy.
var unprocessableSentinels = []error{
	accountdomain.ErrInsufficientCredit,
	cashdomain.ErrInsufficientCash,
	invoicedomain.ErrNoEligibleOrders,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if matchesAny(err, validationSentinels) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case matchesAny(err, unprocessableSentinels):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    sentinelCode(err, unprocessableSentinels),
			Message: "request cannot be satisfied",
			Details: errorDetails(err),
		}
	case matchesAny(err, conflictSentinels):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    sentinelCode(err, conflictSentinels),
			Message: "conflict",
			Details: errorDetails(err),
		}
	case matchesAny(err, notFoundSentinels):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    sentinelCode(err, notFoundSentinels),
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrGatewayRejected):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_rejected",
			Message: "payment gateway rejected the request",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrGatewayUnavailable),
		errors.Is(err, paymentdomain.ErrInvalidConfig),
		errors.Is(err, scheduler.ErrJobUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// errorDetails exposes the amounts or states carried by typed domain errors.
func errorDetails(err error) any {
	var credit *accountdomain.InsufficientCreditError
	if errors.As(err, &credit) {
		return credit
	}
	var cash *cashdomain.InsufficientCashError
	if errors.As(err, &cash) {
		return cash
	}
	var moved *transition.Error
	if errors.As(err, &moved) {
		return moved
	}
	return nil
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func sentinelCode(err error, targets []error) string {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorCode(err error) string {
	for _, target := range validationSentinels {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
