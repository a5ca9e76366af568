package domain

import (
	"errors"

	"github.com/smallbiznis/carehub/pkg/transition"
)

var (
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrInvalidItems        = errors.New("invalid_order_items")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrInvalidOrigin       = errors.New("invalid_origin")
	ErrAccountRequired     = errors.New("account_required")
	ErrTotalMismatch       = errors.New("order_total_mismatch")
	ErrOrderInvoiced       = errors.New("order_already_invoiced")
	ErrCashSessionRequired = errors.New("cash_session_required")
	ErrInvalidTransition   = transition.ErrInvalidTransition
)
