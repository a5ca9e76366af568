package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/pkg/transition"
)

var (
	ErrSessionNotFound    = errors.New("cash_session_not_found")
	ErrSessionAlreadyOpen = errors.New("cash_session_already_open")
	ErrSessionClosed      = errors.New("cash_session_closed")
	ErrSessionStillOpen   = errors.New("cash_session_still_open")
	ErrInsufficientCash   = errors.New("insufficient_cash")
	ErrInvalidMovement    = errors.New("invalid_movement_type")
	ErrInvalidMethod      = errors.New("invalid_payment_method")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidTransition  = transition.ErrInvalidTransition
)

type InsufficientCashError struct {
	Available decimal.Decimal `json:"available"`
	Requested decimal.Decimal `json:"requested"`
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient_cash: available %s, requested %s", e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientCashError) Unwrap() error { return ErrInsufficientCash }
