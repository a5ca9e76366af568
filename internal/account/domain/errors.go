package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrAccountBlocked      = errors.New("account_blocked")
	ErrInsufficientCredit  = errors.New("insufficient_credit")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidKind         = errors.New("invalid_transaction_kind")
	ErrInvalidLimit        = errors.New("invalid_credit_limit")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrAccountRetired      = errors.New("account_retired")
	ErrDuplicateExternal   = errors.New("duplicate_external_ref")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrCorrelationConflict = errors.New("correlation_ref_conflict")
)

// InsufficientCreditError carries the amounts involved in a rejected debit.
type InsufficientCreditError struct {
	Available decimal.Decimal `json:"available"`
	Requested decimal.Decimal `json:"requested"`
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient_credit: available %s, requested %s", e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }
