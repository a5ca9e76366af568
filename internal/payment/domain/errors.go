package domain

import (
	"errors"

	"github.com/smallbiznis/carehub/pkg/transition"
)

var (
	ErrIntentNotFound      = errors.New("payment_intent_not_found")
	ErrInvalidTarget       = errors.New("invalid_payment_target")
	ErrTargetNotPayable    = errors.New("payment_target_not_payable")
	ErrInvalidIntegration  = errors.New("invalid_integration_type")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrTerminalRequired    = errors.New("terminal_required")
	ErrProviderNotFound    = errors.New("payment_provider_not_found")
	ErrProviderMismatch    = errors.New("payment_provider_mismatch")
	ErrInvalidConfig       = errors.New("invalid_payment_provider_config")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidNotification = errors.New("invalid_notification")
	ErrNotificationIgnored = errors.New("notification_ignored")
	ErrUnsupported         = errors.New("operation_not_supported")
	ErrGatewayUnavailable  = errors.New("gateway_unavailable")
	ErrGatewayRejected     = errors.New("gateway_rejected")
	ErrNotManualIntent     = errors.New("not_manual_intent")
	ErrInvalidTransition   = transition.ErrInvalidTransition
)

const (
	DetailAmountMismatch   = "amount_mismatch"
	DetailTerminalTimeout  = "terminal_timeout"
	DetailGatewayError     = "gateway_unavailable"
	DetailGatewayRejected  = "gateway_rejected"
	DetailTargetNotPayable = "target_not_payable"
	DetailOperatorCancel   = "operator_cancelled"
	DetailOperatorReject   = "operator_rejected"
)
