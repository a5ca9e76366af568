package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingPolicy holds the operator-tunable rules for invoicing and payment collection.
type BillingPolicy struct {
	LateFeePercent      float64       `mapstructure:"late_fee_percent"`
	InterestPercent     float64       `mapstructure:"interest_percent"`
	MaxOverdueInvoices  int           `mapstructure:"max_overdue_invoices"`
	InvoiceDueDays      int           `mapstructure:"invoice_due_days"`
	TerminalMaxAttempts int           `mapstructure:"terminal_max_attempts"`
	TerminalTimeout     time.Duration `mapstructure:"terminal_timeout"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		LateFeePercent:      2,
		InterestPercent:     1,
		MaxOverdueInvoices:  2,
		InvoiceDueDays:      10,
		TerminalMaxAttempts: 3,
		TerminalTimeout:     2 * time.Minute,
	}
}

// LateFeeRate returns the late fee as a fraction (2% -> 0.02).
func (p BillingPolicy) LateFeeRate() decimal.Decimal {
	return decimal.NewFromFloat(p.LateFeePercent).Div(decimal.NewFromInt(100))
}

func (p BillingPolicy) InterestRate() decimal.Decimal {
	return decimal.NewFromFloat(p.InterestPercent).Div(decimal.NewFromInt(100))
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// NewStaticBillingPolicy returns a holder that never reloads.
func NewStaticBillingPolicy(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewBillingPolicyHolder(log *zap.Logger) (*BillingPolicyHolder, error) {
	log = log.Named("billing.policy")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/carehub")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CAREHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.late_fee_percent", defaults.LateFeePercent)
	v.SetDefault("billing.interest_percent", defaults.InterestPercent)
	v.SetDefault("billing.max_overdue_invoices", defaults.MaxOverdueInvoices)
	v.SetDefault("billing.invoice_due_days", defaults.InvoiceDueDays)
	v.SetDefault("billing.terminal_max_attempts", defaults.TerminalMaxAttempts)
	v.SetDefault("billing.terminal_timeout", defaults.TerminalTimeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticBillingPolicy(policy)
	if !fileLoaded {
		log.Info("billing policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing policy reload failed", zap.Error(err))
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Warn("invalid billing policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(p BillingPolicy) error {
	if p.LateFeePercent < 0 || p.InterestPercent < 0 {
		return errors.New("billing.late_fee_percent and billing.interest_percent must not be negative")
	}
	if p.MaxOverdueInvoices < 0 {
		return errors.New("billing.max_overdue_invoices must not be negative")
	}
	if p.InvoiceDueDays < 0 {
		return errors.New("billing.invoice_due_days must not be negative")
	}
	if p.TerminalMaxAttempts < 1 {
		return errors.New("billing.terminal_max_attempts must be at least 1")
	}
	if p.TerminalTimeout <= 0 {
		return errors.New("billing.terminal_timeout must be positive")
	}
	return nil
}
